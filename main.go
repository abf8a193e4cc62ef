// assetbridge/main.go
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"assetbridge/api"
	"assetbridge/blender"
	"assetbridge/clients"
	"assetbridge/config"
	"assetbridge/logger"
	"assetbridge/task"
)

func main() {
	log := logger.GetLogger()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// 2. Initialize the shared client pool and the host-application runner.
	// A missing host binary is not fatal: only pack/unpack operations need
	// it, and those fail per task.
	pool, err := clients.NewPool(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize HTTP client pool")
	}
	defer pool.Close()

	runner, err := blender.NewRunner(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("host application unavailable, pack/unpack disabled")
		runner = nil
	}

	// 3. Task registry and HTTP surface.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := task.NewRegistry()
	activity := api.NewActivity()
	handler := api.NewHandler(cfg, reg, pool, runner, activity, stop)
	router := api.SetupRouter(handler)

	srv := &http.Server{
		Addr:    "127.0.0.1:" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("daemon listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	// 4. Idle watchdog: once no GUI has polled for IdleExit, nobody needs
	// this process anymore.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if activity.IdleFor() > cfg.IdleExit {
					log.Info().Dur("idle", activity.IdleFor()).Msg("no GUI polling, shutting down")
					stop()
					return
				}
			}
		}
	}()

	// 5. Wait for a signal, the watchdog or a /shutdown request.
	<-ctx.Done()
	stop()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("daemon exiting")
}
