package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"assetbridge/blender"
	"assetbridge/clients"
	"assetbridge/config"
	"assetbridge/download"
	"assetbridge/logger"
	"assetbridge/remote"
	"assetbridge/search"
	"assetbridge/task"
	"assetbridge/upload"
)

// Activity tracks which GUIs poll and when, so the daemon can self-terminate
// once every client is gone and so broadcasts reach clients that currently
// have nothing in flight.
type Activity struct {
	mu   sync.Mutex
	last time.Time
	seen map[string]time.Time
}

func NewActivity() *Activity {
	return &Activity{
		last: time.Now(),
		seen: make(map[string]time.Time),
	}
}

// Touch records a poll from appID.
func (a *Activity) Touch(appID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = time.Now()
	if appID != "" {
		a.seen[appID] = a.last
	}
}

func (a *Activity) IdleFor() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.last)
}

// Active returns the app ids that polled within window, sorted for stable
// fan-out order. A non-positive window means every app ever seen.
func (a *Activity) Active(window time.Duration) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []string
	for appID, at := range a.seen {
		if window <= 0 || !at.Before(cutoff) {
			out = append(out, appID)
		}
	}
	sort.Strings(out)
	return out
}

type Handler struct {
	cfg      *config.Config
	reg      *task.Registry
	pool     *clients.Pool
	api      *remote.Client
	searcher *search.Searcher
	down     *download.Downloader
	up       *upload.Uploader
	activity *Activity
	shutdown func()
	log      zerolog.Logger
}

// NewHandler wires the operation implementations behind the HTTP surface.
// runner may be nil; operations needing the host application then fail per
// task. shutdown is invoked (once, delayed) by the /shutdown endpoint.
func NewHandler(cfg *config.Config, reg *task.Registry, pool *clients.Pool, runner *blender.Runner, activity *Activity, shutdown func()) *Handler {
	api := remote.NewClient(cfg.APIBase, pool.API)
	return &Handler{
		cfg:      cfg,
		reg:      reg,
		pool:     pool,
		api:      api,
		searcher: search.NewSearcher(cfg, pool, api, reg),
		down:     download.NewDownloader(cfg, pool, api, runner, reg),
		up:       upload.NewUploader(cfg, pool, api, runner),
		activity: activity,
		shutdown: shutdown,
		log:      logger.GetLogger().With().Str("component", "api").Logger(),
	}
}

// spawn registers the task, launches its operation in the background and
// answers with the task id. This is the responsiveness contract: creation is
// synchronous and fast, execution is asynchronous and unbounded.
func (h *Handler) spawn(c *gin.Context, t *task.Task, run func(context.Context, *task.Task)) {
	ctx, cancel := context.WithCancel(context.Background())
	t.AttachCancel(cancel)
	h.reg.Add(t)
	tasksCreated.WithLabelValues(t.TaskType()).Inc()

	go func() {
		defer cancel()
		// No operation failure may tear down the daemon.
		defer func() {
			if r := recover(); r != nil {
				h.log.Error().Str("task", t.ID()).Msgf("operation panicked: %v", r)
				t.Error("Internal daemon error.", fmt.Sprint(r))
			}
		}()
		run(ctx, t)
	}()

	c.JSON(http.StatusOK, gin.H{"task_id": t.ID()})
}

func (h *Handler) handleLiveness(c *gin.Context) {
	c.String(http.StatusOK, strconv.Itoa(os.Getpid()))
}

type reportRequest struct {
	AppID string `json:"app_id" binding:"required"`
}

// handleReport returns every task of the calling client and deletes the
// terminal ones it just delivered. Deletion applies uniformly to finished
// and errored tasks; a task is reported in a terminal state exactly once.
// In-flight tasks stay registered for the next poll.
func (h *Handler) handleReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.activity.Touch(req.AppID)

	tasks := h.reg.ForApp(req.AppID)
	records := make([]task.Record, 0, len(tasks))
	for _, t := range tasks {
		rec := t.Snapshot()
		records = append(records, rec)
		if rec.Status == task.StatusFinished || rec.Status == task.StatusError {
			h.reg.Remove(rec.TaskID)
			tasksDelivered.WithLabelValues(string(rec.Status)).Inc()
		}
	}
	registrySize.Set(float64(h.reg.Len()))

	c.JSON(http.StatusOK, records)
}

type killRequest struct {
	TaskID string `json:"task_id" binding:"required"`
}

func (h *Handler) handleKill(c *gin.Context) {
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if t, found := h.reg.Get(req.TaskID); found {
		t.Kill()
	} else {
		h.log.Debug().Str("task", req.TaskID).Msg("kill requested for unknown task")
	}
	c.String(http.StatusOK, "ok")
}

// handleShutdown schedules process exit after a short delay so this response
// still reaches the caller.
func (h *Handler) handleShutdown(c *gin.Context) {
	c.String(http.StatusOK, "ok")
	time.AfterFunc(300*time.Millisecond, h.shutdown)
}
