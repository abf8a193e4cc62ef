// Package blender runs the host 3D application as a non-interactive
// subprocess for file-format work the daemon cannot do itself: packing an
// asset before upload and unpacking a downloaded one. The daemon hands the
// operation payload over through a temp JSON file the embedded script reads
// back.
package blender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/rs/zerolog"

	"assetbridge/config"
	"assetbridge/logger"
)

type Runner struct {
	bin        string
	extraArgs  []string
	scriptsDir string
	log        zerolog.Logger
}

// NewRunner verifies the host binary is reachable and parses any extra CLI
// arguments from config.
func NewRunner(cfg *config.Config) (*Runner, error) {
	if _, err := exec.LookPath(cfg.BlenderBin); err != nil {
		return nil, fmt.Errorf("host application binary not found: %s", cfg.BlenderBin)
	}

	var extra []string
	if cfg.BlenderExtraArgs != "" {
		args, err := shlex.Split(cfg.BlenderExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("invalid BLENDER_EXTRA_ARGS: %w", err)
		}
		extra = args
	}

	return &Runner{
		bin:        cfg.BlenderBin,
		extraArgs:  extra,
		scriptsDir: cfg.BlenderScriptsDir,
		log:        logger.GetLogger().With().Str("component", "blender").Logger(),
	}, nil
}

// Job describes one background invocation.
type Job struct {
	// Blendfile is the target file the host opens; may be empty for
	// operations that build a file from scratch.
	Blendfile string
	// Script is the embedded python script name, resolved against the
	// configured scripts directory.
	Script string
	// Command tags the operation for the script ("unpack", "pack", ...).
	Command string
	// Payload is written to a temp JSON file the script reads back.
	Payload any
	// TempDir receives the payload file; defaults to the system temp dir.
	TempDir string
}

// Run blocks until the subprocess exits and returns its combined
// stdout/stderr. A non-zero exit comes back as an error together with the
// captured output, so the caller can attach it to the task.
func (r *Runner) Run(ctx context.Context, job Job) (string, error) {
	dataFile, err := r.writePayload(job)
	if err != nil {
		return "", err
	}
	defer os.Remove(dataFile)

	args := r.buildArgs(job, dataFile)
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.log.Debug().Str("command", job.Command).Msgf("executing: %s %s", r.bin, strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("host process failed to start: %w", err)
	}
	setLowPriority(cmd.Process.Pid)

	err = cmd.Wait()
	if err != nil {
		return output.String(), fmt.Errorf("host process failed (%s): %w", job.Command, err)
	}
	return output.String(), nil
}

// buildArgs assembles the fixed non-interactive CLI. The host must not open
// a UI, play audio or load user preferences while doing background work.
func (r *Runner) buildArgs(job Job, dataFile string) []string {
	args := []string{"--background", "--factory-startup", "-noaudio"}
	args = append(args, r.extraArgs...)
	if job.Blendfile != "" {
		args = append(args, job.Blendfile)
	}
	args = append(args,
		"--python", filepath.Join(r.scriptsDir, job.Script),
		"--", "--command", job.Command, "--data", dataFile,
	)
	return args
}

func (r *Runner) writePayload(job Job) (string, error) {
	dir := job.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "assetbridge_job_*.json")
	if err != nil {
		return "", fmt.Errorf("could not create payload file: %w", err)
	}
	defer f.Close()

	payload := job.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if err := json.NewEncoder(f).Encode(payload); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("could not write payload file: %w", err)
	}
	return f.Name(), nil
}
