package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"assetbridge/remote"
	"assetbridge/task"
)

var (
	// ErrKilled reports cooperative cancellation observed at a chunk boundary.
	ErrKilled = errors.New("canceled by user")
	// ErrNoLength reports a response without Content-Length. Progress cannot
	// be computed and resumption cannot be verified, so the download aborts.
	ErrNoLength = errors.New("response carries no Content-Length")
)

// Stream downloads url into path in fixed-size chunks, advancing the task's
// progress proportionally to bytes received and checking the kill flag
// before each chunk is written. A failed or canceled download leaves no
// partial file behind; an emptied asset directory is removed too.
func Stream(ctx context.Context, session *http.Client, url, apiKey, path string, chunkSize int64, t *task.Task, label string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := session.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &remote.APIError{
			StatusCode: resp.StatusCode,
			Short:      fmt.Sprintf("HTTP %d", resp.StatusCode),
			Detailed:   string(raw),
		}
	}

	total := resp.ContentLength
	if total <= 0 {
		return ErrNoLength
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	cleanup := func() {
		f.Close()
		os.Remove(path)
		removeIfEmptyDir(filepath.Dir(path))
	}

	if chunkSize <= 0 {
		chunkSize = 4 * 1024 * 1024
	}

	var received int64
	lastPercent := -1
	for {
		if t != nil && t.Killed() {
			cleanup()
			return ErrKilled
		}

		n, err := io.CopyN(f, resp.Body, chunkSize)
		received += n
		downloadedBytes.Add(float64(n))
		if t != nil {
			percent := int(float64(received) / float64(total) * 100)
			if percent > 100 {
				percent = 100
			}
			if percent != lastPercent {
				lastPercent = percent
				t.Progress(percent, label)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			cleanup()
			return err
		}
	}

	return f.Close()
}
