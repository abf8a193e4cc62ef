package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"assetbridge/task"
)

// RelayRequest is a generic single HTTP call forwarded through the daemon.
// The GUI uses it for one-off endpoints that have no dedicated handler, so
// the daemon stays the only process holding network configuration.
type RelayRequest struct {
	AppID   string            `json:"app_id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"json,omitempty"`
	APIKey  string            `json:"api_key,omitempty"`
}

// RelayResponse carries the forwarded call's outcome back to the GUI.
type RelayResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
	Text       string          `json:"text,omitempty"`
}

// Relay performs the forwarded call and returns the remote response. Used
// both blocking (handler waits) and async (wrapped in a task via RelayAsync).
func (c *Client) Relay(ctx context.Context, req RelayRequest) (*RelayResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if len(req.Body) > 0 {
		reader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := c.session.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	out := &RelayResponse{StatusCode: resp.StatusCode}
	if json.Valid(raw) {
		out.Body = json.RawMessage(raw)
	} else {
		out.Text = string(raw)
	}
	return out, nil
}

// RelayAsync runs Relay as a tracked task.
func (c *Client) RelayAsync(ctx context.Context, t *task.Task, req RelayRequest) {
	resp, err := c.Relay(ctx, req)
	if err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		short, detailed := extractError(resp.StatusCode, []byte(resp.Body))
		t.Error(short, detailed)
		return
	}
	t.Finished("Request finished")
}

// PutFile streams a local file to a storage URL. Shared by the upload
// pipeline (signed S3 puts) and the blocking upload_file relay.
func PutFile(ctx context.Context, session *http.Client, url, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := session.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		short, detailed := extractError(resp.StatusCode, raw)
		return &APIError{StatusCode: resp.StatusCode, Short: short, Detailed: detailed}
	}
	return nil
}
