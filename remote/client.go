// Package remote talks to the asset-marketplace HTTP API. Every operation in
// this package maps failure onto a task error through one shared extraction
// routine, so the GUI sees consistent short messages regardless of which
// handler failed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"assetbridge/logger"
)

// Client is a thin typed wrapper over the pooled API session.
type Client struct {
	base    string
	session *http.Client
	log     zerolog.Logger
}

func NewClient(base string, session *http.Client) *Client {
	return &Client{
		base:    strings.TrimSuffix(base, "/"),
		session: session,
		log:     logger.GetLogger().With().Str("component", "remote").Logger(),
	}
}

// URL joins the API base with a formatted path.
func (c *Client) URL(format string, args ...any) string {
	return c.base + fmt.Sprintf(format, args...)
}

// APIError is a non-2xx response from the marketplace, already flattened
// into GUI-facing short and log-facing detailed strings.
type APIError struct {
	StatusCode int
	Short      string
	Detailed   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Short)
}

// DoJSON performs one JSON request against the marketplace API. A non-empty
// apiKey becomes a bearer token. A non-2xx status returns *APIError; any
// transport failure returns the underlying error. When out is non-nil the
// response body is decoded into it.
func (c *Client) DoJSON(ctx context.Context, method, url, apiKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.session.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		short, detailed := extractError(resp.StatusCode, raw)
		c.log.Debug().Str("url", url).Int("status", resp.StatusCode).Msg(detailed)
		return &APIError{StatusCode: resp.StatusCode, Short: short, Detailed: detailed}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// extractError turns an error response body into a short human-readable
// message plus a verbose diagnostic. Preference order: a JSON `detail`
// field (nested objects flattened into one string), then the raw body text,
// then just the status line.
func extractError(status int, body []byte) (short, detailed string) {
	statusLine := fmt.Sprintf("HTTP %d", status)

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		if detail, ok := payload["detail"]; ok {
			flat := flattenDetail(detail)
			if flat != "" {
				return flat, fmt.Sprintf("%s: %s", statusLine, string(body))
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text != "" {
		return statusLine, fmt.Sprintf("%s: %s", statusLine, text)
	}
	return statusLine, statusLine
}

// flattenDetail collapses a `detail` value into a single string. Error
// bodies carry either a plain string or a field→messages object.
func flattenDetail(detail any) string {
	switch v := detail.(type) {
	case string:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, flattenDetail(v[k])))
		}
		return strings.Join(parts, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, flattenDetail(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Describe maps any operation error to the (short, detailed) pair a task
// error expects. Marketplace errors keep their extracted message; everything
// else is a client-side transport failure.
func Describe(err error) (short, detailed string) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Short, apiErr.Detailed
	}
	return "Connection error.", err.Error()
}
