package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"assetbridge/task"
)

// TokenRequest drives both OAuth grant flows. GrantType selects between
// "authorization_code" (first login) and "refresh_token". AppID names the
// requesting client, which always receives the outcome even when it has no
// task in flight.
type TokenRequest struct {
	AppID        string `json:"app_id,omitempty"`
	GrantType    string `json:"grant_type"`
	AuthCode     string `json:"auth_code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenPayload is the marketplace's token-endpoint response.
type TokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// ExchangeToken exchanges a grant for fresh tokens and broadcasts the result
// to every active GUI client. Token refresh concerns all clients sharing the
// daemon, so the outcome is fanned out as one task per app id rather than a
// single per-caller reply. The audience lists clients known from their
// /report polls; apps with tasks in flight and the requesting app itself are
// included regardless, so the outcome is never lost to a client that simply
// had nothing running.
func (c *Client) ExchangeToken(ctx context.Context, reg *task.Registry, clientID, port string, audience []string, req TokenRequest) {
	form := url.Values{}
	form.Set("grant_type", req.GrantType)
	form.Set("client_id", clientID)
	form.Set("redirect_uri", "http://localhost:"+port+"/consumer/exchange/")
	switch req.GrantType {
	case "refresh_token":
		form.Set("refresh_token", req.RefreshToken)
	default:
		form.Set("code", req.AuthCode)
	}

	payload, err := c.postTokenForm(ctx, form)
	if err != nil {
		short := "Login failed. Please log in again."
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusTooManyRequests {
			short = "Too many login attempts. Wait a minute and log in again."
		}
		_, detailed := Describe(err)
		c.broadcast(reg, audience, req, func(t *task.Task) { t.Error(short, detailed) })
		return
	}

	c.broadcast(reg, audience, req, func(t *task.Task) {
		t.SetResult(payload)
		t.Finished("Token refreshed")
	})
}

func (c *Client) postTokenForm(ctx context.Context, form url.Values) (*TokenPayload, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL("/o/token/"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.session.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		short, detailed := extractError(resp.StatusCode, raw)
		return nil, &APIError{StatusCode: resp.StatusCode, Short: short, Detailed: detailed}
	}

	var payload TokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// broadcast creates one login task per recipient app id and applies fn to
// each before registering it.
func (c *Client) broadcast(reg *task.Registry, audience []string, req TokenRequest, fn func(*task.Task)) {
	for _, appID := range recipients(reg, audience, req.AppID) {
		t := task.New("", appID, "login", req)
		fn(t)
		reg.Add(t)
	}
}

// recipients unions the polling audience, the apps holding in-flight tasks
// and the requesting app, deduplicated in first-seen order.
func recipients(reg *task.Registry, audience []string, caller string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(appID string) {
		if appID == "" || seen[appID] {
			return
		}
		seen[appID] = true
		out = append(out, appID)
	}
	for _, appID := range audience {
		add(appID)
	}
	for _, appID := range reg.AppIDs() {
		add(appID)
	}
	add(caller)
	return out
}
