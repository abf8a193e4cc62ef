package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"assetbridge/task"
)

// CommentsRequest drives all four comment operations. One shared shape keeps
// the payload reusable when a mutation chains a refresh task.
type CommentsRequest struct {
	AppID       string `json:"app_id"`
	APIKey      string `json:"api_key"`
	AssetID     string `json:"asset_id"`
	CommentText string `json:"comment_text,omitempty"`
	ReplyToID   int    `json:"reply_to_id,omitempty"`
	CommentID   int    `json:"comment_id,omitempty"`
	Flag        string `json:"flag,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`
}

// GetComments fetches the comment thread of one asset.
func (c *Client) GetComments(ctx context.Context, t *task.Task, req CommentsRequest) {
	var result json.RawMessage
	url := c.URL("/api/v1/comments/assets/%s/", req.AssetID)
	if err := c.DoJSON(ctx, http.MethodGet, url, req.APIKey, nil, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Comments downloaded")
}

// CreateComment posts a new comment or reply, then refreshes the thread so
// the GUI's local view resynchronizes.
func (c *Client) CreateComment(ctx context.Context, reg *task.Registry, t *task.Task, req CommentsRequest) {
	body := map[string]any{
		"asset_id": req.AssetID,
		"comment":  req.CommentText,
		"reply_to": req.ReplyToID,
	}
	var result json.RawMessage
	if err := c.DoJSON(ctx, http.MethodPost, c.URL("/api/v1/comments/comment/"), req.APIKey, body, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Comment created")
	c.refreshComments(ctx, reg, req)
}

// FeedbackComment sends a like/dislike flag for a comment.
func (c *Client) FeedbackComment(ctx context.Context, reg *task.Registry, t *task.Task, req CommentsRequest) {
	body := map[string]any{
		"comment": req.CommentID,
		"flag":    req.Flag,
	}
	var result json.RawMessage
	if err := c.DoJSON(ctx, http.MethodPost, c.URL("/api/v1/comments/feedback/"), req.APIKey, body, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Comment feedback sent")
	c.refreshComments(ctx, reg, req)
}

// MarkCommentPrivate toggles a comment's visibility.
func (c *Client) MarkCommentPrivate(ctx context.Context, reg *task.Registry, t *task.Task, req CommentsRequest) {
	body := map[string]any{"is_private": req.IsPrivate}
	url := c.URL("/api/v1/comments/is_private/%d/", req.CommentID)
	var result json.RawMessage
	if err := c.DoJSON(ctx, http.MethodPost, url, req.APIKey, body, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Comment visibility updated")
	c.refreshComments(ctx, reg, req)
}

// refreshComments chains a fresh get_comments task reusing the mutation's
// request data. Runs in the caller's goroutine, after the parent finished.
func (c *Client) refreshComments(ctx context.Context, reg *task.Registry, req CommentsRequest) {
	follow := task.New("", req.AppID, "comments/get_comments", req)
	reg.Add(follow)
	c.GetComments(ctx, follow, req)
}

// RatingsRequest drives rating reads and writes.
type RatingsRequest struct {
	AppID       string  `json:"app_id"`
	APIKey      string  `json:"api_key"`
	AssetID     string  `json:"asset_id"`
	RatingType  string  `json:"rating_type,omitempty"`
	RatingValue float64 `json:"rating_value,omitempty"`
}

func (c *Client) GetRating(ctx context.Context, t *task.Task, req RatingsRequest) {
	var result json.RawMessage
	url := c.URL("/api/v1/assets/%s/rating/", req.AssetID)
	if err := c.DoJSON(ctx, http.MethodGet, url, req.APIKey, nil, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Ratings downloaded")
}

func (c *Client) SendRating(ctx context.Context, t *task.Task, req RatingsRequest) {
	body := map[string]any{"score": req.RatingValue}
	url := c.URL("/api/v1/assets/%s/rating/%s/", req.AssetID, req.RatingType)
	var result json.RawMessage
	if err := c.DoJSON(ctx, http.MethodPut, url, req.APIKey, body, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished(fmt.Sprintf("Rated %s=%v successfully", req.RatingType, req.RatingValue))
}

// GetBookmarks lists the caller's bookmarked assets. Bookmarks are stored
// server-side as a rating, so this is a search scoped to that rating.
func (c *Client) GetBookmarks(ctx context.Context, t *task.Task, req RatingsRequest) {
	var result json.RawMessage
	url := c.URL("/api/v1/search/?query=bookmarks_rating:1")
	if err := c.DoJSON(ctx, http.MethodGet, url, req.APIKey, nil, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Bookmarks downloaded")
}

// ProfileRequest drives profile and notification reads.
type ProfileRequest struct {
	AppID          string `json:"app_id"`
	APIKey         string `json:"api_key"`
	NotificationID int    `json:"notification_id,omitempty"`
}

func (c *Client) GetUserProfile(ctx context.Context, t *task.Task, req ProfileRequest) {
	var result json.RawMessage
	if err := c.DoJSON(ctx, http.MethodGet, c.URL("/api/v1/me/"), req.APIKey, nil, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Profile downloaded")
}

func (c *Client) GetNotifications(ctx context.Context, t *task.Task, req ProfileRequest) {
	var result json.RawMessage
	url := c.URL("/api/v1/notifications/unread/")
	if err := c.DoJSON(ctx, http.MethodGet, url, req.APIKey, nil, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Notifications downloaded")
}

// MarkNotificationRead acknowledges one notification, then refreshes the
// unread list.
func (c *Client) MarkNotificationRead(ctx context.Context, reg *task.Registry, t *task.Task, req ProfileRequest) {
	url := c.URL("/api/v1/notifications/mark-as-read/%d/", req.NotificationID)
	var result json.RawMessage
	if err := c.DoJSON(ctx, http.MethodGet, url, req.APIKey, nil, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Notification marked as read")

	follow := task.New("", req.AppID, "notifications/get_notifications", req)
	reg.Add(follow)
	c.GetNotifications(ctx, follow, req)
}

func (c *Client) GetDisclaimer(ctx context.Context, t *task.Task, req ProfileRequest) {
	var result json.RawMessage
	url := c.URL("/api/v1/disclaimers/active/")
	if err := c.DoJSON(ctx, http.MethodGet, url, req.APIKey, nil, &result); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(result)
	t.Finished("Disclaimer downloaded")
}

// GravatarRequest asks for a profile image download.
type GravatarRequest struct {
	AppID        string `json:"app_id"`
	GravatarHash string `json:"gravatar_hash"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	TempDir      string `json:"tempdir,omitempty"`
}

// FetchGravatar downloads the avatar image into the daemon's cache and
// reports the local path. An image already on disk short-circuits.
func FetchGravatar(ctx context.Context, session *http.Client, t *task.Task, req GravatarRequest) {
	dir := req.TempDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "assetbridge")
	}
	path := filepath.Join(dir, "gravatars", req.GravatarHash+".jpg")
	if _, err := os.Stat(path); err == nil {
		t.SetResult(map[string]string{"gravatar_path": path})
		t.Finished("Gravatar on disk")
		return
	}

	url := req.AvatarURL
	if url == "" {
		url = fmt.Sprintf("https://www.gravatar.com/avatar/%s?d=404", req.GravatarHash)
	}
	if err := fetchToFile(ctx, session, url, path); err != nil {
		t.Error(Describe(err))
		return
	}
	t.SetResult(map[string]string{"gravatar_path": path})
	t.Finished("Gravatar downloaded")
}

func fetchToFile(ctx context.Context, session *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := session.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		short, detailed := extractError(resp.StatusCode, raw)
		return &APIError{StatusCode: resp.StatusCode, Short: short, Detailed: detailed}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
