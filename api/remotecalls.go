package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"assetbridge/remote"
	"assetbridge/task"
)

// The handlers below all follow the same thin shape: bind the request,
// create a task, run one remote call in the background. The remote package
// owns the call specifics and any cascading refresh tasks.

func (h *Handler) handleGetComments(c *gin.Context) {
	var req remote.CommentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "comments/get_comments", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.GetComments(ctx, t, req)
	})
}

func (h *Handler) handleCreateComment(c *gin.Context) {
	var req remote.CommentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "comments/create_comment", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.CreateComment(ctx, h.reg, t, req)
	})
}

func (h *Handler) handleFeedbackComment(c *gin.Context) {
	var req remote.CommentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "comments/feedback_comment", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.FeedbackComment(ctx, h.reg, t, req)
	})
}

func (h *Handler) handleMarkCommentPrivate(c *gin.Context) {
	var req remote.CommentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "comments/mark_comment_private", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.MarkCommentPrivate(ctx, h.reg, t, req)
	})
}

func (h *Handler) handleGetRating(c *gin.Context) {
	var req remote.RatingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "ratings/get_rating", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.GetRating(ctx, t, req)
	})
}

func (h *Handler) handleSendRating(c *gin.Context) {
	var req remote.RatingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "ratings/send_rating", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.SendRating(ctx, t, req)
	})
}

func (h *Handler) handleGetBookmarks(c *gin.Context) {
	var req remote.RatingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "ratings/get_bookmarks", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.GetBookmarks(ctx, t, req)
	})
}

func (h *Handler) handleGetUserProfile(c *gin.Context) {
	var req remote.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "profiles/get_user_profile", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.GetUserProfile(ctx, t, req)
	})
}

func (h *Handler) handleFetchGravatar(c *gin.Context) {
	var req remote.GravatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "profiles/fetch_gravatar_image", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		remote.FetchGravatar(ctx, h.pool.SmallThumb, t, req)
	})
}

func (h *Handler) handleGetNotifications(c *gin.Context) {
	var req remote.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "notifications/get_notifications", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.GetNotifications(ctx, t, req)
	})
}

func (h *Handler) handleMarkNotificationRead(c *gin.Context) {
	var req remote.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "notifications/mark_notification_read", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.MarkNotificationRead(ctx, h.reg, t, req)
	})
}

func (h *Handler) handleGetDisclaimer(c *gin.Context) {
	var req remote.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "disclaimer/get_disclaimer", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.GetDisclaimer(ctx, t, req)
	})
}

// handleRefreshToken has broadcast semantics: the outcome lands as one task
// per active app id instead of one task for the caller. The audience comes
// from /report polls, so a client with nothing in flight still receives its
// login task.
func (h *Handler) handleRefreshToken(c *gin.Context) {
	var req remote.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	audience := h.activity.Active(h.cfg.IdleExit)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error().Msgf("token exchange panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
		defer cancel()
		h.api.ExchangeToken(ctx, h.reg, h.cfg.OAuthClientID, h.cfg.Port, audience, req)
	}()
	c.String(http.StatusOK, "ok")
}

// handleRequestBlocking relays one HTTP call synchronously and returns the
// remote response directly, without a task.
func (h *Handler) handleRequestBlocking(c *gin.Context) {
	var req remote.RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.api.Relay(c.Request.Context(), req)
	if err != nil {
		short, detailed := remote.Describe(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": short, "detail": detailed})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleRequestAsync(c *gin.Context) {
	var req remote.RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "wrappers/request_async", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.api.RelayAsync(ctx, t, req)
	})
}

type uploadFileRequest struct {
	URL      string `json:"url" binding:"required"`
	Filepath string `json:"filepath" binding:"required"`
}

// handleUploadFileBlocking puts a local file to a URL and waits for the
// transfer to finish before answering.
func (h *Handler) handleUploadFileBlocking(c *gin.Context) {
	var req uploadFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := remote.PutFile(c.Request.Context(), h.pool.Transfer, req.URL, req.Filepath); err != nil {
		short, detailed := remote.Describe(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": short, "detail": detailed})
		return
	}
	c.String(http.StatusOK, "ok")
}
