package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()
	r.Use(LoopbackOnly())

	// Liveness probe: plain-text process id.
	r.GET("/", h.handleLiveness)
	r.GET("/report", h.handleReport)
	r.GET("/kill_download", h.handleKill)
	r.GET("/shutdown", h.handleShutdown)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/search_asset", h.handleSearchAsset)
	r.POST("/download_asset", h.handleDownloadAsset)
	r.POST("/upload_asset", h.handleUploadAsset)

	comments := r.Group("/comments")
	{
		comments.POST("/get_comments", h.handleGetComments)
		comments.POST("/create_comment", h.handleCreateComment)
		comments.POST("/feedback_comment", h.handleFeedbackComment)
		comments.POST("/mark_comment_private", h.handleMarkCommentPrivate)
	}

	ratings := r.Group("/ratings")
	{
		ratings.POST("/get_rating", h.handleGetRating)
		ratings.POST("/send_rating", h.handleSendRating)
		ratings.POST("/get_bookmarks", h.handleGetBookmarks)
	}

	profiles := r.Group("/profiles")
	{
		profiles.POST("/get_user_profile", h.handleGetUserProfile)
		profiles.POST("/fetch_gravatar_image", h.handleFetchGravatar)
	}

	notifications := r.Group("/notifications")
	{
		notifications.POST("/get_notifications", h.handleGetNotifications)
		notifications.POST("/mark_notification_read", h.handleMarkNotificationRead)
	}

	r.POST("/disclaimer/get_disclaimer", h.handleGetDisclaimer)
	r.POST("/refresh_token", h.handleRefreshToken)

	// Generic relays for endpoints without a dedicated handler.
	r.POST("/request", h.handleRequestBlocking)
	r.POST("/request_async", h.handleRequestAsync)
	r.POST("/upload_file", h.handleUploadFileBlocking)

	return r
}
