package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"assetbridge/download"
	"assetbridge/search"
	"assetbridge/task"
	"assetbridge/upload"
)

func (h *Handler) handleSearchAsset(c *gin.Context) {
	var req search.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "search", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.searcher.Run(ctx, t, req)
	})
}

func (h *Handler) handleDownloadAsset(c *gin.Context) {
	var req download.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "asset_download", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.down.Run(ctx, t, req)
	})
}

func (h *Handler) handleUploadAsset(c *gin.Context) {
	var req upload.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := task.New("", req.AppID, "asset_upload", req)
	h.spawn(c, t, func(ctx context.Context, t *task.Task) {
		h.up.Run(ctx, t, req)
	})
}
