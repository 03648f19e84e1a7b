package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/activity"
)

// ActivityHandler exposes the append-only activity feed for transparency
// audits.
type ActivityHandler struct {
	feed   activity.Feed
	logger *zap.Logger
}

func NewActivityHandler(feed activity.Feed, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{feed: feed, logger: logger}
}

// Register mounts the feed routes on a public group.
func (h *ActivityHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/activity", h.List)
	rg.GET("/activity/root", h.Root)
}

// List handles GET /activity, newest entries first.
func (h *ActivityHandler) List(c *gin.Context) {
	limit, offset := pageParams(c)
	entries, err := h.feed.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list activity", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "listing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "limit": limit, "offset": offset})
}

// Root handles GET /activity/root: the head hash of the chain, which
// commits to the whole feed.
func (h *ActivityHandler) Root(c *gin.Context) {
	root, err := h.feed.Root(c.Request.Context())
	if err != nil {
		h.logger.Error("activity root", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}
	length, err := h.feed.Len(c.Request.Context())
	if err != nil {
		h.logger.Error("activity length", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"root": root, "length": length})
}
