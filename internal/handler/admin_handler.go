package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/chunkcache"
	"github.com/ragkit/ragkit/internal/pkg/errcode"
	"github.com/ragkit/ragkit/internal/pkg/response"
	"github.com/ragkit/ragkit/internal/task"
)

type AdminHandler struct {
	segCache chunkcache.SegmentCache
	vecCache chunkcache.VectorCache
	registry *task.Registry
}

func NewAdminHandler(segCache chunkcache.SegmentCache, vecCache chunkcache.VectorCache, registry *task.Registry) *AdminHandler {
	return &AdminHandler{segCache: segCache, vecCache: vecCache, registry: registry}
}

// ClearCache purges both fingerprint cache tiers. The only way entries ever
// leave the durable tier.
func (h *AdminHandler) ClearCache(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.segCache.Clear(ctx); err != nil {
		handleError(c, err)
		return
	}
	if err := h.vecCache.Clear(ctx); err != nil {
		handleError(c, err)
		return
	}
	logutil.GetLogger(ctx).Info("fingerprint caches cleared")
	response.Success(c, gin.H{"cleared": true})
}

type cleanupRequest struct {
	Days int `json:"days"`
}

func (h *AdminHandler) CleanupTasks(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Days <= 0 {
		response.Error(c, errcode.ErrInvalid, "days must be positive")
		return
	}
	removed := h.registry.Cleanup(time.Duration(req.Days) * 24 * time.Hour)
	logutil.GetLogger(c.Request.Context()).Info("task registry cleaned",
		zap.Int("days", req.Days),
		zap.Int("removed", removed))
	response.Success(c, gin.H{"removed": removed})
}
