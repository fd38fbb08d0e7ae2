package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/chunker"
	"github.com/ragkit/ragkit/internal/middleware"
	"github.com/ragkit/ragkit/internal/pkg/errcode"
	appErr "github.com/ragkit/ragkit/internal/pkg/errors"
	"github.com/ragkit/ragkit/internal/pkg/jwt"
	"github.com/ragkit/ragkit/internal/pkg/response"
	"github.com/ragkit/ragkit/internal/task"
)

func isAdmin(c *gin.Context) bool {
	role, _ := c.Get(middleware.ContextRoleKey)
	return role == jwt.RoleAdmin
}

func queryInt(c *gin.Context, name string, def int) int {
	value := c.Query(name)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))

	var cfgErr *chunker.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		response.Error(c, errcode.ErrInvalidChunkConfig, cfgErr.Error())
	case errors.Is(err, appErr.ErrQueueFull):
		response.Error(c, errcode.ErrQueueFull, "ingestion queue is full")
	case errors.Is(err, task.ErrNotFound), errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, task.ErrAlreadyTerminal):
		response.Error(c, errcode.ErrTaskTerminal, "task already terminal")
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, errcode.ErrForbidden, "forbidden")
	case errors.Is(err, appErr.ErrInvalid), errors.Is(err, appErr.ErrInvalidConfig):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
