package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ragkit/ragkit/internal/middleware"
)

type RouterDeps struct {
	KnowledgeBases *KnowledgeBaseHandler
	Documents      *DocumentHandler
	Tasks          *TaskHandler
	Admin          *AdminHandler
	JWTSecret      []byte
	UploadWindow   time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	authGroup.GET("/kb", deps.KnowledgeBases.List)
	authGroup.GET("/kb/:kbid", deps.KnowledgeBases.Get)
	authGroup.POST("/kb/:kbid/documents", middleware.RateLimit(deps.UploadWindow), deps.Documents.Upload)
	authGroup.GET("/kb/:kbid/documents", deps.Documents.List)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.GET("/documents/:id/segments", deps.Documents.Segments)
	authGroup.POST("/documents/:id/resubmit", deps.Documents.Resubmit)
	authGroup.DELETE("/documents/:id", deps.Documents.Delete)

	authGroup.GET("/tasks", deps.Tasks.List)
	authGroup.GET("/tasks/:id", deps.Tasks.Get)
	authGroup.POST("/tasks/:id/cancel", deps.Tasks.Cancel)
	authGroup.POST("/tasks/cancel", deps.Tasks.BatchCancel)

	adminGroup := authGroup.Group("")
	adminGroup.Use(middleware.RequireAdmin())
	adminGroup.POST("/kb", deps.KnowledgeBases.Create)
	adminGroup.PUT("/kb/:kbid/chunk_config", deps.KnowledgeBases.UpdateChunkConfig)
	adminGroup.POST("/kb/:kbid/rechunk", deps.KnowledgeBases.Rechunk)
	adminGroup.POST("/kb/:kbid/rebuild", deps.KnowledgeBases.Rebuild)
	adminGroup.POST("/admin/cache/clear", deps.Admin.ClearCache)
	adminGroup.POST("/admin/tasks/cleanup", deps.Admin.CleanupTasks)
}
