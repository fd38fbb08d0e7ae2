package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ragkit/ragkit/internal/pkg/errcode"
	"github.com/ragkit/ragkit/internal/pkg/response"
	"github.com/ragkit/ragkit/internal/task"
)

type TaskHandler struct {
	registry *task.Registry
}

func NewTaskHandler(registry *task.Registry) *TaskHandler {
	return &TaskHandler{registry: registry}
}

func (h *TaskHandler) Get(c *gin.Context) {
	t, err := h.registry.Get(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, t)
}

func (h *TaskHandler) List(c *gin.Context) {
	filter := task.Filter{
		Kind:            task.Kind(c.Query("kind")),
		Status:          task.Status(c.Query("status")),
		KnowledgeBaseID: c.Query("kb_id"),
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	response.Success(c, gin.H{
		"tasks": h.registry.List(filter, limit, offset),
		"total": h.registry.Count(filter),
	})
}

type cancelRequest struct {
	Force     bool `json:"force"`
	Recursive bool `json:"recursive"`
}

func (h *TaskHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request")
			return
		}
	}
	if req.Force && !isAdmin(c) {
		response.Error(c, errcode.ErrForbidden, "force cancel requires admin role")
		return
	}
	if err := h.registry.RequestCancel(c.Param("id"), req.Force, req.Recursive); err != nil {
		handleError(c, err)
		return
	}
	t, err := h.registry.Get(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, t)
}

type batchCancelRequest struct {
	IDs       []string `json:"ids"`
	Force     bool     `json:"force"`
	Recursive bool     `json:"recursive"`
}

// BatchCancel applies cancel to every listed task and reports the per-task
// outcome instead of failing the whole batch on the first error.
func (h *TaskHandler) BatchCancel(c *gin.Context) {
	var req batchCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		response.Error(c, errcode.ErrInvalid, "ids are required")
		return
	}
	if req.Force && !isAdmin(c) {
		response.Error(c, errcode.ErrForbidden, "force cancel requires admin role")
		return
	}
	results := make(map[string]string, len(req.IDs))
	for _, id := range req.IDs {
		if err := h.registry.RequestCancel(id, req.Force, req.Recursive); err != nil {
			results[id] = err.Error()
			continue
		}
		results[id] = "ok"
	}
	response.Success(c, results)
}
