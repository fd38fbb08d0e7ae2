package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkit/ragkit/internal/middleware"
	"github.com/ragkit/ragkit/internal/pkg/jwt"
	"github.com/ragkit/ragkit/internal/task"
)

func newTaskRouter(registry *task.Registry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewTaskHandler(registry)
	engine.GET("/tasks", h.List)
	engine.GET("/tasks/:id", h.Get)
	engine.POST("/tasks/:id/cancel", h.Cancel)
	engine.POST("/tasks/cancel", h.BatchCancel)
	return engine
}

func TestTaskHandler_GetUnknown(t *testing.T) {
	engine := newTaskRouter(task.NewRegistry())
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/nope", nil))
	assert.NotEqual(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"status":"pending"`)
}

func TestTaskHandler_GetAndList(t *testing.T) {
	registry := task.NewRegistry()
	created := registry.Create(task.KindIngest, "kb1", "doc1")
	engine := newTaskRouter(registry)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)
	assert.Contains(t, rec.Body.String(), `"pending"`)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks?kind=ingest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestTaskHandler_CancelPendingTask(t *testing.T) {
	registry := task.NewRegistry()
	created := registry.Create(task.KindIngest, "kb1", "doc1")
	engine := newTaskRouter(registry)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/"+created.ID+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := registry.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestTaskHandler_ForceCancelNeedsAdmin(t *testing.T) {
	registry := task.NewRegistry()
	created := registry.Create(task.KindIngest, "kb1", "doc1")
	require.NoError(t, registry.MarkRunning(created.ID))

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewTaskHandler(registry)
	// Simulate a non-admin caller.
	engine.POST("/tasks/:id/cancel", func(c *gin.Context) {
		c.Set(middleware.ContextRoleKey, "user")
		h.Cancel(c)
	})

	body := strings.NewReader(`{"force":true}`)
	req := httptest.NewRequest(http.MethodPost, "/tasks/"+created.ID+"/cancel", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "admin")

	got, err := registry.Get(created.ID)
	require.NoError(t, err)
	assert.False(t, got.CancelRequested, "forbidden force cancel must not flag the task")
}

func TestTaskHandler_ForceCancelAsAdmin(t *testing.T) {
	registry := task.NewRegistry()
	created := registry.Create(task.KindIngest, "kb1", "doc1")
	require.NoError(t, registry.MarkRunning(created.ID))

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewTaskHandler(registry)
	engine.POST("/tasks/:id/cancel", func(c *gin.Context) {
		c.Set(middleware.ContextRoleKey, jwt.RoleAdmin)
		h.Cancel(c)
	})

	body := strings.NewReader(`{"force":true}`)
	req := httptest.NewRequest(http.MethodPost, "/tasks/"+created.ID+"/cancel", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := registry.Get(created.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
}

func TestTaskHandler_BatchCancelReportsPerTask(t *testing.T) {
	registry := task.NewRegistry()
	ok := registry.Create(task.KindIngest, "kb1", "doc1")
	done := registry.Create(task.KindIngest, "kb1", "doc2")
	require.NoError(t, registry.MarkTerminal(done.ID, task.StatusCompleted, ""))
	engine := newTaskRouter(registry)

	body := strings.NewReader(`{"ids":["` + ok.ID + `","` + done.ID + `","missing"]}`)
	req := httptest.NewRequest(http.MethodPost, "/tasks/cancel", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"`+ok.ID+`":"ok"`)
	assert.Contains(t, rec.Body.String(), "task already terminal")
	assert.Contains(t, rec.Body.String(), "task not found")
}
