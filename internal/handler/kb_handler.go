package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ragkit/ragkit/internal/ingest"
	"github.com/ragkit/ragkit/internal/model"
	"github.com/ragkit/ragkit/internal/pkg/errcode"
	"github.com/ragkit/ragkit/internal/pkg/response"
	"github.com/ragkit/ragkit/internal/service"
)

type KnowledgeBaseHandler struct {
	kbs  *service.KnowledgeBaseService
	orch *ingest.Orchestrator
}

func NewKnowledgeBaseHandler(kbs *service.KnowledgeBaseService, orch *ingest.Orchestrator) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{kbs: kbs, orch: orch}
}

type kbCreateRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	ChunkConfig *model.ChunkingConfig `json:"chunk_config"`
}

func (h *KnowledgeBaseHandler) Create(c *gin.Context) {
	var req kbCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	in := service.KnowledgeBaseCreateInput{
		Name:        req.Name,
		Description: req.Description,
	}
	if req.ChunkConfig != nil {
		in.ChunkConfig = *req.ChunkConfig
	}
	kb, err := h.kbs.Create(c.Request.Context(), in)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, kb)
}

func (h *KnowledgeBaseHandler) List(c *gin.Context) {
	kbs, err := h.kbs.List(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, kbs)
}

func (h *KnowledgeBaseHandler) Get(c *gin.Context) {
	kb, err := h.kbs.Get(c.Request.Context(), c.Param("kbid"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, kb)
}

func (h *KnowledgeBaseHandler) UpdateChunkConfig(c *gin.Context) {
	var cfg model.ChunkingConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if err := h.kbs.UpdateChunkConfig(c.Request.Context(), c.Param("kbid"), cfg); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": true})
}

// Rechunk re-runs chunking and embedding for every document in the base
// under its current chunk config.
func (h *KnowledgeBaseHandler) Rechunk(c *gin.Context) {
	t, err := h.orch.SubmitRechunkAll(c.Request.Context(), c.Param("kbid"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, t)
}

// Rebuild recreates the vector index and re-upserts every document.
func (h *KnowledgeBaseHandler) Rebuild(c *gin.Context) {
	t, err := h.orch.SubmitRebuildIndex(c.Request.Context(), c.Param("kbid"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, t)
}
