package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ragkit/ragkit/internal/pkg/errcode"
	"github.com/ragkit/ragkit/internal/pkg/response"
	"github.com/ragkit/ragkit/internal/service"
)

type DocumentHandler struct {
	documents *service.DocumentService
}

func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload accepts a multipart file under "file", stores it and queues
// ingestion. The response carries both the document record and the task to
// poll.
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "unable to read upload")
		return
	}
	defer file.Close()

	doc, t, err := h.documents.Upload(c.Request.Context(), c.Param("kbid"), service.UploadInput{
		Name:     fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Body:     file,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"document": doc, "task": t})
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context(), c.Param("kbid"),
		queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Segments(c *gin.Context) {
	segments, err := h.documents.Segments(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, segments)
}

func (h *DocumentHandler) Resubmit(c *gin.Context) {
	t, err := h.documents.Resubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, t)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}
