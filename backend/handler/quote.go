package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cpqbox/quote/backend/middleware"
	"github.com/cpqbox/quote/backend/model"
	"github.com/cpqbox/quote/backend/pkg/logger"
	"github.com/cpqbox/quote/backend/service"
	"github.com/gin-gonic/gin"
)

// Quote form bodies are a few hundred bytes; anything larger is rejected
const maxQuoteBodyBytes = 64 << 10

// QuoteRunner executes the quote pipeline for one request
type QuoteRunner interface {
	Run(ctx context.Context, req model.QuoteRequest) model.PipelineResult
}

// ArtifactReader serves stored quote documents
type ArtifactReader interface {
	Get(ctx context.Context, leadID string) ([]byte, error)
}

type QuoteHandler struct {
	pipeline  QuoteRunner
	artifacts ArtifactReader
}

func NewQuoteHandler(pipeline QuoteRunner, artifacts ArtifactReader) *QuoteHandler {
	return &QuoteHandler{
		pipeline:  pipeline,
		artifacts: artifacts,
	}
}

// Create handles the quote form submission
func (h *QuoteHandler) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxQuoteBodyBytes)

	var req model.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Debug(c.Request.Context(), "Rejected quote body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Validation failed: invalid JSON body"})
		return
	}

	// Reject bad input here so the pipeline never allocates a lead id for it
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, model.Failure(err))
		return
	}

	res := h.pipeline.Run(c.Request.Context(), req)
	if res.LeadID != "" {
		c.Set(middleware.LeadIDKey, res.LeadID)
	}
	c.JSON(res.HTTPStatus(), res)
}

// Download returns a stored quote PDF by its file name, <lead_id>.pdf
func (h *QuoteHandler) Download(c *gin.Context) {
	leadID, ok := strings.CutSuffix(c.Param("file"), ".pdf")
	if !ok || !service.ValidLeadID(leadID) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid file name"})
		return
	}

	data, err := h.artifacts.Get(c.Request.Context(), leadID)
	switch {
	case errors.Is(err, service.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "File not found"})
		return
	case err != nil:
		logger.Error(c.Request.Context(), "Failed to read quote artifact", "lead_id", leadID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": model.KindUpstream.PublicMessage()})
		return
	}

	c.Header("Content-Disposition", `inline; filename="`+leadID+`.pdf"`)
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, service.PDFContentType, data)
}
