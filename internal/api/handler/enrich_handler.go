package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/pythia/internal/api/dto"
	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/gin-gonic/gin"
)

func (h *SessionHandler) kind(c *gin.Context) (domain.EnrichKind, bool) {
	kind, err := domain.ParseEnrichKind(c.Param("kind"))
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return kind, true
}

// FetchEnrichment handles POST /api/v1/session/enrich/:kind
// The body is optional; its fields override the session's enrichment settings
func (h *SessionHandler) FetchEnrichment(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}

	var req dto.EnrichRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	s := h.session()
	q := req.Apply(s.Snapshot().Enrich[kind])
	er, err := s.FetchEnrichment(c.Request.Context(), kind, q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, er)
}

// GetEnrichment handles GET /api/v1/session/enrich/:kind?view=table|bar|dot
func (h *SessionHandler) GetEnrichment(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}

	s := h.session()
	if s.Enrichment(kind) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no " + string(kind) + " enrichment fetched"})
		return
	}
	items, sort, err := s.EnrichTable(kind)
	if err != nil {
		h.respondError(c, err)
		return
	}

	switch view := c.DefaultQuery("view", "table"); view {
	case "table":
		c.JSON(http.StatusOK, gin.H{"items": items, "sort": sort})
	case "bar":
		c.JSON(http.StatusOK, gin.H{"bars": transform.BarView(items)})
	case "dot":
		c.JSON(http.StatusOK, gin.H{"dots": transform.DotView(items)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown view " + view, "field": "view"})
	}
}

// SortEnrichment handles POST /api/v1/session/enrich/:kind/sort
// Selecting the active key flips its direction
func (h *SessionHandler) SortEnrichment(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}

	var req dto.SortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	key, err := transform.ParseSortKey(req.Key)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.session().ToggleSort(kind, key))
}
