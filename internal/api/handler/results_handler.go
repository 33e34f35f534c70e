package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/pythia/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// UpdateParams handles PUT /api/v1/session/params
// Commits new thresholds and re-queries the completed job when they changed.
// A failed re-query keeps the previous display and reports the error.
func (h *SessionHandler) UpdateParams(c *gin.Context) {
	var req dto.UpdateParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	s := h.session()
	params := req.Apply(s.Snapshot().Params)
	if err := s.CommitParams(c.Request.Context(), params); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// GetVolcano handles GET /api/v1/session/volcano
func (h *SessionHandler) GetVolcano(c *gin.Context) {
	view, err := h.session().Volcano()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetPCA handles GET /api/v1/session/pca
func (h *SessionHandler) GetPCA(c *gin.Context) {
	traces, err := h.session().PCA()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"traces": traces})
}

// GetTopTable handles GET /api/v1/session/top-table
func (h *SessionHandler) GetTopTable(c *gin.Context) {
	table, err := h.session().TopTable()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, table)
}

// GetDownloads handles GET /api/v1/session/downloads
func (h *SessionHandler) GetDownloads(c *gin.Context) {
	links, err := h.session().Downloads()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, links)
}
