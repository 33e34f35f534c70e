package handler

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/cuongbtq/pythia/internal/api/dto"
	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/gin-gonic/gin"
)

// CreateJob handles POST /api/v1/session/jobs
// Submits the uploaded counts and metadata, superseding any running job
func (h *SessionHandler) CreateJob(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	var form dto.CreateJobForm
	if err := c.ShouldBind(&form); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		h.logger.Error("Invalid form", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form"})
		return
	}
	if form.DesignColumn == "" {
		form.DesignColumn = domain.DefaultDesignColumn
	}

	upload := domain.Upload{DesignColumn: form.DesignColumn}
	for _, f := range []struct {
		field string
		dst   **domain.File
	}{
		{"counts", &upload.Counts},
		{"metadata", &upload.Metadata},
	} {
		fh, err := c.FormFile(f.field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			h.logger.Error("Failed to read upload", slog.String("field", f.field), slog.Any("error", err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read " + f.field})
			return
		}
		file, err := fh.Open()
		if err != nil {
			h.respondError(c, err)
			return
		}
		defer func(file multipart.File) { _ = file.Close() }(file)
		*f.dst = &domain.File{Name: fh.Filename, Reader: file}
	}

	job, err := h.session().Submit(c.Request.Context(), upload)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Job submitted", slog.String("job_id", job.ID), slog.String("status", string(job.State)))
	c.JSON(http.StatusAccepted, dto.JobResponse{
		JobID:  job.ID,
		Status: string(job.State),
	})
}

// GetSession handles GET /api/v1/session
func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session().Snapshot())
}

// DeleteSession handles DELETE /api/v1/session
// Stops polling, discards all snapshots and starts over with a fresh session
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	next := h.newSession()

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	prev.Close()
	h.logger.Info("Session reset")
	c.Status(http.StatusNoContent)
}
