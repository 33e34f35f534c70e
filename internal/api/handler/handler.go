package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/session"
	"github.com/cuongbtq/pythia/internal/transform"
	"github.com/gin-gonic/gin"
)

// Session is the per-user state the handlers drive
type Session interface {
	Submit(ctx context.Context, upload domain.Upload) (domain.Job, error)
	CommitParams(ctx context.Context, p domain.QueryParams) error
	FetchEnrichment(ctx context.Context, kind domain.EnrichKind, q domain.EnrichQuery) (*domain.EnrichResult, error)
	Snapshot() session.State
	Volcano() (transform.VolcanoView, error)
	PCA() ([]transform.PCATrace, error)
	TopTable() (domain.TopTable, error)
	Enrichment(kind domain.EnrichKind) *domain.EnrichResult
	EnrichTable(kind domain.EnrichKind) ([]domain.EnrichItem, transform.SortState, error)
	ToggleSort(kind domain.EnrichKind, key transform.SortKey) transform.SortState
	Downloads() (session.Downloads, error)
	Close()
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	// NewSession creates the session served after startup and after each teardown
	NewSession     func() Session
	MaxUploadBytes int64
	ServiceName    string
}

// SessionHandler serves one session at a time
type SessionHandler struct {
	logger         *slog.Logger
	newSession     func() Session
	maxUploadBytes int64

	mu      sync.RWMutex
	current Session
}

// NewSessionHandler creates a new SessionHandler with a fresh session
func NewSessionHandler(deps *Dependencies) *SessionHandler {
	return &SessionHandler{
		logger:         deps.Logger,
		newSession:     deps.NewSession,
		maxUploadBytes: deps.MaxUploadBytes,
		current:        deps.NewSession(),
	}
}

func (h *SessionHandler) session() Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Shutdown closes the served session
func (h *SessionHandler) Shutdown() {
	h.session().Close()
}

func (h *SessionHandler) respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var verr *domain.ValidationError
	var terr *domain.TransportError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": verr.Reason,
			"field": verr.Field,
		})
	case errors.Is(err, domain.ErrNoCompletedJob):
		c.JSON(http.StatusConflict, gin.H{"error": "no completed job"})
	case errors.Is(err, domain.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer request"})
	case errors.Is(err, domain.ErrUnknownKind):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown enrichment kind"})
	case errors.Is(err, session.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session closed"})
	case errors.As(err, &terr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          terr.Error(),
			"backend_status": terr.StatusCode,
			"backend_body":   terr.Body,
		})
	default:
		h.logger.Error("Unhandled error", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
