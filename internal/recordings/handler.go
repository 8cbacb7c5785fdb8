package recordings

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sports-dvr/backend/internal/models"
	"github.com/sports-dvr/backend/internal/recorder"
	"github.com/sports-dvr/backend/pkg/response"
	"github.com/sports-dvr/backend/pkg/storage"
)

const (
	serviceName            = "sports-dvr"
	defaultDurationMinutes = 180
)

// Supervisor is the recording supervisor the handler drives.
type Supervisor interface {
	Start(ctx context.Context, req recorder.StartRequest) (models.Recording, error)
	Stop(ctx context.Context, eventID string) error
	Get(eventID string) (models.Recording, bool)
	List() []models.Recording
	ActiveCount() int
	MaxConcurrent() int
}

// ArchiveLinker presigns uploaded archives. Optional; nil disables the archive endpoint.
type ArchiveLinker interface {
	ArchiveDownloadURL(ctx context.Context, eventID, filename string) (string, error)
	PresignExpire() time.Duration
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	svc      Supervisor
	archives ArchiveLinker
	logger   *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(svc Supervisor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// SetArchiveLinker enables GET /api/recordings/:event_id/archive.
func (h *Handler) SetArchiveLinker(a ArchiveLinker) { h.archives = a }

// RegisterRoutes mounts the recording API on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/api/recordings", h.List)
	r.GET("/api/recordings/:event_id", h.Get)
	r.GET("/api/recordings/:event_id/archive", h.ArchiveURL)
	r.POST("/api/record/:event_id", h.Start)
	r.DELETE("/api/record/:event_id", h.Stop)
	r.GET("/api/timeshift/:event_id", h.Timeshift)
}

// StartRequest is the body of POST /api/record/:event_id.
type StartRequest struct {
	StreamURL       string `json:"stream_url" binding:"required"`
	EventID         string `json:"event_id" binding:"required"`
	EventName       string `json:"event_name" binding:"required"`
	DurationMinutes *int   `json:"duration_minutes"`
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	response.Raw(c, gin.H{"status": "healthy", "service": serviceName})
}

// List handles GET /api/recordings.
func (h *Handler) List(c *gin.Context) {
	recs := h.svc.List()
	out := make([]models.RecordingStatus, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.StatusView())
	}
	response.Raw(c, out)
}

// Get handles GET /api/recordings/:event_id.
func (h *Handler) Get(c *gin.Context) {
	rec, ok := h.svc.Get(c.Param("event_id"))
	if !ok {
		response.NotFound(c, "Recording not found")
		return
	}
	response.Raw(c, rec)
}

// Start handles POST /api/record/:event_id. The path id wins over the body id.
func (h *Handler) Start(c *gin.Context) {
	eventID := c.Param("event_id")

	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.EventID != eventID {
		h.logger.Warn("event_id in body does not match path", zap.String("path_event_id", eventID), zap.String("body_event_id", req.EventID))
	}
	duration := defaultDurationMinutes
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}

	// re-submissions of a known id are answered with the existing record
	if _, exists := h.svc.Get(eventID); !exists && h.svc.ActiveCount() >= h.svc.MaxConcurrent() {
		response.TooManyRequests(c, "Maximum concurrent recordings reached")
		return
	}

	rec, err := h.svc.Start(c.Request.Context(), recorder.StartRequest{
		EventID:         eventID,
		StreamURL:       req.StreamURL,
		EventName:       req.EventName,
		DurationMinutes: duration,
	})
	switch {
	case err == nil:
	case errors.Is(err, recorder.ErrCapacityExceeded):
		response.TooManyRequests(c, "Maximum concurrent recordings reached")
		return
	case errors.Is(err, recorder.ErrInvalidRequest):
		response.BadRequest(c, err.Error())
		return
	case errors.Is(err, recorder.ErrInsufficientSpace):
		response.InsufficientStorage(c, "Not enough disk space to record")
		return
	case errors.Is(err, recorder.ErrClosed):
		response.ServiceUnavailable(c, "recorder is shutting down")
		return
	default:
		h.logger.Error("start recording failed", zap.String("event_id", eventID), zap.Error(err))
		response.Internal(c, "failed to start recording")
		return
	}

	response.Raw(c, gin.H{"status": "started", "event_id": eventID, "recording": rec})
}

// Stop handles DELETE /api/record/:event_id. Unknown ids still report stopped.
func (h *Handler) Stop(c *gin.Context) {
	eventID := c.Param("event_id")
	if err := h.svc.Stop(c.Request.Context(), eventID); err != nil {
		h.logger.Error("stop recording failed", zap.String("event_id", eventID), zap.Error(err))
		response.Internal(c, "failed to stop recording")
		return
	}
	response.Raw(c, gin.H{"status": "stopped", "event_id": eventID})
}

// Timeshift handles GET /api/timeshift/:event_id.
func (h *Handler) Timeshift(c *gin.Context) {
	eventID := c.Param("event_id")
	rec, ok := h.svc.Get(eventID)
	if !ok {
		response.NotFound(c, "Recording not found")
		return
	}
	if rec.TimeshiftURL == "" {
		response.NotFound(c, "Time-shift not available")
		return
	}
	response.Raw(c, gin.H{"event_id": eventID, "timeshift_url": rec.TimeshiftURL, "status": rec.Status})
}

// ArchiveURL handles GET /api/recordings/:event_id/archive.
func (h *Handler) ArchiveURL(c *gin.Context) {
	if h.archives == nil {
		response.ServiceUnavailable(c, "archive storage not configured")
		return
	}
	eventID := c.Param("event_id")
	rec, ok := h.svc.Get(eventID)
	if !ok {
		response.NotFound(c, "Recording not found")
		return
	}
	if !rec.Status.Terminal() || rec.MP4Path == "" {
		response.NotFound(c, "Archive not available")
		return
	}
	url, err := h.archives.ArchiveDownloadURL(c.Request.Context(), eventID, filepath.Base(rec.MP4Path))
	if errors.Is(err, storage.ErrNotFound) {
		response.NotFound(c, "Archive not available")
		return
	}
	if err != nil {
		h.logger.Error("presign archive download failed", zap.String("event_id", eventID), zap.Error(err))
		response.Internal(c, "failed to generate download URL")
		return
	}
	expire := h.archives.PresignExpire()
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}
