package bundles

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promoreel/backend/pkg/response"
)

// Handler exposes the bundle HTTP API.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a bundle handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

type createBundleRequest struct {
	UserID      string `json:"user_id" binding:"required,uuid"`
	SourceURL   string `json:"source_url" binding:"required,url"`
	Style       string `json:"style" binding:"required"`
	MusicMood   string `json:"music_mood" binding:"required"`
	DurationSec int    `json:"duration_sec" binding:"required,min=10,max=120"`
}

// Create handles POST /bundles.
func (h *Handler) Create(c *gin.Context) {
	var req createBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}

	b, err := h.service.Create(c.Request.Context(), CreateRequest{
		UserID:      userID,
		SourceURL:   req.SourceURL,
		Style:       req.Style,
		MusicMood:   req.MusicMood,
		DurationSec: req.DurationSec,
	})
	if err != nil {
		h.logger.Error("create bundle failed", zap.Error(err))
		response.Internal(c, "failed to create bundle")
		return
	}
	response.Created(c, b)
}

// List handles GET /bundles?user_id=.
func (h *Handler) List(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		response.BadRequest(c, "user_id query parameter required")
		return
	}
	bundles, err := h.service.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list bundles failed", zap.Error(err))
		response.Internal(c, "failed to list bundles")
		return
	}
	response.OK(c, gin.H{"bundles": bundles, "count": len(bundles)})
}

// Get handles GET /bundles/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid bundle id")
		return
	}
	b, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "bundle not found")
			return
		}
		h.logger.Error("get bundle failed", zap.String("bundle_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to get bundle")
		return
	}
	response.OK(c, b)
}

// Status handles GET /bundles/:id/status. Each call reconciles the bundle
// against its jobs, so polling this endpoint drives the pipeline forward even
// without webhooks or the background sweep. Completed formats carry pre-signed
// download URLs.
func (h *Handler) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid bundle id")
		return
	}
	view, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "bundle not found")
			return
		}
		h.logger.Error("bundle status failed", zap.String("bundle_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to get bundle status")
		return
	}

	byFormat := make(map[string]int, len(view.RenderJobs))
	for i := range view.RenderJobs {
		byFormat[view.RenderJobs[i].Format] = i
	}
	for i := range view.Formats {
		idx, ok := byFormat[view.Formats[i].Format]
		if !ok {
			continue
		}
		if url := h.service.PresignedOutputURL(c.Request.Context(), &view.RenderJobs[idx]); url != "" {
			view.Formats[i].OutputURL = url
		}
	}
	response.OK(c, view)
}
