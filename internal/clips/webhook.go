package clips

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/promoreel/backend/pkg/queue"
	"github.com/promoreel/backend/pkg/response"
)

// WebhookHandler receives completion notifications from the clip service.
type WebhookHandler struct {
	reconciler *Reconciler
	queue      *queue.Queue
	logger     *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(reconciler *Reconciler, q *queue.Queue, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{reconciler: reconciler, queue: q, logger: logger}
}

// ClipReady handles POST /webhooks/clip-ready. Only structurally invalid
// payloads are rejected; everything else is acknowledged so the clip service
// never enters a retry storm. A first terminal delivery enqueues an advance
// pass for the parent bundle; duplicates are acked without side effects.
func (h *WebhookHandler) ClipReady(c *gin.Context) {
	var n Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		response.BadRequest(c, "invalid payload: "+err.Error())
		return
	}
	if err := n.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	job, applied, err := h.reconciler.Apply(c.Request.Context(), &n)
	if err != nil {
		// Swallow and ack: the job stays non-terminal and the polling
		// fallback will pick it up.
		h.logger.Error("clip webhook apply failed", zap.String("request_id", n.RequestID), zap.Error(err))
		response.OK(c, gin.H{"request_id": n.RequestID, "applied": false})
		return
	}

	if applied && job != nil {
		if err := h.queue.EnqueueBundleAdvance(c.Request.Context(), queue.BundleAdvancePayload{
			BundleID: job.BundleID,
			Reason:   "clip_webhook",
		}); err != nil {
			h.logger.Error("enqueue bundle advance failed",
				zap.String("bundle_id", job.BundleID.String()), zap.Error(err))
		}
	}
	response.OK(c, gin.H{"request_id": n.RequestID, "applied": applied})
}
