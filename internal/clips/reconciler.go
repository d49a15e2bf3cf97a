package clips

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promoreel/backend/internal/clipgen"
	"github.com/promoreel/backend/internal/models"
)

// Notification is the completion payload delivered by the clip service, either
// via webhook or synthesized from the pull API by the polling fallback.
type Notification struct {
	RequestID string `json:"request_id"`
	Outcome   string `json:"outcome"` // "ok" or "error"
	OutputURL string `json:"result_location,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Validate checks structural validity. Anything else is acked and dropped.
func (n *Notification) Validate() error {
	if n.RequestID == "" {
		return fmt.Errorf("request_id required")
	}
	if n.Outcome != "ok" && n.Outcome != "error" {
		return fmt.Errorf("outcome must be \"ok\" or \"error\"")
	}
	if n.Outcome == "ok" && n.OutputURL == "" {
		return fmt.Errorf("result_location required for ok outcome")
	}
	return nil
}

// store is the slice of the repository the reconciler needs.
type store interface {
	GetByRequestID(ctx context.Context, requestID string) (*models.ClipJob, error)
	UpdateByRequestID(ctx context.Context, requestID string, p Patch) error
	ListActive(ctx context.Context) ([]models.ClipJob, error)
}

// Puller is the pull side of the clip service, used by the polling fallback.
type Puller interface {
	GetRequest(ctx context.Context, requestID string) (*clipgen.RequestResult, error)
}

// Reconciler applies asynchronous clip completion notifications to clip jobs.
// Updates are idempotent patches keyed by the external request id, so webhook
// delivery and the polling fallback may interleave freely.
type Reconciler struct {
	store  store
	client Puller
	logger *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(st store, client Puller, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: st, client: client, logger: logger}
}

// Apply records a notification on the matching clip job. An unknown request id
// is dropped without side effects (nil job, applied=false). A duplicate
// delivery of an already-applied terminal state is a no-op with applied=false,
// so callers do not trigger downstream effects twice.
func (r *Reconciler) Apply(ctx context.Context, n *Notification) (*models.ClipJob, bool, error) {
	job, err := r.store.GetByRequestID(ctx, n.RequestID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup clip job: %w", err)
	}
	if job == nil {
		r.logger.Info("notification for unknown request id dropped", zap.String("request_id", n.RequestID))
		return nil, false, nil
	}

	status := models.ClipStatusCompleted
	outputURL := n.OutputURL
	errMsg := ""
	if n.Outcome == "error" {
		status = models.ClipStatusFailed
		outputURL = ""
		errMsg = n.Error
		if errMsg == "" {
			errMsg = "clip generation failed"
		}
	}

	if job.Status == status && job.OutputURL == outputURL && job.ErrorMessage == errMsg {
		return job, false, nil
	}

	if err := r.store.UpdateByRequestID(ctx, n.RequestID, Patch{
		Status:       &status,
		OutputURL:    &outputURL,
		ErrorMessage: &errMsg,
	}); err != nil {
		return job, false, fmt.Errorf("apply notification: %w", err)
	}
	job.Status = status
	job.OutputURL = outputURL
	job.ErrorMessage = errMsg
	r.logger.Info("clip job reconciled",
		zap.String("bundle_id", job.BundleID.String()),
		zap.String("clip_type", string(job.ClipType)),
		zap.String("status", status))
	return job, true, nil
}

// PollActive is the fallback for environments without reliable webhook
// delivery: pull the service for every non-terminal clip job and run the same
// apply path. Returns the bundle ids whose clip jobs reached a terminal state.
func (r *Reconciler) PollActive(ctx context.Context) ([]uuid.UUID, error) {
	jobs, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active clip jobs: %w", err)
	}
	var advanced []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, job := range jobs {
		refreshed, changed := r.pollOne(ctx, job)
		if changed && models.ClipTerminal(refreshed.Status) && !seen[refreshed.BundleID] {
			seen[refreshed.BundleID] = true
			advanced = append(advanced, refreshed.BundleID)
		}
	}
	return advanced, nil
}

// PollSet refreshes the given clip jobs through the pull API, returning
// updated snapshots. Pull errors leave the stale snapshot in place.
func (r *Reconciler) PollSet(ctx context.Context, jobs []models.ClipJob) []models.ClipJob {
	out := make([]models.ClipJob, 0, len(jobs))
	for _, job := range jobs {
		refreshed, _ := r.pollOne(ctx, job)
		out = append(out, refreshed)
	}
	return out
}

// pollOne pulls one job's state and applies it via the shared reconcile path.
func (r *Reconciler) pollOne(ctx context.Context, job models.ClipJob) (models.ClipJob, bool) {
	if models.ClipTerminal(job.Status) || job.RequestID == "" {
		return job, false
	}
	result, err := r.client.GetRequest(ctx, job.RequestID)
	if err != nil {
		r.logger.Warn("clip status pull failed", zap.String("request_id", job.RequestID), zap.Error(err))
		return job, false
	}
	if !result.Terminal() {
		if result.Status == "processing" && job.Status == models.ClipStatusPending {
			processing := models.ClipStatusProcessing
			if err := r.store.UpdateByRequestID(ctx, job.RequestID, Patch{Status: &processing}); err != nil {
				r.logger.Warn("mark clip processing failed", zap.String("request_id", job.RequestID), zap.Error(err))
			} else {
				job.Status = processing
			}
		}
		return job, false
	}
	n := &Notification{RequestID: job.RequestID, Outcome: "ok", OutputURL: result.ResultURL}
	if !result.Succeeded() {
		n.Outcome = "error"
		n.Error = result.Error
	}
	applied, _, err := r.applyTo(ctx, job, n)
	if err != nil {
		r.logger.Warn("apply pulled clip result failed", zap.String("request_id", job.RequestID), zap.Error(err))
		return job, false
	}
	return applied, true
}

// applyTo is Apply with the job already in hand.
func (r *Reconciler) applyTo(ctx context.Context, job models.ClipJob, n *Notification) (models.ClipJob, bool, error) {
	updated, changed, err := r.Apply(ctx, n)
	if err != nil {
		return job, false, err
	}
	if updated != nil {
		return *updated, changed, nil
	}
	return job, false, nil
}

// Ready reports whether a bundle's clip phase is done: all three slots exist
// and each is terminal. A failed slot counts as done (best-effort degradation).
func Ready(jobs []models.ClipJob) bool {
	if len(jobs) != len(models.ClipTypes) {
		return false
	}
	for _, j := range jobs {
		if !models.ClipTerminal(j.Status) {
			return false
		}
	}
	return true
}

// Assets maps clip type to the generated asset URL; failed slots map to nil.
func Assets(jobs []models.ClipJob) map[models.ClipType]*string {
	assets := make(map[models.ClipType]*string, len(jobs))
	for _, j := range jobs {
		if j.Status == models.ClipStatusCompleted && j.OutputURL != "" {
			url := j.OutputURL
			assets[j.ClipType] = &url
		} else {
			assets[j.ClipType] = nil
		}
	}
	return assets
}
