package renders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promoreel/backend/internal/models"
	"github.com/promoreel/backend/internal/renderfarm"
)

// StatusPuller is the slice of the render farm the poller needs.
type StatusPuller interface {
	GetStatus(ctx context.Context, renderID string) (*renderfarm.Status, error)
}

// updater is the slice of the repository the poller needs.
type updater interface {
	Update(ctx context.Context, id uuid.UUID, p Patch) error
	ListActive(ctx context.Context) ([]models.RenderJob, error)
}

// Poller pulls render progress from the farm and advances render jobs. It is
// invoked both opportunistically from status checks and by the background
// sweep; both share this path, and last-writer-wins is safe because the farm
// is the source of truth for every written field.
type Poller struct {
	store  updater
	farm   StatusPuller
	logger *zap.Logger
}

// NewPoller creates a progress poller.
func NewPoller(store updater, farm StatusPuller, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{store: store, farm: farm, logger: logger}
}

// Poll refreshes one render job from the farm, returning the updated snapshot.
// Terminal jobs and jobs that never got a render id are returned untouched.
func (p *Poller) Poll(ctx context.Context, job models.RenderJob) (models.RenderJob, error) {
	if models.RenderTerminal(job.Status) || job.RenderID == "" {
		return job, nil
	}
	st, err := p.farm.GetStatus(ctx, job.RenderID)
	if err != nil {
		p.logger.Warn("render status pull failed",
			zap.String("render_id", job.RenderID), zap.Error(err))
		return job, err
	}

	patch := Patch{Progress: &st.Progress}
	job.Progress = st.Progress
	if st.OutputURL != "" {
		patch.OutputURL = &st.OutputURL
		job.OutputURL = st.OutputURL
	}
	if st.ThumbnailURL != "" {
		patch.ThumbnailURL = &st.ThumbnailURL
		job.ThumbnailURL = st.ThumbnailURL
	}

	// Transition rules, evaluated in order: fatal, done, progressing, pending.
	switch {
	case st.FatalError:
		failed := models.RenderStatusFailed
		errMsg := st.Error
		if errMsg == "" {
			errMsg = "render failed"
		}
		patch.Status = &failed
		patch.ErrorMessage = &errMsg
		job.Status = failed
		job.ErrorMessage = errMsg
	case st.Done:
		completed := models.RenderStatusCompleted
		now := time.Now()
		done := 1.0
		patch.Status = &completed
		patch.CompletedAt = &now
		patch.Progress = &done
		job.Status = completed
		job.CompletedAt = &now
		job.Progress = done
	case st.Progress > 0:
		rendering := models.RenderStatusRendering
		patch.Status = &rendering
		job.Status = rendering
	}

	if err := p.store.Update(ctx, job.ID, patch); err != nil {
		return job, err
	}
	if models.RenderTerminal(job.Status) {
		p.logger.Info("render job reached terminal state",
			zap.String("bundle_id", job.BundleID.String()),
			zap.String("format", job.Format),
			zap.String("status", job.Status))
	}
	return job, nil
}

// PollSet refreshes every non-terminal job in the slice, returning updated
// snapshots. Pull errors leave the stale snapshot in place; the next pass
// tries again.
func (p *Poller) PollSet(ctx context.Context, jobs []models.RenderJob) []models.RenderJob {
	out := make([]models.RenderJob, 0, len(jobs))
	for _, job := range jobs {
		refreshed, err := p.Poll(ctx, job)
		if err != nil {
			out = append(out, job)
			continue
		}
		out = append(out, refreshed)
	}
	return out
}

// PollAllActive refreshes every active render job across all bundles and
// returns the bundle ids that now have at least one terminal job, for the
// sweep to run finalization checks.
func (p *Poller) PollAllActive(ctx context.Context) ([]uuid.UUID, error) {
	jobs, err := p.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	var bundles []uuid.UUID
	for _, job := range jobs {
		refreshed, err := p.Poll(ctx, job)
		if err != nil {
			continue
		}
		if models.RenderTerminal(refreshed.Status) && !seen[refreshed.BundleID] {
			seen[refreshed.BundleID] = true
			bundles = append(bundles, refreshed.BundleID)
		}
	}
	return bundles, nil
}
