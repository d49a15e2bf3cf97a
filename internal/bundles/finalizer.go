package bundles

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promoreel/backend/internal/models"
)

// finalStore is the slice of the bundle repository the finalizer needs.
type finalStore interface {
	UpdateStatusIfActive(ctx context.Context, id uuid.UUID, status string, outputs *models.BundleOutputs, errorMessage string) (bool, error)
}

// Finalizer converts an all-terminal render job set into a bundle outcome.
type Finalizer struct {
	store  finalStore
	logger *zap.Logger
}

// NewFinalizer creates a bundle finalizer.
func NewFinalizer(store finalStore, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{store: store, logger: logger}
}

// Finalize advances the bundle when exactly three render jobs exist and all
// are terminal. A bundle with at least one rendered format completes, with the
// failed formats noted; all three failing fails the bundle. The guarded status
// update makes a second invocation a no-op, so racing callers are safe.
// Returns whether this call changed the bundle.
func (f *Finalizer) Finalize(ctx context.Context, b *models.Bundle, renderJobs []models.RenderJob) (bool, error) {
	if models.BundleTerminal(b.Status) {
		return false, nil
	}
	if len(renderJobs) != len(models.RenderFormats) {
		return false, nil
	}
	for _, j := range renderJobs {
		if !models.RenderTerminal(j.Status) {
			return false, nil
		}
	}

	outputs := &models.BundleOutputs{}
	var failed []string
	for _, j := range renderJobs {
		if j.Status == models.RenderStatusCompleted {
			url := j.OutputURL
			outputs.Set(j.Format, &url)
		} else {
			outputs.Set(j.Format, nil)
			failed = append(failed, j.Format)
		}
	}

	status := models.BundleStatusCompleted
	errMsg := ""
	if len(failed) == len(models.RenderFormats) {
		status = models.BundleStatusFailed
		errMsg = "all render formats failed"
	} else if len(failed) > 0 {
		errMsg = fmt.Sprintf("formats failed to render: %s", strings.Join(failed, ", "))
	}

	changed, err := f.store.UpdateStatusIfActive(ctx, b.ID, status, outputs, errMsg)
	if err != nil {
		return false, fmt.Errorf("finalize bundle: %w", err)
	}
	if changed {
		b.Status = status
		b.Outputs = outputs
		b.ErrorMessage = errMsg
		f.logger.Info("bundle finalized",
			zap.String("bundle_id", b.ID.String()),
			zap.String("status", status),
			zap.Strings("failed_formats", failed))
	}
	return changed, nil
}
