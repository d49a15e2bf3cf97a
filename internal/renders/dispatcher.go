package renders

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/promoreel/backend/internal/models"
	"github.com/promoreel/backend/internal/renderfarm"
	"github.com/promoreel/backend/pkg/storage"
)

// Submitter is the slice of the render farm the dispatcher needs.
type Submitter interface {
	Submit(ctx context.Context, req *renderfarm.SubmitRequest) (*renderfarm.SubmitResponse, error)
}

// creator is the slice of the repository the dispatcher needs.
type creator interface {
	Create(ctx context.Context, job *models.RenderJob) error
}

// Dispatcher submits one render request per output format.
type Dispatcher struct {
	store  creator
	farm   Submitter
	logger *zap.Logger
}

// NewDispatcher creates a render dispatcher.
func NewDispatcher(store creator, farm Submitter, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, farm: farm, logger: logger}
}

// Dispatch submits every format that does not already have a job row,
// concurrently. A submission failure still creates the RenderJob, already
// failed, so the finalizer's "exactly three terminal jobs" predicate stays
// satisfiable and the bundle degrades instead of hanging. Passing the bundle's
// existing jobs makes the call idempotent: a pass whose row insert failed
// after submission leaves a gap that the next pass fills by re-dispatching
// only the missing formats. Three rows exist once a dispatch pass fully
// succeeds, whatever the submission outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, b *models.Bundle, assets map[models.ClipType]*string, existing []models.RenderJob) error {
	clipAssets := renderfarm.ClipAssets{
		Intro:      assets[models.ClipTypeIntro],
		Background: assets[models.ClipTypeBackground],
		Outro:      assets[models.ClipTypeOutro],
	}
	have := make(map[string]bool, len(existing))
	for _, j := range existing {
		have[j.Format] = true
	}
	var g errgroup.Group
	for _, format := range models.RenderFormats {
		if have[format] {
			continue
		}
		f := format
		g.Go(func() error { return d.dispatchOne(ctx, b, f, clipAssets) })
	}
	return g.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, b *models.Bundle, format string, assets renderfarm.ClipAssets) error {
	key := storage.OutputKey(b.ID.String(), format)
	resp, err := d.farm.Submit(ctx, &renderfarm.SubmitRequest{
		CompositionID: b.ID.String(),
		Format:        format,
		Script:        b.Script,
		ClipAssets:    assets,
		StorageKey:    key,
	})

	job := &models.RenderJob{BundleID: b.ID, Format: format, StorageKey: key}
	if err != nil {
		job.Status = models.RenderStatusFailed
		job.ErrorMessage = "submission failed: " + err.Error()
		if cerr := d.store.Create(ctx, job); cerr != nil {
			d.logger.Error("record failed render submission",
				zap.String("bundle_id", b.ID.String()),
				zap.String("format", format),
				zap.Error(cerr))
		}
		d.logger.Warn("render submission failed",
			zap.String("bundle_id", b.ID.String()),
			zap.String("format", format),
			zap.Error(err))
		return fmt.Errorf("submit %s render: %w", format, err)
	}

	job.RenderID = resp.RenderID
	if resp.StorageKey != "" {
		job.StorageKey = resp.StorageKey
	}
	job.Status = models.RenderStatusPending
	if err := d.store.Create(ctx, job); err != nil {
		return fmt.Errorf("create %s render job: %w", format, err)
	}
	d.logger.Info("render submitted",
		zap.String("bundle_id", b.ID.String()),
		zap.String("format", format),
		zap.String("render_id", resp.RenderID))
	return nil
}
