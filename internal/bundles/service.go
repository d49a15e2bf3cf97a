// Package bundles orchestrates the promo video pipeline: a bundle moves
// pending -> analyzing -> composing -> rendering -> completed/failed, driven
// by status checks, webhook deliveries, queue jobs, and the background sweep.
// Every step is an idempotent reconciliation against stored state, so any of
// those entry points may advance a bundle without coordination.
package bundles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promoreel/backend/internal/clips"
	"github.com/promoreel/backend/internal/models"
	"github.com/promoreel/backend/pkg/storage"
)

// ErrNotFound is returned when a bundle id does not exist.
var ErrNotFound = errors.New("bundle not found")

// CreateRequest carries the fields for a new generation request.
type CreateRequest struct {
	UserID      uuid.UUID
	SourceURL   string
	Style       string
	MusicMood   string
	DurationSec int
}

// StatusView is the full status snapshot returned to callers.
type StatusView struct {
	Bundle     *models.Bundle     `json:"bundle"`
	ClipJobs   []models.ClipJob   `json:"clip_jobs"`
	RenderJobs []models.RenderJob `json:"render_jobs"`
	Overall    float64            `json:"overall_progress"`
	Formats    []FormatProgress   `json:"formats"`
}

// Broadcaster pushes progress snapshots to subscribed clients.
type Broadcaster interface {
	BroadcastProgress(bundleID uuid.UUID, view *StatusView)
}

// analyzerClient is the slice of the page analyzer the service needs.
type analyzerClient interface {
	Analyze(ctx context.Context, sourceURL string) *models.SiteContent
}

// scriptComposer is the slice of the script composer the service needs.
type scriptComposer interface {
	Compose(ctx context.Context, content *models.SiteContent, style, mood string, durationSec int) *models.Script
}

// The remaining collaborator slices. Production wiring passes the concrete
// repository, dispatcher, and poller types; tests substitute in-memory fakes
// so the advance pass can be exercised end to end.
type bundleStore interface {
	Create(ctx context.Context, b *models.Bundle) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Bundle, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Bundle, error)
	ListActive(ctx context.Context) ([]models.Bundle, error)
	Update(ctx context.Context, id uuid.UUID, p Patch) error
	TouchAccessed(ctx context.Context, id uuid.UUID) error
}

type clipStore interface {
	ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]models.ClipJob, error)
}

type renderStore interface {
	ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]models.RenderJob, error)
}

type clipDispatcher interface {
	Dispatch(ctx context.Context, b *models.Bundle, existing []models.ClipJob) error
}

type clipReconciler interface {
	PollSet(ctx context.Context, jobs []models.ClipJob) []models.ClipJob
	PollActive(ctx context.Context) ([]uuid.UUID, error)
}

type renderDispatcher interface {
	Dispatch(ctx context.Context, b *models.Bundle, assets map[models.ClipType]*string, existing []models.RenderJob) error
}

type renderPoller interface {
	PollSet(ctx context.Context, jobs []models.RenderJob) []models.RenderJob
	PollAllActive(ctx context.Context) ([]uuid.UUID, error)
}

type bundleFinalizer interface {
	Finalize(ctx context.Context, b *models.Bundle, renderJobs []models.RenderJob) (bool, error)
}

// Service drives bundles through the pipeline.
type Service struct {
	bundles bundleStore
	clips   clipStore
	renders renderStore

	clipDispatcher   clipDispatcher
	clipReconciler   clipReconciler
	renderDispatcher renderDispatcher
	renderPoller     renderPoller
	finalizer        bundleFinalizer

	analyzer analyzerClient
	composer scriptComposer

	s3  *storage.S3 // nil when object storage is not configured
	hub Broadcaster // nil when realtime push is not configured

	httpClient *http.Client
	logger     *zap.Logger
}

// ServiceDeps bundles the service's collaborators.
type ServiceDeps struct {
	Bundles bundleStore
	Clips   clipStore
	Renders renderStore

	ClipDispatcher   clipDispatcher
	ClipReconciler   clipReconciler
	RenderDispatcher renderDispatcher
	RenderPoller     renderPoller
	Finalizer        bundleFinalizer

	Analyzer analyzerClient
	Composer scriptComposer

	S3  *storage.S3
	Hub Broadcaster
}

// NewService creates the orchestration service.
func NewService(deps ServiceDeps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		bundles:          deps.Bundles,
		clips:            deps.Clips,
		renders:          deps.Renders,
		clipDispatcher:   deps.ClipDispatcher,
		clipReconciler:   deps.ClipReconciler,
		renderDispatcher: deps.RenderDispatcher,
		renderPoller:     deps.RenderPoller,
		finalizer:        deps.Finalizer,
		analyzer:         deps.Analyzer,
		composer:         deps.Composer,
		s3:               deps.S3,
		hub:              deps.Hub,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		logger:           logger,
	}
}

// Create starts a new bundle: persist it, analyze the page, compose the
// script, and dispatch clip generation. Analysis and composition never fail a
// bundle (both degrade to defaults); only persistence or clip submission
// errors surface.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Bundle, error) {
	b := &models.Bundle{
		UserID:      req.UserID,
		SourceURL:   req.SourceURL,
		Style:       req.Style,
		MusicMood:   req.MusicMood,
		DurationSec: req.DurationSec,
		Status:      models.BundleStatusPending,
	}
	if err := s.bundles.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create bundle: %w", err)
	}
	s.logger.Info("bundle created",
		zap.String("bundle_id", b.ID.String()),
		zap.String("source_url", b.SourceURL))

	analyzing := models.BundleStatusAnalyzing
	if err := s.bundles.Update(ctx, b.ID, Patch{Status: &analyzing}); err != nil {
		return nil, fmt.Errorf("mark analyzing: %w", err)
	}
	b.Status = analyzing

	content := s.analyzer.Analyze(ctx, b.SourceURL)
	b.SiteContent = content

	// Screenshot archival is fire-and-forget; losing a screenshot never
	// affects the pipeline.
	if s.s3 != nil && len(content.Screenshots) > 0 {
		go s.archiveScreenshots(b.ID, content.Screenshots)
	}

	script := s.composer.Compose(ctx, content, b.Style, b.MusicMood, b.DurationSec)
	b.Script = script

	composing := models.BundleStatusComposing
	if err := s.bundles.Update(ctx, b.ID, Patch{
		Status:      &composing,
		SiteContent: content,
		Script:      script,
	}); err != nil {
		return nil, fmt.Errorf("mark composing: %w", err)
	}
	b.Status = composing

	if err := s.clipDispatcher.Dispatch(ctx, b, nil); err != nil {
		// Failed slots are recorded as failed clip jobs; the pipeline
		// degrades rather than aborting here.
		s.logger.Warn("clip dispatch incomplete", zap.String("bundle_id", b.ID.String()), zap.Error(err))
	}
	return b, nil
}

// Get returns a bundle without advancing it.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	b, err := s.bundles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	s.touch(b.ID)
	return b, nil
}

// ListByUser returns a user's bundles.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Bundle, error) {
	return s.bundles.ListByUser(ctx, userID)
}

// Status reconciles the bundle against its jobs, polling external services
// for fresh state, and returns the snapshot. This is the status endpoint's
// entry point; every status check doubles as a pipeline tick.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	return s.advance(ctx, id, true)
}

// Advance reconciles the bundle against already-stored job state without
// pulling external services. The sweep and queue consumers use it after they
// have refreshed job state themselves.
func (s *Service) Advance(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	return s.advance(ctx, id, false)
}

func (s *Service) advance(ctx context.Context, id uuid.UUID, poll bool) (*StatusView, error) {
	b, err := s.bundles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	s.touch(b.ID)

	clipJobs, err := s.clips.ListByBundle(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("list clip jobs: %w", err)
	}
	renderJobs, err := s.renders.ListByBundle(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("list render jobs: %w", err)
	}

	switch b.Status {
	case models.BundleStatusPending, models.BundleStatusAnalyzing:
		// Create normally walks these stages synchronously; finding a bundle
		// here means a crash interrupted it. Resume from analysis.
		if err := s.resume(ctx, b, clipJobs); err != nil {
			s.logger.Warn("resume bundle failed", zap.String("bundle_id", b.ID.String()), zap.Error(err))
		}
		clipJobs, err = s.clips.ListByBundle(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("list clip jobs: %w", err)
		}
	case models.BundleStatusComposing:
		// A clip set short of three rows means an earlier dispatch lost a row
		// (insert failed after submission, or a crash between submissions).
		// Fill the missing slots so readiness stays decidable; the orphaned
		// external request's webhook lands on an unknown id and is dropped.
		if len(clipJobs) < len(models.ClipTypes) {
			if err := s.clipDispatcher.Dispatch(ctx, b, clipJobs); err != nil {
				s.logger.Warn("clip dispatch incomplete", zap.String("bundle_id", b.ID.String()), zap.Error(err))
			}
			clipJobs, err = s.clips.ListByBundle(ctx, b.ID)
			if err != nil {
				return nil, fmt.Errorf("list clip jobs: %w", err)
			}
		}
		if poll {
			clipJobs = s.clipReconciler.PollSet(ctx, clipJobs)
		}
		switch {
		case clips.Ready(clipJobs) && len(renderJobs) < len(models.RenderFormats):
			// First entry into the render stage, or a partial render set left
			// by a lost row insert. Either way, dispatch the missing formats
			// and (re)assert the rendering status.
			if err := s.startRendering(ctx, b, clipJobs, renderJobs); err != nil {
				s.logger.Warn("start rendering failed", zap.String("bundle_id", b.ID.String()), zap.Error(err))
			}
			renderJobs, err = s.renders.ListByBundle(ctx, b.ID)
			if err != nil {
				return nil, fmt.Errorf("list render jobs: %w", err)
			}
		case len(renderJobs) == len(models.RenderFormats):
			// Full render set but the status write was lost; repair it.
			rendering := models.BundleStatusRendering
			if err := s.bundles.Update(ctx, b.ID, Patch{Status: &rendering}); err == nil {
				b.Status = rendering
			}
		}
		if len(renderJobs) > 0 {
			if _, err := s.finalizer.Finalize(ctx, b, renderJobs); err != nil {
				s.logger.Warn("finalize failed", zap.String("bundle_id", b.ID.String()), zap.Error(err))
			}
		}
	case models.BundleStatusRendering:
		if len(renderJobs) < len(models.RenderFormats) && clips.Ready(clipJobs) && b.Script != nil {
			// A render row went missing after the bundle reached rendering;
			// dispatch only the absent formats to restore the full set.
			if err := s.renderDispatcher.Dispatch(ctx, b, clips.Assets(clipJobs), renderJobs); err != nil {
				s.logger.Warn("render dispatch incomplete", zap.String("bundle_id", b.ID.String()), zap.Error(err))
			}
			renderJobs, err = s.renders.ListByBundle(ctx, b.ID)
			if err != nil {
				return nil, fmt.Errorf("list render jobs: %w", err)
			}
		}
		if poll {
			renderJobs = s.renderPoller.PollSet(ctx, renderJobs)
		}
		if _, err := s.finalizer.Finalize(ctx, b, renderJobs); err != nil {
			s.logger.Warn("finalize failed", zap.String("bundle_id", b.ID.String()), zap.Error(err))
		}
	}

	view := &StatusView{
		Bundle:     b,
		ClipJobs:   clipJobs,
		RenderJobs: renderJobs,
		Overall:    OverallProgress(b.Status, clipJobs, renderJobs),
		Formats:    PerFormat(renderJobs),
	}
	if s.hub != nil {
		s.hub.BroadcastProgress(b.ID, view)
	}
	return view, nil
}

// resume finishes an interrupted Create: analyze and compose if missing, then
// dispatch clips. The unique constraint on (bundle_id, clip_type) makes a
// duplicate dispatch after a partial one a no-op per already-created slot.
func (s *Service) resume(ctx context.Context, b *models.Bundle, clipJobs []models.ClipJob) error {
	if b.SiteContent == nil {
		b.SiteContent = s.analyzer.Analyze(ctx, b.SourceURL)
	}
	if b.Script == nil {
		b.Script = s.composer.Compose(ctx, b.SiteContent, b.Style, b.MusicMood, b.DurationSec)
	}
	composing := models.BundleStatusComposing
	if err := s.bundles.Update(ctx, b.ID, Patch{
		Status:      &composing,
		SiteContent: b.SiteContent,
		Script:      b.Script,
	}); err != nil {
		return fmt.Errorf("mark composing: %w", err)
	}
	b.Status = composing
	if err := s.clipDispatcher.Dispatch(ctx, b, clipJobs); err != nil {
		s.logger.Warn("clip dispatch incomplete", zap.String("bundle_id", b.ID.String()), zap.Error(err))
	}
	return nil
}

// startRendering moves a clip-complete bundle into the render stage: submit
// the formats that do not have a job row yet, then mark the bundle rendering.
// The unique constraint on (bundle_id, format) makes a racing second dispatch
// a no-op at the database.
func (s *Service) startRendering(ctx context.Context, b *models.Bundle, clipJobs []models.ClipJob, existing []models.RenderJob) error {
	if b.Script == nil {
		return fmt.Errorf("bundle %s has no script", b.ID)
	}
	assets := clips.Assets(clipJobs)
	if err := s.renderDispatcher.Dispatch(ctx, b, assets, existing); err != nil {
		s.logger.Warn("render dispatch incomplete", zap.String("bundle_id", b.ID.String()), zap.Error(err))
	}
	rendering := models.BundleStatusRendering
	if err := s.bundles.Update(ctx, b.ID, Patch{Status: &rendering}); err != nil {
		return fmt.Errorf("mark rendering: %w", err)
	}
	b.Status = rendering
	s.logger.Info("bundle rendering", zap.String("bundle_id", b.ID.String()))
	return nil
}

// SweepActive is the polling fallback: refresh every active clip and render
// job across bundles, then reconcile each bundle whose jobs moved plus every
// bundle that is still active, catching ones stuck between stages.
func (s *Service) SweepActive(ctx context.Context) {
	moved := make(map[uuid.UUID]bool)

	fromClips, err := s.clipReconciler.PollActive(ctx)
	if err != nil {
		s.logger.Warn("clip poll sweep failed", zap.Error(err))
	}
	for _, id := range fromClips {
		moved[id] = true
	}

	fromRenders, err := s.renderPoller.PollAllActive(ctx)
	if err != nil {
		s.logger.Warn("render poll sweep failed", zap.Error(err))
	}
	for _, id := range fromRenders {
		moved[id] = true
	}

	active, err := s.bundles.ListActive(ctx)
	if err != nil {
		s.logger.Warn("list active bundles failed", zap.Error(err))
	}
	for _, b := range active {
		moved[b.ID] = true
	}

	for id := range moved {
		// Jobs were already refreshed above; advance on stored state.
		if _, err := s.Advance(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("sweep advance failed", zap.String("bundle_id", id.String()), zap.Error(err))
		}
	}
}

// PresignedOutputURL returns a short-lived download URL for a completed
// render, or the stored output URL when object storage is not configured.
func (s *Service) PresignedOutputURL(ctx context.Context, job *models.RenderJob) string {
	if job.Status != models.RenderStatusCompleted {
		return ""
	}
	if s.s3 == nil || job.StorageKey == "" {
		return job.OutputURL
	}
	url, err := s.s3.PresignDownloadURL(ctx, s.s3.OutputsBucket(), job.StorageKey, s.s3.PresignExpire())
	if err != nil {
		s.logger.Warn("presign output failed",
			zap.String("render_id", job.RenderID), zap.Error(err))
		return job.OutputURL
	}
	return url
}

// touch records access time in the background; failures are dropped.
func (s *Service) touch(id uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.bundles.TouchAccessed(ctx, id); err != nil {
			s.logger.Debug("touch last_accessed_at failed", zap.String("bundle_id", id.String()), zap.Error(err))
		}
	}()
}

// archiveScreenshots copies analyzer screenshots into our own bucket so they
// outlive the analyzer's retention window.
func (s *Service) archiveScreenshots(bundleID uuid.UUID, urls []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			continue
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			s.logger.Debug("fetch screenshot failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			continue
		}
		key := storage.ScreenshotKey(bundleID.String(), u)
		_, err = s.s3.Upload(ctx, s.s3.ScreenshotsBucket(), key, resp.Header.Get("Content-Type"), resp.Body)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err != nil {
			s.logger.Debug("archive screenshot failed", zap.String("key", key), zap.Error(err))
		}
	}
}
