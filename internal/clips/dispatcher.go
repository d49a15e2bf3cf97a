package clips

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/promoreel/backend/internal/clipgen"
	"github.com/promoreel/backend/internal/models"
)

// profile holds the generation settings for one clip slot.
type profile struct {
	durationSec    float64
	aspectRatio    string
	negativePrompt string
	prompt         func(b *models.Bundle) string
}

// profiles is indexed by clip type; dispatch never routes on raw strings. A
// type outside models.ClipTypes cannot reach dispatchOne.
var profiles = map[models.ClipType]profile{
	models.ClipTypeIntro: {
		durationSec:    5,
		aspectRatio:    "16:9",
		negativePrompt: "text, watermark, logo",
		prompt: func(b *models.Bundle) string {
			return fmt.Sprintf("Cinematic opening shot for a %s promo video about %q, %s palette, no text",
				b.Style, headline(b), palette(b))
		},
	},
	models.ClipTypeBackground: {
		durationSec:    10,
		aspectRatio:    "16:9",
		negativePrompt: "text, watermark, faces",
		prompt: func(b *models.Bundle) string {
			return fmt.Sprintf("Abstract looping %s background motion, %s mood, %s palette",
				b.Style, b.MusicMood, palette(b))
		},
	},
	models.ClipTypeOutro: {
		durationSec:    5,
		aspectRatio:    "16:9",
		negativePrompt: "text, watermark, logo",
		prompt: func(b *models.Bundle) string {
			return fmt.Sprintf("Closing shot for a %s promo video, calm resolve, %s palette, space for call to action",
				b.Style, palette(b))
		},
	},
}

func headline(b *models.Bundle) string {
	if b.SiteContent != nil && b.SiteContent.Headline != "" {
		return b.SiteContent.Headline
	}
	return b.SourceURL
}

func palette(b *models.Bundle) string {
	if b.SiteContent != nil && len(b.SiteContent.Colors) > 0 {
		return strings.Join(b.SiteContent.Colors, " ")
	}
	return "neutral"
}

// Submitter is the slice of the clip service the dispatcher needs.
type Submitter interface {
	Generate(ctx context.Context, req *clipgen.GenerateRequest) (*clipgen.GenerateResponse, error)
}

// creator is the slice of the repository the dispatcher needs.
type creator interface {
	Create(ctx context.Context, job *models.ClipJob) error
}

// Dispatcher submits the three clip-generation requests for a bundle.
type Dispatcher struct {
	store       creator
	client      Submitter
	callbackURL string
	logger      *zap.Logger
}

// NewDispatcher creates a clip dispatcher. callbackURL is where the clip
// service delivers completion webhooks.
func NewDispatcher(store creator, client Submitter, callbackURL string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, client: client, callbackURL: callbackURL, logger: logger}
}

// Dispatch submits a request for every clip type that does not already have a
// job row, concurrently. Passing the bundle's existing jobs makes the call
// idempotent: an earlier pass that crashed mid-dispatch, or one whose row
// insert failed after submission, is completed by re-dispatching only the
// missing slots. A submission failure for one type records that clip job as
// failed and does not block the others; the first error is returned so the
// caller can report it.
func (d *Dispatcher) Dispatch(ctx context.Context, b *models.Bundle, existing []models.ClipJob) error {
	have := make(map[models.ClipType]bool, len(existing))
	for _, j := range existing {
		have[j.ClipType] = true
	}
	var g errgroup.Group
	for _, clipType := range models.ClipTypes {
		if have[clipType] {
			continue
		}
		ct := clipType
		g.Go(func() error { return d.dispatchOne(ctx, b, ct) })
	}
	return g.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, b *models.Bundle, clipType models.ClipType) error {
	p := profiles[clipType]
	resp, err := d.client.Generate(ctx, &clipgen.GenerateRequest{
		Prompt:         p.prompt(b),
		NegativePrompt: p.negativePrompt,
		DurationSec:    p.durationSec,
		AspectRatio:    p.aspectRatio,
		CallbackURL:    d.callbackURL,
	})

	job := &models.ClipJob{BundleID: b.ID, ClipType: clipType}
	if err != nil {
		// Record the slot as failed so readiness can still be decided.
		job.Status = models.ClipStatusFailed
		job.ErrorMessage = "submission failed: " + err.Error()
		if cerr := d.store.Create(ctx, job); cerr != nil {
			d.logger.Error("record failed clip submission",
				zap.String("bundle_id", b.ID.String()),
				zap.String("clip_type", string(clipType)),
				zap.Error(cerr))
		}
		d.logger.Warn("clip submission failed",
			zap.String("bundle_id", b.ID.String()),
			zap.String("clip_type", string(clipType)),
			zap.Error(err))
		return fmt.Errorf("submit %s clip: %w", clipType, err)
	}

	job.RequestID = resp.RequestID
	job.Status = models.ClipStatusPending
	if err := d.store.Create(ctx, job); err != nil {
		return fmt.Errorf("create %s clip job: %w", clipType, err)
	}
	d.logger.Info("clip submitted",
		zap.String("bundle_id", b.ID.String()),
		zap.String("clip_type", string(clipType)),
		zap.String("request_id", resp.RequestID))
	return nil
}
