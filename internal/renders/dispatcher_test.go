package renders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/promoreel/backend/internal/models"
	"github.com/promoreel/backend/internal/renderfarm"
)

type fakeRenderStore struct {
	mu   sync.Mutex
	jobs []*models.RenderJob
}

func (s *fakeRenderStore) Create(ctx context.Context, job *models.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = uuid.New()
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return nil
}

func (s *fakeRenderStore) Update(ctx context.Context, id uuid.UUID, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID != id {
			continue
		}
		if p.Status != nil {
			j.Status = *p.Status
		}
		if p.Progress != nil {
			j.Progress = *p.Progress
		}
		if p.OutputURL != nil {
			j.OutputURL = *p.OutputURL
		}
		if p.ThumbnailURL != nil {
			j.ThumbnailURL = *p.ThumbnailURL
		}
		if p.ErrorMessage != nil {
			j.ErrorMessage = *p.ErrorMessage
		}
		if p.CompletedAt != nil {
			j.CompletedAt = p.CompletedAt
		}
		return nil
	}
	return errors.New("no such job")
}

func (s *fakeRenderStore) ListActive(ctx context.Context) ([]models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RenderJob
	for _, j := range s.jobs {
		if !models.RenderTerminal(j.Status) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeRenderStore) byFormat(format string) *models.RenderJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Format == format {
			return j
		}
	}
	return nil
}

type fakeFarm struct {
	mu       sync.Mutex
	nextID   int
	failOn   map[string]error // format -> Submit error
	statuses map[string]*renderfarm.Status
	submits  []renderfarm.SubmitRequest
}

func newFakeFarm() *fakeFarm {
	return &fakeFarm{failOn: make(map[string]error), statuses: make(map[string]*renderfarm.Status)}
}

func (f *fakeFarm) Submit(ctx context.Context, req *renderfarm.SubmitRequest) (*renderfarm.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, *req)
	if err := f.failOn[req.Format]; err != nil {
		return nil, err
	}
	f.nextID++
	return &renderfarm.SubmitResponse{RenderID: uuid.New().String(), StorageKey: req.StorageKey}, nil
}

func (f *fakeFarm) GetStatus(ctx context.Context, renderID string) (*renderfarm.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statuses[renderID]; ok {
		return st, nil
	}
	return &renderfarm.Status{}, nil
}

func renderBundle() *models.Bundle {
	return &models.Bundle{
		ID:     uuid.New(),
		Status: models.BundleStatusComposing,
		Script: &models.Script{
			Scenes:      []models.Scene{{Kind: "hook", Text: "Hi", DurationSec: 5}},
			DurationSec: 30,
		},
	}
}

func TestDispatchCreatesJobForEveryFormat(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	d := NewDispatcher(store, farm, nil)

	intro := "https://cdn/intro.mp4"
	assets := map[models.ClipType]*string{
		models.ClipTypeIntro:      &intro,
		models.ClipTypeBackground: nil,
		models.ClipTypeOutro:      nil,
	}
	if err := d.Dispatch(context.Background(), renderBundle(), assets, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(store.jobs) != 3 {
		t.Fatalf("created %d jobs, want 3", len(store.jobs))
	}
	for _, format := range models.RenderFormats {
		j := store.byFormat(format)
		if j == nil {
			t.Fatalf("no job for format %s", format)
		}
		if j.Status != models.RenderStatusPending || j.RenderID == "" || j.StorageKey == "" {
			t.Fatalf("%s job = %+v", format, j)
		}
	}
	for _, sub := range farm.submits {
		if sub.ClipAssets.Intro == nil || *sub.ClipAssets.Intro != intro {
			t.Fatalf("intro asset not forwarded: %+v", sub.ClipAssets)
		}
		if sub.ClipAssets.Background != nil {
			t.Fatal("nil background asset should stay nil")
		}
	}
}

func TestDispatchSubmissionFailureRecordsFailedJob(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	farm.failOn[models.RenderFormatPortrait] = errors.New("farm overloaded")
	d := NewDispatcher(store, farm, nil)

	err := d.Dispatch(context.Background(), renderBundle(), map[models.ClipType]*string{}, nil)
	if err == nil {
		t.Fatal("expected error from failed submission")
	}
	if len(store.jobs) != 3 {
		t.Fatalf("created %d jobs, want 3 (failed format still recorded)", len(store.jobs))
	}
	p := store.byFormat(models.RenderFormatPortrait)
	if p.Status != models.RenderStatusFailed || p.ErrorMessage == "" {
		t.Fatalf("portrait job = %+v", p)
	}
	for _, format := range []string{models.RenderFormatLandscape, models.RenderFormatSquare} {
		if j := store.byFormat(format); j.Status != models.RenderStatusPending {
			t.Fatalf("%s status = %s, want pending", format, j.Status)
		}
	}
}

func TestDispatchCompletesPartialJobSet(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	d := NewDispatcher(store, farm, nil)

	// A previous pass submitted all three but only two row inserts landed.
	b := renderBundle()
	existing := []models.RenderJob{
		{BundleID: b.ID, Format: models.RenderFormatLandscape, Status: models.RenderStatusPending},
		{BundleID: b.ID, Format: models.RenderFormatSquare, Status: models.RenderStatusRendering},
	}
	if err := d.Dispatch(context.Background(), b, map[models.ClipType]*string{}, existing); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(farm.submits) != 1 || farm.submits[0].Format != models.RenderFormatPortrait {
		t.Fatalf("submits = %+v, want portrait only", farm.submits)
	}
	if len(store.jobs) != 1 || store.jobs[0].Format != models.RenderFormatPortrait {
		t.Fatalf("created jobs = %+v, want one portrait row", store.jobs)
	}
	if got := len(existing) + len(store.jobs); got != len(models.RenderFormats) {
		t.Fatalf("job set size = %d, want %d", got, len(models.RenderFormats))
	}
}
