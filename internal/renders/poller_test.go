package renders

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/promoreel/backend/internal/models"
	"github.com/promoreel/backend/internal/renderfarm"
)

func seedRenderJob(s *fakeRenderStore, bundleID uuid.UUID, format, renderID string) models.RenderJob {
	j := &models.RenderJob{
		BundleID: bundleID,
		Format:   format,
		RenderID: renderID,
		Status:   models.RenderStatusPending,
	}
	if err := s.Create(context.Background(), j); err != nil {
		panic(err)
	}
	return *j
}

func TestPollProgressMovesJobToRendering(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	job := seedRenderJob(store, uuid.New(), models.RenderFormatLandscape, "r-1")
	farm.statuses["r-1"] = &renderfarm.Status{Progress: 0.4}

	p := NewPoller(store, farm, nil)
	got, err := p.Poll(context.Background(), job)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != models.RenderStatusRendering || got.Progress != 0.4 {
		t.Fatalf("job = %+v", got)
	}
	if stored := store.byFormat(models.RenderFormatLandscape); stored.Status != models.RenderStatusRendering {
		t.Fatalf("stored status = %s", stored.Status)
	}
}

func TestPollDoneCompletesJob(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	job := seedRenderJob(store, uuid.New(), models.RenderFormatPortrait, "r-2")
	farm.statuses["r-2"] = &renderfarm.Status{
		Progress:     0.93,
		Done:         true,
		OutputURL:    "https://cdn/out.mp4",
		ThumbnailURL: "https://cdn/thumb.jpg",
	}

	p := NewPoller(store, farm, nil)
	got, err := p.Poll(context.Background(), job)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != models.RenderStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Progress != 1.0 {
		t.Fatalf("progress = %v, want 1.0 on completion", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	if got.OutputURL != "https://cdn/out.mp4" || got.ThumbnailURL != "https://cdn/thumb.jpg" {
		t.Fatalf("urls = %q %q", got.OutputURL, got.ThumbnailURL)
	}
}

func TestPollFatalErrorFailsJob(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	job := seedRenderJob(store, uuid.New(), models.RenderFormatSquare, "r-3")
	farm.statuses["r-3"] = &renderfarm.Status{FatalError: true, Error: "codec crash"}

	p := NewPoller(store, farm, nil)
	got, err := p.Poll(context.Background(), job)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != models.RenderStatusFailed || got.ErrorMessage != "codec crash" {
		t.Fatalf("job = %+v", got)
	}
}

func TestPollFatalWinsOverDone(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	job := seedRenderJob(store, uuid.New(), models.RenderFormatSquare, "r-4")
	farm.statuses["r-4"] = &renderfarm.Status{FatalError: true, Done: true, Progress: 1.0}

	p := NewPoller(store, farm, nil)
	got, err := p.Poll(context.Background(), job)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != models.RenderStatusFailed {
		t.Fatalf("status = %s, want failed when fatal and done both set", got.Status)
	}
}

func TestPollSkipsTerminalJobs(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	job := seedRenderJob(store, uuid.New(), models.RenderFormatLandscape, "r-5")
	job.Status = models.RenderStatusCompleted
	farm.statuses["r-5"] = &renderfarm.Status{FatalError: true, Error: "late error"}

	p := NewPoller(store, farm, nil)
	got, err := p.Poll(context.Background(), job)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != models.RenderStatusCompleted {
		t.Fatalf("terminal job was repolled: %+v", got)
	}
}

func TestPollAllActiveReturnsBundlesWithTerminalJobs(t *testing.T) {
	store := &fakeRenderStore{}
	farm := newFakeFarm()
	b1 := uuid.New()
	b2 := uuid.New()
	seedRenderJob(store, b1, models.RenderFormatLandscape, "r-a")
	seedRenderJob(store, b1, models.RenderFormatPortrait, "r-b")
	seedRenderJob(store, b2, models.RenderFormatLandscape, "r-c")
	farm.statuses["r-a"] = &renderfarm.Status{Done: true, OutputURL: "https://cdn/a.mp4"}
	farm.statuses["r-b"] = &renderfarm.Status{Progress: 0.2}
	farm.statuses["r-c"] = &renderfarm.Status{Progress: 0.5}

	p := NewPoller(store, farm, nil)
	bundles, err := p.PollAllActive(context.Background())
	if err != nil {
		t.Fatalf("poll all: %v", err)
	}
	if len(bundles) != 1 || bundles[0] != b1 {
		t.Fatalf("bundles = %v, want [%s]", bundles, b1)
	}
}
