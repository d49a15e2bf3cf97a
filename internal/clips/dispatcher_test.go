package clips

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/promoreel/backend/internal/clipgen"
	"github.com/promoreel/backend/internal/models"
)

type fakeClipStore struct {
	mu      sync.Mutex
	jobs    []*models.ClipJob
	byReqID map[string]*models.ClipJob
	failOn  map[models.ClipType]error // clip type -> Create error
}

func newFakeClipStore() *fakeClipStore {
	return &fakeClipStore{byReqID: make(map[string]*models.ClipJob), failOn: make(map[models.ClipType]error)}
}

func (s *fakeClipStore) Create(ctx context.Context, job *models.ClipJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[job.ClipType]; err != nil {
		return err
	}
	job.ID = uuid.New()
	cp := *job
	s.jobs = append(s.jobs, &cp)
	if job.RequestID != "" {
		s.byReqID[job.RequestID] = &cp
	}
	return nil
}

func (s *fakeClipStore) GetByRequestID(ctx context.Context, requestID string) (*models.ClipJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.byReqID[requestID]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeClipStore) UpdateByRequestID(ctx context.Context, requestID string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byReqID[requestID]
	if !ok {
		return errors.New("no such request id")
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.OutputURL != nil {
		j.OutputURL = *p.OutputURL
	}
	if p.ErrorMessage != nil {
		j.ErrorMessage = *p.ErrorMessage
	}
	return nil
}

func (s *fakeClipStore) ListActive(ctx context.Context) ([]models.ClipJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ClipJob
	for _, j := range s.jobs {
		if !models.ClipTerminal(j.Status) {
			out = append(out, *j)
		}
	}
	return out, nil
}

type fakeClipService struct {
	mu      sync.Mutex
	nextID  int
	prompts []string
	failOn  map[string]error // substring of prompt -> error
	results map[string]*clipgen.RequestResult
}

func newFakeClipService() *fakeClipService {
	return &fakeClipService{failOn: make(map[string]error), results: make(map[string]*clipgen.RequestResult)}
}

func (f *fakeClipService) Generate(ctx context.Context, req *clipgen.GenerateRequest) (*clipgen.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	for sub, err := range f.failOn {
		if strings.Contains(req.Prompt, sub) {
			return nil, err
		}
	}
	f.nextID++
	return &clipgen.GenerateResponse{RequestID: uuid.New().String()}, nil
}

func (f *fakeClipService) GetRequest(ctx context.Context, requestID string) (*clipgen.RequestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[requestID]; ok {
		return r, nil
	}
	return &clipgen.RequestResult{Status: "queued"}, nil
}

func testBundle() *models.Bundle {
	return &models.Bundle{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		SourceURL:   "https://example.com",
		Style:       "modern",
		MusicMood:   "upbeat",
		DurationSec: 30,
		Status:      models.BundleStatusComposing,
		SiteContent: &models.SiteContent{
			Headline: "Example",
			Colors:   []string{"#112233"},
		},
	}
}

func TestDispatchCreatesAllThreeSlots(t *testing.T) {
	store := newFakeClipStore()
	svc := newFakeClipService()
	d := NewDispatcher(store, svc, "http://cb/webhooks/clip-ready", nil)

	if err := d.Dispatch(context.Background(), testBundle(), nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(store.jobs) != 3 {
		t.Fatalf("created %d jobs, want 3", len(store.jobs))
	}
	var types []string
	for _, j := range store.jobs {
		types = append(types, string(j.ClipType))
		if j.Status != models.ClipStatusPending {
			t.Errorf("%s status = %s, want pending", j.ClipType, j.Status)
		}
		if j.RequestID == "" {
			t.Errorf("%s has no request id", j.ClipType)
		}
	}
	sort.Strings(types)
	want := []string{string(models.ClipTypeBackground), string(models.ClipTypeIntro), string(models.ClipTypeOutro)}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("clip types = %v, want %v", types, want)
		}
	}
}

func TestDispatchOneFailureDoesNotBlockOthers(t *testing.T) {
	store := newFakeClipStore()
	svc := newFakeClipService()
	// Only the background profile mentions the mood, so this fails exactly one slot.
	svc.failOn["mood"] = errors.New("generation service unavailable")
	d := NewDispatcher(store, svc, "http://cb/webhooks/clip-ready", nil)

	err := d.Dispatch(context.Background(), testBundle(), nil)
	if err == nil {
		t.Fatal("expected error from failed submission")
	}
	if len(store.jobs) != 3 {
		t.Fatalf("created %d jobs, want 3 (failed slot still recorded)", len(store.jobs))
	}
	for _, j := range store.jobs {
		if j.ClipType == models.ClipTypeBackground {
			if j.Status != models.ClipStatusFailed {
				t.Errorf("background status = %s, want failed", j.Status)
			}
			if j.ErrorMessage == "" {
				t.Error("failed slot has no error message")
			}
		} else if j.Status != models.ClipStatusPending {
			t.Errorf("%s status = %s, want pending", j.ClipType, j.Status)
		}
	}
}

func TestDispatchFillsOnlyMissingSlots(t *testing.T) {
	store := newFakeClipStore()
	svc := newFakeClipService()
	d := NewDispatcher(store, svc, "http://cb/webhooks/clip-ready", nil)

	b := testBundle()
	existing := []models.ClipJob{
		{BundleID: b.ID, ClipType: models.ClipTypeIntro, RequestID: "req-intro", Status: models.ClipStatusPending},
		{BundleID: b.ID, ClipType: models.ClipTypeOutro, Status: models.ClipStatusFailed},
	}
	if err := d.Dispatch(context.Background(), b, existing); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(svc.prompts) != 1 {
		t.Fatalf("submitted %d requests, want 1 (background only)", len(svc.prompts))
	}
	if len(store.jobs) != 1 || store.jobs[0].ClipType != models.ClipTypeBackground {
		t.Fatalf("created jobs = %+v, want one background row", store.jobs)
	}
}

func TestReadyRequiresAllThreeTerminal(t *testing.T) {
	b := uuid.New()
	jobs := []models.ClipJob{
		{BundleID: b, ClipType: models.ClipTypeIntro, Status: models.ClipStatusCompleted},
		{BundleID: b, ClipType: models.ClipTypeBackground, Status: models.ClipStatusProcessing},
		{BundleID: b, ClipType: models.ClipTypeOutro, Status: models.ClipStatusFailed},
	}
	if Ready(jobs) {
		t.Fatal("ready with an in-flight job")
	}
	jobs[1].Status = models.ClipStatusFailed
	if !Ready(jobs) {
		t.Fatal("not ready with three terminal jobs")
	}
	if Ready(jobs[:2]) {
		t.Fatal("ready with only two slots")
	}
}

func TestAssetsMapsFailedSlotsToNil(t *testing.T) {
	b := uuid.New()
	jobs := []models.ClipJob{
		{BundleID: b, ClipType: models.ClipTypeIntro, Status: models.ClipStatusCompleted, OutputURL: "https://cdn/intro.mp4"},
		{BundleID: b, ClipType: models.ClipTypeBackground, Status: models.ClipStatusFailed},
		{BundleID: b, ClipType: models.ClipTypeOutro, Status: models.ClipStatusCompleted, OutputURL: "https://cdn/outro.mp4"},
	}
	assets := Assets(jobs)
	if got := assets[models.ClipTypeIntro]; got == nil || *got != "https://cdn/intro.mp4" {
		t.Fatalf("intro asset = %v", got)
	}
	if assets[models.ClipTypeBackground] != nil {
		t.Fatal("failed slot should map to nil")
	}
	if got := assets[models.ClipTypeOutro]; got == nil || *got != "https://cdn/outro.mp4" {
		t.Fatalf("outro asset = %v", got)
	}
}
