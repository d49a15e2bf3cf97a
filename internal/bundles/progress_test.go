package bundles

import (
	"math/rand"
	"testing"

	"github.com/promoreel/backend/internal/models"
)

func TestOverallProgressPerStage(t *testing.T) {
	cases := []struct {
		status string
		want   float64
	}{
		{models.BundleStatusPending, 5},
		{models.BundleStatusAnalyzing, 15},
		{models.BundleStatusComposing, 25},
		{models.BundleStatusRendering, 55},
		{models.BundleStatusValidating, 95},
		{models.BundleStatusReviewing, 97},
		{models.BundleStatusCompleted, 100},
		{models.BundleStatusFailed, 100},
	}
	for _, tc := range cases {
		if got := OverallProgress(tc.status, nil, nil); got != tc.want {
			t.Errorf("OverallProgress(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestComposingProgressTracksTerminalClips(t *testing.T) {
	jobs := []models.ClipJob{
		{ClipType: models.ClipTypeIntro, Status: models.ClipStatusCompleted},
		{ClipType: models.ClipTypeBackground, Status: models.ClipStatusProcessing},
		{ClipType: models.ClipTypeOutro, Status: models.ClipStatusFailed},
	}
	got := OverallProgress(models.BundleStatusComposing, jobs, nil)
	want := 25 + 30*(2.0/3.0)
	if got != want {
		t.Fatalf("progress = %v, want %v", got, want)
	}
}

func TestRenderFractionAveragesAndClamps(t *testing.T) {
	jobs := []models.RenderJob{
		{Status: models.RenderStatusCompleted, Progress: 0.7}, // terminal counts as 1.0
		{Status: models.RenderStatusRendering, Progress: 0.5},
		{Status: models.RenderStatusRendering, Progress: 1.7}, // clamped to 1.0
	}
	got := RenderFraction(jobs)
	want := (1.0 + 0.5 + 1.0) / 3.0
	if got != want {
		t.Fatalf("fraction = %v, want %v", got, want)
	}
	if RenderFraction(nil) != 0 {
		t.Fatal("empty set should be 0")
	}
}

// stage orders bundle statuses for the monotonicity walk.
var stageOrder = []string{
	models.BundleStatusPending,
	models.BundleStatusAnalyzing,
	models.BundleStatusComposing,
	models.BundleStatusRendering,
	models.BundleStatusCompleted,
}

func TestOverallProgressNeverDecreases(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		clipJobs := []models.ClipJob{
			{ClipType: models.ClipTypeIntro, Status: models.ClipStatusPending},
			{ClipType: models.ClipTypeBackground, Status: models.ClipStatusPending},
			{ClipType: models.ClipTypeOutro, Status: models.ClipStatusPending},
		}
		renderJobs := []models.RenderJob{
			{Format: models.RenderFormatLandscape, Status: models.RenderStatusPending},
			{Format: models.RenderFormatPortrait, Status: models.RenderStatusPending},
			{Format: models.RenderFormatSquare, Status: models.RenderStatusPending},
		}
		prev := 0.0
		for _, status := range stageOrder {
			// Within a stage, advance job state randomly; progress inputs
			// only ever move forward, so the indicator must too.
			for step := 0; step < 5; step++ {
				switch status {
				case models.BundleStatusComposing:
					i := rng.Intn(len(clipJobs))
					if !models.ClipTerminal(clipJobs[i].Status) && rng.Intn(2) == 0 {
						clipJobs[i].Status = models.ClipStatusCompleted
					}
				case models.BundleStatusRendering:
					i := rng.Intn(len(renderJobs))
					if !models.RenderTerminal(renderJobs[i].Status) {
						renderJobs[i].Progress += rng.Float64() * (1 - renderJobs[i].Progress)
						if rng.Intn(4) == 0 {
							renderJobs[i].Status = models.RenderStatusCompleted
						}
					}
				}
				got := OverallProgress(status, clipJobs, renderJobs)
				if got < prev {
					t.Fatalf("trial %d: progress decreased from %v to %v in %s", trial, prev, got, status)
				}
				prev = got
			}
		}
		if prev != 100 {
			t.Fatalf("trial %d: final progress = %v, want 100", trial, prev)
		}
	}
}

func TestPerFormatFillsMissingSlots(t *testing.T) {
	jobs := []models.RenderJob{
		{Format: models.RenderFormatSquare, Status: models.RenderStatusCompleted, Progress: 0.9, OutputURL: "https://cdn/sq.mp4"},
	}
	out := PerFormat(jobs)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0].Format != models.RenderFormatLandscape || out[0].Status != models.RenderStatusPending {
		t.Fatalf("slot 0 = %+v", out[0])
	}
	if out[2].Format != models.RenderFormatSquare || out[2].Progress != 1.0 {
		t.Fatalf("slot 2 = %+v (completed formats report full progress)", out[2])
	}
}
