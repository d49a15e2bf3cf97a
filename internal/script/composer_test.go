package script

import (
	"math"
	"reflect"
	"testing"

	"github.com/promoreel/backend/internal/models"
)

func sampleContent() *models.SiteContent {
	return &models.SiteContent{
		Headline:     "Ship faster",
		Features:     []string{"One-click deploys", "Preview envs", "Rollbacks", "Audit log"},
		Stats:        []string{"10k teams", "99.99% uptime", "40ms p50"},
		CallToAction: "Start free",
	}
}

func TestFallbackIsDeterministic(t *testing.T) {
	a := Fallback(sampleContent(), "modern", "upbeat", 30)
	b := Fallback(sampleContent(), "modern", "upbeat", 30)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same inputs produced different scripts")
	}
}

func TestFallbackSceneShape(t *testing.T) {
	s := Fallback(sampleContent(), "modern", "upbeat", 30)

	// hook + 3 features (capped) + 2 stats (capped) + cta
	if len(s.Scenes) != 7 {
		t.Fatalf("scene count = %d, want 7", len(s.Scenes))
	}
	if s.Scenes[0].Kind != "hook" || s.Scenes[0].Text != "Ship faster" {
		t.Fatalf("first scene = %+v", s.Scenes[0])
	}
	if last := s.Scenes[len(s.Scenes)-1]; last.Kind != "cta" || last.Text != "Start free" {
		t.Fatalf("last scene = %+v", last)
	}
	if s.Style != "modern" || s.MusicMood != "upbeat" || s.DurationSec != 30 {
		t.Fatalf("script meta = %+v", s)
	}
}

func TestFallbackDurationsSumToTotal(t *testing.T) {
	for _, total := range []int{15, 30, 60} {
		s := Fallback(sampleContent(), "modern", "calm", total)
		var sum float64
		for _, sc := range s.Scenes {
			if sc.DurationSec <= 0 {
				t.Fatalf("scene %q has non-positive duration", sc.Kind)
			}
			sum += sc.DurationSec
		}
		if math.Abs(sum-float64(total)) > 1e-9 {
			t.Fatalf("durations sum to %v, want %d", sum, total)
		}
	}
}

func TestFallbackMinimalContent(t *testing.T) {
	s := Fallback(&models.SiteContent{Headline: "Hi", CallToAction: "Go"}, "minimal", "calm", 0)
	if len(s.Scenes) != 2 {
		t.Fatalf("scene count = %d, want 2 (hook + cta)", len(s.Scenes))
	}
	if s.DurationSec != 30 {
		t.Fatalf("duration = %v, want 30 default", s.DurationSec)
	}
	if sum := s.Scenes[0].DurationSec + s.Scenes[1].DurationSec; math.Abs(sum-30) > 1e-9 {
		t.Fatalf("hook+cta sum to %v, want 30", sum)
	}
}
