package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/promoreel/backend/config"
)

func TestAnalyzeFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(&config.AnalyzerConfig{BaseURL: srv.URL, TimeoutSec: 2}, nil)
	content := c.Analyze(context.Background(), "https://www.acme.io/pricing")
	if content == nil {
		t.Fatal("nil content")
	}
	if content.Headline != "Acme" {
		t.Fatalf("headline = %q, want site name fallback", content.Headline)
	}
	if content.CallToAction == "" || len(content.Colors) == 0 {
		t.Fatalf("defaults not filled: %+v", content)
	}
}

func TestAnalyzeFillsMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": map[string]interface{}{
				"headline": "Real Headline",
				"features": []string{"A", "B"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(&config.AnalyzerConfig{BaseURL: srv.URL, TimeoutSec: 2}, nil)
	content := c.Analyze(context.Background(), "https://example.com")
	if content.Headline != "Real Headline" {
		t.Fatalf("headline = %q", content.Headline)
	}
	if content.CallToAction == "" {
		t.Fatal("missing call to action not defaulted")
	}
	if content.SiteType != "generic" {
		t.Fatalf("site type = %q, want generic default", content.SiteType)
	}
}

func TestSiteName(t *testing.T) {
	cases := map[string]string{
		"https://www.acme.io/x":  "Acme",
		"https://launch.app":     "Launch",
		"not a url at all":       "not a url at all",
		"https://sub.domain.com": "Sub",
	}
	for in, want := range cases {
		if got := siteName(in); got != want {
			t.Errorf("siteName(%q) = %q, want %q", in, got, want)
		}
	}
}
