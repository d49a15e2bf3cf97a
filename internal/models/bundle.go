package models

import (
	"time"

	"github.com/google/uuid"
)

// BundleStatus is the bundle lifecycle stage.
const (
	BundleStatusPending    = "pending"
	BundleStatusAnalyzing  = "analyzing"
	BundleStatusComposing  = "composing"
	BundleStatusRendering  = "rendering"
	BundleStatusValidating = "validating" // reserved for quality gates
	BundleStatusReviewing  = "reviewing"  // reserved for quality gates
	BundleStatusCompleted  = "completed"
	BundleStatusFailed     = "failed"
)

// BundleTerminal reports whether a bundle status admits no further transitions.
func BundleTerminal(status string) bool {
	return status == BundleStatusCompleted || status == BundleStatusFailed
}

// SiteContent is the structured result of page analysis.
type SiteContent struct {
	Headline     string   `json:"headline"`
	Features     []string `json:"features,omitempty"`
	Stats        []string `json:"stats,omitempty"`
	CallToAction string   `json:"call_to_action,omitempty"`
	Colors       []string `json:"colors,omitempty"`
	Screenshots  []string `json:"screenshots,omitempty"`
	SiteType     string   `json:"site_type,omitempty"`
}

// Scene is one ordered unit of the generated script.
type Scene struct {
	Kind        string  `json:"kind"` // e.g. "hook", "feature", "stat", "cta"
	Text        string  `json:"text"`
	DurationSec float64 `json:"duration_sec"`
	Visual      string  `json:"visual,omitempty"` // visual direction for the renderer
}

// Script is the ordered scene list produced by the script composer.
type Script struct {
	Scenes      []Scene `json:"scenes"`
	DurationSec float64 `json:"duration_sec"`
	Style       string  `json:"style"`
	MusicMood   string  `json:"music_mood"`
}

// BundleOutputs maps render format to a final output location.
// A nil entry means that format failed to render.
type BundleOutputs struct {
	Landscape *string `json:"landscape"`
	Portrait  *string `json:"portrait"`
	Square    *string `json:"square"`
}

// Get returns the output for a format.
func (o *BundleOutputs) Get(format string) *string {
	switch format {
	case RenderFormatLandscape:
		return o.Landscape
	case RenderFormatPortrait:
		return o.Portrait
	case RenderFormatSquare:
		return o.Square
	}
	return nil
}

// Set stores the output for a format.
func (o *BundleOutputs) Set(format string, url *string) {
	switch format {
	case RenderFormatLandscape:
		o.Landscape = url
	case RenderFormatPortrait:
		o.Portrait = url
	case RenderFormatSquare:
		o.Square = url
	}
}

// Bundle is one end-to-end promo video generation request.
type Bundle struct {
	ID             uuid.UUID      `json:"id"`
	UserID         uuid.UUID      `json:"user_id"`
	SourceURL      string         `json:"source_url"`
	Style          string         `json:"style"`
	MusicMood      string         `json:"music_mood"`
	DurationSec    int            `json:"duration_sec"`
	SiteContent    *SiteContent   `json:"site_content,omitempty"`
	Script         *Script        `json:"script,omitempty"`
	Outputs        *BundleOutputs `json:"outputs,omitempty"`
	Status         string         `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	LastAccessedAt *time.Time     `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
