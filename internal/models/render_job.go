package models

import (
	"time"

	"github.com/google/uuid"
)

// RenderFormat is one output aspect of the final video.
// Exactly one RenderJob per (bundle, format), created together.
const (
	RenderFormatLandscape = "landscape"
	RenderFormatPortrait  = "portrait"
	RenderFormatSquare    = "square"
)

// RenderFormats lists all formats in dispatch order.
var RenderFormats = []string{RenderFormatLandscape, RenderFormatPortrait, RenderFormatSquare}

// RenderJob lifecycle.
const (
	RenderStatusPending   = "pending"
	RenderStatusRendering = "rendering"
	RenderStatusCompleted = "completed"
	RenderStatusFailed    = "failed"
)

// RenderTerminal reports whether a render job status is terminal.
func RenderTerminal(status string) bool {
	return status == RenderStatusCompleted || status == RenderStatusFailed
}

// RenderJob tracks one per-format render request against the farm.
// RenderID is the farm's identifier; StorageKey is where the farm writes the
// finished file. Progress is in [0,1] and only moves forward while non-terminal.
type RenderJob struct {
	ID           uuid.UUID  `json:"id"`
	BundleID     uuid.UUID  `json:"bundle_id"`
	RenderID     string     `json:"render_id,omitempty"`
	StorageKey   string     `json:"storage_key,omitempty"`
	Format       string     `json:"format"`
	Status       string     `json:"status"`
	Progress     float64    `json:"progress"`
	OutputURL    string     `json:"output_url,omitempty"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
