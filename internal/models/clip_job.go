package models

import (
	"time"

	"github.com/google/uuid"
)

// ClipType identifies which slot of the video a generated clip fills.
// Exactly one ClipJob per (bundle, type).
type ClipType string

const (
	ClipTypeIntro      ClipType = "intro"
	ClipTypeBackground ClipType = "background"
	ClipTypeOutro      ClipType = "outro"
)

// ClipTypes lists all clip types in dispatch order.
var ClipTypes = []ClipType{ClipTypeIntro, ClipTypeBackground, ClipTypeOutro}

// ClipJob lifecycle.
const (
	ClipStatusPending    = "pending"
	ClipStatusProcessing = "processing"
	ClipStatusCompleted  = "completed"
	ClipStatusFailed     = "failed"
)

// ClipTerminal reports whether a clip job status is terminal.
func ClipTerminal(status string) bool {
	return status == ClipStatusCompleted || status == ClipStatusFailed
}

// ClipJob tracks one asynchronous clip-generation request.
// RequestID is the external correlation key carried by webhook deliveries;
// it is empty when submission itself failed.
type ClipJob struct {
	ID           uuid.UUID `json:"id"`
	BundleID     uuid.UUID `json:"bundle_id"`
	RequestID    string    `json:"request_id,omitempty"`
	ClipType     ClipType  `json:"clip_type"`
	Status       string    `json:"status"`
	OutputURL    string    `json:"output_url,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
