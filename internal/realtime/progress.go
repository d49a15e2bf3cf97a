package realtime

import (
	"github.com/google/uuid"

	"github.com/promoreel/backend/internal/bundles"
)

// ProgressBroadcaster adapts the hub to the orchestrator's broadcast hook.
// Snapshots are full state, so duplicate or out-of-order delivery across
// instances is harmless.
type ProgressBroadcaster struct {
	hub *Hub
}

// NewProgressBroadcaster wraps a hub.
func NewProgressBroadcaster(hub *Hub) *ProgressBroadcaster {
	return &ProgressBroadcaster{hub: hub}
}

// BroadcastProgress pushes a status snapshot to the bundle's subscribers.
func (p *ProgressBroadcaster) BroadcastProgress(bundleID uuid.UUID, view *bundles.StatusView) {
	p.hub.BroadcastToBundleAndPublish(bundleID, "progress", view)
}
