package contracts

import "time"

// WSViewerSnapshot is the payload of a `snapshot` frame sent to map viewers.
type WSViewerSnapshot struct {
	Version  uint64     `json:"version"`
	Entities []WSEntity `json:"entities"`
	SentAt   time.Time  `json:"sent_at"`
}

// WSEntity is one tracked entity as seen by a viewer.
type WSEntity struct {
	ID        string       `json:"id"`
	Current   [2]float64   `json:"current"`
	Path      [][2]float64 `json:"path"`
	Status    string       `json:"status,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// WSViewerDelta is the payload of a `delta` frame: one committed change.
type WSViewerDelta struct {
	Version uint64    `json:"version"`
	Kind    string    `json:"kind"` // updated|removed
	Entity  *WSEntity `json:"entity,omitempty"`
	ID      string    `json:"id,omitempty"`
}
