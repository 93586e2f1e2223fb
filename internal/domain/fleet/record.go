package fleet

import (
	"sort"
	"strings"
	"time"

	"fleet-tracker/internal/domain/geo"
)

// EntityID identifies one tracked entity for the lifetime of one sender connection.
// A vehicle that reconnects shows up under a new EntityID.
type EntityID string

// ParseEntityID trims and validates an id received from the wire.
func ParseEntityID(raw string) (EntityID, error) {
	id := EntityID(strings.TrimSpace(raw))
	if id == "" {
		return "", ErrEmptyEntityID
	}
	return id, nil
}

func (id EntityID) String() string { return string(id) }

// EntityRecord is the reconciled state of one entity.
// Path is never empty for a stored record and its last element equals Current.
type EntityRecord struct {
	ID        EntityID       `json:"id"`
	Current   geo.Position   `json:"current"`
	Path      []geo.Position `json:"path"`
	Seq       uint64         `json:"seq,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// EntityTable maps ids to records. Iteration order is not meaningful.
type EntityTable map[EntityID]EntityRecord

// SortedIDs returns the table keys in ascending order, for stable rendering.
func (t EntityTable) SortedIDs() []EntityID {
	ids := make([]EntityID, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Records returns the records sorted by id.
func (t EntityTable) Records() []EntityRecord {
	out := make([]EntityRecord, 0, len(t))
	for _, id := range t.SortedIDs() {
		out = append(out, t[id])
	}
	return out
}
