package fleet

import "time"

// ChangeKind tells consumers how to apply a Change.
type ChangeKind string

const (
	ChangeUpdated  ChangeKind = "updated"
	ChangeReplaced ChangeKind = "replaced"
	ChangeRemoved  ChangeKind = "removed"
)

// Change describes one committed store mutation. Version increases by one per
// mutation, so a consumer that sees a gap knows it missed something.
//
//   - updated:  Record holds the new state of one entity (a delta)
//   - removed:  ID names the dropped entity (a delta)
//   - replaced: Table holds the complete new table (a snapshot)
type Change struct {
	Version uint64        `json:"version"`
	Kind    ChangeKind    `json:"kind"`
	ID      EntityID      `json:"id,omitempty"`
	Record  *EntityRecord `json:"record,omitempty"`
	Table   EntityTable   `json:"table,omitempty"`
	At      time.Time     `json:"at"`
}
