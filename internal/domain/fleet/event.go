package fleet

import (
	"errors"
	"fmt"

	"fleet-tracker/internal/domain/geo"
)

// EventKind enumerates the canonical events the tracker consumes.
type EventKind int

const (
	KindPositionUpdate EventKind = iota + 1
	KindFullSnapshot
	KindRemoved
	KindStatusChanged
)

var ErrEmptyEntityID = errors.New("entity id cannot be empty")

func (k EventKind) String() string {
	switch k {
	case KindPositionUpdate:
		return "position_update"
	case KindFullSnapshot:
		return "full_snapshot"
	case KindRemoved:
		return "removed"
	case KindStatusChanged:
		return "status_changed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// OrderClock names the counter an update's Seq is drawn from. Keys from
// different clocks are not comparable.
type OrderClock uint8

const (
	ClockSeq       OrderClock = iota // producer sequence number
	ClockTimestamp                   // sender timestamp, unix nanoseconds
)

// Event is the transport-independent form of an inbound message.
// Only the fields relevant to Kind are set. Source names the feed that
// delivered it and is filled in by the adapter.
type Event struct {
	Kind     EventKind
	ID       EntityID
	Position geo.Position
	Seq      uint64
	Clock    OrderClock
	Entries  map[EntityID]geo.Position
	Status   Status
	Reason   string
	Source   string
}

// PositionUpdate reports a single entity's new position. seq 0 means unsequenced.
func PositionUpdate(id EntityID, pos geo.Position, seq uint64) Event {
	return Event{Kind: KindPositionUpdate, ID: id, Position: pos, Seq: seq}
}

// FullSnapshot is an authoritative replacement of the whole table.
func FullSnapshot(entries map[EntityID]geo.Position) Event {
	if entries == nil {
		entries = map[EntityID]geo.Position{}
	}
	return Event{Kind: KindFullSnapshot, Entries: entries}
}

// Removed asks for an entity to be dropped.
func Removed(id EntityID, reason string) Event {
	return Event{Kind: KindRemoved, ID: id, Reason: reason}
}

// StatusChanged announces a sender-side status for an entity.
func StatusChanged(id EntityID, status Status) Event {
	return Event{Kind: KindStatusChanged, ID: id, Status: status}
}

// Validate checks the fields required by the event kind.
func (e Event) Validate() error {
	switch e.Kind {
	case KindPositionUpdate:
		if e.ID == "" {
			return ErrEmptyEntityID
		}
		return e.Position.Validate()
	case KindFullSnapshot:
		for id, pos := range e.Entries {
			if id == "" {
				return ErrEmptyEntityID
			}
			if err := pos.Validate(); err != nil {
				return fmt.Errorf("entry %q: %w", id, err)
			}
		}
		return nil
	case KindRemoved:
		if e.ID == "" {
			return ErrEmptyEntityID
		}
		return nil
	case KindStatusChanged:
		if e.ID == "" {
			return ErrEmptyEntityID
		}
		if !e.Status.Announced() {
			return ErrInvalidStatus
		}
		return nil
	default:
		return fmt.Errorf("unknown event kind %d", int(e.Kind))
	}
}
