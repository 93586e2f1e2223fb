package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/ports"
)

// ErrStaleUpdate is returned when a sequenced update is not newer than the
// last one applied for the same entity.
var ErrStaleUpdate = errors.New("update is older than the last applied one")

type entry struct {
	path      *geo.PathHistory
	seq       uint64
	clock     fleet.OrderClock
	owner     string
	updatedAt time.Time
}

// Update is one position report. Seq is read on Clock; 0 means unordered.
// Source is the feed that reported it and becomes the entity's owner.
type Update struct {
	ID       fleet.EntityID
	Position geo.Position
	Seq      uint64
	Clock    fleet.OrderClock
	Source   string
}

// Store is the single mutation point for tracked entity state.
//
// Mutations take dispatch first and mu second. The change is published after mu
// is released but before dispatch is, so listeners observe changes in commit
// order and may read the store from their callback. A listener must not mutate
// the store synchronously: that would deadlock on dispatch.
type Store struct {
	mu       sync.RWMutex
	dispatch sync.Mutex
	entries  map[fleet.EntityID]*entry
	version  uint64
	capacity int
	pub      ports.ChangePublisher
	now      func() time.Time
}

// New returns an empty store. pathCapacity bounds each entity's trail
// (non-positive means geo.DefaultPathCapacity). pub may be nil.
func New(pathCapacity int, pub ports.ChangePublisher) *Store {
	if pathCapacity <= 0 {
		pathCapacity = geo.DefaultPathCapacity
	}
	return &Store{
		entries:  make(map[fleet.EntityID]*entry),
		capacity: pathCapacity,
		pub:      pub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ApplyUpdate records pos as the current position of id and appends it to the
// trail, creating the entity if it is unknown.
func (s *Store) ApplyUpdate(id fleet.EntityID, pos geo.Position) fleet.EntityRecord {
	rec, _ := s.ApplySequencedUpdate(id, pos, 0)
	return rec
}

// ApplySequencedUpdate is ApplyUpdate with ordering: a non-zero seq that is not
// greater than the entity's last applied seq is rejected with ErrStaleUpdate
// and nothing is published. seq 0 is always applied.
func (s *Store) ApplySequencedUpdate(id fleet.EntityID, pos geo.Position, seq uint64) (fleet.EntityRecord, error) {
	return s.Apply(Update{ID: id, Position: pos, Seq: seq, Clock: fleet.ClockSeq})
}

// Apply records u.Position as the current position of u.ID. An update whose
// key is on the same clock as the last applied one and not greater than it is
// rejected with ErrStaleUpdate. Keys on different clocks are not compared.
func (s *Store) Apply(u Update) (fleet.EntityRecord, error) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	e, ok := s.entries[u.ID]
	if ok && e.stale(u) {
		s.mu.Unlock()
		return fleet.EntityRecord{}, ErrStaleUpdate
	}
	now := s.now()
	if !ok {
		e = &entry{path: geo.NewPathHistory(s.capacity)}
		e.path.Reset(u.Position)
		s.entries[u.ID] = e
	} else {
		e.path.Append(u.Position)
	}
	e.order(u)
	e.owner = u.Source
	e.updatedAt = now
	s.version++
	rec := e.record(u.ID)
	change := fleet.Change{Version: s.version, Kind: fleet.ChangeUpdated, ID: u.ID, Record: &rec, At: now}
	s.mu.Unlock()

	s.publish(change)
	return rec, nil
}

// ApplySnapshot replaces the whole table with entries. Every listed entity gets
// a fresh trail holding only its snapshot position; unlisted entities are dropped.
// Sequence numbers of entities that survive the snapshot are kept.
func (s *Store) ApplySnapshot(entries map[fleet.EntityID]geo.Position) {
	s.ApplySourceSnapshot("", entries)
}

// ApplySourceSnapshot is ApplySnapshot scoped to what source knows about.
// Listed entities become owned by source. Unlisted entities are dropped when
// source or no feed owns them; those last written by another feed are kept
// untouched. An empty source replaces the whole table.
func (s *Store) ApplySourceSnapshot(source string, entries map[fleet.EntityID]geo.Position) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	now := s.now()
	next := make(map[fleet.EntityID]*entry, len(entries))
	if source != "" {
		for id, e := range s.entries {
			if _, listed := entries[id]; !listed && e.owner != "" && e.owner != source {
				next[id] = e
			}
		}
	}
	for id, pos := range entries {
		e := &entry{path: geo.NewPathHistory(s.capacity), owner: source, updatedAt: now}
		e.path.Reset(pos)
		if prev, ok := s.entries[id]; ok {
			e.seq, e.clock = prev.seq, prev.clock
		}
		next[id] = e
	}
	table := make(fleet.EntityTable, len(next))
	for id, e := range next {
		table[id] = e.record(id)
	}
	s.entries = next
	s.version++
	change := fleet.Change{Version: s.version, Kind: fleet.ChangeReplaced, Table: table, At: now}
	s.mu.Unlock()

	s.publish(change)
}

// Remove drops id and reports whether it was present. Removing an unknown id
// is not an error and publishes nothing.
func (s *Store) Remove(id fleet.EntityID) bool {
	return s.RemoveIf(id, nil)
}

// RemoveIf drops id only when cond accepts its current record. The check and
// the removal happen atomically. A nil cond always accepts.
func (s *Store) RemoveIf(id fleet.EntityID, cond func(fleet.EntityRecord) bool) bool {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || (cond != nil && !cond(e.record(id))) {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, id)
	s.version++
	change := fleet.Change{Version: s.version, Kind: fleet.ChangeRemoved, ID: id, At: s.now()}
	s.mu.Unlock()

	s.publish(change)
	return true
}

// CurrentSnapshot returns a deep copy of the table.
func (s *Store) CurrentSnapshot() fleet.EntityTable {
	table, _ := s.SnapshotWithVersion()
	return table
}

// SnapshotWithVersion returns a deep copy of the table and the version it reflects.
func (s *Store) SnapshotWithVersion() (fleet.EntityTable, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := make(fleet.EntityTable, len(s.entries))
	for id, e := range s.entries {
		table[id] = e.record(id)
	}
	return table, s.version
}

// FilterByStatus returns the records accepted by pred, sorted by id.
// The store keeps no status; pred supplies it (see presence.Tracker.StatusIs).
func (s *Store) FilterByStatus(pred func(fleet.EntityRecord) bool) []fleet.EntityRecord {
	out, _ := s.FilterWithVersion(pred)
	return out
}

// FilterWithVersion is FilterByStatus together with the version the result
// reflects, read under one lock.
func (s *Store) FilterWithVersion(pred func(fleet.EntityRecord) bool) ([]fleet.EntityRecord, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fleet.EntityRecord, 0, len(s.entries))
	for id, e := range s.entries {
		rec := e.record(id)
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, s.version
}

// CountWithVersion counts the records accepted by pred (nil accepts all)
// and returns the version the count reflects.
func (s *Store) CountWithVersion(pred func(fleet.EntityRecord) bool) (int, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pred == nil {
		return len(s.entries), s.version
	}
	n := 0
	for id, e := range s.entries {
		if pred(e.record(id)) {
			n++
		}
	}
	return n, s.version
}

// Get returns a copy of one record.
func (s *Store) Get(id fleet.EntityID) (fleet.EntityRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return fleet.EntityRecord{}, false
	}
	return e.record(id), true
}

// Len returns the number of tracked entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Version returns the number of mutations applied so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) publish(change fleet.Change) {
	if s.pub != nil {
		s.pub.Publish(change)
	}
}

// stale reports whether u is not newer than the last ordered update.
func (e *entry) stale(u Update) bool {
	return u.Seq != 0 && e.seq != 0 && u.Clock == e.clock && u.Seq <= e.seq
}

// order keeps u's key. Once an entity has a producer sequence a timestamp
// key does not replace it.
func (e *entry) order(u Update) {
	if u.Seq == 0 {
		return
	}
	if e.seq != 0 && e.clock == fleet.ClockSeq && u.Clock == fleet.ClockTimestamp {
		return
	}
	e.seq, e.clock = u.Seq, u.Clock
}

func (e *entry) record(id fleet.EntityID) fleet.EntityRecord {
	current, _ := e.path.Last()
	return fleet.EntityRecord{
		ID:        id,
		Current:   current,
		Path:      e.path.Positions(),
		Seq:       e.seq,
		UpdatedAt: e.updatedAt,
	}
}
