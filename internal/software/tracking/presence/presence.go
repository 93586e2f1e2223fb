package presence

import (
	"context"
	"sync"
	"time"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/general/logger"
)

// EntityStore is the part of the store the tracker reads and prunes.
type EntityStore interface {
	Len() int
	Get(id fleet.EntityID) (fleet.EntityRecord, bool)
	FilterByStatus(pred func(fleet.EntityRecord) bool) []fleet.EntityRecord
	RemoveIf(id fleet.EntityID, cond func(fleet.EntityRecord) bool) bool
}

// DefaultOrphanGrace is how long a status announced for an unknown entity
// waits for the entity's first position.
const DefaultOrphanGrace = time.Minute

// Config holds the liveness knobs. Non-positive StaleAfter disables STALE
// derivation, zero LivenessTimeout disables pruning of silent entities, zero
// PruneInterval disables the sweep altogether and zero CountInterval disables
// the periodic count line.
type Config struct {
	StaleAfter      time.Duration
	LivenessTimeout time.Duration
	PruneInterval   time.Duration
	CountInterval   time.Duration
	OrphanGrace     time.Duration
}

type announced struct {
	status fleet.Status
	at     time.Time
}

// Tracker derives counts and statuses for the entities held by the store.
// Announced statuses come from StatusChanged events; STALE is derived from
// the record's last update time.
type Tracker struct {
	store  EntityStore
	logger *logger.Logger
	cfg    Config
	now    func() time.Time

	mu       sync.RWMutex
	statuses map[fleet.EntityID]announced
}

func New(store EntityStore, log *logger.Logger, cfg Config) *Tracker {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = DefaultOrphanGrace
	}
	return &Tracker{
		store:    store,
		logger:   log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		statuses: make(map[fleet.EntityID]announced),
	}
}

// ActiveCount returns the number of entities currently tracked.
func (t *Tracker) ActiveCount() int {
	return t.store.Len()
}

// SetStatus records a sender-announced status. It may arrive before the
// entity's first position; Prune drops it if no position follows within
// the orphan grace.
func (t *Tracker) SetStatus(id fleet.EntityID, status fleet.Status) {
	now := t.now()
	t.mu.Lock()
	t.statuses[id] = announced{status: status, at: now}
	t.mu.Unlock()
}

// StatusOf resolves the status of a tracked entity.
func (t *Tracker) StatusOf(id fleet.EntityID) (fleet.Status, bool) {
	rec, ok := t.store.Get(id)
	if !ok {
		return "", false
	}
	return t.statusOf(rec), true
}

// StatusIs builds a FilterByStatus predicate matching any of statuses.
func (t *Tracker) StatusIs(statuses ...fleet.Status) func(fleet.EntityRecord) bool {
	want := make(map[fleet.Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	return func(rec fleet.EntityRecord) bool {
		_, ok := want[t.statusOf(rec)]
		return ok
	}
}

// Counts returns the number of tracked entities per resolved status.
func (t *Tracker) Counts() map[fleet.Status]int {
	out := make(map[fleet.Status]int)
	t.store.FilterByStatus(func(rec fleet.EntityRecord) bool {
		out[t.statusOf(rec)]++
		return false
	})
	return out
}

func (t *Tracker) statusOf(rec fleet.EntityRecord) fleet.Status {
	if t.cfg.StaleAfter > 0 && t.now().Sub(rec.UpdatedAt) >= t.cfg.StaleAfter {
		return fleet.StatusStale
	}
	t.mu.RLock()
	a, ok := t.statuses[rec.ID]
	t.mu.RUnlock()
	if !ok {
		return fleet.StatusActive
	}
	return a.status
}

// Observe is the hub listener keeping announced statuses in step with the store.
func (t *Tracker) Observe(change fleet.Change) {
	switch change.Kind {
	case fleet.ChangeRemoved:
		t.mu.Lock()
		delete(t.statuses, change.ID)
		t.mu.Unlock()
	case fleet.ChangeReplaced:
		t.mu.Lock()
		for id := range t.statuses {
			if _, ok := change.Table[id]; !ok {
				delete(t.statuses, id)
			}
		}
		t.mu.Unlock()
	}
}

// Prune removes entities that have been silent for longer than the liveness
// timeout and forgets statuses of entities the store does not hold once they
// are older than the orphan grace. It returns the number of entities removed.
func (t *Tracker) Prune(ctx context.Context) int {
	now := t.now()
	removed := 0
	if t.cfg.LivenessTimeout > 0 {
		idle := func(rec fleet.EntityRecord) bool {
			return now.Sub(rec.UpdatedAt) >= t.cfg.LivenessTimeout
		}
		for _, rec := range t.store.FilterByStatus(idle) {
			// re-checked under the store lock: an update may have landed since
			if t.store.RemoveIf(rec.ID, idle) {
				removed++
				t.logger.Info(ctx, "entity_pruned", "Entity removed after liveness timeout", map[string]any{
					"entity_id": rec.ID,
					"idle_for":  now.Sub(rec.UpdatedAt).String(),
				})
			}
		}
	}

	if n := t.forgetOrphans(now); n > 0 {
		t.logger.Debug(ctx, "orphan_statuses_dropped", "Forgot statuses of untracked entities", map[string]any{
			"dropped": n,
		})
	}
	return removed
}

func (t *Tracker) forgetOrphans(now time.Time) int {
	t.mu.RLock()
	candidates := make([]fleet.EntityID, 0, len(t.statuses))
	for id, a := range t.statuses {
		if now.Sub(a.at) >= t.cfg.OrphanGrace {
			candidates = append(candidates, id)
		}
	}
	t.mu.RUnlock()

	var orphans []fleet.EntityID
	for _, id := range candidates {
		if _, ok := t.store.Get(id); !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, id := range orphans {
		// a fresh announcement may have replaced it meanwhile
		if a, ok := t.statuses[id]; ok && now.Sub(a.at) >= t.cfg.OrphanGrace {
			delete(t.statuses, id)
			n++
		}
	}
	return n
}

// Run drives pruning and the periodic count line until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	var pruneC, countC <-chan time.Time
	if t.cfg.PruneInterval > 0 {
		ticker := time.NewTicker(t.cfg.PruneInterval)
		defer ticker.Stop()
		pruneC = ticker.C
	}
	if t.cfg.CountInterval > 0 {
		ticker := time.NewTicker(t.cfg.CountInterval)
		defer ticker.Stop()
		countC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pruneC:
			t.Prune(ctx)
		case <-countC:
			t.logCount(ctx)
		}
	}
}

func (t *Tracker) logCount(ctx context.Context) {
	byStatus := make(map[string]int)
	for status, n := range t.Counts() {
		byStatus[status.String()] = n
	}
	t.logger.Info(ctx, "active_count", "Tracked entity count", map[string]any{
		"active":    t.ActiveCount(),
		"by_status": byStatus,
	})
}
