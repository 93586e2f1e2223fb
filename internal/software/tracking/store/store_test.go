package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
)

type recorder struct {
	mu      sync.Mutex
	changes []fleet.Change
	onEach  func(fleet.Change)
}

func (r *recorder) Publish(c fleet.Change) {
	if r.onEach != nil {
		r.onEach(c)
	}
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) all() []fleet.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fleet.Change(nil), r.changes...)
}

func pos(lat, lon float64) geo.Position { return geo.Position{Lat: lat, Lon: lon} }

func TestApplyUpdateBuildsPathInOrder(t *testing.T) {
	s := New(0, nil)

	var want []geo.Position
	for i := 0; i < 20; i++ {
		p := pos(float64(i), float64(-i))
		want = append(want, p)
		s.ApplyUpdate("a", p)
	}

	rec, ok := s.Get("a")
	if !ok {
		t.Fatalf("expected entity a to exist")
	}
	if len(rec.Path) != len(want) {
		t.Fatalf("expected path length %d, got %d", len(want), len(rec.Path))
	}
	for i := range want {
		if rec.Path[i] != want[i] {
			t.Fatalf("path[%d]: expected %v, got %v", i, want[i], rec.Path[i])
		}
	}
	if rec.Current != want[len(want)-1] {
		t.Fatalf("expected current %v, got %v", want[len(want)-1], rec.Current)
	}
}

func TestApplyUpdateKeepsMostRecentWithinCapacity(t *testing.T) {
	s := New(3, nil)
	for i := 1; i <= 5; i++ {
		s.ApplyUpdate("a", pos(float64(i), 0))
	}

	rec, _ := s.Get("a")
	if len(rec.Path) != 3 || rec.Path[0].Lat != 3 || rec.Path[2].Lat != 5 {
		t.Fatalf("expected trail [3 4 5], got %v", rec.Path)
	}
	if rec.Path[len(rec.Path)-1] != rec.Current {
		t.Fatalf("expected last path point to equal current")
	}
}

func TestApplySnapshotReplacesTable(t *testing.T) {
	s := New(0, nil)
	s.ApplyUpdate("old", pos(9, 9))
	s.ApplyUpdate("a", pos(0, 0))
	s.ApplyUpdate("a", pos(0, 1))

	entries := map[fleet.EntityID]geo.Position{"a": pos(1, 1), "b": pos(2, 2)}
	s.ApplySnapshot(entries)

	table := s.CurrentSnapshot()
	if len(table) != len(entries) {
		t.Fatalf("expected %d entities, got %d", len(entries), len(table))
	}
	for id, p := range entries {
		rec, ok := table[id]
		if !ok {
			t.Fatalf("expected %q in snapshot", id)
		}
		if len(rec.Path) != 1 || rec.Path[0] != p || rec.Current != p {
			t.Fatalf("expected %q path [%v], got %v", id, p, rec.Path)
		}
	}
	if _, ok := table["old"]; ok {
		t.Fatalf("expected entity missing from snapshot to be dropped")
	}
}

func TestRemovePresentAndAbsent(t *testing.T) {
	rec := &recorder{}
	s := New(0, rec)
	s.ApplyUpdate("a", pos(1, 2))
	s.ApplyUpdate("b", pos(3, 4))

	if !s.Remove("a") {
		t.Fatalf("expected remove of present id to report true")
	}
	if _, ok := s.CurrentSnapshot()["a"]; ok {
		t.Fatalf("expected a to be gone")
	}

	before := s.CurrentSnapshot()
	version := s.Version()
	if s.Remove("missing") {
		t.Fatalf("expected remove of absent id to report false")
	}
	after := s.CurrentSnapshot()
	if len(after) != len(before) || s.Version() != version {
		t.Fatalf("expected table and version unchanged after absent remove")
	}
	if got := len(rec.all()); got != 3 {
		t.Fatalf("expected 3 notifications (2 updates, 1 remove), got %d", got)
	}
}

func TestRemoveIfChecksRecordAtomically(t *testing.T) {
	s := New(0, nil)
	s.ApplyUpdate("a", pos(1, 1))

	if s.RemoveIf("a", func(r fleet.EntityRecord) bool { return r.Current.Lat > 5 }) {
		t.Fatalf("expected condition to keep a")
	}
	if !s.RemoveIf("a", func(r fleet.EntityRecord) bool { return r.Current.Lat == 1 }) {
		t.Fatalf("expected condition to remove a")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

func TestSequencedUpdateRejectsStale(t *testing.T) {
	rec := &recorder{}
	s := New(0, rec)

	if _, err := s.ApplySequencedUpdate("a", pos(1, 1), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.ApplySequencedUpdate("a", pos(2, 2), 4); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected ErrStaleUpdate, got %v", err)
	}
	if _, err := s.ApplySequencedUpdate("a", pos(2, 2), 5); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected duplicate seq to be stale, got %v", err)
	}
	got, err := s.ApplySequencedUpdate("a", pos(3, 3), 0)
	if err != nil {
		t.Fatalf("expected unsequenced update to apply, got %v", err)
	}
	if got.Seq != 5 || len(got.Path) != 2 {
		t.Fatalf("expected seq kept at 5 and path of 2, got seq=%d path=%v", got.Seq, got.Path)
	}
	if n := len(rec.all()); n != 2 {
		t.Fatalf("expected stale updates to publish nothing, got %d notifications", n)
	}
}

func TestSnapshotKeepsSeqOfSurvivors(t *testing.T) {
	s := New(0, nil)
	s.ApplySequencedUpdate("a", pos(1, 1), 10)
	s.ApplySnapshot(map[fleet.EntityID]geo.Position{"a": pos(2, 2)})

	if _, err := s.ApplySequencedUpdate("a", pos(0, 0), 9); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected late update to stay stale across snapshot, got %v", err)
	}
}

func TestTimestampKeyDoesNotFreezeSequencedUpdates(t *testing.T) {
	s := New(0, nil)
	const nanos = uint64(1767225600000000000)

	if _, err := s.Apply(Update{ID: "a", Position: pos(1, 0), Seq: nanos, Clock: fleet.ClockTimestamp}); err != nil {
		t.Fatalf("timestamp update: %v", err)
	}
	for _, seq := range []uint64{5, 6} {
		if _, err := s.Apply(Update{ID: "a", Position: pos(float64(seq), 0), Seq: seq, Clock: fleet.ClockSeq}); err != nil {
			t.Fatalf("seq %d rejected after a timestamp-keyed update: %v", seq, err)
		}
	}
	rec, _ := s.Get("a")
	if rec.Current != pos(6, 0) || len(rec.Path) != 3 || rec.Seq != 6 {
		t.Fatalf("expected seq 6 at (6,0) with 3 points, got %+v", rec)
	}

	// the producer sequence stays authoritative
	if _, err := s.Apply(Update{ID: "a", Position: pos(7, 0), Seq: nanos + 1, Clock: fleet.ClockTimestamp}); err != nil {
		t.Fatalf("timestamp update after sequence: %v", err)
	}
	if _, err := s.Apply(Update{ID: "a", Position: pos(0, 0), Seq: 6, Clock: fleet.ClockSeq}); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected seq 6 to stay stale, got %v", err)
	}
}

func TestTimestampKeysAreOrderedAmongThemselves(t *testing.T) {
	s := New(0, nil)
	s.Apply(Update{ID: "a", Position: pos(1, 1), Seq: 2000, Clock: fleet.ClockTimestamp})
	if _, err := s.Apply(Update{ID: "a", Position: pos(0, 0), Seq: 1000, Clock: fleet.ClockTimestamp}); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected older timestamp to be stale, got %v", err)
	}
}

func TestSourceSnapshotKeepsOtherFeeds(t *testing.T) {
	rec := &recorder{}
	s := New(0, rec)
	s.ApplySnapshot(map[fleet.EntityID]geo.Position{"seeded": pos(0, 0)})
	s.Apply(Update{ID: "driver-1", Position: pos(1, 1), Source: "rabbitmq"})
	s.Apply(Update{ID: "bus-1", Position: pos(2, 2), Source: "gtfsrt"})

	s.ApplySourceSnapshot("gtfsrt", map[fleet.EntityID]geo.Position{"bus-9": pos(9, 9)})

	table := s.CurrentSnapshot()
	if _, ok := table["driver-1"]; !ok {
		t.Fatalf("another feed's snapshot dropped driver-1: %v", table)
	}
	if _, ok := table["bus-1"]; ok {
		t.Fatalf("expected bus-1 to be dropped by its own feed's snapshot")
	}
	if _, ok := table["seeded"]; ok {
		t.Fatalf("expected unowned seeded entity to be dropped")
	}
	if len(table) != 2 {
		t.Fatalf("expected driver-1 and bus-9, got %v", table)
	}
	if len(table["driver-1"].Path) != 1 {
		t.Fatalf("expected driver-1 trail untouched, got %v", table["driver-1"].Path)
	}

	changes := rec.all()
	last := changes[len(changes)-1]
	if last.Kind != fleet.ChangeReplaced || len(last.Table) != 2 {
		t.Fatalf("expected replaced change carrying the merged table, got %+v", last)
	}

	// a snapshot listing a foreign entity takes it over
	s.ApplySourceSnapshot("gtfsrt", map[fleet.EntityID]geo.Position{"driver-1": pos(3, 3)})
	s.ApplySourceSnapshot("gtfsrt", map[fleet.EntityID]geo.Position{})
	if s.Len() != 0 {
		t.Fatalf("expected the adopted entity to follow its new feed, got %v", s.CurrentSnapshot())
	}
}

func TestReadersNeverSeeHalfAppliedSnapshot(t *testing.T) {
	s := New(0, nil)
	left := map[fleet.EntityID]geo.Position{"l1": pos(1, 0), "l2": pos(2, 0), "l3": pos(3, 0)}
	right := map[fleet.EntityID]geo.Position{"r1": pos(0, 1), "r2": pos(0, 2), "r3": pos(0, 3), "r4": pos(0, 4)}
	s.ApplySnapshot(left)

	matches := func(table fleet.EntityTable, want map[fleet.EntityID]geo.Position) bool {
		if len(table) != len(want) {
			return false
		}
		for id := range want {
			if _, ok := table[id]; !ok {
				return false
			}
		}
		return true
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				s.ApplySnapshot(right)
			} else {
				s.ApplySnapshot(left)
			}
		}
		close(stop)
	}()

	errs := make(chan string, 1)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				table := s.CurrentSnapshot()
				if !matches(table, left) && !matches(table, right) {
					select {
					case errs <- fmt.Sprintf("%v", table):
					default:
					}
					return
				}
			}
		}()
	}
	wg.Wait()

	select {
	case table := <-errs:
		t.Fatalf("reader saw a mixed table: %s", table)
	default:
	}
}

func TestFilterWithVersionPairsRecordsWithTheirVersion(t *testing.T) {
	s := New(0, nil)
	const writes = 2000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writes; i++ {
			s.ApplyUpdate("a", pos(float64(i), 0))
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		records, version := s.FilterWithVersion(nil)
		if len(records) == 0 {
			continue
		}
		// the i-th update is mutation i+1
		if uint64(records[0].Current.Lat)+1 != version {
			t.Fatalf("record at lat %v paired with version %d", records[0].Current.Lat, version)
		}
		if n, v := s.CountWithVersion(nil); n != 1 || v < version {
			t.Fatalf("unexpected count %d at version %d", n, v)
		}
	}
}

func TestConcurrentDistinctIDsAreIsolated(t *testing.T) {
	s := New(1000, nil)
	const writers = 16
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fleet.EntityID(fmt.Sprintf("veh-%d", w))
			for i := 0; i < perWriter; i++ {
				s.ApplyUpdate(id, pos(float64(w), float64(i)))
			}
		}(w)
	}
	wg.Wait()

	table := s.CurrentSnapshot()
	if len(table) != writers {
		t.Fatalf("expected %d entities, got %d", writers, len(table))
	}
	for w := 0; w < writers; w++ {
		rec := table[fleet.EntityID(fmt.Sprintf("veh-%d", w))]
		if len(rec.Path) != perWriter {
			t.Fatalf("veh-%d: expected %d points, got %d", w, perWriter, len(rec.Path))
		}
		for i, p := range rec.Path {
			if p.Lat != float64(w) || p.Lon != float64(i) {
				t.Fatalf("veh-%d: path[%d] corrupted: %v", w, i, p)
			}
		}
	}
	if s.Version() != writers*perWriter {
		t.Fatalf("expected version %d, got %d", writers*perWriter, s.Version())
	}
}

func TestUpdateUpdateRemoveLeavesEmpty(t *testing.T) {
	s := New(0, nil)
	s.ApplyUpdate("a", pos(10, 20))
	s.ApplyUpdate("a", pos(10, 21))
	s.Remove("a")

	if got := s.CurrentSnapshot(); len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %v", got)
	}
}

func TestSnapshotThenUpdateAddsEntity(t *testing.T) {
	s := New(0, nil)
	s.ApplySnapshot(map[fleet.EntityID]geo.Position{"a": pos(1, 1), "b": pos(2, 2)})
	s.ApplyUpdate("c", pos(3, 3))

	table := s.CurrentSnapshot()
	ids := table.SortedIDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("expected {a,b,c}, got %v", ids)
	}
	if p := table["a"].Path; len(p) != 1 || p[0] != pos(1, 1) {
		t.Fatalf("expected a.path=[[1 1]], got %v", p)
	}
	if p := table["c"].Path; len(p) != 1 || p[0] != pos(3, 3) {
		t.Fatalf("expected c.path=[[3 3]], got %v", p)
	}
}

func TestOneNotificationPerMutation(t *testing.T) {
	rec := &recorder{}
	s := New(0, rec)

	const n = 1000
	for i := 0; i < n; i++ {
		s.ApplyUpdate(fleet.EntityID(fmt.Sprintf("e%d", i%7)), pos(float64(i), 0))
	}

	changes := rec.all()
	if len(changes) != n {
		t.Fatalf("expected %d notifications, got %d", n, len(changes))
	}
	for i, c := range changes {
		if c.Version != uint64(i+1) {
			t.Fatalf("expected version %d at position %d, got %d", i+1, i, c.Version)
		}
	}
}

func TestConcurrentNotificationsFollowCommitOrder(t *testing.T) {
	rec := &recorder{}
	s := New(0, rec)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 125; i++ {
				s.ApplyUpdate(fleet.EntityID(fmt.Sprintf("w%d", w)), pos(0, float64(i)))
			}
		}(w)
	}
	wg.Wait()

	changes := rec.all()
	if len(changes) != 1000 {
		t.Fatalf("expected 1000 notifications, got %d", len(changes))
	}
	for i, c := range changes {
		if c.Version != uint64(i+1) {
			t.Fatalf("expected notifications in commit order, got version %d at %d", c.Version, i)
		}
	}
}

func TestNotificationSeesCommittedState(t *testing.T) {
	var s *Store
	var sawCommitted bool
	rec := &recorder{onEach: func(c fleet.Change) {
		if c.Kind != fleet.ChangeUpdated {
			return
		}
		got, ok := s.Get(c.ID)
		sawCommitted = ok && got.Current == c.Record.Current && s.Version() == c.Version
	}}
	s = New(0, rec)

	s.ApplyUpdate("a", pos(4, 2))
	if !sawCommitted {
		t.Fatalf("expected listener to read the committed mutation")
	}
}

func TestFilterByStatusSortsAndFilters(t *testing.T) {
	s := New(0, nil)
	s.ApplyUpdate("c", pos(3, 0))
	s.ApplyUpdate("a", pos(1, 0))
	s.ApplyUpdate("b", pos(2, 0))

	got := s.FilterByStatus(func(r fleet.EntityRecord) bool { return r.Current.Lat != 2 })
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("expected [a c], got %+v", got)
	}
	if all := s.FilterByStatus(nil); len(all) != 3 {
		t.Fatalf("expected nil predicate to match all, got %d", len(all))
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New(0, nil)
	s.ApplyUpdate("a", pos(1, 1))

	table := s.CurrentSnapshot()
	rec := table["a"]
	rec.Path[0] = pos(99, 99)

	again, _ := s.Get("a")
	if again.Path[0] != pos(1, 1) {
		t.Fatalf("expected stored path to be unaffected by caller mutation")
	}
}
