package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/general/contracts"
	"fleet-tracker/internal/general/logger"
)

func newService(t *testing.T) *TrackingService {
	t.Helper()
	svc := NewTrackingService(logger.Discard(), Config{PathCapacity: 16})
	t.Cleanup(svc.Close)
	return svc
}

func TestUpdateUpdateRemoveThroughAdapter(t *testing.T) {
	svc := newService(t)
	conn := svc.Adapter().Open("test", nil)
	ctx := context.Background()

	conn.Deliver(ctx, contracts.TypeLocationUpdate, []byte(`{"driver_id":"a","location":{"lat":10,"lng":20}}`))
	conn.Deliver(ctx, contracts.TypeLocationUpdate, []byte(`{"driver_id":"a","location":{"lat":10,"lng":21}}`))
	conn.Deliver(ctx, contracts.TypeDriverDisconnected, []byte(`{"driver_id":"a"}`))

	table, _ := svc.Snapshot()
	if len(table) != 0 {
		t.Fatalf("expected empty table, got %v", table)
	}
}

func TestSnapshotThenUpdateThroughAdapter(t *testing.T) {
	svc := newService(t)
	conn := svc.Adapter().Open("test", nil)
	ctx := context.Background()

	conn.Deliver(ctx, contracts.TypeLocationsSnapshot, []byte(`{"locations":{"a":[1,1],"b":[2,2]}}`))
	conn.Deliver(ctx, contracts.TypeLocationUpdate, []byte(`{"driver_id":"c","location":{"lat":3,"lng":3}}`))

	recs := svc.Entities()
	if len(recs) != 3 || recs[0].ID != "a" || recs[1].ID != "b" || recs[2].ID != "c" {
		t.Fatalf("expected {a,b,c}, got %+v", recs)
	}
	if p := recs[0].Path; len(p) != 1 || p[0] != (geo.Position{Lat: 1, Lon: 1}) {
		t.Fatalf("expected a.path=[[1 1]], got %v", p)
	}
	if p := recs[2].Path; len(p) != 1 || p[0] != (geo.Position{Lat: 3, Lon: 3}) {
		t.Fatalf("expected c.path=[[3 3]], got %v", p)
	}
}

func TestStaleSequencedUpdateIsDropped(t *testing.T) {
	svc := newService(t)
	conn := svc.Adapter().Open("test", nil)
	ctx := context.Background()

	conn.Deliver(ctx, contracts.TypeLocationUpdate, []byte(`{"driver_id":"a","seq":2,"location":{"lat":2,"lng":0}}`))
	conn.Deliver(ctx, contracts.TypeLocationUpdate, []byte(`{"driver_id":"a","seq":1,"location":{"lat":1,"lng":0}}`))

	rec, _, err := svc.Entity("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Current.Lat != 2 || len(rec.Path) != 1 {
		t.Fatalf("expected out-of-order update ignored, got %+v", rec)
	}
}

func TestSnapshotFromOneFeedKeepsAnotherFeedsEntities(t *testing.T) {
	svc := newService(t)
	rabbit := svc.Adapter().Open("rabbitmq", nil)
	gtfs := svc.Adapter().Open("gtfsrt", nil)
	ctx := context.Background()

	rabbit.DeliverEvent(ctx, fleet.PositionUpdate("driver-1", geo.Position{Lat: 1}, 0))
	gtfs.DeliverEvent(ctx, fleet.FullSnapshot(map[fleet.EntityID]geo.Position{"bus-9": {Lat: 9}}))
	gtfs.DeliverEvent(ctx, fleet.FullSnapshot(map[fleet.EntityID]geo.Position{"bus-9": {Lat: 10}}))

	got := svc.Entities()
	if len(got) != 2 || got[0].ID != "bus-9" || got[1].ID != "driver-1" {
		t.Fatalf("expected bus-9 and driver-1 after gtfs polls, got %+v", got)
	}

	rabbit.DeliverEvent(ctx, fleet.FullSnapshot(map[fleet.EntityID]geo.Position{}))
	got = svc.Entities()
	if len(got) != 1 || got[0].ID != "bus-9" {
		t.Fatalf("expected rabbitmq snapshot to drop only its own entities, got %+v", got)
	}
}

func TestSequencedUpdatesFollowTimestampedOne(t *testing.T) {
	svc := newService(t)
	conn := svc.Adapter().Open("test", nil)
	ctx := context.Background()

	conn.Deliver(ctx, contracts.TypeLocationUpdate, []byte(`{"driver_id":"a","timestamp":"2026-01-01T00:00:00Z","location":{"lat":1,"lng":0}}`))
	conn.Deliver(ctx, contracts.TypeLocationUpdate, []byte(`{"driver_id":"a","seq":5,"location":{"lat":5,"lng":0}}`))
	conn.Deliver(ctx, contracts.TypeLocationUpdate, []byte(`{"driver_id":"a","seq":6,"location":{"lat":6,"lng":0}}`))

	rec, _, err := svc.Entity("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Current.Lat != 6 || len(rec.Path) != 3 || rec.Seq != 6 {
		t.Fatalf("expected sequenced updates applied, got %+v", rec)
	}
}

func TestStatusEventsDriveFiltering(t *testing.T) {
	svc := newService(t)
	conn := svc.Adapter().Open("test", nil)
	ctx := context.Background()

	conn.DeliverEvent(ctx, fleet.PositionUpdate("a", geo.Position{}, 0))
	conn.DeliverEvent(ctx, fleet.PositionUpdate("b", geo.Position{}, 0))
	conn.DeliverEvent(ctx, fleet.StatusChanged("b", fleet.StatusBusy))

	if got := svc.Entities(fleet.StatusBusy); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected only b busy, got %+v", got)
	}
	if n := svc.Count(); n != 2 {
		t.Fatalf("expected 2 active, got %d", n)
	}
	if n := svc.Count(fleet.StatusActive); n != 1 {
		t.Fatalf("expected 1 ACTIVE, got %d", n)
	}
	if st := svc.StatusOf("b"); st != fleet.StatusBusy {
		t.Fatalf("expected BUSY, got %s", st)
	}
}

func TestEntityNotFound(t *testing.T) {
	svc := newService(t)
	if _, _, err := svc.Entity("ghost"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestSubscribersGetOneChangePerMutation(t *testing.T) {
	svc := newService(t)
	conn := svc.Adapter().Open("test", nil)
	var got []fleet.Change
	unsub := svc.Subscribe(func(c fleet.Change) { got = append(got, c) })
	defer unsub()

	for i := 0; i < 1000; i++ {
		conn.DeliverEvent(context.Background(), fleet.PositionUpdate(fleet.EntityID(fmt.Sprintf("v%d", i%10)), geo.Position{Lat: float64(i)}, 0))
	}
	if len(got) != 1000 {
		t.Fatalf("expected 1000 notifications, got %d", len(got))
	}
	if got[999].Version != svc.Version() {
		t.Fatalf("expected last notification to carry the current version")
	}
}

type fakePositions struct {
	entries map[fleet.EntityID]geo.Position
	err     error
}

func (f fakePositions) LoadCurrent(context.Context) (map[fleet.EntityID]geo.Position, error) {
	return f.entries, f.err
}

func TestSeedAppliesSnapshot(t *testing.T) {
	svc := newService(t)
	svc.Store().ApplyUpdate("gone", geo.Position{})

	err := svc.Seed(context.Background(), fakePositions{entries: map[fleet.EntityID]geo.Position{
		"a": {Lat: 1, Lon: 2},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table, _ := svc.Snapshot()
	if len(table) != 1 || table["a"].Current != (geo.Position{Lat: 1, Lon: 2}) {
		t.Fatalf("expected seeded table {a}, got %v", table)
	}

	boom := errors.New("db down")
	if err := svc.Seed(context.Background(), fakePositions{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

type resyncCounter struct{ n int }

func (r *resyncCounter) RequestSnapshot(context.Context) error {
	r.n++
	return nil
}

func TestResyncAsksEveryFeed(t *testing.T) {
	svc := newService(t)
	a, b := &resyncCounter{}, &resyncCounter{}
	svc.Adapter().Open("a", a)
	svc.Adapter().Open("b", b)

	if err := svc.Resync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected one request per feed, got %d and %d", a.n, b.n)
	}
}
