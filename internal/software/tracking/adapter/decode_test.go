package adapter

import (
	"testing"
	"time"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/general/contracts"
)

func TestOrderKeyFallsBackToTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if got, clock := orderKey(contracts.LocationUpdateMessage{Seq: 7, Timestamp: ts}); got != 7 || clock != fleet.ClockSeq {
		t.Fatalf("expected explicit seq, got %d on clock %d", got, clock)
	}
	if got, clock := orderKey(contracts.LocationUpdateMessage{Timestamp: ts}); got != uint64(ts.UnixNano()) || clock != fleet.ClockTimestamp {
		t.Fatalf("expected timestamp nanos, got %d on clock %d", got, clock)
	}
	if got, _ := orderKey(contracts.LocationUpdateMessage{}); got != 0 {
		t.Fatalf("expected 0 without seq or timestamp, got %d", got)
	}
}

func TestDecodeSnapshotAcceptsEmpty(t *testing.T) {
	ev, err := Decode(contracts.TypeLocationsSnapshot, []byte(`{"locations":{}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ev.Entries) != 0 {
		t.Fatalf("expected empty snapshot, got %v", ev.Entries)
	}
}

func TestDecodeKeepsOutOfRangeCoordinates(t *testing.T) {
	ev, err := Decode(contracts.TypeLocationUpdate, []byte(`{"driver_id":"a","location":{"lat":123,"lng":-500}}`))
	if err != nil {
		t.Fatalf("expected out-of-range position to be accepted, got %v", err)
	}
	if ev.Position.Lat != 123 || ev.Position.Lon != -500 {
		t.Fatalf("unexpected position %+v", ev.Position)
	}
}
