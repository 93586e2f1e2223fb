package adapter

import (
	"encoding/json"
	"fmt"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/general/contracts"
)

// Decode turns one wire message into a canonical event. The message type is
// the WebSocket frame type or the type derived from the queue routing key.
func Decode(msgType string, payload []byte) (fleet.Event, error) {
	switch msgType {
	case contracts.TypeLocationUpdate:
		var msg contracts.LocationUpdateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fleet.Event{}, fmt.Errorf("decode %s: %w", msgType, err)
		}
		id, err := fleet.ParseEntityID(msg.DriverID)
		if err != nil {
			return fleet.Event{}, err
		}
		pos, err := geo.NewPosition(msg.Location.Lat, msg.Location.Lng)
		if err != nil {
			return fleet.Event{}, err
		}
		ev := fleet.PositionUpdate(id, pos, 0)
		ev.Seq, ev.Clock = orderKey(msg)
		return ev, nil

	case contracts.TypeLocationsSnapshot:
		var msg contracts.LocationSnapshotMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fleet.Event{}, fmt.Errorf("decode %s: %w", msgType, err)
		}
		entries := make(map[fleet.EntityID]geo.Position, len(msg.Locations))
		for raw, pair := range msg.Locations {
			id, err := fleet.ParseEntityID(raw)
			if err != nil {
				return fleet.Event{}, err
			}
			pos, err := geo.PositionFromPair(pair)
			if err != nil {
				return fleet.Event{}, fmt.Errorf("entry %q: %w", raw, err)
			}
			entries[id] = pos
		}
		return fleet.FullSnapshot(entries), nil

	case contracts.TypeDriverDisconnected:
		var msg contracts.DriverRemovedMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fleet.Event{}, fmt.Errorf("decode %s: %w", msgType, err)
		}
		id, err := fleet.ParseEntityID(msg.DriverID)
		if err != nil {
			return fleet.Event{}, err
		}
		return fleet.Removed(id, msg.Reason), nil

	case contracts.TypeDriverStatus:
		var msg contracts.DriverStatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fleet.Event{}, fmt.Errorf("decode %s: %w", msgType, err)
		}
		id, err := fleet.ParseEntityID(msg.DriverID)
		if err != nil {
			return fleet.Event{}, err
		}
		status, err := fleet.ParseStatus(msg.Status)
		if err != nil {
			return fleet.Event{}, err
		}
		return fleet.StatusChanged(id, status), nil

	default:
		return fleet.Event{}, fmt.Errorf("unknown message type %q", msgType)
	}
}

// orderKey prefers the producer's sequence number and falls back to the
// message timestamp on its own clock. 0 means the update carries no
// ordering information.
func orderKey(msg contracts.LocationUpdateMessage) (uint64, fleet.OrderClock) {
	if msg.Seq != 0 {
		return msg.Seq, fleet.ClockSeq
	}
	if msg.Timestamp.IsZero() {
		return 0, fleet.ClockSeq
	}
	if ns := msg.Timestamp.UnixNano(); ns > 0 {
		return uint64(ns), fleet.ClockTimestamp
	}
	return 0, fleet.ClockSeq
}
