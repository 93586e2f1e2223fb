package contracts

import "time"

// LocationUpdateMessage is broadcast for every driver position change.
// Exchange: ExchangeLocationFanout (fanout, no routing key). Also sent as a
// `location_update` WebSocket frame.
type LocationUpdateMessage struct {
	DriverID       string    `json:"driver_id"`
	Seq            uint64    `json:"seq,omitempty"` // per-driver monotonic counter, 0 if the producer has none
	RideID         string    `json:"ride_id,omitempty"`
	Location       GeoPoint  `json:"location"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Envelope
}

// LocationSnapshotMessage is the authoritative list of every connected driver.
// Routing key: RouteFleetSnapshot on ExchangeFleetTopic, or a `locations_snapshot` frame.
//
//	{"locations": {"drv-1": [43.23, 76.88], ...}}
type LocationSnapshotMessage struct {
	Locations map[string][]float64 `json:"locations"`
	Envelope
}

// SnapshotRequestMessage asks the senders' side to publish a LocationSnapshotMessage.
// Routing key: RouteFleetSnapshotReq on ExchangeFleetTopic, or a `request_snapshot` frame.
type SnapshotRequestMessage struct {
	RequestedBy string `json:"requested_by"`
	Reason      string `json:"reason,omitempty"`
	Envelope
}
