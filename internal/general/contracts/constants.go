package contracts

// Exchanges
const (
	ExchangeDriverTopic    = "driver_topic"
	ExchangeLocationFanout = "location_fanout"
	ExchangeFleetTopic     = "fleet_topic"
)

// Routing patterns
const (
	RouteDriverStatusPrefix  = "driver.status."  // {driver_id}
	RouteDriverRemovedPrefix = "driver.removed." // {driver_id}
	RouteFleetSnapshot       = "fleet.snapshot"
	RouteFleetSnapshotReq    = "fleet.snapshot.request"
)

// Message types, shared by WebSocket frames and the queue consumer.
const (
	TypeLocationUpdate     = "location_update"
	TypeLocationsSnapshot  = "locations_snapshot"
	TypeDriverDisconnected = "driver_disconnected"
	TypeDriverStatus       = "driver_status"
	TypeRequestSnapshot    = "request_snapshot"

	// outbound to viewers
	TypeSnapshot = "snapshot"
	TypeDelta    = "delta"
	TypeError    = "error"
)
