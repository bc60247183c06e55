package relay

// Event is one relay event as delivered to subscribers, over the broker and
// over the wire.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Inbound message types.
const (
	MsgDriverRegister  = "driver-register"
	MsgLocationUpdate  = "location-update"
	MsgStartTrip       = "start-trip"
	MsgEndTrip         = "end-trip"
	MsgSubscribeToBus  = "subscribe-to-bus"
	MsgUnsubscribeFrom = "unsubscribe-from-bus"
)

// Outbound event types.
const (
	EvtRegistered     = "registered"
	EvtSubscribed     = "subscribed"
	EvtLocationUpdate = "bus-location-update"
	EvtStatusUpdate   = "bus-status-update"
	EvtTripStarted    = "trip-started"
	EvtTripEnded      = "trip-ended"
)

// AllBuses is the wildcard subscription target used by dashboards.
const AllBuses = "all"

// TopicEvents is the broker topic carrying every relay event. Each relay
// instance consumes it once and fans out to its local connections.
const TopicEvents = "relay.events"

// isGlobal reports whether an event type is announced to every connection
// rather than routed through the subscription registry.
func isGlobal(eventType string) bool {
	switch eventType {
	case EvtStatusUpdate, EvtTripStarted, EvtTripEnded:
		return true
	}
	return false
}
