package broker

// EventKind discriminates connection lifecycle events from inbound messages.
type EventKind int

const (
	// EventConnected fires after the client (re)establishes its broker session.
	EventConnected EventKind = iota
	// EventConnectionLost fires when the broker session drops.
	EventConnectionLost
	// EventMessage carries an inbound message from a subscribed topic.
	EventMessage
)

// Event is a single entry on the ordered broker event stream.
type Event struct {
	Kind    EventKind
	Err     error  // set for EventConnectionLost
	Topic   string // set for EventMessage
	Payload []byte // set for EventMessage
}
