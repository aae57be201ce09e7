package session

// EventType classifies connection lifecycle events.
type EventType int

const (
	EventConnected    EventType = iota // transport accepted a connection
	EventRegistered                    // client asserted a user id
	EventDisconnected                  // connection closed or expired
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventRegistered:
		return "registered"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event carries one lifecycle change from the transport to the registry.
type Event struct {
	Type   EventType
	Handle Handle
	UserID string // set for EventRegistered only
}

// Apply folds e into r. Connected events carry no registry change.
func (r *Registry) Apply(e Event) {
	switch e.Type {
	case EventRegistered:
		r.Register(e.UserID, e.Handle)
	case EventDisconnected:
		r.Unregister(e.Handle)
	}
}
