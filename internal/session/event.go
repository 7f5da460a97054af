package session

// EventType classifies session lifecycle events.
type EventType int

const (
	EventNew    EventType = iota // hangout first discovered
	EventUpdate                  // content changed, or rediscovered after a reset
	EventEnded                   // reported inactive, or gone after a reset
)

func (t EventType) String() string {
	switch t {
	case EventNew:
		return "new"
	case EventUpdate:
		return "update"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event carries a record snapshot to observers.
type Event struct {
	Type        EventType
	Record      *Record // snapshot (safe to retain)
	ActiveCount int     // list length once the pass completed
}
