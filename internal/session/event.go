package session

// EventType classifies table changes made by a reconciliation pass.
type EventType int

const (
	EventAdded      EventType = iota // controller first seen
	EventRemoved                     // monitor exited and the session was reaped
	EventRenumbered                  // player slot changed
)

var eventTypeNames = map[EventType]string{
	EventAdded:      "added",
	EventRemoved:    "removed",
	EventRenumbered: "renumbered",
}

func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event carries a session snapshot to observers.
type Event struct {
	Type      EventType
	Session   *Session // snapshot (safe to retain)
	LiveCount int      // sessions in the table after the pass
}
