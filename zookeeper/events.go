package zookeeper

// EventType identifies what changed about a watched znode.
type EventType int

const (
	EventCreated EventType = iota + 1
	EventDeleted
	EventChanged
	EventChild
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "CREATED"
	case EventDeleted:
		return "DELETED"
	case EventChanged:
		return "CHANGED"
	case EventChild:
		return "CHILD"
	default:
		return "UNKNOWN"
	}
}

// State is the connection state carried by an Event, and also the value
// broadcast to state-change listeners on start/close.
type State int

const (
	StateConnected State = iota + 1
	StateLost
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateLost:
		return "LOST"
	case StateSuspended:
		return "SUSPENDED"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to a one-shot watch callback when the path (or one of
// the paths) it was registered against changes.
type Event struct {
	Type  EventType
	State State
	Path  string
}

// Watch is the callback shape accepted by Get, Exists, and GetChildren.
type Watch func(Event)

// StateListener is invoked with the client's new connection state
// whenever start/close/restart changes it.
type StateListener func(State)
