package chat

// State is the load state of a chat session.
type State int

const (
	// StateLoading lasts until both the conversation and its history are fetched.
	// A failed fetch keeps the session here; see Session.Err and Session.Retry.
	StateLoading State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "loading"
}

// EventKind says what changed in a session.
type EventKind int

const (
	EventReady EventKind = iota
	EventMessagesChanged
	EventTypingChanged
	EventConversationChanged
	EventScrollToBottom
	EventLoadFailed
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventMessagesChanged:
		return "messages_changed"
	case EventTypingChanged:
		return "typing_changed"
	case EventConversationChanged:
		return "conversation_changed"
	case EventScrollToBottom:
		return "scroll_to_bottom"
	case EventLoadFailed:
		return "load_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to session observers. Err is set for EventLoadFailed.
type Event struct {
	Kind EventKind
	Err  error
}
