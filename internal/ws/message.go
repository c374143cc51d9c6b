package ws

import "github.com/rentafacil/rentchat/internal/model"

type EventType string

const (
	EventMessage     EventType = "message"
	EventTyping      EventType = "typing"
	EventRead        EventType = "read"
	EventReadReceipt EventType = "read_receipt"
	EventPresence    EventType = "presence"
	EventError       EventType = "error"
)

// Frame is a decoded inbound frame. Which fields are set depends on Type.
type Frame struct {
	Type           EventType         `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	SenderUserID   string            `json:"sender_user_id,omitempty"`
	Content        string            `json:"content,omitempty"`
	MessageType    model.MessageType `json:"message_type,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	Error          string            `json:"error,omitempty"`

	// IsTyping is false on an explicit stop-typing signal; absent means typing.
	IsTyping *bool `json:"is_typing,omitempty"`
	// UserID and Online are set on presence frames by backends that push them.
	UserID string `json:"user_id,omitempty"`
	Online *bool  `json:"online,omitempty"`
}

// StoppedTyping reports whether a typing frame is an explicit stop signal.
func (f Frame) StoppedTyping() bool {
	return f.IsTyping != nil && !*f.IsTyping
}

// --- Outbound frames ---

// ChatMessageFrame: {type: "message", conversation_id, content, message_type: "text"}.
type ChatMessageFrame struct {
	Type           EventType         `json:"type"`
	ConversationID string            `json:"conversation_id"`
	Content        string            `json:"content"`
	MessageType    model.MessageType `json:"message_type"`
}

// TypingFrame: {type: "typing", conversation_id}.
type TypingFrame struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
}

// ReadFrame: {type: "read", message_id, conversation_id}.
type ReadFrame struct {
	Type           EventType `json:"type"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
}

// PresenceFrame is the heartbeat: {type: "presence"}.
type PresenceFrame struct {
	Type EventType `json:"type"`
}

type typed interface {
	eventType() EventType
}

func (f ChatMessageFrame) eventType() EventType { return f.Type }
func (f TypingFrame) eventType() EventType      { return f.Type }
func (f ReadFrame) eventType() EventType        { return f.Type }
func (f PresenceFrame) eventType() EventType    { return f.Type }

func frameLabel(v any) string {
	if t, ok := v.(typed); ok {
		return string(t.eventType())
	}
	return "other"
}
