package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// TempIDPrefix marks ids assigned locally to messages whose server id is not known yet.
const TempIDPrefix = "temp-"

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderUserID   string        `json:"sender_user_id"`
	MessageType    MessageType   `json:"message_type"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	IsDeleted      bool          `json:"is_deleted"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`

	// Pending is set on locally materialized entries still carrying a temp id.
	Pending bool `json:"-"`
}

// CreateMessageRequest is the body of POST /chat/conversations/{id}/messages.
type CreateMessageRequest struct {
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type"`
}
