package model

import "time"

// ConversationWithDetails is a client/owner conversation about one listing,
// with cached display and presence fields for both parties.
type ConversationWithDetails struct {
	ID             string     `json:"id"`
	ClientUserID   string     `json:"client_user_id"`
	OwnerUserID    string     `json:"owner_user_id"`
	ListingID      string     `json:"listing_id"`
	ListingTitle   string     `json:"listing_title,omitempty"`
	ClientName     string     `json:"client_name,omitempty"`
	OwnerName      string     `json:"owner_name,omitempty"`
	ClientOnline   bool       `json:"client_online"`
	OwnerOnline    bool       `json:"owner_online"`
	ClientLastSeen *time.Time `json:"client_last_seen,omitempty"`
	OwnerLastSeen  *time.Time `json:"owner_last_seen,omitempty"`
	UnreadCount    int        `json:"unread_count"`
	LastMessage    *Message   `json:"last_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsParticipant reports whether userID is one of the two parties.
func (c *ConversationWithDetails) IsParticipant(userID string) bool {
	return userID != "" && (c.ClientUserID == userID || c.OwnerUserID == userID)
}

// Counterpart returns the other party's id, name and presence as seen by userID.
func (c *ConversationWithDetails) Counterpart(userID string) Party {
	if userID == c.OwnerUserID {
		return Party{UserID: c.ClientUserID, Name: c.ClientName, Online: c.ClientOnline, LastSeen: c.ClientLastSeen}
	}
	return Party{UserID: c.OwnerUserID, Name: c.OwnerName, Online: c.OwnerOnline, LastSeen: c.OwnerLastSeen}
}

// Party is one side of a conversation.
type Party struct {
	UserID   string
	Name     string
	Online   bool
	LastSeen *time.Time
}
