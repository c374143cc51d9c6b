package model

import "time"

// User is the dev backend's view of an account; the real backend owns users.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
