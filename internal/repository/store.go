// Package repository holds the dev backend's data in memory. Method names follow
// the SQL repositories the real backend uses so handlers read the same.
package repository

import (
	"errors"
	"sync"
	"time"

	"github.com/rentafacil/rentchat/internal/model"
)

var ErrNotFound = errors.New("not found")

type conversation struct {
	ID           string
	ClientUserID string
	OwnerUserID  string
	ListingID    string
	ListingTitle string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the shared state behind all repositories.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	conversations map[string]*conversation
	messages      map[string][]*model.Message
	byID          map[string]*model.Message
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:         make(map[string]*model.User),
		conversations: make(map[string]*conversation),
		messages:      make(map[string][]*model.Message),
		byID:          make(map[string]*model.Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}
