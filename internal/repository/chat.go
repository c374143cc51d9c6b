package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/model"
)

type ChatRepository struct {
	s *Store
}

func NewChatRepository(s *Store) *ChatRepository {
	return &ChatRepository{s: s}
}

// Create opens a conversation between a client and a listing owner. An empty ID gets a new uuid.
func (r *ChatRepository) Create(ctx context.Context, clientUserID, ownerUserID, listingID, listingTitle, id string) (string, error) {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	if clientUserID == ownerUserID {
		return "", fmt.Errorf("chatRepo.Create: client and owner must differ")
	}
	if id == "" {
		id = uuid.New().String()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, uid := range []string{clientUserID, ownerUserID} {
		if _, ok := r.s.users[uid]; !ok {
			return "", fmt.Errorf("chatRepo.Create: user %s: %w", uid, ErrNotFound)
		}
	}
	if _, ok := r.s.conversations[id]; ok {
		return "", fmt.Errorf("chatRepo.Create: conversation %s exists", id)
	}
	now := r.s.now()
	r.s.conversations[id] = &conversation{
		ID: id, ClientUserID: clientUserID, OwnerUserID: ownerUserID,
		ListingID: listingID, ListingTitle: listingTitle, CreatedAt: now, UpdatedAt: now,
	}
	return id, nil
}

// GetByID returns the conversation with details as seen by viewerID.
func (r *ChatRepository) GetByID(ctx context.Context, id, viewerID string) (*model.ConversationWithDetails, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	d := r.detailsLocked(c, viewerID)
	return &d, nil
}

func (r *ChatRepository) detailsLocked(c *conversation, viewerID string) model.ConversationWithDetails {
	d := model.ConversationWithDetails{
		ID: c.ID, ClientUserID: c.ClientUserID, OwnerUserID: c.OwnerUserID,
		ListingID: c.ListingID, ListingTitle: c.ListingTitle,
		CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
	if u, ok := r.s.users[c.ClientUserID]; ok {
		seen := u.LastSeenAt
		d.ClientName, d.ClientOnline, d.ClientLastSeen = u.Name, u.IsOnline, &seen
	}
	if u, ok := r.s.users[c.OwnerUserID]; ok {
		seen := u.LastSeenAt
		d.OwnerName, d.OwnerOnline, d.OwnerLastSeen = u.Name, u.IsOnline, &seen
	}
	msgs := r.s.messages[c.ID]
	for _, m := range msgs {
		if m.SenderUserID != viewerID && m.Status != model.MessageStatusRead {
			d.UnreadCount++
		}
	}
	if n := len(msgs); n > 0 {
		last := *msgs[n-1]
		d.LastMessage = &last
	}
	return d
}

func (r *ChatRepository) GetMemberIDs(ctx context.Context, id string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return []string{c.ClientUserID, c.OwnerUserID}, nil
}

func (r *ChatRepository) IsMember(ctx context.Context, id, userID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return false, ErrNotFound
	}
	return c.ClientUserID == userID || c.OwnerUserID == userID, nil
}

// GetUserChats lists userID's conversations, most recently active first.
func (r *ChatRepository) GetUserChats(ctx context.Context, userID string) ([]model.ConversationWithDetails, error) {
	defer logger.DeferLogDuration("chat.GetUserChats", time.Now())()
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.ConversationWithDetails{}
	for _, c := range r.s.conversations {
		if c.ClientUserID == userID || c.OwnerUserID == userID {
			out = append(out, r.detailsLocked(c, userID))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
