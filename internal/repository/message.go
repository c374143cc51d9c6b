package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/model"
)

type MessageRepository struct {
	s *Store
}

func NewMessageRepository(s *Store) *MessageRepository {
	return &MessageRepository{s: s}
}

// Create stores a new message from senderID and returns it with id, status and timestamps set.
func (r *MessageRepository) Create(ctx context.Context, conversationID, senderID, content string, mt model.MessageType) (*model.Message, error) {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	if mt == "" {
		mt = model.MessageTypeText
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	now := r.s.now()
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderUserID:   senderID,
		MessageType:    mt,
		Content:        content,
		Status:         model.MessageStatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.s.messages[conversationID] = append(r.s.messages[conversationID], m)
	r.s.byID[m.ID] = m
	c.UpdatedAt = now
	out := *m
	return &out, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

// GetChatMessages returns up to limit messages ending offset messages before the
// newest, oldest first.
func (r *MessageRepository) GetChatMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.s.messages[conversationID]
	end := len(all) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]model.Message, 0, end-start)
	for _, m := range all[start:end] {
		out = append(out, *m)
	}
	return out, nil
}

// MarkAsRead marks every message in the conversation not sent by userID as read
// and returns the ones that changed.
func (r *MessageRepository) MarkAsRead(ctx context.Context, conversationID, userID string) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var changed []model.Message
	for _, m := range r.s.messages[conversationID] {
		if m.SenderUserID == userID || m.Status == model.MessageStatusRead {
			continue
		}
		at := now
		m.Status = model.MessageStatusRead
		m.ReadAt = &at
		m.UpdatedAt = now
		changed = append(changed, *m)
	}
	return changed, nil
}

// MarkOneAsRead marks a single message read on behalf of readerID. It reports
// false if the message was already read or was sent by readerID.
func (r *MessageRepository) MarkOneAsRead(ctx context.Context, id, readerID string) (*model.Message, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.byID[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if m.SenderUserID == readerID || m.Status == model.MessageStatusRead {
		out := *m
		return &out, false, nil
	}
	now := r.s.now()
	m.Status = model.MessageStatusRead
	m.ReadAt = &now
	m.UpdatedAt = now
	out := *m
	return &out, true, nil
}
