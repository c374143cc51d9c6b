package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/rentafacil/rentchat/internal/model"
)

type UserRepository struct {
	s *Store
}

func NewUserRepository(s *Store) *UserRepository {
	return &UserRepository{s: s}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return fmt.Errorf("userRepo.Create: user %s exists", u.ID)
	}
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetOnline updates presence; going offline stamps last_seen_at.
func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	u.LastSeenAt = r.s.now()
	return nil
}

// Touch refreshes last_seen_at on heartbeat.
func (r *UserRepository) Touch(ctx context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastSeenAt = r.s.now()
	return nil
}
