package memory

import (
	"context"
	"sync"

	"github.com/rentafacil/rentchat/internal/storage"
)

// Client хранит токен в памяти процесса.
type Client struct {
	mu    sync.RWMutex
	token string
}

func New() *Client {
	return &Client{}
}

// NewWithToken возвращает хранилище с уже сохранённым токеном.
func NewWithToken(token string) *Client {
	return &Client{token: token}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", storage.ErrNoToken
	}
	return c.token, nil
}

func (c *Client) SetToken(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	return nil
}

func (c *Client) DeleteToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return nil
}
