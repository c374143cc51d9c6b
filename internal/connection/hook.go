// Package connection binds the shared transport session to the lifetime of one
// consumer (a screen, a command) so subscriptions and the socket do not leak.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/storage"
	"github.com/rentafacil/rentchat/internal/ws"
)

// ErrNoToken is returned by Mount when auto-connect finds no stored credential.
var ErrNoToken = errors.New("connection: no auth token, not connecting")

// Transport is the part of ws.Session a hook drives.
type Transport interface {
	Connect(token string)
	Disconnect()
	IsConnected() bool
	SendMessage(conversationID, content string) error
	SendTyping(conversationID string) error
	SendReadReceipt(messageID, conversationID string) error
	OnMessage(fn func(ws.Frame)) func()
	OnConnect(fn func()) func()
	OnDisconnect(fn func(ws.CloseInfo)) func()
	OnError(fn func(error)) func()
}

// Options configures a Hook. The zero value auto-connects and registers no callbacks.
type Options struct {
	// ManualConnect disables connecting on Mount (and disconnecting on Unmount).
	ManualConnect bool
	OnMessage     func(ws.Frame)
	OnConnect     func()
	OnDisconnect  func(ws.CloseInfo)
	OnError       func(error)
}

// Hook is mounted once and unmounted once; Unmount is idempotent.
type Hook struct {
	transport Transport
	tokens    storage.TokenStore
	opts      Options

	mu            sync.Mutex
	mounted       bool
	autoConnected bool
	unsubs        []func()
}

func New(transport Transport, tokens storage.TokenStore, opts Options) *Hook {
	return &Hook{transport: transport, tokens: tokens, opts: opts}
}

// Mount registers the callbacks and, unless ManualConnect is set, connects with
// the stored token. A missing token is logged and returned as ErrNoToken; the
// callbacks stay registered.
func (h *Hook) Mount(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mounted {
		return nil
	}
	h.mounted = true

	if fn := h.opts.OnMessage; fn != nil {
		h.unsubs = append(h.unsubs, h.transport.OnMessage(fn))
	}
	if fn := h.opts.OnConnect; fn != nil {
		h.unsubs = append(h.unsubs, h.transport.OnConnect(fn))
	}
	if fn := h.opts.OnDisconnect; fn != nil {
		h.unsubs = append(h.unsubs, h.transport.OnDisconnect(fn))
	}
	if fn := h.opts.OnError; fn != nil {
		h.unsubs = append(h.unsubs, h.transport.OnError(fn))
	}

	if h.opts.ManualConnect {
		return nil
	}
	token, err := h.tokens.GetToken(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoToken) {
			logger.Errorf("connection: no auth token found, skipping connect")
			return ErrNoToken
		}
		logger.Errorf("connection: read token: %v", err)
		return fmt.Errorf("connection: read token: %w", err)
	}
	h.transport.Connect(token)
	h.autoConnected = true
	return nil
}

// Unmount removes every callback registered by Mount and disconnects if Mount connected.
func (h *Hook) Unmount() {
	h.mu.Lock()
	unsubs := h.unsubs
	h.unsubs = nil
	disconnect := h.autoConnected
	h.autoConnected = false
	h.mounted = false
	h.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if disconnect {
		h.transport.Disconnect()
	}
}

func (h *Hook) IsConnected() bool { return h.transport.IsConnected() }

func (h *Hook) SendMessage(conversationID, content string) error {
	return h.transport.SendMessage(conversationID, content)
}

func (h *Hook) SendTyping(conversationID string) error {
	return h.transport.SendTyping(conversationID)
}

func (h *Hook) SendReadReceipt(messageID, conversationID string) error {
	return h.transport.SendReadReceipt(messageID, conversationID)
}
