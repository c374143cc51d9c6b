// Package hub fans dev backend events out to the sockets of conversation participants.
package hub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/model"
	"github.com/rentafacil/rentchat/internal/repository"
	"github.com/rentafacil/rentchat/internal/ws"
)

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	maxConns   int
	chatRepo   *repository.ChatRepository
	msgRepo    *repository.MessageRepository
	userRepo   *repository.UserRepository
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	chatRepo *repository.ChatRepository,
	msgRepo *repository.MessageRepository,
	userRepo *repository.UserRepository,
	maxConns int,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		chatRepo:   chatRepo,
		msgRepo:    msgRepo,
		userRepo:   userRepo,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// No I/O under the mutex.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

// Connections returns the number of registered sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// IsOnline reports whether userID has at least one socket.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("hub connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	first := len(h.clients[c.userID]) == 0
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if first {
		h.setPresence(c.userID, true)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	last := len(clients) == 0
	if last {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	c.Close()
	if last {
		h.setPresence(c.userID, false)
	}
}

func (h *Hub) setPresence(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.userRepo.SetOnline(ctx, userID, online); err != nil {
		logger.Errorf("hub set online=%v user=%s: %v", online, userID, err)
	}
	h.broadcastPresence(ctx, userID, online)
}

// broadcastPresence tells every counterpart of userID, once per shared
// conversation, that userID's presence changed.
func (h *Hub) broadcastPresence(ctx context.Context, userID string, online bool) {
	chats, err := h.chatRepo.GetUserChats(ctx, userID)
	if err != nil {
		logger.Errorf("hub get chats for presence user=%s: %v", userID, err)
		return
	}
	for _, chat := range chats {
		f := ws.Frame{Type: ws.EventPresence, ConversationID: chat.ID, UserID: userID, Online: &online}
		other := chat.Counterpart(userID)
		h.sendToUser(other.UserID, f)
	}
}

// HandleFrame dispatches one inbound frame from c.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, f ws.Frame) {
	switch f.Type {
	case ws.EventMessage:
		h.handleMessage(ctx, c, f)
	case ws.EventTyping:
		h.handleTyping(ctx, c, f)
	case ws.EventRead:
		h.handleRead(ctx, c, f)
	case ws.EventPresence:
		if err := h.userRepo.Touch(ctx, c.userID); err != nil {
			logger.Debugf("hub heartbeat user=%s: %v", c.userID, err)
		}
	default:
		h.sendToClient(c, ws.Frame{Type: ws.EventError, Error: "unknown event type"})
	}
}

// member checks membership and reports failures to c as error frames.
func (h *Hub) member(ctx context.Context, c *Client, conversationID string) bool {
	if conversationID == "" {
		h.sendToClient(c, ws.Frame{Type: ws.EventError, Error: "conversation_id required"})
		return false
	}
	ok, err := h.chatRepo.IsMember(ctx, conversationID, c.userID)
	if err != nil {
		h.sendToClient(c, ws.Frame{Type: ws.EventError, ConversationID: conversationID, Error: "conversation not found"})
		return false
	}
	if !ok {
		h.sendToClient(c, ws.Frame{Type: ws.EventError, ConversationID: conversationID, Error: "not a participant"})
		return false
	}
	return true
}

func (h *Hub) handleMessage(ctx context.Context, c *Client, f ws.Frame) {
	defer logger.DeferLogDuration("hub.handleMessage", time.Now())()
	content := strings.TrimSpace(f.Content)
	if content == "" {
		h.sendToClient(c, ws.Frame{Type: ws.EventError, ConversationID: f.ConversationID, Error: "content required"})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !h.member(ctx, c, f.ConversationID) {
		return
	}

	m, err := h.msgRepo.Create(ctx, f.ConversationID, c.userID, content, f.MessageType)
	if err != nil {
		logger.Errorf("hub save message conversation=%s user=%s: %v", f.ConversationID, c.userID, err)
		h.sendToClient(c, ws.Frame{Type: ws.EventError, ConversationID: f.ConversationID, Error: "failed to save message"})
		return
	}
	h.BroadcastMessage(ctx, m)
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, f ws.Frame) {
	if f.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	memberIDs, err := h.chatRepo.GetMemberIDs(ctx, f.ConversationID)
	if err != nil {
		logger.Errorf("hub get members for typing conversation=%s: %v", f.ConversationID, err)
		return
	}
	out := ws.Frame{Type: ws.EventTyping, ConversationID: f.ConversationID, SenderUserID: c.userID, IsTyping: f.IsTyping}
	for _, uid := range memberIDs {
		if uid != c.userID {
			h.sendToUser(uid, out)
		}
	}
}

func (h *Hub) handleRead(ctx context.Context, c *Client, f ws.Frame) {
	if f.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, changed, err := h.msgRepo.MarkOneAsRead(ctx, f.MessageID, c.userID)
	if err != nil {
		h.sendToClient(c, ws.Frame{Type: ws.EventError, ConversationID: f.ConversationID, Error: "message not found"})
		return
	}
	if ok, _ := h.chatRepo.IsMember(ctx, m.ConversationID, c.userID); !ok || !changed {
		return
	}
	h.NotifyRead(ctx, []model.Message{*m})
}

// BroadcastMessage sends a stored message to every participant, sender included,
// so the sender's other sessions stay in sync.
func (h *Hub) BroadcastMessage(ctx context.Context, m *model.Message) {
	defer logger.DeferLogDuration("hub.BroadcastMessage", time.Now())()
	memberIDs, err := h.chatRepo.GetMemberIDs(ctx, m.ConversationID)
	if err != nil {
		logger.Errorf("hub broadcast to conversation %s: %v", m.ConversationID, err)
		return
	}
	out := ws.Frame{
		Type:           ws.EventMessage,
		ConversationID: m.ConversationID,
		SenderUserID:   m.SenderUserID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		MessageID:      m.ID,
	}
	for _, uid := range memberIDs {
		h.sendToUser(uid, out)
	}
}

// NotifyRead sends a read receipt for each message to its sender.
func (h *Hub) NotifyRead(ctx context.Context, msgs []model.Message) {
	for _, m := range msgs {
		h.sendToUser(m.SenderUserID, ws.Frame{Type: ws.EventReadReceipt, ConversationID: m.ConversationID, MessageID: m.ID})
	}
}

func (h *Hub) sendToUser(userID string, f ws.Frame) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, f)
	}
}

func (h *Hub) sendToClient(c *Client, f ws.Frame) {
	select {
	case c.send <- f:
	case <-c.done:
	default:
		// Send buffer full: drop the slow client.
		logger.Errorf("hub send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
