// Package inbox keeps the user's conversation list and unread total current.
package inbox

import (
	"context"
	"sync"

	"github.com/rentafacil/rentchat/internal/events"
	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/model"
	"github.com/rentafacil/rentchat/internal/ws"
)

type API interface {
	ListConversations(ctx context.Context) ([]model.ConversationWithDetails, error)
}

type Transport interface {
	OnMessage(fn func(ws.Frame)) func()
}

// Inbox refetches the list when a chat session invalidates it over the bus and
// when any message frame arrives on the shared transport. Refetches are
// coalesced: at most one runs, and one more is queued if requested meanwhile.
type Inbox struct {
	api       API
	transport Transport
	bus       *events.Bus

	mu       sync.Mutex
	list     []model.ConversationWithDetails
	seq      uint64
	applied  uint64
	running  bool
	again    bool
	closed   bool
	unsubs   []func()
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	onChange events.Registry[[]model.ConversationWithDetails]
}

func New(api API, transport Transport, bus *events.Bus) *Inbox {
	return &Inbox{api: api, transport: transport, bus: bus}
}

// Start performs the first fetch synchronously and then follows invalidations.
func (b *Inbox) Start(ctx context.Context) error {
	var unsubs []func()
	if b.bus != nil {
		unsubs = append(unsubs, b.bus.Subscribe(events.TopicConversationsInvalidated, func(events.Notice) { b.Invalidate() }))
	}
	if b.transport != nil {
		unsubs = append(unsubs, b.transport.OnMessage(func(f ws.Frame) {
			if f.Type == ws.EventMessage {
				b.Invalidate()
			}
		}))
	}

	b.mu.Lock()
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.unsubs = append(b.unsubs, unsubs...)
	b.mu.Unlock()

	return b.Refresh(ctx)
}

// Refresh fetches the list now. A result older than one already applied is dropped.
func (b *Inbox) Refresh(ctx context.Context) error {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	list, err := b.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed || seq < b.applied {
		b.mu.Unlock()
		return nil
	}
	b.applied = seq
	b.list = list
	b.mu.Unlock()
	b.onChange.Emit(b.Conversations())
	return nil
}

// Invalidate schedules a background refetch.
func (b *Inbox) Invalidate() {
	b.mu.Lock()
	if b.closed || b.ctx == nil {
		b.mu.Unlock()
		return
	}
	if b.running {
		b.again = true
		b.mu.Unlock()
		return
	}
	b.running = true
	ctx := b.ctx
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for {
			if err := b.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("inbox: refresh: %v", err)
			}
			b.mu.Lock()
			if !b.again || b.closed {
				b.running = false
				b.mu.Unlock()
				return
			}
			b.again = false
			b.mu.Unlock()
		}
	}()
}

// OnChange registers fn for list updates.
func (b *Inbox) OnChange(fn func([]model.ConversationWithDetails)) func() {
	return b.onChange.Add(fn)
}

func (b *Inbox) Conversations() []model.ConversationWithDetails {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ConversationWithDetails(nil), b.list...)
}

// UnreadTotal sums unread counts over all conversations.
func (b *Inbox) UnreadTotal() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.list {
		n += c.UnreadCount
	}
	return n
}

func (b *Inbox) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubs := b.unsubs
	b.unsubs = nil
	cancel := b.cancel
	b.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}
