package events

import "sync"

// Topic names a collaborator notification.
type Topic string

const (
	// TopicConversationsInvalidated fires when conversation summaries (unread counts,
	// last message) are stale, e.g. after a message was sent.
	TopicConversationsInvalidated Topic = "conversations.invalidated"
)

// Notice is delivered to bus subscribers.
type Notice struct {
	Topic          Topic
	ConversationID string
}

// Bus routes notices to the subscribers of their topic.
type Bus struct {
	mu     sync.Mutex
	topics map[Topic]*Registry[Notice]
}

func NewBus() *Bus {
	return &Bus{topics: make(map[Topic]*Registry[Notice])}
}

func (b *Bus) registry(t Topic) *Registry[Notice] {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.topics[t]
	if !ok {
		r = &Registry[Notice]{}
		b.topics[t] = r
	}
	return r
}

// Subscribe registers fn for topic t and returns an unsubscribe function.
func (b *Bus) Subscribe(t Topic, fn func(Notice)) func() {
	return b.registry(t).Add(fn)
}

// Publish delivers n synchronously to the subscribers of n.Topic. A nil bus drops the notice.
func (b *Bus) Publish(n Notice) {
	if b == nil {
		return
	}
	b.registry(n.Topic).Emit(n)
}
