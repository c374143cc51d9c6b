// Package chat materializes one conversation for display: its metadata, its
// message list and who is typing, kept current from REST fetches and the
// shared socket's frames.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rentafacil/rentchat/internal/events"
	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/metrics"
	"github.com/rentafacil/rentchat/internal/model"
	"github.com/rentafacil/rentchat/internal/notify"
	"github.com/rentafacil/rentchat/internal/ws"
)

const (
	DefaultHistoryLimit = 50
	DefaultTypingTTL    = 3 * time.Second

	// echoWindow bounds how long an id-less echo of a REST-confirmed send is expected.
	echoWindow = 10 * time.Second
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("chat: session closed")

// API is the REST surface a session needs. *api.Client satisfies it.
type API interface {
	GetConversation(ctx context.Context, id string) (*model.ConversationWithDetails, error)
	GetMessages(ctx context.Context, id string, limit int) ([]model.Message, error)
	CreateMessage(ctx context.Context, id string, req model.CreateMessageRequest) (*model.Message, error)
	MarkAsRead(ctx context.Context, id string) error
}

// Transport is the socket surface a session needs. *ws.Session satisfies it.
type Transport interface {
	IsConnected() bool
	SendTyping(conversationID string) error
	OnMessage(fn func(ws.Frame)) func()
}

type Deps struct {
	API       API
	Transport Transport
	Notifier  notify.Notifier
	// Bus receives conversations.invalidated after a successful send. Optional.
	Bus *events.Bus
}

type Options struct {
	HistoryLimit int
	TypingTTL    time.Duration
	// SelfUserID, when known, keeps the user's own typing echoes out of the typing set.
	SelfUserID string
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = DefaultTypingTTL
	}
	return o
}

type stopper interface {
	Stop() bool
}

type typingEntry struct {
	timer stopper
	gen   uint64
}

// Session is the live view of one conversation. Frames arrive on the transport's
// read goroutine, REST results on background goroutines; all state is guarded by mu
// and observers are called outside it.
type Session struct {
	id    string
	deps  Deps
	opts  Options
	now   func() time.Time
	after func(time.Duration, func()) stopper

	mu        sync.Mutex
	state     State
	started   bool
	closed    bool
	loadErr   error
	conv      *model.ConversationWithDetails
	messages  []model.Message
	index     map[string]int
	buffered  []ws.Frame
	confirmed []model.Message
	convStale bool
	awaiting  map[string][]time.Time
	typing    map[string]*typingEntry
	typingGen uint64
	lastTemp  string
	unsub     func()
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	observers events.Registry[Event]
}

func New(conversationID string, deps Deps, opts Options) *Session {
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}
	return &Session{
		id:       conversationID,
		deps:     deps,
		opts:     opts.withDefaults(),
		now:      time.Now,
		after:    func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		index:    make(map[string]int),
		awaiting: make(map[string][]time.Time),
		typing:   make(map[string]*typingEntry),
	}
}

func (s *Session) ConversationID() string { return s.id }

// Subscribe registers fn for session events and returns an unsubscribe function.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.observers.Add(fn)
}

func (s *Session) emit(kinds ...EventKind) {
	for _, k := range kinds {
		s.observers.Emit(Event{Kind: k})
	}
}

// Start subscribes to the transport, marks the conversation read and loads
// metadata and history. It returns the load error, if any; the session then
// stays loading until Retry succeeds. Calling Start twice is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	metrics.ChatSessionsActive.Inc()
	unsub := s.deps.Transport.OnMessage(s.handleFrame)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return ErrClosed
	}
	s.unsub = unsub
	s.mu.Unlock()

	_ = s.MarkAsRead(runCtx)
	return s.load(runCtx)
}

// Retry reloads after a failed Start. It is a no-op once the session is ready.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case !s.started:
		s.mu.Unlock()
		return s.Start(ctx)
	case s.state == StateReady:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.load(ctx)
}

func (s *Session) load(ctx context.Context) error {
	defer logger.DeferLogDuration("chat.load", time.Now())()

	s.mu.Lock()
	s.convStale = false
	s.mu.Unlock()

	var (
		conv *model.ConversationWithDetails
		msgs []model.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.deps.API.GetConversation(gctx, s.id)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		conv = c
		return nil
	})
	g.Go(func() error {
		m, err := s.deps.API.GetMessages(gctx, s.id, s.opts.HistoryLimit)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		msgs = m
		return nil
	})
	if err := g.Wait(); err != nil {
		s.mu.Lock()
		closed := s.closed
		s.loadErr = err
		s.mu.Unlock()
		if closed {
			return ErrClosed
		}
		logger.Errorf("chat %s: %v", s.id, err)
		notify.Error(s.deps.Notifier, "Could not load the conversation")
		s.observers.Emit(Event{Kind: EventLoadFailed, Err: err})
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	s.conv = conv
	s.messages = nil
	s.index = make(map[string]int)
	for _, m := range msgs {
		s.mergeLocked(m, false)
	}
	// Sends confirmed while loading may be newer than the fetched window.
	for _, m := range s.confirmed {
		if _, ok := s.index[m.ID]; !ok {
			s.appendLocked(m)
		}
	}
	s.confirmed = nil
	buffered := s.buffered
	s.buffered = nil
	for _, f := range buffered {
		s.applyBufferedLocked(f)
	}
	s.state = StateReady
	s.loadErr = nil
	stale := s.convStale
	s.convStale = false
	s.mu.Unlock()

	logger.Debugf("chat %s: ready, %d messages", s.id, len(msgs))
	s.emit(EventReady, EventConversationChanged, EventMessagesChanged, EventScrollToBottom)
	if stale {
		s.refreshConversation()
	}
	return nil
}

func (s *Session) applyBufferedLocked(f ws.Frame) {
	switch f.Type {
	case ws.EventMessage:
		s.mergeLocked(s.frameMessage(f), false)
	case ws.EventReadReceipt:
		s.markReadLocked(f.MessageID)
	}
}

// handleFrame runs on the transport's read goroutine.
func (s *Session) handleFrame(f ws.Frame) {
	if f.ConversationID != "" && f.ConversationID != s.id {
		return
	}
	switch f.Type {
	case ws.EventError:
		msg := f.Error
		if msg == "" {
			msg = "Chat server error"
		}
		logger.Warnf("chat %s: server error frame: %s", s.id, msg)
		notify.Error(s.deps.Notifier, msg)
		return
	case ws.EventPresence:
		s.refreshConversation()
		return
	}
	if f.ConversationID == "" {
		return
	}

	switch f.Type {
	case ws.EventMessage:
		s.handleMessageFrame(f)
	case ws.EventTyping:
		s.handleTypingFrame(f)
	case ws.EventReadReceipt:
		s.handleReadReceipt(f)
	default:
		logger.Debugf("chat %s: ignoring frame type %q", s.id, f.Type)
	}
}

func (s *Session) handleMessageFrame(f ws.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := false
	if s.state == StateLoading {
		s.buffered = append(s.buffered, f)
	} else {
		changed = s.mergeLocked(s.frameMessage(f), false)
	}
	s.mu.Unlock()

	if changed {
		s.emit(EventMessagesChanged, EventScrollToBottom)
	}
	s.goBackground(func(ctx context.Context) {
		_ = s.MarkAsRead(ctx)
	})
}

func (s *Session) handleReadReceipt(f ws.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := false
	if s.state == StateLoading {
		s.buffered = append(s.buffered, f)
	} else {
		changed = s.markReadLocked(f.MessageID)
	}
	s.mu.Unlock()

	if changed {
		s.emit(EventMessagesChanged)
	}
}

func (s *Session) markReadLocked(messageID string) bool {
	i, ok := s.index[messageID]
	if !ok {
		return false
	}
	at := s.now()
	s.messages[i].Status = model.MessageStatusRead
	s.messages[i].ReadAt = &at
	return true
}

func (s *Session) frameMessage(f ws.Frame) model.Message {
	mt := f.MessageType
	if mt == "" {
		mt = model.MessageTypeText
	}
	now := s.now()
	return model.Message{
		ID:             f.MessageID,
		ConversationID: f.ConversationID,
		SenderUserID:   f.SenderUserID,
		MessageType:    mt,
		Content:        f.Content,
		Status:         model.MessageStatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func fingerprint(m model.Message) string {
	return m.SenderUserID + "\x00" + m.Content
}

// mergeLocked folds m into the list and reports whether the list changed.
// Server ids are the dedup key. An id-less message is either the echo of a
// send already confirmed over REST (dropped) or gets a temp id and stays
// pending until a confirmed copy with the same sender and content replaces it.
func (s *Session) mergeLocked(m model.Message, ownSend bool) bool {
	fp := fingerprint(m)
	if m.ID == "" {
		if s.takeAwaitingLocked(fp) {
			return false
		}
		m.ID = s.tempIDLocked()
		m.Pending = true
		s.appendLocked(m)
		return true
	}
	if _, ok := s.index[m.ID]; ok {
		if !ownSend {
			s.takeAwaitingLocked(fp)
		}
		return false
	}
	for i := range s.messages {
		p := s.messages[i]
		if p.Pending && fingerprint(p) == fp {
			delete(s.index, p.ID)
			m.Pending = false
			s.messages[i] = m
			s.index[m.ID] = i
			return true
		}
	}
	s.appendLocked(m)
	if ownSend {
		s.awaiting[fp] = append(s.awaiting[fp], s.now().Add(echoWindow))
	}
	return true
}

// takeAwaitingLocked consumes one unexpired echo expectation for fp.
func (s *Session) takeAwaitingLocked(fp string) bool {
	now := s.now()
	live := s.awaiting[fp][:0]
	for _, until := range s.awaiting[fp] {
		if until.After(now) {
			live = append(live, until)
		}
	}
	if len(live) == 0 {
		delete(s.awaiting, fp)
		return false
	}
	if len(live) == 1 {
		delete(s.awaiting, fp)
	} else {
		s.awaiting[fp] = live[1:]
	}
	return true
}

func (s *Session) appendLocked(m model.Message) {
	s.index[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
}

func (s *Session) tempIDLocked() string {
	id := model.TempIDPrefix + strconv.FormatInt(s.now().UnixMilli(), 10)
	for n := 1; ; n++ {
		if _, taken := s.index[id]; !taken && id != s.lastTemp {
			break
		}
		id = model.TempIDPrefix + strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + strconv.Itoa(n)
	}
	s.lastTemp = id
	return id
}

// SendMessage creates a message over REST. Blank content is ignored. On
// success the confirmed message is merged and conversation summaries are
// invalidated; on failure the error is toasted and returned.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg, err := s.deps.API.CreateMessage(ctx, s.id, model.CreateMessageRequest{
		ConversationID: s.id,
		Content:        content,
		MessageType:    model.MessageTypeText,
	})
	if err != nil {
		logger.Errorf("chat %s: send message: %v", s.id, err)
		notify.Error(s.deps.Notifier, "Could not send the message")
		return fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	changed := false
	if !s.closed {
		changed = s.mergeLocked(*msg, true)
		if s.state == StateLoading {
			s.confirmed = append(s.confirmed, *msg)
		}
	}
	s.mu.Unlock()

	s.deps.Bus.Publish(events.Notice{Topic: events.TopicConversationsInvalidated, ConversationID: s.id})
	if changed {
		s.emit(EventMessagesChanged)
	}
	s.emit(EventScrollToBottom)
	return nil
}

// HandleTyping signals that the user is typing. It is best effort: nothing is
// sent, queued or retried while the transport is not connected.
func (s *Session) HandleTyping() {
	if !s.deps.Transport.IsConnected() {
		return
	}
	if err := s.deps.Transport.SendTyping(s.id); err != nil {
		logger.Debugf("chat %s: typing signal dropped: %v", s.id, err)
	}
}

// MarkAsRead marks the conversation read for the current user.
func (s *Session) MarkAsRead(ctx context.Context) error {
	if err := s.deps.API.MarkAsRead(ctx, s.id); err != nil {
		if ctx.Err() != nil {
			return err
		}
		logger.Errorf("chat %s: mark as read: %v", s.id, err)
		notify.Error(s.deps.Notifier, "Could not mark messages as read")
		return err
	}
	return nil
}

func (s *Session) refreshConversation() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.state == StateLoading {
		// Refetched once the load completes.
		s.convStale = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.goBackground(func(ctx context.Context) {
		conv, err := s.deps.API.GetConversation(ctx, s.id)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnf("chat %s: refresh conversation: %v", s.id, err)
			}
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.conv = conv
		s.mu.Unlock()
		s.emit(EventConversationChanged)
	})
}

// goBackground runs fn on a goroutine that Close waits for.
func (s *Session) goBackground(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

func (s *Session) handleTypingFrame(f ws.Frame) {
	user := f.SenderUserID
	if user == "" || user == s.opts.SelfUserID {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev, had := s.typing[user]
	if had {
		prev.timer.Stop()
	}
	if f.StoppedTyping() {
		delete(s.typing, user)
		s.mu.Unlock()
		if had {
			s.emit(EventTypingChanged)
		}
		return
	}
	s.typingGen++
	gen := s.typingGen
	s.typing[user] = &typingEntry{
		gen:   gen,
		timer: s.after(s.opts.TypingTTL, func() { s.expireTyping(user, gen) }),
	}
	s.mu.Unlock()
	if !had {
		s.emit(EventTypingChanged)
	}
}

func (s *Session) expireTyping(user string, gen uint64) {
	s.mu.Lock()
	e, ok := s.typing[user]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.typing, user)
	s.mu.Unlock()
	s.emit(EventTypingChanged)
}

// Close detaches from the transport, cancels timers and in-flight requests and
// waits for background work. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.unsub = nil
	for user, e := range s.typing {
		e.timer.Stop()
		delete(s.typing, user)
	}
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if started {
		metrics.ChatSessionsActive.Dec()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last load error; nil once ready.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Messages returns a copy of the message list in arrival order.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...)
}

// Conversation returns a copy of the conversation metadata, or nil while loading.
func (s *Session) Conversation() *model.ConversationWithDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	c := *s.conv
	return &c
}

// TypingUsers returns the ids of users currently typing, sorted.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.typing))
	for u := range s.typing {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (s *Session) IsTyping(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.typing[userID]
	return ok
}
