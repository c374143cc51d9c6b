package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rentafacil/rentchat/internal/events"
	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/metrics"
)

const (
	DefaultPath                 = "/chat/ws"
	DefaultReconnectBaseDelay   = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 30 * time.Second

	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 64 * 1024
	closeGrace            = time.Second
)

// ErrNotConnected is returned by Send and its wrappers when the socket is not open.
var ErrNotConnected = errors.New("ws: not connected")

// bufPool pools bytes.Buffer for JSON encoding of outbound frames.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Options configures a Session. Zero values fall back to the defaults above.
type Options struct {
	// BaseURL is the REST base URL; its http(s) scheme is mapped to ws(s).
	BaseURL              string
	Path                 string
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	WriteTimeout         time.Duration
	MaxMessageSize       int64
	Dialer               *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultPath
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return o
}

// CloseInfo describes why the socket went away.
type CloseInfo struct {
	Code          int
	Reason        string
	UserInitiated bool
	Err           error
}

type stopper interface {
	Stop() bool
}

// link is one physical socket. The read loop and heartbeat live exactly as long as the link.
type link struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newLink(conn *websocket.Conn) *link {
	return &link{conn: conn, done: make(chan struct{})}
}

func (l *link) close(graceful bool) {
	l.once.Do(func() {
		close(l.done)
		if graceful {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		}
		l.conn.Close()
	})
}

// Session owns at most one live socket per authenticated user, reconnects on
// involuntary close and fans decoded frames out to subscribers.
// Lifecycle: NewSession -> Connect(token) -> [open: readLoop, heartbeat] -> Disconnect.
type Session struct {
	opts  Options
	after func(time.Duration, func()) stopper

	mu             sync.Mutex
	state          State
	token          string
	link           *link
	attempts       int
	manual         bool
	dialSeq        uint64
	reconnectTimer stopper

	onMessage    events.Registry[Frame]
	onConnect    events.Registry[struct{}]
	onDisconnect events.Registry[CloseInfo]
	onError      events.Registry[error]
}

func NewSession(opts Options) *Session {
	return &Session{
		opts: opts.withDefaults(),
		after: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// BuildURL derives the socket URL from the REST base URL: http→ws, https→wss,
// path suffix appended, token passed as a query credential.
func BuildURL(baseURL, path, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the socket is open.
func (s *Session) IsConnected() bool {
	return s.State() == StateOpen
}

// setState must be called with s.mu held.
func (s *Session) setState(to State) bool {
	if !canTransition(s.state, to) {
		logger.Errorf("ws illegal transition %s -> %s", s.state, to)
		return false
	}
	logger.Debugf("ws state %s -> %s", s.state, to)
	s.state = to
	metrics.ConnectionState.Set(float64(to))
	return true
}

// Connect starts connecting with token. It is a no-op while connecting or open
// and returns before the handshake completes; OnConnect fires once the socket is open.
func (s *Session) Connect(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.manual = false
	switch s.state {
	case StateConnecting, StateOpen:
		logger.Debugf("ws connect ignored, state=%s", s.state)
		return
	case StateReconnecting:
		if s.reconnectTimer != nil {
			s.reconnectTimer.Stop()
			s.reconnectTimer = nil
		}
	}
	s.startDialLocked()
}

func (s *Session) startDialLocked() {
	if !s.setState(StateConnecting) {
		return
	}
	s.dialSeq++
	go s.dial(s.dialSeq, s.token)
}

func (s *Session) dial(seq uint64, token string) {
	target, err := BuildURL(s.opts.BaseURL, s.opts.Path, token)
	var conn *websocket.Conn
	if err == nil {
		var resp *http.Response
		conn, resp, err = s.opts.Dialer.Dial(target, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil && resp != nil {
			err = fmt.Errorf("ws dial: %w (status %d)", err, resp.StatusCode)
		} else if err != nil {
			err = fmt.Errorf("ws dial: %w", err)
		}
	}

	s.mu.Lock()
	if seq != s.dialSeq || s.state != StateConnecting {
		// Disconnect or a newer dial won the race.
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		logger.Errorf("%v", err)
		s.onError.Emit(err)
		s.onDisconnect.Emit(CloseInfo{Code: websocket.CloseAbnormalClosure, Err: err})
		return
	}
	l := newLink(conn)
	s.link = l
	s.attempts = 0
	s.setState(StateOpen)
	s.mu.Unlock()

	logger.Info("ws connected")
	go s.readLoop(l)
	go s.heartbeat(l)
	s.onConnect.Emit(struct{}{})
}

// scheduleReconnectLocked moves to Reconnecting with a linear backoff, or gives up
// once the attempt budget is spent. Must be called with s.mu held.
func (s *Session) scheduleReconnectLocked() {
	if s.manual {
		s.setState(StateDisconnected)
		return
	}
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.setState(StateDisconnected)
		metrics.ReconnectExhausted.Inc()
		logger.Errorf("ws giving up after %d reconnection attempts", s.attempts)
		return
	}
	s.attempts++
	delay := s.opts.ReconnectBaseDelay * time.Duration(s.attempts)
	if !s.setState(StateReconnecting) {
		return
	}
	metrics.ReconnectAttempts.Inc()
	logger.Infof("ws reconnect attempt %d/%d in %v", s.attempts, s.opts.MaxReconnectAttempts, delay)
	s.reconnectTimer = s.after(delay, s.reconnect)
}

func (s *Session) reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReconnecting {
		return
	}
	s.reconnectTimer = nil
	s.startDialLocked()
}

// handleClose reacts to the loss of l. Links already detached by Disconnect are ignored.
func (s *Session) handleClose(l *link, info CloseInfo) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.scheduleReconnectLocked()
	s.mu.Unlock()

	l.close(false)
	s.onDisconnect.Emit(info)
}

// Disconnect closes the socket and suppresses automatic reconnection.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.manual = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	l := s.link
	s.link = nil
	s.dialSeq++
	s.setState(StateClosing)
	s.mu.Unlock()

	if l != nil {
		l.close(true)
	}

	s.mu.Lock()
	if s.state == StateClosing {
		s.setState(StateDisconnected)
	}
	s.mu.Unlock()
	logger.Info("ws disconnected by user")
	s.onDisconnect.Emit(CloseInfo{Code: websocket.CloseNormalClosure, UserInitiated: true})
}

func (s *Session) readLoop(l *link) {
	l.conn.SetReadLimit(s.opts.MaxMessageSize)
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			info := CloseInfo{Code: websocket.CloseAbnormalClosure, Err: err}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				info.Code = ce.Code
				info.Reason = ce.Text
			}
			select {
			case <-l.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Errorf("ws read error: %v", err)
					s.onError.Emit(err)
				}
			}
			s.handleClose(l, info)
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			metrics.MalformedFrames.Inc()
			logger.Errorf("ws unmarshal error: %v", err)
			continue
		}
		metrics.FramesReceived.WithLabelValues(inboundLabel(f.Type)).Inc()
		s.onMessage.Emit(f)
	}
}

func inboundLabel(t EventType) string {
	switch t {
	case EventMessage, EventTyping, EventReadReceipt, EventPresence, EventError:
		return string(t)
	default:
		return "unknown"
	}
}

func (s *Session) heartbeat(l *link) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := s.write(l, PresenceFrame{Type: EventPresence}); err != nil {
				logger.Debugf("ws heartbeat: %v", err)
			}
		}
	}
}

// Send JSON-encodes v and writes it to the open socket. It never queues:
// when the socket is not open it returns ErrNotConnected.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	l := s.link
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || l == nil {
		return ErrNotConnected
	}
	return s.write(l, v)
}

func (s *Session) write(l *link, v any) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return fmt.Errorf("ws marshal: %w", err)
	}
	data := buf.Bytes()
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	l.writeMu.Lock()
	err := l.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err == nil {
		err = l.conn.WriteMessage(websocket.TextMessage, data)
	}
	l.writeMu.Unlock()
	if err != nil {
		err = fmt.Errorf("ws write: %w", err)
		s.onError.Emit(err)
		return err
	}
	metrics.FramesSent.WithLabelValues(frameLabel(v)).Inc()
	return nil
}

// SendMessage sends {type: "message", conversation_id, content, message_type: "text"}.
func (s *Session) SendMessage(conversationID, content string) error {
	return s.Send(ChatMessageFrame{Type: EventMessage, ConversationID: conversationID, Content: content, MessageType: "text"})
}

// SendTyping sends {type: "typing", conversation_id}.
func (s *Session) SendTyping(conversationID string) error {
	return s.Send(TypingFrame{Type: EventTyping, ConversationID: conversationID})
}

// SendReadReceipt sends {type: "read", message_id, conversation_id}.
func (s *Session) SendReadReceipt(messageID, conversationID string) error {
	return s.Send(ReadFrame{Type: EventRead, MessageID: messageID, ConversationID: conversationID})
}

// OnMessage registers a handler for decoded inbound frames. Handlers run on the
// read goroutine in arrival order and must not block.
func (s *Session) OnMessage(fn func(Frame)) (unsubscribe func()) {
	return s.onMessage.Add(fn)
}

// OnConnect registers a handler called each time a socket opens.
func (s *Session) OnConnect(fn func()) (unsubscribe func()) {
	return s.onConnect.Add(func(struct{}) { fn() })
}

// OnDisconnect registers a handler called each time a socket closes or a dial fails.
func (s *Session) OnDisconnect(fn func(CloseInfo)) (unsubscribe func()) {
	return s.onDisconnect.Add(fn)
}

// OnError registers a handler for transport errors. Errors never trigger reconnection on their own.
func (s *Session) OnError(fn func(error)) (unsubscribe func()) {
	return s.onError.Add(fn)
}
