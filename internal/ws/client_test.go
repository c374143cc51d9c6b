package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testServer struct {
	*httptest.Server
	upgrades atomic.Int32
	reject   atomic.Int32
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{conns: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/ws" || r.URL.Query().Get("token") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if ts.reject.Load() > 0 {
			ts.reject.Add(-1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.upgrades.Add(1)
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server-side connection")
		return nil
	}
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

type delayLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayLog) snapshot() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}

// recordDelays makes reconnect timers fire immediately while keeping the requested delays.
func recordDelays(s *Session) *delayLog {
	log := &delayLog{}
	s.after = func(d time.Duration, f func()) stopper {
		log.mu.Lock()
		log.delays = append(log.delays, d)
		log.mu.Unlock()
		go f()
		return fakeTimer{}
	}
	return log
}

func newTestSession(t *testing.T, baseURL string, opts Options) *Session {
	t.Helper()
	opts.BaseURL = baseURL
	s := NewSession(opts)
	t.Cleanup(s.Disconnect)
	return s
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func connectedSession(t *testing.T, ts *testServer, opts Options) (*Session, *websocket.Conn) {
	t.Helper()
	s := newTestSession(t, ts.URL, opts)
	connected := make(chan struct{}, 4)
	s.OnConnect(func() { connected <- struct{}{} })
	s.Connect("tok")
	waitSignal(t, connected, "connect")
	return s, ts.nextConn(t)
}

func TestBuildURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://api.example.com", "ws://api.example.com/chat/ws?token=abc"},
		{"https://api.example.com/api/v1/", "wss://api.example.com/api/v1/chat/ws?token=abc"},
		{"wss://rt.example.com", "wss://rt.example.com/chat/ws?token=abc"},
	}
	for _, tc := range cases {
		got, err := BuildURL(tc.base, DefaultPath, "abc")
		if err != nil {
			t.Fatalf("BuildURL(%q) failed: %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("BuildURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}

	got, err := BuildURL("http://h", DefaultPath, "a b&c")
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	if got != "ws://h/chat/ws?token=a+b%26c" {
		t.Fatalf("token not query-encoded: %q", got)
	}

	if _, err := BuildURL("ftp://h", DefaultPath, "x"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts.URL, Options{})
	connected := make(chan struct{}, 4)
	s.OnConnect(func() { connected <- struct{}{} })

	s.Connect("tok")
	s.Connect("tok")
	waitSignal(t, connected, "connect")
	s.Connect("tok")

	time.Sleep(100 * time.Millisecond)
	if n := ts.upgrades.Load(); n != 1 {
		t.Fatalf("expected exactly 1 socket, got %d", n)
	}
	if len(connected) != 0 {
		t.Fatalf("expected a single OnConnect call")
	}
	if !s.IsConnected() {
		t.Fatalf("expected session to be open")
	}
}

func TestHeartbeatSendsPresenceFrames(t *testing.T) {
	ts := newTestServer(t)
	_, conn := connectedSession(t, ts, Options{HeartbeatInterval: 20 * time.Millisecond})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read heartbeat failed: %v", err)
		}
		if string(raw) != `{"type":"presence"}` {
			t.Fatalf("unexpected heartbeat frame %s", raw)
		}
	}
}

func TestReconnectBackoffIsLinearAndCapped(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(100)
	s := newTestSession(t, ts.URL, Options{})
	delays := recordDelays(s)

	disconnects := make(chan struct{}, 16)
	s.OnDisconnect(func(CloseInfo) { disconnects <- struct{}{} })

	s.Connect("tok")
	// One failed initial dial plus five failed reconnects.
	for i := 0; i < 6; i++ {
		waitSignal(t, disconnects, "disconnect")
	}
	time.Sleep(100 * time.Millisecond)

	got := delays.snapshot()
	if len(got) != DefaultMaxReconnectAttempts {
		t.Fatalf("expected %d scheduled attempts, got %d (%v)", DefaultMaxReconnectAttempts, len(got), got)
	}
	for i, d := range got {
		want := DefaultReconnectBaseDelay * time.Duration(i+1)
		if d != want {
			t.Fatalf("attempt %d scheduled after %v, want %v", i+1, d, want)
		}
	}
	if st := s.State(); st != StateDisconnected {
		t.Fatalf("expected disconnected after giving up, got %s", st)
	}
	if len(disconnects) != 0 {
		t.Fatalf("unexpected extra disconnect events")
	}
}

func TestOpenResetsAttemptCounter(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(2)
	s := newTestSession(t, ts.URL, Options{})
	delays := recordDelays(s)

	connected := make(chan struct{}, 4)
	s.OnConnect(func() { connected <- struct{}{} })
	s.Connect("tok")
	waitSignal(t, connected, "connect after retries")

	s.mu.Lock()
	attempts := s.attempts
	s.mu.Unlock()
	if attempts != 0 {
		t.Fatalf("expected attempts reset to 0, got %d", attempts)
	}
	if got := delays.snapshot(); len(got) != 2 {
		t.Fatalf("expected 2 reconnect attempts, got %v", got)
	}

	// The next involuntary close starts again from the base delay.
	conn := ts.nextConn(t)
	_ = conn.Close()
	waitSignal(t, connected, "second connect")
	got := delays.snapshot()
	if got[len(got)-1] != DefaultReconnectBaseDelay {
		t.Fatalf("expected base delay after reset, got %v", got[len(got)-1])
	}
}

func TestSendRequiresOpenSocket(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://127.0.0.1:1"})

	if err := s.Send(PresenceFrame{Type: EventPresence}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send: expected ErrNotConnected, got %v", err)
	}
	if err := s.SendMessage("c1", "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendMessage: expected ErrNotConnected, got %v", err)
	}
	if err := s.SendReadReceipt("m1", "c1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendReadReceipt: expected ErrNotConnected, got %v", err)
	}
	if err := s.SendTyping("c1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendTyping: expected ErrNotConnected, got %v", err)
	}
}

func TestOutboundFrameShapes(t *testing.T) {
	ts := newTestServer(t)
	s, conn := connectedSession(t, ts, Options{})

	if err := s.SendMessage("c1", "hola"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := s.SendTyping("c1"); err != nil {
		t.Fatalf("SendTyping failed: %v", err)
	}
	if err := s.SendReadReceipt("m9", "c1"); err != nil {
		t.Fatalf("SendReadReceipt failed: %v", err)
	}

	want := []string{
		`{"type":"message","conversation_id":"c1","content":"hola","message_type":"text"}`,
		`{"type":"typing","conversation_id":"c1"}`,
		`{"type":"read","message_id":"m9","conversation_id":"c1"}`,
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i, w := range want {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read frame %d failed: %v", i, err)
		}
		if string(raw) != w {
			t.Fatalf("frame %d = %s, want %s", i, raw, w)
		}
	}
}

func TestMalformedFrameDoesNotDropConnection(t *testing.T) {
	ts := newTestServer(t)
	s, conn := connectedSession(t, ts, Options{})

	frames := make(chan Frame, 4)
	s.OnMessage(func(f Frame) { frames <- f })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write malformed failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","conversation_id":"c1","sender_user_id":"u2"}`)); err != nil {
		t.Fatalf("write typing failed: %v", err)
	}

	select {
	case f := <-frames:
		if f.Type != EventTyping || f.SenderUserID != "u2" {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for valid frame")
	}
	if !s.IsConnected() {
		t.Fatalf("expected connection to survive malformed frame")
	}
}

func TestFanOutToIndependentSubscribers(t *testing.T) {
	ts := newTestServer(t)
	s, conn := connectedSession(t, ts, Options{})

	a := make(chan Frame, 4)
	b := make(chan Frame, 4)
	s.OnMessage(func(f Frame) { a <- f })
	unsubB := s.OnMessage(func(f Frame) { b <- f })

	msg, _ := json.Marshal(Frame{Type: EventPresence})
	_ = conn.WriteMessage(websocket.TextMessage, msg)
	for _, ch := range []chan Frame{a, b} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber missed frame")
		}
	}

	unsubB()
	_ = conn.WriteMessage(websocket.TextMessage, msg)
	select {
	case <-a:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber a missed second frame")
	}
	select {
	case <-b:
		t.Fatalf("unsubscribed handler still called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	ts := newTestServer(t)
	s, _ := connectedSession(t, ts, Options{})
	delays := recordDelays(s)

	infos := make(chan CloseInfo, 4)
	s.OnDisconnect(func(ci CloseInfo) { infos <- ci })

	s.Disconnect()

	select {
	case ci := <-infos:
		if !ci.UserInitiated {
			t.Fatalf("expected user-initiated close, got %+v", ci)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for disconnect event")
	}
	time.Sleep(50 * time.Millisecond)
	if got := delays.snapshot(); len(got) != 0 {
		t.Fatalf("expected no reconnect after Disconnect, got %v", got)
	}
	if st := s.State(); st != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", st)
	}
	if len(infos) != 0 {
		t.Fatalf("expected exactly one disconnect event")
	}
}

func TestServerCloseTriggersReconnect(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts.URL, Options{})
	delays := recordDelays(s)
	connected := make(chan struct{}, 4)
	s.OnConnect(func() { connected <- struct{}{} })

	s.Connect("tok")
	waitSignal(t, connected, "connect")
	conn := ts.nextConn(t)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	_ = conn.Close()

	waitSignal(t, connected, "reconnect")
	if got := delays.snapshot(); len(got) != 1 || got[0] != DefaultReconnectBaseDelay {
		t.Fatalf("expected one reconnect after %v, got %v", DefaultReconnectBaseDelay, got)
	}
	if n := ts.upgrades.Load(); n != 2 {
		t.Fatalf("expected 2 sockets over the session lifetime, got %d", n)
	}
}

func TestIllegalTransitionIsRejected(t *testing.T) {
	s := NewSession(Options{})
	s.mu.Lock()
	ok := s.setState(StateOpen)
	st := s.state
	s.mu.Unlock()
	if ok || st != StateDisconnected {
		t.Fatalf("expected disconnected -> open to be rejected, got ok=%v state=%s", ok, st)
	}
}
