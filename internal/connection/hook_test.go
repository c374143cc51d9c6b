package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/rentafacil/rentchat/internal/events"
	"github.com/rentafacil/rentchat/internal/storage/memory"
	"github.com/rentafacil/rentchat/internal/ws"
)

type fakeTransport struct {
	connects    []string
	disconnects int
	connected   bool
	typing      []string

	onMessage    events.Registry[ws.Frame]
	onConnect    events.Registry[struct{}]
	onDisconnect events.Registry[ws.CloseInfo]
	onError      events.Registry[error]
}

func (f *fakeTransport) Connect(token string) { f.connects = append(f.connects, token) }
func (f *fakeTransport) Disconnect()          { f.disconnects++ }
func (f *fakeTransport) IsConnected() bool    { return f.connected }
func (f *fakeTransport) SendMessage(string, string) error {
	return nil
}
func (f *fakeTransport) SendTyping(id string) error {
	if !f.connected {
		return ws.ErrNotConnected
	}
	f.typing = append(f.typing, id)
	return nil
}
func (f *fakeTransport) SendReadReceipt(string, string) error { return nil }
func (f *fakeTransport) OnMessage(fn func(ws.Frame)) func()  { return f.onMessage.Add(fn) }
func (f *fakeTransport) OnConnect(fn func()) func() {
	return f.onConnect.Add(func(struct{}) { fn() })
}
func (f *fakeTransport) OnDisconnect(fn func(ws.CloseInfo)) func() { return f.onDisconnect.Add(fn) }
func (f *fakeTransport) OnError(fn func(error)) func()             { return f.onError.Add(fn) }

func TestMountConnectsWithStoredTokenAndUnmountCleansUp(t *testing.T) {
	tr := &fakeTransport{}
	var got []ws.Frame
	h := New(tr, memory.NewWithToken("tok"), Options{
		OnMessage: func(f ws.Frame) { got = append(got, f) },
		OnError:   func(error) {},
	})

	if err := h.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if len(tr.connects) != 1 || tr.connects[0] != "tok" {
		t.Fatalf("expected one connect with stored token, got %v", tr.connects)
	}
	tr.onMessage.Emit(ws.Frame{Type: ws.EventPresence})
	if len(got) != 1 {
		t.Fatalf("expected callback to receive frame")
	}

	h.Unmount()
	h.Unmount()

	if tr.disconnects != 1 {
		t.Fatalf("expected exactly one disconnect, got %d", tr.disconnects)
	}
	if tr.onMessage.Len() != 0 || tr.onError.Len() != 0 {
		t.Fatalf("expected callbacks to be unregistered")
	}
	tr.onMessage.Emit(ws.Frame{Type: ws.EventPresence})
	if len(got) != 1 {
		t.Fatalf("callback called after unmount")
	}
}

func TestMountWithoutTokenAbortsConnect(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, memory.New(), Options{OnConnect: func() {}})

	err := h.Mount(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if len(tr.connects) != 0 {
		t.Fatalf("expected no connect attempt, got %v", tr.connects)
	}
	if tr.onConnect.Len() != 1 {
		t.Fatalf("expected callbacks registered even without token")
	}

	h.Unmount()
	if tr.disconnects != 0 {
		t.Fatalf("hook that did not connect must not disconnect")
	}
}

func TestManualConnectLeavesSocketAlone(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, memory.NewWithToken("tok"), Options{ManualConnect: true})

	if err := h.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	h.Unmount()

	if len(tr.connects) != 0 || tr.disconnects != 0 {
		t.Fatalf("manual hook touched the socket: connects=%v disconnects=%d", tr.connects, tr.disconnects)
	}
}

func TestPassthroughs(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, memory.NewWithToken("tok"), Options{ManualConnect: true})

	if err := h.SendTyping("c1"); !errors.Is(err, ws.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	tr.connected = true
	if !h.IsConnected() {
		t.Fatalf("expected IsConnected passthrough")
	}
	if err := h.SendTyping("c1"); err != nil || len(tr.typing) != 1 {
		t.Fatalf("SendTyping passthrough failed: %v %v", err, tr.typing)
	}
}
