package websocket

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/auth"
	"github.com/dennisdiepolder/dispatchdesk/internal/config"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newTestClient(hub *Hub, id, uid string, buf int) *Client {
	return &Client{
		id:   id,
		uid:  uid,
		hub:  hub,
		send: make(chan []byte, buf),
		done: make(chan struct{}),
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(zerolog.New(&bytes.Buffer{}))

	if hub == nil {
		t.Fatal("expected hub to be created")
	}
	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil || hub.identify == nil {
		t.Error("expected hub channels to be initialized")
	}
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	hub.mu.Lock()
	hub.clients[&Client{id: "test1"}] = true
	hub.clients[&Client{id: "test2", adminID: 7}] = true
	hub.mu.Unlock()

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
	if hub.AdminClientCount(7) != 1 {
		t.Errorf("expected 1 client for admin 7, got %d", hub.AdminClientCount(7))
	}
}

func TestHubRegisterUnregisterHooks(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	connected := make(chan ClientInfo, 1)
	disconnected := make(chan ClientInfo, 1)
	hub.SetHooks(Hooks{
		OnConnect:    func(ci ClientInfo) { connected <- ci },
		OnDisconnect: func(ci ClientInfo) { disconnected <- ci },
	})
	go hub.Run()

	client := newTestClient(hub, "c1", "uid-1", 1)
	hub.register <- client

	select {
	case ci := <-connected:
		if ci.UID != "uid-1" {
			t.Errorf("expected uid-1, got %s", ci.UID)
		}
	case <-time.After(time.Second):
		t.Fatal("connect hook not called")
	}

	hub.unregister <- client
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect hook not called")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}

	// a second unregister is ignored
	hub.unregister <- client
	select {
	case <-disconnected:
		t.Error("disconnect hook fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubIdentifyAndSendToAdmin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	identified := make(chan ClientInfo, 2)
	hub.SetHooks(Hooks{OnIdentify: func(ci ClientInfo) { identified <- ci }})
	go hub.Run()

	a := newTestClient(hub, "a", "uid-a", 4)
	b := newTestClient(hub, "b", "uid-b", 4)
	hub.register <- a
	hub.register <- b
	hub.Identify(a, 42)
	hub.Identify(b, 43)

	for i := 0; i < 2; i++ {
		select {
		case <-identified:
		case <-time.After(time.Second):
			t.Fatal("identify hook not called")
		}
	}

	if n := hub.SendToAdmin(42, []byte("queue")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if msg := <-a.send; string(msg) != "queue" {
		t.Errorf("expected queue, got %s", msg)
	}
	if len(b.send) != 0 {
		t.Error("client of another admin received the message")
	}

	if n := hub.SendToUser("uid-b", []byte("call")); n != 1 {
		t.Errorf("expected 1 delivery to uid-b, got %d", n)
	}
}

func TestHubIdentifyUnknownClientIgnored(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	identified := make(chan ClientInfo, 1)
	hub.SetHooks(Hooks{OnIdentify: func(ci ClientInfo) { identified <- ci }})
	go hub.Run()

	hub.Identify(newTestClient(hub, "ghost", "uid", 1), 9)
	select {
	case <-identified:
		t.Error("identify hook fired for unregistered client")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcastToMultipleClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	client1 := newTestClient(hub, "client1", "u1", 10)
	client2 := newTestClient(hub, "client2", "u2", 10)
	hub.register <- client1
	hub.register <- client2

	message := []byte("test broadcast")
	hub.Broadcast(message)

	for _, c := range []*Client{client1, client2} {
		select {
		case msg := <-c.send:
			if string(msg) != string(message) {
				t.Errorf("%s expected %s, got %s", c.id, message, msg)
			}
		case <-time.After(time.Second):
			t.Errorf("%s did not receive message", c.id)
		}
	}
}

func TestHubBroadcastDropsSlowClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	disconnected := make(chan ClientInfo, 1)
	hub.SetHooks(Hooks{OnDisconnect: func(ci ClientInfo) { disconnected <- ci }})
	go hub.Run()

	slow := newTestClient(hub, "slow", "u1", 1)
	hub.register <- slow
	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two"))

	select {
	case ci := <-disconnected:
		if ci.ID != "slow" {
			t.Errorf("expected slow client dropped, got %s", ci.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("slow client was not dropped")
	}
}

type stubResolver struct {
	adminID int64
	err     error
}

func (s stubResolver) Resolve(context.Context, string) (int64, error) {
	return s.adminID, s.err
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"http://localhost:5173"},
		PongWait:       time.Minute,
		PingPeriod:     50 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}
}

func withUID(uid string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), &auth.Claims{UID: uid})))
	})
}

func TestHandlerIdentifiesAndDelivers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	identified := make(chan ClientInfo, 1)
	refreshed := make(chan ClientInfo, 1)
	hub.SetHooks(Hooks{
		OnIdentify: func(ci ClientInfo) { identified <- ci },
		OnRefresh:  func(ci ClientInfo) { refreshed <- ci },
	})
	go hub.Run()

	h := NewHandler(hub, stubResolver{adminID: 42}, testConfig(), zerolog.Nop())
	srv := httptest.NewServer(withUID("agent-1", h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?tab=t1"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var ci ClientInfo
	select {
	case ci = <-identified:
	case <-time.After(2 * time.Second):
		t.Fatal("socket was not identified")
	}
	if ci.AdminID != 42 || ci.UID != "agent-1" || ci.Tab != "t1" {
		t.Errorf("unexpected client info %+v", ci)
	}

	if n := hub.SendToAdmin(42, []byte(`{"type":"work_queue"}`)); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"type":"work_queue"}` {
		t.Errorf("unexpected message %s", msg)
	}

	if err := conn.WriteMessage(gws.TextMessage, []byte(`{"type":"refresh_queue"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh hook not called")
	}
}

func TestHandlerUnresolvedAdminStaysAnonymous(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	connected := make(chan ClientInfo, 1)
	identified := make(chan ClientInfo, 1)
	hub.SetHooks(Hooks{
		OnConnect:  func(ci ClientInfo) { connected <- ci },
		OnIdentify: func(ci ClientInfo) { identified <- ci },
	})
	go hub.Run()

	h := NewHandler(hub, stubResolver{err: errors.New("not registered")}, testConfig(), zerolog.Nop())
	srv := httptest.NewServer(withUID("agent-2", h))
	defer srv.Close()

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect hook not called")
	}
	select {
	case <-identified:
		t.Error("unexpected identify for unresolved admin")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	h := NewHandler(hub, stubResolver{adminID: 1}, testConfig(), zerolog.Nop())
	srv := httptest.NewServer(withUID("agent-3", h))
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

func TestHandlerRequiresIdentity(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, stubResolver{}, testConfig(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
