package relayclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/protocol"
)

// relayStub accepts websocket connections, records the token of every
// dial, and greets each connection with a connected envelope.
type relayStub struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	tokens []string
	conns  []*websocket.Conn
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	s := &relayStub{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		env, _ := protocol.NewEnvelope(protocol.EventConnected,
			&protocol.ConnectedPayload{RoomID: "stream-42", UserCount: 1})
		conn.WriteJSON(env)

		// Keep the connection open; reads discard inbound frames.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *relayStub) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *relayStub) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *relayStub) seenTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *relayStub) dropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func staticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	base := time.Second
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for attempt, expected := range want {
		if got := backoffDelay(base, attempt); got != expected {
			t.Fatalf("backoffDelay(1s, %d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestConnectAndDispatch(t *testing.T) {
	stub := newRelayStub(t)

	c := New(Config{
		BaseURL:       stub.wsURL(),
		TokenProvider: staticToken("tok-1"),
	})
	defer c.Disconnect()

	got := make(chan *protocol.Envelope, 1)
	c.On(protocol.EventConnected, func(env *protocol.Envelope) { got <- env })

	if err := c.Connect(context.Background(), "stream-42"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %v", c.State())
	}
	if c.RoomID() != "stream-42" {
		t.Fatalf("room = %q", c.RoomID())
	}

	select {
	case env := <-got:
		var p protocol.ConnectedPayload
		if err := env.DecodeData(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.RoomID != "stream-42" {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("connected handler not invoked")
	}

	if tokens := stub.seenTokens(); len(tokens) != 1 || tokens[0] != "tok-1" {
		t.Fatalf("server saw tokens %v", tokens)
	}
}

func TestConnectIsNoOpWhenConnected(t *testing.T) {
	stub := newRelayStub(t)

	c := New(Config{BaseURL: stub.wsURL(), TokenProvider: staticToken("tok")})
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "stream-42"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(context.Background(), "other-room"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if c.RoomID() != "stream-42" {
		t.Fatalf("room changed to %q", c.RoomID())
	}
	if stub.dialCount() != 1 {
		t.Fatalf("dial count = %d, want 1", stub.dialCount())
	}
}

func TestReconnectUsesFreshToken(t *testing.T) {
	stub := newRelayStub(t)

	var mu sync.Mutex
	calls := 0
	provider := func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return "initial-token", nil
		}
		return "refreshed-token", nil
	}

	c := New(Config{
		BaseURL:       stub.wsURL(),
		TokenProvider: provider,
		BaseDelay:     10 * time.Millisecond,
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "stream-42"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	stub.dropConnections()

	waitFor(t, 2*time.Second, func() bool { return stub.dialCount() >= 2 },
		"client did not reconnect")
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateConnected },
		"client did not settle back to connected")

	tokens := stub.seenTokens()
	if tokens[0] != "initial-token" || tokens[1] != "refreshed-token" {
		t.Fatalf("server saw tokens %v, want a refreshed token on reconnect", tokens)
	}
	if c.RoomID() != "stream-42" {
		t.Fatalf("room = %q after reconnect", c.RoomID())
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	stub := newRelayStub(t)

	var mu sync.Mutex
	var states []State

	c := New(Config{
		BaseURL:       stub.wsURL(),
		TokenProvider: staticToken("tok"),
		BaseDelay:     5 * time.Millisecond,
		MaxAttempts:   3,
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	if err := c.Connect(context.Background(), "stream-42"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Take the server away entirely so every reconnect attempt fails.
	// Connections first, so the blocked handlers return before Close.
	stub.dropConnections()
	stub.srv.Close()

	waitFor(t, 5*time.Second, func() bool { return c.State() == StateDisconnected },
		"client did not give up")

	// Notifications arrive on their own goroutines, so only membership is
	// checked, not ordering.
	mu.Lock()
	defer mu.Unlock()
	sawReconnecting := false
	for _, s := range states {
		if s == StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Fatalf("states = %v, expected a reconnecting phase", states)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	stub := newRelayStub(t)

	c := New(Config{
		BaseURL:       stub.wsURL(),
		TokenProvider: staticToken("tok"),
		BaseDelay:     5 * time.Millisecond,
	})

	if err := c.Connect(context.Background(), "stream-42"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
	if c.RoomID() != "" {
		t.Fatalf("room = %q, want empty", c.RoomID())
	}

	// No new dials show up after an intentional disconnect.
	time.Sleep(50 * time.Millisecond)
	if stub.dialCount() != 1 {
		t.Fatalf("dial count = %d after Disconnect, want 1", stub.dialCount())
	}
}

func TestDisconnectWinsOverInflightDial(t *testing.T) {
	stub := newRelayStub(t)

	release := make(chan struct{})
	provider := func(context.Context) (string, error) {
		<-release
		return "tok", nil
	}

	c := New(Config{BaseURL: stub.wsURL(), TokenProvider: provider})

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background(), "stream-42") }()

	waitFor(t, time.Second, func() bool { return c.State() == StateConnecting },
		"client never entered connecting")

	// Disconnect lands while the dial is blocked on the token fetch; the
	// socket the dial produces must be dropped, not installed.
	c.Disconnect()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}

	// No live socket remains behind the disconnected state.
	if err := c.Send(protocol.EventChatMessage, &protocol.ChatMessagePayload{Text: "hi"}); err != nil {
		t.Fatalf("Send after disconnect should drop, got %v", err)
	}
}

func TestConnectIsNoOpWhileReconnecting(t *testing.T) {
	stub := newRelayStub(t)

	c := New(Config{
		BaseURL:       stub.wsURL(),
		TokenProvider: staticToken("tok"),
		BaseDelay:     time.Minute, // keep the backoff timer armed
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "stream-42"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	stub.dropConnections()
	waitFor(t, time.Second, func() bool { return c.State() == StateReconnecting },
		"client never entered reconnecting")

	// The armed backoff timer stays in charge; no competing dial starts.
	if err := c.Connect(context.Background(), "other-room"); err != nil {
		t.Fatalf("Connect while reconnecting: %v", err)
	}
	if c.RoomID() != "stream-42" {
		t.Fatalf("room changed to %q", c.RoomID())
	}
	if stub.dialCount() != 1 {
		t.Fatalf("dial count = %d, want 1", stub.dialCount())
	}
}

func TestSendWhileDisconnectedDrops(t *testing.T) {
	c := New(Config{BaseURL: "ws://127.0.0.1:0", TokenProvider: staticToken("tok")})

	if err := c.Send(protocol.EventChatMessage, &protocol.ChatMessagePayload{Text: "hi"}); err != nil {
		t.Fatalf("Send while disconnected should drop silently, got %v", err)
	}
}

func TestOffRemovesHandler(t *testing.T) {
	c := New(Config{BaseURL: "ws://127.0.0.1:0", TokenProvider: staticToken("tok")})

	calls := 0
	id := c.On(protocol.EventChatMessage, func(*protocol.Envelope) { calls++ })
	env, _ := protocol.NewEnvelope(protocol.EventChatMessage, &protocol.ChatMessagePayload{Text: "x"})

	c.dispatch(env)
	c.Off(protocol.EventChatMessage, id)
	c.dispatch(env)

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}
