// Package relayclient is the viewer/host side of the live-room relay: one
// logical connection to one room, a publish/subscribe API over the event
// vocabulary, and transparent reconnection with exponential backoff.
//
// A Client is constructed explicitly and injected where needed; there is
// no package-level singleton, so an application can hold connections to
// several rooms and tests can run clients side by side.
package relayclient

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/protocol"
)

// State of the logical connection, observable via Config.OnStateChange.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// TokenProvider returns a credential for one dial attempt. It is called
// again for every reconnect, so a refreshed token is always used.
type TokenProvider func(ctx context.Context) (string, error)

// Handler receives one decoded envelope.
type Handler func(env *protocol.Envelope)

// Config for a relay client.
type Config struct {
	// BaseURL of the relay, e.g. "ws://localhost:8090".
	BaseURL string
	// TokenProvider supplies the bearer token per dial. Required.
	TokenProvider TokenProvider
	// BaseDelay for reconnect backoff. Defaults to 1s.
	BaseDelay time.Duration
	// MaxAttempts before giving up on automatic reconnection. Defaults
	// to 5.
	MaxAttempts int
	// HandshakeTimeout for each dial. Defaults to 10s.
	HandshakeTimeout time.Duration
	// OnStateChange is invoked on every connection-state transition.
	OnStateChange func(State)
}

// Client owns a single socket to one room at a time.
type Client struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	roomID    string
	state     State
	attempts  int
	closed    bool // set by Disconnect, suppresses reconnection
	reconnect *time.Timer

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]map[int]Handler
	nextID     int
}

// New creates a client. Connect must be called to open a room.
func New(cfg Config) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		state:    StateDisconnected,
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect opens the socket to the given room. It is a no-op when the
// client is already connected, connecting, or riding the reconnect
// backoff for any room; the armed backoff timer stays in charge.
func (c *Client) Connect(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		log.L().Warn().Str(log.FieldRoomID, c.roomID).Msg("relayclient: already connected, ignoring connect")
		return nil
	}
	c.roomID = roomID
	c.closed = false
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}
	return nil
}

// dial fetches a fresh token, opens the socket and starts the read loop.
// A Disconnect issued while the dial is in flight wins: the fresh socket
// is dropped instead of installed.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	roomID := c.roomID
	c.mu.Unlock()

	token, err := c.cfg.TokenProvider(ctx)
	if err != nil {
		return fmt.Errorf("token provider: %w", err)
	}

	endpoint := fmt.Sprintf("%s/live/%s?token=%s", c.cfg.BaseURL, roomID, url.QueryEscape(token))

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.BaseURL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.onConnectionLost(conn, err)
			return
		}

		env, err := protocol.DecodeEnvelope(frame)
		if err != nil {
			log.L().Warn().Err(err).Msg("relayclient: dropping malformed frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env *protocol.Envelope) {
	c.handlersMu.RLock()
	registered := c.handlers[env.Event]
	fns := make([]Handler, 0, len(registered))
	for _, fn := range registered {
		fns = append(fns, fn)
	}
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
}

func (c *Client) onConnectionLost(conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil

	if c.closed {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}

	log.L().Warn().Str(log.FieldRoomID, c.roomID).Err(err).Msg("relayclient: connection lost")
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the backoff timer for the next attempt.
// Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxAttempts {
		log.L().Error().
			Str(log.FieldRoomID, c.roomID).
			Int("attempts", c.attempts).
			Msg("relayclient: giving up, reconnect manually")
		c.setStateLocked(StateDisconnected)
		return
	}

	delay := backoffDelay(c.cfg.BaseDelay, c.attempts)
	c.attempts++
	c.setStateLocked(StateReconnecting)

	log.L().Info().
		Str(log.FieldRoomID, c.roomID).
		Int("attempt", c.attempts).
		Dur("delay", delay).
		Msg("relayclient: scheduling reconnect")

	c.reconnect = time.AfterFunc(delay, c.tryReconnect)
}

func (c *Client) tryReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()

	if err := c.dial(ctx); err != nil {
		log.L().Warn().Str(log.FieldRoomID, c.roomID).Err(err).Msg("relayclient: reconnect attempt failed")
		c.mu.Lock()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
	}
}

// backoffDelay is base * 2^attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << uint(attempt)
}

// Send serializes {event, data, timestamp} and transmits it. When the
// socket is not open the message is dropped with a warning; there is no
// outbound queue.
func (c *Client) Send(event string, data interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		log.L().Warn().Str(log.FieldEvent, event).Msg("relayclient: not connected, message dropped")
		return nil
	}

	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// On registers a handler for an event name and returns its id for Off.
// Multiple handlers per event are supported.
func (c *Client) On(event string, fn Handler) int {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.nextID++
	c.handlers[event][c.nextID] = fn
	return c.nextID
}

// Off removes a handler previously registered with On.
func (c *Client) Off(event string, id int) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if fns, ok := c.handlers[event]; ok {
		delete(fns, id)
		if len(fns) == 0 {
			delete(c.handlers, event)
		}
	}
}

// Disconnect closes the socket and clears the room. This is the only
// path that suppresses automatic reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.attempts = 0
	c.roomID = ""
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the room this client is attached to, empty when idle.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// setStateLocked updates the state and notifies the observer. Caller
// holds c.mu.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnStateChange != nil {
		go c.cfg.OnStateChange(s)
	}
}
