package hub

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/config"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/domain"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/protocol"
)

// Client is one connected socket together with its verified session.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session
	config  config.WebSocketConfig

	// dead is set under the hub's lock when the client is unregistered
	// and its Send channel closed. A dead client cannot rejoin a room.
	dead bool
}

func NewClient(id string, h *Hub, conn *websocket.Conn, session *domain.Session, cfg config.WebSocketConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:      id,
		Hub:     h,
		Conn:    conn,
		Send:    make(chan []byte, buffer),
		Session: session,
		config:  cfg,
	}
}

// ReadPump reads frames until the connection drops, passing each one to
// the handler. The pong deadline doubles as the liveness check for
// half-open connections.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		if onClose != nil {
			onClose(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Warn().Str(log.FieldClientID, c.ID).Err(err).Msg("websocket read error")
			}
			break
		}

		c.Session.UpdateActivity()
		handler(c, message)
	}
}

// WritePump drains the send buffer and keeps the connection alive with
// periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent queues one envelope for this client only. A full buffer drops
// the message; fan-out gives no delivery guarantee.
func (c *Client) SendEvent(event string, payload interface{}) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
	default:
	}
	return nil
}

// SendError reports a rejected request back to this client.
func (c *Client) SendError(code, message string, retryAfter int) {
	c.SendEvent(protocol.EventError, &protocol.ErrorPayload{
		Code:       code,
		Message:    message,
		RetryAfter: retryAfter,
	})
}
