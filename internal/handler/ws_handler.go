package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/audit"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/config"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/domain"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/hub"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/service"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
)

// WSHandler upgrades live-room connections and runs the handshake.
type WSHandler struct {
	hub      *hub.Hub
	service  service.RelayService
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, svc service.RelayService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleLiveRoom serves GET /live/{room_id}?token=... . Missing
// parameters or a bad token close the socket with 1008 before any
// session exists.
func (h *WSHandler) HandleLiveRoom(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	roomID := mux.Vars(r)["room_id"]
	token := r.URL.Query().Get("token")
	if roomID == "" || token == "" {
		closePolicyViolation(conn, "room and token are required")
		return
	}

	ctx := r.Context()

	userID, username, err := h.service.Authenticate(ctx, token)
	if err != nil {
		log.L().Warn().Str(log.FieldRoomID, roomID).Err(err).Msg("handshake rejected")
		audit.LogWithRoom(ctx, audit.ActionJoinRejected, "", roomID, "invalid token")
		closePolicyViolation(conn, "invalid token")
		return
	}

	clientID := uuid.New().String()
	session := domain.NewSession(clientID, userID, username)
	client := hub.NewClient(clientID, h.hub, conn, session, h.wsCfg)

	h.hub.Register(client)

	// Join before the pumps start. Once ReadPump runs, a dead socket can
	// unregister the client, and membership must never be added after the
	// hub has dropped it.
	if err := h.service.HandleJoin(ctx, client, roomID); err != nil {
		log.L().Error().Str(log.FieldClientID, clientID).Err(err).Msg("join failed")
	}

	go client.WritePump()
	go client.ReadPump(h.handleFrame, h.onClose)
}

func (h *WSHandler) handleFrame(c *hub.Client, frame []byte) {
	h.service.HandleFrame(context.Background(), c, frame)
}

func (h *WSHandler) onClose(c *hub.Client) {
	if err := h.service.HandleDisconnect(context.Background(), c); err != nil {
		log.L().Warn().Str(log.FieldClientID, c.ID).Err(err).Msg("disconnect cleanup failed")
	}
}

// RegisterRoutes mounts the websocket endpoint on the router.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/live/{room_id}", h.HandleLiveRoom).Methods(http.MethodGet)
}

// closePolicyViolation sends a 1008 close frame and tears the socket
// down. Used only during the handshake, before a session exists.
func closePolicyViolation(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}
