package hub

import (
	"sync"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/config"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
)

// Hub is the in-memory room registry: roomID -> connected clients.
// Membership is mutated only by the connection lifecycle handlers; the
// event semantics layer never touches it directly.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	rooms      map[string]map[string]*Client // roomID -> clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *RoomMessage
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// RoomMessage is a serialized envelope queued for fan-out to one room.
type RoomMessage struct {
	RoomID  string
	Message []byte
	Exclude string // client ID to skip, empty for none
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *RoomMessage, 256),
		config:     cfg,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for roomID, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, roomID)
					}
				}
				delete(h.clients, client.ID)
				client.dead = true
				close(client.Send)
			}
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			if members, ok := h.rooms[msg.RoomID]; ok {
				for clientID, client := range members {
					if clientID == msg.Exclude {
						continue
					}
					select {
					case client.Send <- msg.Message:
					default:
						// Slow consumer: its buffer is full, drop the
						// connection rather than block the room.
						go h.Unregister(client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoom adds the client to a room, creating it on first join. A second
// connection of the same user is a second entry; duplicate delivery to two
// tabs is accepted behavior.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// The socket can die between registration and the join sequence. A
	// client the hub already unregistered must not re-enter a room: its
	// Send channel is closed and a later broadcast would panic on it.
	if client.dead {
		log.L().Warn().
			Str(log.FieldClientID, client.ID).
			Str(log.FieldRoomID, roomID).
			Msg("refusing room join for unregistered client")
		return
	}

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client
	log.L().Info().
		Str(log.FieldClientID, client.ID).
		Str(log.FieldRoomID, roomID).
		Msg("client joined room")
}

// LeaveRoom removes the client; an emptied room is removed from the
// registry entirely, so a later lookup sees no room rather than an empty
// set.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[roomID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	log.L().Info().
		Str(log.FieldClientID, client.ID).
		Str(log.FieldRoomID, roomID).
		Msg("client left room")
}

// Broadcast queues raw bytes for every room member except the excluded
// client. Unknown rooms are a silent no-op.
func (h *Hub) Broadcast(roomID string, message []byte, exclude string) {
	h.broadcast <- &RoomMessage{
		RoomID:  roomID,
		Message: message,
		Exclude: exclude,
	}
}

// RoomCount returns the room's current member count; zero for a room not
// in the registry.
func (h *Hub) RoomCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if members, ok := h.rooms[roomID]; ok {
		return len(members)
	}
	return 0
}

// HasRoom reports whether the room currently exists in the registry.
func (h *Hub) HasRoom(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.rooms[roomID]
	return ok
}
