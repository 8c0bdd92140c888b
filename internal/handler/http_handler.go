package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/hub"
)

// HTTPHandler exposes read-only room state for dashboards and debugging.
type HTTPHandler struct {
	hub *hub.Hub
}

func NewHTTPHandler(h *hub.Hub) *HTTPHandler {
	return &HTTPHandler{hub: h}
}

type roomInfoResponse struct {
	RoomID      string `json:"room_id"`
	ViewerCount int    `json:"viewer_count"`
	Live        bool   `json:"live"`
}

// HandleRoomInfo serves GET /rooms/{room_id}.
func (h *HTTPHandler) HandleRoomInfo(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	resp := roomInfoResponse{
		RoomID:      roomID,
		ViewerCount: h.hub.RoomCount(roomID),
		Live:        h.hub.HasRoom(roomID),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleHealth serves GET /health.
func (h *HTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// RegisterRoutes mounts the HTTP endpoints on the router.
func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/rooms/{room_id}", h.HandleRoomInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
}
