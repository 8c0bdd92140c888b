package service

import (
	"context"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/hub"
)

// RelayService owns the per-connection lifecycle and the fan-out
// semantics of inbound events.
type RelayService interface {
	// Authenticate exchanges the bearer token for a verified identity and
	// resolves the display name. Profile failures degrade the name, never
	// the join.
	Authenticate(ctx context.Context, token string) (userID, username string, err error)

	// HandleJoin registers a freshly authenticated client in its room and
	// emits the join event sequence.
	HandleJoin(ctx context.Context, c *hub.Client, roomID string) error

	// HandleFrame dispatches one inbound frame. Malformed frames are
	// logged and dropped; the connection stays open.
	HandleFrame(ctx context.Context, c *hub.Client, frame []byte)

	// HandleDisconnect cleans up room membership after the socket closed.
	HandleDisconnect(ctx context.Context, c *hub.Client) error

	Start(ctx context.Context) error
	Stop() error
}
