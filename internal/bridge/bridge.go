// Package bridge fans room broadcasts out across relay instances over
// Redis pub/sub, so several processes can serve one room. Each instance
// tags what it publishes and ignores its own frames when they come back.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/hub"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
)

const channelPattern = "relay:room:*"

// ChannelFor returns the pub/sub channel for one room.
func ChannelFor(roomID string) string {
	return fmt.Sprintf("relay:room:%s", roomID)
}

// frame is the cross-instance wire unit.
type frame struct {
	Origin  string          `json:"origin"` // publishing instance ID
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"` // serialized envelope
}

// Publisher is the part of the bridge the relay service needs.
type Publisher interface {
	Publish(ctx context.Context, roomID string, payload []byte) error
}

type Bridge struct {
	client     *redis.Client
	hub        *hub.Hub
	instanceID string
	pubsub     *redis.PubSub
	cancel     context.CancelFunc
}

func New(client *redis.Client, h *hub.Hub, instanceID string) (*Bridge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Bridge{
		client:     client,
		hub:        h,
		instanceID: instanceID,
	}, nil
}

// Start subscribes to all room channels and re-broadcasts foreign frames
// into the local hub.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.pubsub = b.client.PSubscribe(ctx, channelPattern)

	go b.receiveLoop(ctx)

	log.L().Info().Str("instance_id", b.instanceID).Msg("cross-instance bridge started")
	return nil
}

func (b *Bridge) receiveLoop(ctx context.Context) {
	ch := b.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				log.L().Warn().Err(err).Msg("bridge: malformed frame dropped")
				continue
			}
			if f.Origin == b.instanceID {
				continue
			}

			b.hub.Broadcast(f.RoomID, f.Payload, "")
		}
	}
}

// Publish mirrors one local room broadcast to the other instances.
func (b *Bridge) Publish(ctx context.Context, roomID string, payload []byte) error {
	data, err := json.Marshal(&frame{
		Origin:  b.instanceID,
		RoomID:  roomID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal bridge frame: %w", err)
	}

	return b.client.Publish(ctx, ChannelFor(roomID), data).Err()
}

// Stop unsubscribes and ends the receive loop.
func (b *Bridge) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
