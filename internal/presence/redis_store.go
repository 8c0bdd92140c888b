package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key patterns:
// relay:room:{room_id}:viewers   STRING<count>  - last persisted viewer count
// relay:live_rooms               SET<room_id>   - rooms with at least one viewer

func roomViewersKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:viewers", roomID)
}

const liveRoomsKey = "relay:live_rooms"

type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed viewer-count store.
func NewRedisStore(client *redis.Client) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) SetViewerCount(ctx context.Context, roomID string, count int) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomViewersKey(roomID), count, 0)
	if count > 0 {
		pipe.SAdd(ctx, liveRoomsKey, roomID)
	} else {
		pipe.SRem(ctx, liveRoomsKey, roomID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) GetViewerCount(ctx context.Context, roomID string) (int, error) {
	count, err := s.client.Get(ctx, roomViewersKey(roomID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get viewer count: %w", err)
	}
	return count, nil
}

func (s *redisStore) ClearRoom(ctx context.Context, roomID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, roomViewersKey(roomID))
	pipe.SRem(ctx, liveRoomsKey, roomID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
