package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key pattern (written by the user service):
// profile:{user_id}  HASH  - username, avatar_url, ...

func profileKey(userID string) string {
	return fmt.Sprintf("profile:%s", userID)
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a profile store reading the user service's
// profile cache.
func NewRedisStore(client *redis.Client) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) Lookup(ctx context.Context, userID string) (string, error) {
	username, err := s.client.HGet(ctx, profileKey(userID), "username").Result()
	if err == redis.Nil {
		return "", fmt.Errorf("profile %s not found", userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to lookup profile: %w", err)
	}
	return username, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
