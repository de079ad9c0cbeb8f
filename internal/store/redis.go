package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trblnoew/realtime-chat-server/internal/models"
)

const cacheTTL = 24 * time.Hour

// RedisStore provides a best-effort cache of recent room messages scored
// by sequence number, and the raw client for middleware counters.
// The websocket pipeline never reads the cache; resync always hits the
// durable store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that shares the
// connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// roomCacheKey returns the key for a room's message cache sorted set.
func roomCacheKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// CacheMessage stores an accepted message in the room's cache, scored by
// its sequence number. Failures are the caller's to ignore; the cache is
// never authoritative.
func (s *RedisStore) CacheMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomCacheKey(msg.RoomID)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Seq),
		Member: string(data),
	})
	pipe.Expire(ctx, key, cacheTTL)
	// Keep the cache bounded to the most recent entries.
	pipe.ZRemRangeByRank(ctx, key, 0, -501)
	_, err = pipe.Exec(ctx)
	return err
}

// CachedRecentMessages returns up to limit cached messages for a room in
// ascending sequence order. An empty result means cache miss, not an
// empty room.
func (s *RedisStore) CachedRecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	key := roomCacheKey(roomID)

	results, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg models.Message
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
