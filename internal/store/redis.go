package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/nimbleai/internal/metrics"
	"github.com/eldtechnologies/nimbleai/internal/models"
)

const messageTTL = 7 * 24 * time.Hour

// RedisStore handles Redis operations for chat history and rate limiting.
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
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// userMessagesKey returns the key for a user's message sorted set.
func userMessagesKey(userID string) string {
	return fmt.Sprintf("user:%s:messages", userID)
}

// AddMessage stores a message in Redis.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	// Generate ULID if not set
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	// Set timestamp if not set
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := userMessagesKey(msg.UserID)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	})
	pipe.Expire(ctx, key, messageTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetMessages retrieves a page of a user's messages, newest first.
func (s *RedisStore) GetMessages(ctx context.Context, userID string, page Page) ([]models.ChatMessage, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	key := userMessagesKey(userID)
	messages := make([]models.ChatMessage, 0, page.Limit)

	maxScore := "+inf"
	if page.Before > 0 {
		maxScore = fmt.Sprintf("(%d", page.Before) // exclusive

		if page.BeforeID != "" {
			score := strconv.FormatInt(page.Before, 10)
			tied, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: score, Max: score}).Result()
			if err != nil {
				return nil, err
			}
			messages = append(messages, olderThanID(decodeMessages(tied), page.BeforeID)...)
		}
	}

	if len(messages) >= page.Limit {
		return messages[:page.Limit], nil
	}

	results, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(page.Limit - len(messages)),
	}).Result()
	if err != nil {
		return nil, err
	}

	return append(messages, decodeMessages(results)...), nil
}

func decodeMessages(members []string) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(members))
	for _, data := range members {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

// olderThanID keeps messages whose ID sorts before id, newest first.
// ULIDs sort by creation time, which orders messages sharing a millisecond.
func olderThanID(msgs []models.ChatMessage, id string) []models.ChatMessage {
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID < id {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
