package store

import (
	"context"
	"os"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/nimbleai/internal/models"
)

// newTestRedis connects to NIMBLE_TEST_REDIS_URL or skips.
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("NIMBLE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NIMBLE_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	s := NewRedisStoreFromClient(redis.NewClient(opts))
	require.NoError(t, s.Ping(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_Messages(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)
	userID := "test-" + ulid.Make().String()
	t.Cleanup(func() { s.client.Del(context.Background(), userMessagesKey(userID)) })

	for i, ts := range []int64{1000, 2000, 3000} {
		msg := &models.ChatMessage{UserID: userID, Sender: models.SenderUser, Body: string(rune('a' + i)), Timestamp: ts}
		require.NoError(t, s.AddMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)
	}

	ttl, err := s.client.TTL(ctx, userMessagesKey(userID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Seconds(), float64(0))

	msgs, err := s.GetMessages(ctx, userID, Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "c", msgs[0].Body)
	assert.Equal(t, "b", msgs[1].Body)

	msgs, err = s.GetMessages(ctx, userID, Page{Limit: 10, Before: 2000})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Body)
}

func TestRedisStore_SameMillisecondPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)
	userID := "test-" + ulid.Make().String()
	t.Cleanup(func() { s.client.Del(context.Background(), userMessagesKey(userID)) })

	ids := []string{"01J00000000000000000000001", "01J00000000000000000000002", "01J00000000000000000000003"}
	for i, id := range ids {
		msg := &models.ChatMessage{ID: id, UserID: userID, Sender: models.SenderUser, Body: string(rune('a' + i)), Timestamp: 5000}
		require.NoError(t, s.AddMessage(ctx, msg))
	}
	require.NoError(t, s.AddMessage(ctx, &models.ChatMessage{UserID: userID, Sender: models.SenderUser, Body: "old", Timestamp: 4000}))

	first, err := s.GetMessages(ctx, userID, Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "c", first[0].Body)
	assert.Equal(t, "b", first[1].Body)

	last := first[len(first)-1]
	rest, err := s.GetMessages(ctx, userID, Page{Limit: 10, Before: last.Timestamp, BeforeID: last.ID})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "a", rest[0].Body)
	assert.Equal(t, "old", rest[1].Body)
}

func TestOlderThanID(t *testing.T) {
	msgs := []models.ChatMessage{{ID: "01B"}, {ID: "01D"}, {ID: "01A"}, {ID: "01C"}}

	got := olderThanID(msgs, "01C")
	require.Len(t, got, 2)
	assert.Equal(t, "01B", got[0].ID)
	assert.Equal(t, "01A", got[1].ID)

	assert.Empty(t, olderThanID(nil, "01C"))
}

func TestRedisStore_NilClient(t *testing.T) {
	var s *RedisStore
	assert.Nil(t, s.Client())
}
