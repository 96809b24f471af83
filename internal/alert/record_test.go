package alert

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.Get(ctx, "e1", "chat")
	require.NoError(t, err)
	assert.Nil(t, rec, "unknown pair has no record")

	require.NoError(t, s.Put(ctx, "e1", "chat", DispatchRecord{Status: StatusSent, Attempts: 2}))

	rec, err = s.Get(ctx, "e1", "chat")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusSent, rec.Status)
	assert.Equal(t, 2, rec.Attempts)

	// Distinct channel for the same incident is independent.
	rec, err = s.Get(ctx, "e1", "irm")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	return NewRedisStore(client, time.Hour), mini
}

func TestRedisStore_RoundTrip(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	rec, err := s.Get(ctx, "e1", "chat")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.Put(ctx, "e1", "chat", DispatchRecord{Status: StatusFailed, Attempts: 3}))

	rec, err = s.Get(ctx, "e1", "chat")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
}

func TestRedisStore_RecordsExpire(t *testing.T) {
	s, mini := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "e1", "chat", DispatchRecord{Status: StatusSent, Attempts: 1}))

	mini.FastForward(2 * time.Hour)

	rec, err := s.Get(ctx, "e1", "chat")
	require.NoError(t, err)
	assert.Nil(t, rec, "record must expire after TTL")
}

func TestRedisStore_SurvivesNewStoreInstance(t *testing.T) {
	// Simulates a process restart sharing the same redis: the new store
	// instance still sees the Sent record, giving at-most-once-ever.
	mini := miniredis.RunT(t)
	ctx := context.Background()

	s1 := NewRedisStore(redis.NewClient(&redis.Options{Addr: mini.Addr()}), time.Hour)
	require.NoError(t, s1.Put(ctx, "e1", "chat", DispatchRecord{Status: StatusSent, Attempts: 1}))

	s2 := NewRedisStore(redis.NewClient(&redis.Options{Addr: mini.Addr()}), time.Hour)
	rec, err := s2.Get(ctx, "e1", "chat")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusSent, rec.Status)
}
