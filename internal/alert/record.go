package alert

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DispatchStatus is the delivery state for one (incident, channel) pair.
type DispatchStatus string

const (
	StatusPending DispatchStatus = "pending"
	StatusSent    DispatchStatus = "sent"
	StatusFailed  DispatchStatus = "failed"
)

// DispatchRecord tracks delivery for one (incident, channel) pair.
// Once Sent, the pair is never retried or resent.
type DispatchRecord struct {
	Status   DispatchStatus
	Attempts int
}

// RecordStore persists DispatchRecords. Which implementation is wired is a
// configuration choice: the in-memory store gives at-most-once delivery per
// process (a restart may resend), the redis store at-most-once within its
// record TTL even across restarts.
type RecordStore interface {
	Get(ctx context.Context, eventID, channel string) (*DispatchRecord, error)
	Put(ctx context.Context, eventID, channel string, rec DispatchRecord) error
}

// MemoryStore is the default, process-local store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]DispatchRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]DispatchRecord)}
}

func (s *MemoryStore) key(eventID, channel string) string {
	return eventID + "|" + channel
}

func (s *MemoryStore) Get(ctx context.Context, eventID, channel string) (*DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[s.key(eventID, channel)]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *MemoryStore) Put(ctx context.Context, eventID, channel string, rec DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.key(eventID, channel)] = rec
	return nil
}

// RedisStore keeps records in redis hashes keyed per (incident, channel),
// expiring after TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(eventID, channel string) string {
	return fmt.Sprintf("dispatch:%s:%s", eventID, channel)
}

func (s *RedisStore) Get(ctx context.Context, eventID, channel string) (*DispatchRecord, error) {
	vals, err := s.client.HGetAll(ctx, s.key(eventID, channel)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	return &DispatchRecord{
		Status:   DispatchStatus(vals["status"]),
		Attempts: attempts,
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, eventID, channel string, rec DispatchRecord) error {
	key := s.key(eventID, channel)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", string(rec.Status), "attempts", rec.Attempts)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}
