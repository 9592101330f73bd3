package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const revocationKeyPrefix = "identity:valid_after:"

// RevocationStore shares the tokens-valid-after cutoff of each principal between instances.
type RevocationStore interface {
	// Get returns the cutoff for uid and whether one is known.
	Get(ctx context.Context, uid string) (time.Time, bool, error)
	Set(ctx context.Context, uid string, validAfter time.Time) error
}

// RedisRevocationStore keeps cutoffs in Redis. Entries expire after ttl; by then every token
// issued before the cutoff has expired anyway.
type RedisRevocationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRevocationStore creates a Redis-backed revocation store.
func NewRedisRevocationStore(client *redis.Client, ttl time.Duration) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, ttl: ttl}
}

func (s *RedisRevocationStore) Get(ctx context.Context, uid string) (time.Time, bool, error) {
	v, err := s.client.Get(ctx, revocationKeyPrefix+uid).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get cutoff: %w", err)
	}
	usec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cutoff %q: %w", v, err)
	}
	return time.UnixMicro(usec).UTC(), true, nil
}

func (s *RedisRevocationStore) Set(ctx context.Context, uid string, validAfter time.Time) error {
	if err := s.client.Set(ctx, revocationKeyPrefix+uid, validAfter.UnixMicro(), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cutoff: %w", err)
	}
	return nil
}

// MemoryRevocationStore is a process-local RevocationStore.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	cutoffs map[string]time.Time
}

// NewMemoryRevocationStore creates an empty store.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{cutoffs: make(map[string]time.Time)}
}

func (s *MemoryRevocationStore) Get(_ context.Context, uid string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.cutoffs[uid]
	return t, ok, nil
}

func (s *MemoryRevocationStore) Set(_ context.Context, uid string, validAfter time.Time) error {
	s.mu.Lock()
	s.cutoffs[uid] = validAfter
	s.mu.Unlock()
	return nil
}
