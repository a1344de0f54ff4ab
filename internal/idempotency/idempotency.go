// Package idempotency remembers the response of a completed request so a
// client retry carrying the same Idempotency-Key replays it instead of
// running the diagnosis (and writing a record) again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"carcare/internal/redis"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// HeaderName is the request header carrying the client supplied key.
const HeaderName = "Idempotency-Key"

// ErrInFlight is returned by Reserve while another request holds the key.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Entry is a stored response.
type Entry struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Store reserves keys and keeps completed responses.
//
// Reserve returns (nil, nil) when the caller now owns the key, the stored
// entry when the key already completed, or ErrInFlight.
type Store interface {
	Reserve(ctx context.Context, key string) (*Entry, error)
	Complete(ctx context.Context, key string, entry Entry) error
	Release(ctx context.Context, key string) error
}

const pendingMarker = "pending"

// DefaultPendingTTL bounds how long a reservation survives a request that
// never completed or released it.
const DefaultPendingTTL = 5 * time.Minute

// RedisStore keeps keys in redis so every replica sees them.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
	prefix     string
}

// NewRedisStore keeps completed responses for ttl and reservations for
// pendingTTL.
func NewRedisStore(client *redis.Client, ttl, pendingTTL time.Duration) *RedisStore {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &RedisStore{client: client, ttl: ttl, pendingTTL: pendingTTL, prefix: "carcare:idempotency:"}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (*Entry, error) {
	k := s.prefix + key
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, k, pendingMarker, s.pendingTTL)
		if err != nil {
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return nil, nil
		}
		raw, err := s.client.Get(ctx, k)
		if errors.Is(err, redis.ErrCacheMiss) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read idempotency key: %w", err)
		}
		if raw == pendingMarker {
			return nil, ErrInFlight
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode idempotency entry: %w", err)
		}
		return &entry, nil
	}
	return nil, ErrInFlight
}

func (s *RedisStore) Complete(ctx context.Context, key string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	return s.client.Set(ctx, s.prefix+key, payload, s.ttl)
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key)
}

// MemoryStore is the single-process fallback used when redis is not
// configured.
type MemoryStore struct {
	mu         sync.Mutex
	entries    *expirable.LRU[string, *Entry]
	pending    map[string]time.Time
	pendingTTL time.Duration
	now        func() time.Time
}

func NewMemoryStore(size int, ttl, pendingTTL time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &MemoryStore{
		entries:    expirable.NewLRU[string, *Entry](size, nil, ttl),
		pending:    make(map[string]time.Time),
		pendingTTL: pendingTTL,
		now:        time.Now,
	}
}

func (s *MemoryStore) Reserve(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries.Get(key); ok {
		cp := *entry
		return &cp, nil
	}
	now := s.now()
	if deadline, ok := s.pending[key]; ok && now.Before(deadline) {
		return nil, ErrInFlight
	}
	s.prunePending(now)
	s.pending[key] = now.Add(s.pendingTTL)
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	s.entries.Add(key, &entry)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	s.entries.Remove(key)
	return nil
}

func (s *MemoryStore) prunePending(now time.Time) {
	for key, deadline := range s.pending {
		if !now.Before(deadline) {
			delete(s.pending, key)
		}
	}
}
