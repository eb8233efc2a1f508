package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a correlation token does not resolve to a
// suspended flow, either because it never existed or because it expired.
var ErrNotFound = errors.New("suspended flow not found")

// Stage marks where a flow suspended.
type Stage string

const (
	// StageAwaitingCode waits for the step-up one-time code.
	StageAwaitingCode Stage = "awaiting_code"
	// StageAwaitingPIN waits for the wallet holder's PIN.
	StageAwaitingPIN Stage = "awaiting_pin"
	// StageAwaitingTransfer waits for the bank transfer reference id.
	StageAwaitingTransfer Stage = "awaiting_transfer"
)

// Suspended is a transaction flow parked between requests. The caller holds
// only the correlation token; the full request payload stays server-side.
type Suspended struct {
	Token     string          `json:"token"`
	Stage     Stage           `json:"stage"`
	UserID    uuid.UUID       `json:"user_id"`
	Request   json.RawMessage `json:"request"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store parks and resumes suspended flows.
type Store interface {
	Put(ctx context.Context, s *Suspended) error
	Get(ctx context.Context, token string) (*Suspended, error)
	Delete(ctx context.Context, token string) error
}

// NewToken mints a correlation token.
func NewToken() string {
	return uuid.NewString()
}

// RedisStore keeps suspended flows in redis under a TTL, so abandoned flows
// clean themselves up and any API instance can resume any flow.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed flow store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func flowKey(token string) string {
	return fmt.Sprintf("flow:%s", token)
}

func (s *RedisStore) Put(ctx context.Context, susp *Suspended) error {
	payload, err := json.Marshal(susp)
	if err != nil {
		return fmt.Errorf("failed to marshal suspended flow: %w", err)
	}
	if err := s.client.Set(ctx, flowKey(susp.Token), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store suspended flow: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (*Suspended, error) {
	payload, err := s.client.Get(ctx, flowKey(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load suspended flow: %w", err)
	}
	var susp Suspended
	if err := json.Unmarshal(payload, &susp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suspended flow: %w", err)
	}
	return &susp, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, flowKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete suspended flow: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	flows map[string]*Suspended
}

// NewMemoryStore creates an in-memory flow store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, flows: make(map[string]*Suspended)}
}

func (s *MemoryStore) Put(ctx context.Context, susp *Suspended) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[susp.Token] = susp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, token string) (*Suspended, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	susp, ok := s.flows[token]
	if !ok {
		return nil, ErrNotFound
	}
	if s.ttl > 0 && time.Since(susp.CreatedAt) > s.ttl {
		delete(s.flows, token)
		return nil, ErrNotFound
	}
	return susp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, token)
	return nil
}
