// Package registry tracks which session owns which room, enforcing the
// one-active-session-per-room guarantee across agentd workers.
//
// Two drivers are provided: an in-memory store for single-process
// deployments and tests, and a Redis store for fleets where several workers
// may race to claim the same room.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Common registry errors.
var (
	// ErrRoomBusy is returned when another live session holds the room.
	ErrRoomBusy = errors.New("registry: room already has an active session")

	// ErrInvalidConfig is returned when a driver is missing required options.
	ErrInvalidConfig = errors.New("registry: invalid configuration")

	// ErrInvalidStoreType is returned for unknown driver names.
	ErrInvalidStoreType = errors.New("registry: invalid store type")
)

// Store claims and releases room ownership.
type Store interface {
	// Acquire claims roomID for sessionID.
	// Returns ErrRoomBusy if another live session holds the room.
	Acquire(ctx context.Context, roomID, sessionID string) error

	// Release frees the claim. Releasing a room held by a different session,
	// or not held at all, is a no-op.
	Release(ctx context.Context, roomID, sessionID string) error

	// Active returns the session currently holding roomID, or "" if none.
	Active(ctx context.Context, roomID string) (string, error)

	// Close releases driver resources.
	Close() error
}

// StoreType selects the registry driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption is a functional option for configuring a store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the TTL on room claims so a crashed worker's claim
// eventually expires.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// NewStore creates a Store for the given driver type.
// Redis requires WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return &memoryStore{rooms: make(map[string]string)}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := config.redisTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		return &redisStore{client: config.redisClient, ttl: ttl}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}

// memoryStore implements Store with a mutex-guarded map.
type memoryStore struct {
	mu    sync.Mutex
	rooms map[string]string // roomID -> sessionID
}

func (s *memoryStore) Acquire(ctx context.Context, roomID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.rooms[roomID]; ok && holder != sessionID {
		return ErrRoomBusy
	}
	s.rooms[roomID] = sessionID
	return nil
}

func (s *memoryStore) Release(ctx context.Context, roomID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.rooms[roomID]; ok && holder == sessionID {
		delete(s.rooms, roomID)
	}
	return nil
}

func (s *memoryStore) Active(ctx context.Context, roomID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID], nil
}

func (s *memoryStore) Close() error {
	return nil
}

const roomKeyPrefix = "agentd:room:"

// redisStore implements Store with SET NX claims that expire after ttl.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func (s *redisStore) Acquire(ctx context.Context, roomID, sessionID string) error {
	key := roomKeyPrefix + roomID
	ok, err := s.client.SetNX(ctx, key, sessionID, s.ttl).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// The claim may be our own from a previous attempt; refresh it if so.
	holder, err := s.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if holder == sessionID {
		return s.client.Expire(ctx, key, s.ttl).Err()
	}
	return ErrRoomBusy
}

func (s *redisStore) Release(ctx context.Context, roomID, sessionID string) error {
	key := roomKeyPrefix + roomID
	holder, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != sessionID {
		return nil
	}
	return s.client.Del(ctx, key).Err()
}

func (s *redisStore) Active(ctx context.Context, roomID string) (string, error) {
	holder, err := s.client.Get(ctx, roomKeyPrefix+roomID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return holder, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
