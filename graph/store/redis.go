package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps checkpoints in Redis using one sorted set per thread:
//
//	<prefix>cp:<thread_id>  => ZSET, score = version, member = JSON checkpoint
//
// Versions are unique per thread, so the score doubles as the primary key.
type RedisStore struct {
	client *redis.Client
	prefix string

	mu     sync.RWMutex
	closed bool
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces keys. Defaults to "hitl:".
	Prefix string
}

// NewRedisStore connects using cfg and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes
// ownership and closes the client on Close.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "hitl:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) keyThread(threadID string) string {
	return r.prefix + "cp:" + threadID
}

// Put adds cp to the thread's sorted set, rejecting a repeated version.
func (r *RedisStore) Put(ctx context.Context, cp Checkpoint) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	normalized, err := normalize(cp)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := r.keyThread(cp.ThreadID)
	score := fmt.Sprintf("%d", cp.Version)
	existing, err := r.client.ZCount(ctx, key, score, score).Result()
	if err != nil {
		return fmt.Errorf("failed to check checkpoint version: %w", err)
	}
	if existing > 0 {
		return ErrVersionConflict
	}

	if err := r.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(cp.Version),
		Member: string(payload),
	}).Err(); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// Latest returns the highest-scored checkpoint of threadID.
func (r *RedisStore) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	cps, err := r.List(ctx, threadID, 1)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(cps) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return cps[0], nil
}

// List returns up to limit checkpoints of threadID, newest first.
func (r *RedisStore) List(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := r.client.ZRevRange(ctx, r.keyThread(threadID), 0, stop).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoints: %w", err)
	}

	out := make([]Checkpoint, 0, len(members))
	for _, m := range members {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(m), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		if cp.State == nil {
			cp.State = map[string]any{}
		}
		out = append(out, cp)
	}
	return out, nil
}

// Ping verifies the server is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client. Safe to call more than once.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}
