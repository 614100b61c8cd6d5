package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis.
// Snapshots live in string keys, the per-session seq index in a sorted
// set scored by seq, and the session registry in a set. Suitable for
// multi-node deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all checkpoint keys (default: "engram:").
	Prefix string
	// TTL expires checkpoint data after inactivity (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a Redis checkpoint store and verifies the
// connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: normalizePrefix(cfg.Prefix),
		ttl:    cfg.TTL,
	}, nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: normalizePrefix(prefix),
		ttl:    ttl,
	}
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return "engram:"
	}
	return prefix
}

// Key helpers
func (s *RedisStore) cpKey(sessionID string, seq int64) string {
	return s.prefix + "cp:" + sessionID + ":" + strconv.FormatInt(seq, 10)
}

func (s *RedisStore) seqsKey(sessionID string) string {
	return s.prefix + "seqs:" + sessionID
}

func (s *RedisStore) sessionsKey() string {
	return s.prefix + "sessions"
}

func (s *RedisStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put stores a checkpoint, replacing any prior snapshot at the same seq.
func (s *RedisStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validateCheckpoint(cp); err != nil {
		return err
	}
	if err := s.checkClosed(); err != nil {
		return err
	}

	stored := clone(cp)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.cpKey(cp.SessionID, cp.Seq), data, s.ttl)
	pipe.ZAdd(ctx, s.seqsKey(cp.SessionID), redis.Z{
		Score:  float64(cp.Seq),
		Member: strconv.FormatInt(cp.Seq, 10),
	})
	pipe.SAdd(ctx, s.sessionsKey(), cp.SessionID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.seqsKey(cp.SessionID), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Latest returns the highest-seq checkpoint for a session.
func (s *RedisStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	members, err := s.client.ZRevRange(ctx, s.seqsKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("query latest seq: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrCheckpointNotFound
	}

	seq, err := strconv.ParseInt(members[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse latest seq: %w", err)
	}
	return s.Get(ctx, sessionID, seq)
}

// Get retrieves one checkpoint by seq.
func (s *RedisStore) Get(ctx context.Context, sessionID string, seq int64) (*Checkpoint, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.cpKey(sessionID, seq)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns all seqs for a session in ascending order.
func (s *RedisStore) List(ctx context.Context, sessionID string) ([]int64, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	members, err := s.client.ZRange(ctx, s.seqsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list seqs: %w", err)
	}

	seqs := make([]int64, 0, len(members))
	for _, m := range members {
		seq, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse seq %q: %w", m, err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

// Sessions returns all session ids with at least one checkpoint.
func (s *RedisStore) Sessions(ctx context.Context) ([]string, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSession removes every checkpoint for a session.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	seqs, err := s.List(ctx, sessionID)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	for _, seq := range seqs {
		pipe.Del(ctx, s.cpKey(sessionID, seq))
	}
	pipe.Del(ctx, s.seqsKey(sessionID))
	pipe.SRem(ctx, s.sessionsKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Kind identifies the backend.
func (s *RedisStore) Kind() string { return "redis" }

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
