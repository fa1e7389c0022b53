package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const DefaultRedisTTL = 24 * time.Hour

// redisCmdable is the part of the go-redis client the store uses.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisStore keeps artifacts in Redis so downloads survive a restart of the
// serve process.
type RedisStore struct {
	client redisCmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
	close  func() error
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	store := newRedisStore(client, cfg)
	store.close = client.Close
	return store, nil
}

func newRedisStore(client redisCmdable, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "sensor-chat"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisTTL
	}
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
}

func (s *RedisStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func (s *RedisStore) artifactKey(id string) string {
	return fmt.Sprintf("%s:artifact:%s", s.prefix, id)
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:artifacts", s.prefix, sessionID)
}

func (s *RedisStore) Put(ctx context.Context, a *Artifact) (string, error) {
	stored := prepare(a, s.now())

	payload, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := s.client.Set(ctx, s.artifactKey(stored.ID), payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}

	index := s.sessionKey(stored.SessionID)
	if err := s.client.SAdd(ctx, index, stored.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to index artifact: %w", err)
	}
	if err := s.client.Expire(ctx, index, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to set artifact index ttl: %w", err)
	}

	return stored.ID, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Artifact, error) {
	raw, err := s.client.Get(ctx, s.artifactKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return &a, nil
}

// List returns the artifacts indexed for a session. Expired entries are
// skipped.
func (s *RedisStore) List(ctx context.Context, sessionID string) ([]*Artifact, error) {
	ids, err := s.client.SMembers(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	var result []*Artifact
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		a.Data = nil
		result = append(result, a)
	}
	sortByCreated(result)
	return result, nil
}

var _ Store = (*RedisStore)(nil)
