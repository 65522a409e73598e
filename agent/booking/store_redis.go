package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string `split_words:"true" default:"localhost:6379"`
	Password string `split_words:"true"`
	DB       int    `split_words:"true" default:"0"`
}

// RedisStore persists records in a self-hosted Redis.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	opts      storeOptions
}

func NewRedisStore(cfg RedisConfig, opts ...StoreOption) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, opts...)
}

// NewRedisStoreWithClient wraps an existing client, which the store then
// owns and closes.
func NewRedisStoreWithClient(client redis.UniversalClient, opts ...StoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	o, err := applyStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client, keyPrefix: o.keyPrefix, opts: o}, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	key, err := recordKey(s.keyPrefix, sessionID)
	if err != nil {
		return nil, err
	}
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get booking record: %w", err)
	}
	return decodeRecord(payload)
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	key, err := recordKey(s.keyPrefix, rec.SessionID)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, payload, s.opts.ttl).Err(); err != nil {
		return fmt.Errorf("redis set booking record: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := recordKey(s.keyPrefix, sessionID)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del booking record: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
