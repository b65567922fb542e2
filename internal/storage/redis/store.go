// Package redis stores engine snapshots in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	// TTL expires snapshots nobody resumed. Zero keeps them forever.
	TTL time.Duration
	// Prefix namespaces keys; defaults to "bulkimport:".
	Prefix string
}

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// NewClient creates a client and verifies the connection.
func NewClient(cfg Config) (*goredis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Store is an importer.Store over plain string keys.
type Store struct {
	client goredis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewStore wraps client.
func NewStore(client goredis.Cmdable, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("redis ttl must be >= 0")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "bulkimport:"
	}
	return &Store{client: client, ttl: cfg.TTL, prefix: prefix}, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

// Save writes value and refreshes its TTL.
func (s *Store) Save(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Load returns ok=false when the key is absent or expired.
func (s *Store) Load(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, true, nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}
