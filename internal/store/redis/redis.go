package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/datacache-go/internal/store"
	"github.com/vnykmshr/datacache-go/pkg/codec"
	"github.com/vnykmshr/datacache-go/pkg/record"
)

// DefaultKeyPrefix is prepended to every key when Config.KeyPrefix is empty
const DefaultKeyPrefix = "datacache:"

// Store implements a Redis-backed record store. Update uses optimistic
// transactions (WATCH/MULTI/EXEC), so it is safe across processes.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	codec     codec.Codec
	ownClient bool
}

// Config holds Redis store configuration
type Config struct {
	// Client is the Redis client to use
	// If nil, a new client is created from Addr, Password and DB
	Client redis.UniversalClient

	// Addr is the Redis server address (host:port)
	Addr string

	// Password for Redis authentication
	Password string

	// DB is the Redis database number
	DB int

	// KeyPrefix is prepended to all keys to avoid conflicts
	KeyPrefix string

	// Codec configures record serialization; nil means plain JSON
	Codec *codec.Config
}

// New creates a new Redis store with the given configuration
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("redis store configuration is required")
	}

	c, err := codec.New(config.Codec)
	if err != nil {
		return nil, err
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	s := &Store{
		client:    config.Client,
		keyPrefix: keyPrefix,
		codec:     c,
	}

	if s.client == nil {
		if config.Addr == "" {
			return nil, fmt.Errorf("redis client or address is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.client = client
		s.ownClient = true
	}

	return s, nil
}

// Get retrieves the record stored at key
func (s *Store) Get(ctx context.Context, key string) (*record.Record, error) {
	data, err := s.client.Get(ctx, s.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return s.codec.Unmarshal(data)
}

// Set overwrites the record stored at key
func (s *Store) Set(ctx context.Context, key string, r *record.Record) error {
	data, err := s.codec.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.buildKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Update watches key, hands the current record to fn and writes the result
// in a MULTI/EXEC block. A write by another client between the read and the
// exec aborts the transaction with store.ErrConflict.
func (s *Store) Update(ctx context.Context, key string, fn store.UpdateFunc) (*record.Record, error) {
	redisKey := s.buildKey(key)
	var written *record.Record

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var latest *record.Record
		data, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get %s: %w", key, err)
		default:
			if latest, err = s.codec.Unmarshal(data); err != nil {
				return err
			}
		}

		next, err := fn(latest)
		if err != nil {
			return err
		}

		encoded, err := s.codec.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		written = next
		return nil
	}, redisKey)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, store.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return written, nil
}

// Close closes the client if the store created it
func (s *Store) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

// buildKey creates a Redis key with the configured prefix
func (s *Store) buildKey(key string) string {
	return s.keyPrefix + key
}

// extractKey strips the configured prefix from a Redis key
func (s *Store) extractKey(redisKey string) string {
	if !strings.HasPrefix(redisKey, s.keyPrefix) {
		return ""
	}
	return strings.TrimPrefix(redisKey, s.keyPrefix)
}

// Keys lists stored keys without their prefix; used by tooling
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.buildKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if k := s.extractKey(iter.Val()); k != "" {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

var _ store.Store = (*Store)(nil)
