package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements GenerationStore on redis. Each generation is one hash
// (field = normalized URL, value = JSON entry) and the generation names are kept
// in an index set.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. prefix namespaces all keys (e.g. "meteo:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient builds a client from connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *RedisStore) generationKey(generation string) string {
	return s.prefix + "gen:" + generation
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "generations"
}

func encodeEntry(e Entry) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode entry %s: %w", e.URL, err)
	}
	return string(raw), nil
}

func (s *RedisStore) Get(ctx context.Context, generation, key string) (Entry, bool, error) {
	raw, err := s.client.HGet(ctx, s.generationKey(generation), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return e, true, nil
}

func (s *RedisStore) Put(ctx context.Context, generation, key string, entry Entry) error {
	return s.PutAll(ctx, generation, map[string]Entry{key: entry})
}

// PutAll writes the entries and registers the generation in one MULTI/EXEC.
func (s *RedisStore) PutAll(ctx context.Context, generation string, entries map[string]Entry) error {
	if generation == "" {
		return ErrNoGeneration
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		raw, err := encodeEntry(entries[k])
		if err != nil {
			return err
		}
		values = append(values, k, raw)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.HSet(ctx, s.generationKey(generation), values...)
		}
		pipe.SAdd(ctx, s.indexKey(), generation)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put generation %s: %w", generation, err)
	}
	return nil
}

// Generations returns the indexed generation names in sorted order.
func (s *RedisStore) Generations(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list generations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) Delete(ctx context.Context, generation string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.generationKey(generation))
		pipe.SRem(ctx, s.indexKey(), generation)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete generation %s: %w", generation, err)
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client connections. Call during shutdown.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
