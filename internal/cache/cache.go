// Package cache is a small JSON value cache with an in-process LRU backend
// and a redis backend for multi-instance deployments.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/metrics"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache stores JSON-encoded values under string keys with a fixed TTL.
type Cache interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds the configured backend. A nil metrics sink is allowed.
func New(ctx context.Context, cfg config.CacheConfig, m *metrics.Metrics) (Cache, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	var c Cache
	switch cfg.Backend {
	case "", BackendMemory:
		c = NewMemory(cfg.Size, ttl)
	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		c = NewRedis(rdb, "atlas:cache:", ttl)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	return &instrumented{Cache: c, m: m}, nil
}

// Memory is an expiring LRU held in process.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory creates an LRU of at most size entries, each living for ttl.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *Memory) Get(_ context.Context, key string, dst any) error {
	b, ok := c.lru.Get(key)
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(b, dst)
}

func (c *Memory) Set(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	c.lru.Add(key, b)
	return nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (c *Memory) Len() int { return c.lru.Len() }

func (c *Memory) Close() error {
	c.lru.Purge()
	return nil
}

// Redis keeps values in redis under a key prefix.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client. Close closes the client.
func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *Redis) Get(ctx context.Context, key string, dst any) error {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	return json.Unmarshal(b, dst)
}

func (c *Redis) Set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	return c.rdb.Set(ctx, c.prefix+key, b, c.ttl).Err()
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

func (c *Redis) Close() error { return c.rdb.Close() }

// instrumented counts hits and misses.
type instrumented struct {
	Cache
	m *metrics.Metrics
}

func (c *instrumented) Get(ctx context.Context, key string, dst any) error {
	err := c.Cache.Get(ctx, key, dst)
	if err == nil || errors.Is(err, ErrMiss) {
		c.m.CacheResult(err == nil)
	}
	return err
}

// Load returns the cached value for key, or calls load, stores its result
// and returns it. Cache failures fall through to load.
func Load[T any](ctx context.Context, c Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	if err := c.Get(ctx, key, &v); err == nil {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	_ = c.Set(ctx, key, v)
	return v, nil
}
