package treestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dgallion1/pageindex/internal/doctree"
)

const redisKeyPrefix = "pageindex:tree:"

// RedisOptions configures the shared cache tier.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache shares loaded trees between processes. Redis failures are
// logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, opts RedisOptions, log *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &RedisCache{client: client, ttl: opts.TTL, log: log}, nil
}

func redisKey(docID string) string { return redisKeyPrefix + docID }

func (c *RedisCache) Get(ctx context.Context, docID string) (*doctree.Tree, bool) {
	data, err := c.client.Get(ctx, redisKey(docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("redis get failed", "doc_id", docID, "error", err)
		return nil, false
	}
	t, err := doctree.Unmarshal(data)
	if err != nil {
		c.log.Warn("dropping corrupt cached tree", "doc_id", docID, "error", err)
		c.Remove(ctx, docID)
		return nil, false
	}
	return t, true
}

func (c *RedisCache) Put(ctx context.Context, t *doctree.Tree) {
	data, err := doctree.Marshal(t)
	if err != nil {
		c.log.Warn("marshal tree for cache", "doc_id", t.DocID, "error", err)
		return
	}
	if err := c.client.Set(ctx, redisKey(t.DocID), data, c.ttl).Err(); err != nil {
		c.log.Warn("redis set failed", "doc_id", t.DocID, "error", err)
	}
}

func (c *RedisCache) Remove(ctx context.Context, docID string) {
	if err := c.client.Del(ctx, redisKey(docID)).Err(); err != nil {
		c.log.Warn("redis del failed", "doc_id", docID, "error", err)
	}
}

func (c *RedisCache) Close() error { return c.client.Close() }
