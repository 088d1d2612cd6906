package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultCachePrefix      = "triage:classification:"
	DefaultDeadLetterStream = "triage:analytics:dead-letters"
)

// NewRedisClient parses url and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisCache shares classification results between processes. Keys are
// hashed so raw message text never appears in the keyspace.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	sum := sha256.Sum256([]byte(k))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.ClassificationResult, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ClassificationResult{}, false, nil
	}
	if err != nil {
		return models.ClassificationResult{}, false, fmt.Errorf("get cached classification: %w", err)
	}

	var res models.ClassificationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return models.ClassificationResult{}, false, fmt.Errorf("decode cached classification: %w", err)
	}
	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res models.ClassificationResult, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache classification: %w", err)
	}
	return nil
}

// Clear deletes every cached classification under the prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached classifications: %w", err)
	}
	for len(keys) > 0 {
		n := min(len(keys), 100)
		if err := c.client.Del(ctx, keys[:n]...).Err(); err != nil {
			return fmt.Errorf("delete cached classifications: %w", err)
		}
		keys = keys[n:]
	}
	return nil
}

// RedisDeadLetter appends exhausted batches to a Redis stream for an
// operator or a replay worker to pick up.
type RedisDeadLetter struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

func NewRedisDeadLetter(client *redis.Client, stream string, logger *zap.Logger) *RedisDeadLetter {
	if stream == "" {
		stream = DefaultDeadLetterStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDeadLetter{client: client, stream: stream, logger: logger}
}

func (d *RedisDeadLetter) StoreDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	events, err := json.Marshal(dl.Events)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	fields := map[string]any{
		"id":        dl.ID,
		"type":      string(dl.Type),
		"attempts":  dl.Attempts,
		"events":    string(events),
		"failed_at": dl.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	if dl.LastErr != "" {
		fields["last_error"] = dl.LastErr
	}

	if err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}

	d.logger.Info("Stored dead letter", zap.String("id", dl.ID), zap.String("stream", d.stream), zap.Int("events", len(dl.Events)))
	return nil
}
