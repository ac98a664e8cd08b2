package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string        `envconfig:"ADDR" split_words:"true"`
	Password string        `envconfig:"PASSWORD" split_words:"true"`
	DB       int           `envconfig:"DB" split_words:"true" default:"0" validate:"gte=0"`
	TTL      time.Duration `envconfig:"TTL" split_words:"true" default:"24h"`
	PoolSize int           `envconfig:"POOL_SIZE" split_words:"true" default:"10"`
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisCache keeps one hash per session, one field per category.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: "hitl:",
		now:    time.Now,
	}
}

const maxTxRetries = 3

func (c *RedisCache) Lookup(ctx context.Context, sessionID, category string) (*Entry, error) {
	key := c.key(sessionID)
	var out *Entry

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, category).Result()
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		if err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return fmt.Errorf("decode hitl entry: %w", err)
		}
		e.UsedCount++
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, category, payload)
			return nil
		})
		if err == nil {
			out = &e
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := c.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrMiss) {
				return nil, ErrMiss
			}
			return nil, fmt.Errorf("hitl cache lookup: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("hitl cache lookup: %w", redis.TxFailedErr)
}

func (c *RedisCache) Store(ctx context.Context, sessionID, vendorID, category, question, answer string) (*Entry, error) {
	if err := validateStore(sessionID, category, answer); err != nil {
		return nil, err
	}
	e := Entry{
		Category:         category,
		OriginalQuestion: strings.TrimSpace(question),
		Answer:           strings.TrimSpace(answer),
		AnsweredAt:       c.now().UTC(),
		VendorIDOfOrigin: vendorID,
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	key := c.key(sessionID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, category, payload)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hitl cache store: %w", err)
	}
	return &e, nil
}

func (c *RedisCache) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	all, err := c.client.HGetAll(ctx, c.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hitl cache entries: %w", err)
	}
	out := make([]Entry, 0, len(all))
	for _, raw := range all {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode hitl entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *RedisCache) key(sessionID string) string {
	return c.prefix + sessionID
}
