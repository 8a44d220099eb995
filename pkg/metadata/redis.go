package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// Redis stores entries as JSON strings with a server-side expiry.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the server at url (redis:// or rediss://) and
// verifies it with a PING.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Set(ctx context.Context, phone string, fields types.CallFields, ttl time.Duration) error {
	key, err := StorageKey(phone)
	if err != nil {
		return err
	}
	value, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, phone string) (types.CallFields, bool, error) {
	key, err := StorageKey(phone)
	if err != nil {
		return types.CallFields{}, false, err
	}
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.CallFields{}, false, nil
	}
	if err != nil {
		return types.CallFields{}, false, err
	}
	fields, err := decodeFields(value)
	if err != nil {
		return types.CallFields{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return fields, true, nil
}

func (r *Redis) Delete(ctx context.Context, phone string) error {
	key, err := StorageKey(phone)
	if err != nil {
		return err
	}
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) Backend() string { return "redis" }

func (r *Redis) Close() error { return r.client.Close() }
