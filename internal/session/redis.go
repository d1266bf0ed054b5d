package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/leadbot/internal/conversation"
)

const keyPrefix = "leadbot:session:"

// RedisStore keeps JSON snapshots in Redis; every save refreshes the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to url and pings it once.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Client exposes the connection so a RedisLocker can share it.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) Load(ctx context.Context, id string) (conversation.State, error) {
	raw, err := r.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.State{}, ErrNotFound
	}
	if err != nil {
		return conversation.State{}, fmt.Errorf("load session: %w", err)
	}
	var s conversation.State
	if err := json.Unmarshal(raw, &s); err != nil {
		return conversation.State{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, id string, state conversation.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+id, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
