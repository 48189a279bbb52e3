package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/freshmart/pkg/config"
	"github.com/example/freshmart/pkg/store"
	"github.com/go-redis/redis/v8"
)

// RedisRepository is the durable cart storage.
type RedisRepository struct {
	client  *redis.Client
	cartTTL time.Duration
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return NewRedisRepositoryWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}), cfg.CartTTL)
}

// NewRedisRepositoryWithClient wraps an existing client. A zero ttl keeps
// carts forever.
func NewRedisRepositoryWithClient(client *redis.Client, cartTTL time.Duration) *RedisRepository {
	return &RedisRepository{client: client, cartTTL: cartTTL}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func cartKey(session string) string {
	return fmt.Sprintf("cart:%s", session)
}

// Load returns the stored cart document for a session.
func (r *RedisRepository) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, cartKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Save stores the cart document and refreshes its expiry.
func (r *RedisRepository) Save(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, cartKey(key), data, r.cartTTL).Err()
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, cartKey(key)).Err()
}

var _ store.CartStorage = (*RedisRepository)(nil)
