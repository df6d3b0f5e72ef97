// Package cache хранит в redis read-model подписок.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

const watchRetries = 3

var errStaleVersion = errors.New("cached version is newer")

// Cache — обёртка над клиентом redis.
type Cache struct {
	Db *redis.Client
}

// InitServer подключается к redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db}, nil
}

// SubscriptionKey возвращает ключ read-model подписки пользователя.
func SubscriptionKey(userUID string) string {
	return "subscription:" + userUID
}

// Get читает значение по ключу в result. Возвращает false, если ключа нет.
func (c *Cache) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "cache.Get"
	val, err := c.Db.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	err = json.Unmarshal([]byte(val), result)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// SetSubscription кладёт подписку в read-model, только если в кэше нет
// записи с той же или более новой версией. Чтение версии и запись выполняются
// под WATCH, поэтому запоздавшее чтение из базы не перетирает свежую запись.
func (c *Cache) SetSubscription(ctx context.Context, sub *models.Subscription, expiration time.Duration) error {
	const op = "cache.SetSubscription"
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	key := SubscriptionKey(sub.UserUID)

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cached struct{ Version int64 }
			if json.Unmarshal(val, &cached) == nil && cached.Version >= sub.Version {
				return errStaleVersion
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, expiration)
			return nil
		})
		return err
	}

	for range watchRetries {
		err = c.Db.Watch(ctx, txf, key)
		switch {
		case err == nil, errors.Is(err, errStaleVersion):
			return nil
		case !errors.Is(err, redis.TxFailedErr):
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Invalidate удаляет ключ.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	const op = "cache.Invalidate"
	if err := c.Db.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Ping проверяет доступность redis.
func (c *Cache) Ping(ctx context.Context) error {
	return c.Db.Ping(ctx).Err()
}

// Close закрывает клиент.
func (c *Cache) Close() error {
	return c.Db.Close()
}
