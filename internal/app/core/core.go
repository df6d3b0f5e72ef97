// Package core открывает общие для бинарников ресурсы: Postgres, Redis,
// брокер доменных событий, и собирает поверх них сервисы подписок, журнала
// и вебхуков.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/genbilling/internal/cache"
	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/paymentprovider"
	"github.com/magabrotheeeer/genbilling/internal/rabbitmq"
	"github.com/magabrotheeeer/genbilling/internal/services/ledger"
	"github.com/magabrotheeeer/genbilling/internal/services/subscription"
	"github.com/magabrotheeeer/genbilling/internal/services/tier"
	"github.com/magabrotheeeer/genbilling/internal/services/webhook"
	"github.com/magabrotheeeer/genbilling/internal/storage/repository"
)

// Core — открытые ресурсы и сервисы, общие для API и сверки.
type Core struct {
	DB            *repository.Storage
	Cache         *cache.Cache
	Events        subscription.Publisher
	Provider      *paymentprovider.Client
	Tiers         *tier.Resolver
	Writer        *subscription.Writer
	Subscriptions *subscription.Service
	Ledger        *ledger.Service
	Webhooks      *webhook.Processor

	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(ctx, db)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// New подключается к хранилищам и брокеру. Без адреса брокера события
// пишутся в лог.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	c := &Core{logger: logger}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	c.DB = db
	if err := waitForDB(ctx, db); err != nil {
		c.Close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}
	c.Cache = cacheRedis

	if cfg.RabbitMQURL == "" {
		logger.Warn("rabbitmq is not configured, domain events go to log")
		c.Events = rabbitmq.NewLogPublisher(logger)
	} else {
		conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		c.conn = conn
		ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.BillingQueues())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		c.ch = ch
		c.Events = rabbitmq.NewPublisher(ch, cfg.Exchange)
	}

	c.Provider = paymentprovider.NewClient(cfg.Provider)
	c.Tiers = tier.New(cfg.Tiers)
	c.Writer = subscription.NewWriter(db, cacheRedis, c.Events, subscription.RetryPolicy{
		MaxRetries:     cfg.Ledger.MaxRetries,
		InitialBackoff: cfg.Ledger.InitialBackoff,
		CacheTTL:       cfg.SubscriptionTTL,
	}, logger)
	c.Subscriptions = subscription.New(db, c.Writer, cacheRedis, c.Provider, c.Tiers, subscription.Options{
		TrialDays: cfg.Limits.Trial.Days,
		CacheTTL:  cfg.SubscriptionTTL,
		BatchSize: cfg.Reconciler.BatchSize,
	}, logger)
	c.Ledger = ledger.New(db, cfg.Ledger, cfg.Costs, logger).WithRefresher(c.Writer)
	c.Webhooks = webhook.New(db, c.Writer, c.Ledger, c.Tiers, c.Events, cfg.Webhook, cfg.Allotments, logger)

	return c, nil
}

// Close освобождает открытые ресурсы.
func (c *Core) Close() {
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.logger.Error("failed to close storage", sl.Err(err))
		}
	}
}
