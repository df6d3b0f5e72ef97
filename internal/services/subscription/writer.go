package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/magabrotheeeer/genbilling/internal/cache"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/metrics"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// ErrUnchanged возвращается мутацией, если сохранять нечего.
var ErrUnchanged = errors.New("subscription unchanged")

// WriteRepository — операции хранилища, нужные единому пути записи.
type WriteRepository interface {
	GetSubscription(ctx context.Context, userUID string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	WriteLegacy(ctx context.Context, legacy models.LegacySubscription) error
}

// Cache — read-model подписок. SetSubscription не заменяет запись с той же
// или более новой версией.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	SetSubscription(ctx context.Context, sub *models.Subscription, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Publisher публикует доменные события.
type Publisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// RetryPolicy ограничивает повторы при конфликте версий и задаёт срок жизни
// read-model, которую Writer заполняет после записи.
type RetryPolicy struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	CacheTTL       time.Duration
}

// Writer — единственный путь записи подписки. Сначала сохраняется
// каноническая строка, затем обновляются устаревшие поля users, read-model
// и публикуется событие. Сбой после канонической записи не откатывает её.
type Writer struct {
	repo   WriteRepository
	cache  Cache
	events Publisher
	policy RetryPolicy
	log    *slog.Logger
}

// NewWriter создаёт Writer.
func NewWriter(repo WriteRepository, c Cache, events Publisher, policy RetryPolicy, log *slog.Logger) *Writer {
	return &Writer{
		repo:   repo,
		cache:  c,
		events: events,
		policy: policy,
		log:    log,
	}
}

// Update читает подписку, применяет mutate к копии и сохраняет её с проверкой
// версии. При конфликте чтение и mutate повторяются, поэтому mutate должна
// зависеть только от переданной подписки. Ошибка mutate возвращается как есть;
// ErrUnchanged пропускает сохранение.
func (w *Writer) Update(ctx context.Context, userUID string, source string, mutate func(sub *models.Subscription) error) (*models.Subscription, error) {
	const op = "subscription.Update"
	log := w.log.With(slog.String("op", op), sl.User(userUID))

	var before, saved *models.Subscription
	exp := backoff.NewExponentialBackOff()
	if w.policy.InitialBackoff > 0 {
		exp.InitialInterval = w.policy.InitialBackoff
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, w.policy.MaxRetries), ctx)

	err := backoff.Retry(func() error {
		cur, err := w.repo.GetSubscription(ctx, userUID)
		if err != nil {
			return backoff.Permanent(err)
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			if errors.Is(err, ErrUnchanged) {
				before, saved = cur, cur
				return nil
			}
			return backoff.Permanent(err)
		}
		s, err := w.repo.SaveSubscription(ctx, next)
		if err != nil {
			if errors.Is(err, models.ErrConcurrencyConflict) {
				log.Debug("version conflict, retrying", slog.Int64("version", next.Version))
				return err
			}
			return backoff.Permanent(err)
		}
		before, saved = cur, s
		return nil
	}, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if saved != before {
		w.propagate(ctx, log, before, saved, source)
	}
	return saved, nil
}

// propagate обновляет производные представления после канонической записи.
func (w *Writer) propagate(ctx context.Context, log *slog.Logger, before, saved *models.Subscription, source string) {
	if err := w.repo.WriteLegacy(ctx, models.LegacyFrom(saved)); err != nil {
		metrics.DualWriteFailuresTotal.Inc()
		log.Error("legacy subscription columns left stale",
			sl.Err(fmt.Errorf("%w: %w", models.ErrInconsistentDualWrite, err)))
	}
	w.cacheSaved(ctx, log, saved)

	log.Info("subscription saved",
		slog.String("tier", string(saved.Tier)),
		slog.String("status", string(saved.Status)),
		slog.Int64("version", saved.Version),
	)

	if before.Tier == saved.Tier && before.Status == saved.Status {
		return
	}
	event := models.DomainEvent{
		Type:    models.EventSubscriptionChanged,
		UserUID: saved.UserUID,
		Tier:    saved.Tier,
		Status:  saved.Status,
		Source:  source,
		Attributes: map[string]string{
			"previousTier":   string(before.Tier),
			"previousStatus": string(before.Status),
		},
		OccurredAt: saved.UpdatedAt,
	}
	if err := w.events.Publish(ctx, event); err != nil {
		log.Warn("failed to publish subscription change", sl.Err(err))
	}
}

// cacheSaved кладёт сохранённую версию в read-model. Если записать не
// удалось, ключ удаляется, чтобы следующее чтение пошло в базу.
func (w *Writer) cacheSaved(ctx context.Context, log *slog.Logger, saved *models.Subscription) {
	err := w.cache.SetSubscription(ctx, saved, w.policy.CacheTTL)
	if err == nil {
		return
	}
	log.Warn("failed to cache saved subscription", sl.Err(err))
	if err := w.cache.Invalidate(ctx, cache.SubscriptionKey(saved.UserUID)); err != nil {
		log.Warn("failed to invalidate subscription cache", sl.Err(err))
	}
}

// Refresh перечитывает каноническую строку и обновляет read-model. Вызывается
// после изменений, которые идут в обход Update, например операций журнала.
func (w *Writer) Refresh(ctx context.Context, userUID string) error {
	const op = "subscription.Refresh"

	sub, err := w.repo.GetSubscription(ctx, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	w.cacheSaved(ctx, w.log.With(slog.String("op", op), sl.User(userUID)), sub)
	return nil
}

// Repair перезаписывает устаревшие поля и read-model из канонической строки.
func (w *Writer) Repair(ctx context.Context, userUID string) error {
	const op = "subscription.Repair"

	sub, err := w.repo.GetSubscription(ctx, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := w.repo.WriteLegacy(ctx, models.LegacyFrom(sub)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	w.cacheSaved(ctx, w.log.With(slog.String("op", op), sl.User(userUID)), sub)
	return nil
}
