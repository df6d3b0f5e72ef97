// Package usage ведёт дневные счётчики генераций пользователей и анонимных
// сессий. Границы дня и месяца считаются в UTC.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/genbilling/internal/lib/month"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// Repository определяет операции хранилища счётчиков.
type Repository interface {
	IncrementUsage(ctx context.Context, owner models.Owner, day time.Time, amount int) (int, error)
	UsageBetween(ctx context.Context, owner models.Owner, from, to time.Time) (int, error)
	GenerationsSince(ctx context.Context, owner models.Owner, from time.Time) (int, error)
	MigrateSessionUsage(ctx context.Context, sessionID, userUID string, day time.Time) (int, error)
}

// Tracker — учёт использования.
type Tracker struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

// New создаёт Tracker.
func New(repo Repository, log *slog.Logger) *Tracker {
	return &Tracker{repo: repo, log: log, now: time.Now}
}

// WithClock подменяет источник времени.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// IncrementToday увеличивает сегодняшний счётчик на amount и возвращает новое значение.
func (t *Tracker) IncrementToday(ctx context.Context, owner models.Owner, amount int) (int, error) {
	const op = "usage.IncrementToday"

	count, err := t.repo.IncrementUsage(ctx, owner, t.now(), amount)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// Today возвращает число генераций за текущий день UTC.
func (t *Tracker) Today(ctx context.Context, owner models.Owner) (int, error) {
	const op = "usage.Today"

	now := t.now()
	count, err := t.repo.UsageBetween(ctx, owner, month.StartOfDay(now), month.NextDay(now))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// ThisMonth возвращает число генераций за текущий месяц UTC.
func (t *Tracker) ThisMonth(ctx context.Context, owner models.Owner) (int, error) {
	const op = "usage.ThisMonth"

	from := month.StartOfMonth(t.now())
	count, err := t.repo.UsageBetween(ctx, owner, from, month.NextMonth(from))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// Since возвращает число генераций начиная с момента from. Генерации того же
// дня до from не учитываются.
func (t *Tracker) Since(ctx context.Context, owner models.Owner, from time.Time) (int, error) {
	const op = "usage.Since"

	count, err := t.repo.GenerationsSince(ctx, owner, from)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// Snapshot собирает счётчики для оценки лимитов. trialStart задаётся, только
// если идёт пробный период.
func (t *Tracker) Snapshot(ctx context.Context, owner models.Owner, trialStart *time.Time) (models.UsageSnapshot, error) {
	const op = "usage.Snapshot"

	var snap models.UsageSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Today, err = t.Today(gctx, owner)
		return err
	})
	g.Go(func() error {
		var err error
		snap.ThisMonth, err = t.ThisMonth(gctx, owner)
		return err
	})
	if trialStart != nil {
		g.Go(func() error {
			var err error
			snap.TrialTotal, err = t.Since(gctx, owner, *trialStart)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return models.UsageSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	return snap, nil
}

// MigrateSession переносит сегодняшнее использование анонимной сессии на
// пользователя. Повторный вызов ничего не добавляет.
func (t *Tracker) MigrateSession(ctx context.Context, sessionID, userUID string) (int, error) {
	const op = "usage.MigrateSession"
	log := t.log.With(slog.String("op", op), sl.User(userUID))

	if sessionID == "" {
		return 0, nil
	}
	merged, err := t.repo.MigrateSessionUsage(ctx, sessionID, userUID, t.now())
	if err != nil {
		log.Error("failed to migrate session usage", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if merged > 0 {
		log.Info("session usage migrated", slog.Int("count", merged))
	}
	return merged, nil
}
