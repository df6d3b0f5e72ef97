// Package generation допускает или отклоняет генерацию: сначала проверяются
// лимиты тарифа, затем баланс. Списание баллов и учёт использования
// выполняются одной транзакцией.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/metrics"
	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/services/ratelimit"
)

// Subscriptions читает подписку пользователя.
type Subscriptions interface {
	Get(ctx context.Context, userUID string) (*models.Subscription, error)
}

// Usage собирает счётчики использования.
type Usage interface {
	Snapshot(ctx context.Context, owner models.Owner, trialStart *time.Time) (models.UsageSnapshot, error)
}

// Ledger — операции журнала, нужные генерации.
type Ledger interface {
	Cost(tier models.Tier, typ models.GenerationType) (int64, error)
	RecordGeneration(ctx context.Context, g models.Generation) (*models.GenerationResult, error)
	Balance(ctx context.Context, userUID string) (*models.Balance, error)
	Refund(ctx context.Context, userUID, referenceID, source string) (*models.CreditTransaction, error)
}

// Evaluator оценивает лимиты.
type Evaluator interface {
	Evaluate(state ratelimit.State, usage models.UsageSnapshot, now time.Time) ratelimit.Decision
}

// LimitError — генерация отклонена лимитом тарифа.
type LimitError struct {
	Decision ratelimit.Decision
	Usage    models.UsageSnapshot
}

func (e *LimitError) Error() string {
	return e.Decision.Reason
}

// BalanceError — баллов меньше, чем стоит генерация.
type BalanceError struct {
	Balance  int64
	Required int64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %d < %d", e.Balance, e.Required)
}

// Unwrap позволяет сравнивать с models.ErrInsufficientBalance.
func (e *BalanceError) Unwrap() error {
	return models.ErrInsufficientBalance
}

// Request — запрос на учёт генерации.
type Request struct {
	Owner       models.Owner
	Type        models.GenerationType
	ReferenceID string
}

// Outcome — результат учтённой генерации.
type Outcome struct {
	Count    int
	Charged  int64
	Balance  *int64
	Replayed bool
	Decision ratelimit.Decision
}

// Status — текущая квота владельца.
type Status struct {
	Usage        models.UsageSnapshot
	Decision     ratelimit.Decision
	Subscription *models.Subscription
}

// Service — сервис генераций.
type Service struct {
	subs      Subscriptions
	usage     Usage
	ledger    Ledger
	evaluator Evaluator
	log       *slog.Logger
	now       func() time.Time
}

// New создаёт сервис генераций.
func New(subs Subscriptions, usage Usage, ledger Ledger, evaluator Evaluator, log *slog.Logger) *Service {
	return &Service{
		subs:      subs,
		usage:     usage,
		ledger:    ledger,
		evaluator: evaluator,
		log:       log,
		now:       time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Status считает квоту владельца на текущий момент.
func (s *Service) Status(ctx context.Context, owner models.Owner) (*Status, error) {
	const op = "generation.Status"

	now := s.now()
	sub, snap, err := s.load(ctx, owner, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Status{
		Usage:        snap,
		Decision:     s.evaluator.Evaluate(ratelimit.StateOf(sub), snap, now),
		Subscription: sub,
	}, nil
}

// Record проверяет лимиты и баланс и учитывает генерацию. Повтор с тем же
// ReferenceID не списывает баллы и не увеличивает счётчик повторно.
func (s *Service) Record(ctx context.Context, req Request) (*Outcome, error) {
	const op = "generation.Record"
	log := s.log.With(slog.String("op", op), slog.String("owner", req.Owner.String()),
		slog.String("reference_id", req.ReferenceID))

	now := s.now()
	sub, snap, err := s.load(ctx, req.Owner, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	decision := s.evaluator.Evaluate(ratelimit.StateOf(sub), snap, now)
	metrics.RecordLimitDecision(string(decision.Tier), decision.Allowed)
	if !decision.Allowed {
		log.Info("generation denied by limit", slog.String("reason", decision.Reason))
		return nil, &LimitError{Decision: decision, Usage: snap}
	}

	var points int64
	if sub != nil && sub.HasPaidAccess(now) && !sub.IsTrialing(now) {
		points, err = s.ledger.Cost(sub.Tier, req.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	res, err := s.ledger.RecordGeneration(ctx, models.Generation{
		Owner:       req.Owner,
		Type:        req.Type,
		ReferenceID: req.ReferenceID,
		Points:      points,
		Day:         now,
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			return nil, s.balanceError(ctx, req.Owner.ID, points)
		}
		log.Error("failed to record generation", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := &Outcome{Count: res.Count, Replayed: res.Replayed, Decision: decision}
	if res.Spend != nil {
		out.Charged = res.Spend.Amount
		balance := res.Spend.BalanceAfter
		out.Balance = &balance
	}
	if !res.Replayed {
		log.Info("generation recorded", slog.Int("count", res.Count), slog.Int64("charged", out.Charged))
	}
	return out, nil
}

// Refund возвращает пользователю userUID баллы списания по referenceID.
// Счётчик использования не уменьшается.
func (s *Service) Refund(ctx context.Context, userUID, referenceID, source string) (*models.CreditTransaction, error) {
	const op = "generation.Refund"

	t, err := s.ledger.Refund(ctx, userUID, referenceID, source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *Service) load(ctx context.Context, owner models.Owner, now time.Time) (*models.Subscription, models.UsageSnapshot, error) {
	var sub *models.Subscription
	if owner.IsUser() {
		var err error
		sub, err = s.subs.Get(ctx, owner.ID)
		if err != nil {
			return nil, models.UsageSnapshot{}, err
		}
	}

	var trialStart *time.Time
	if sub != nil && sub.IsTrialing(now) && sub.TrialStartedAt != nil {
		trialStart = sub.TrialStartedAt
	}
	snap, err := s.usage.Snapshot(ctx, owner, trialStart)
	if err != nil {
		return nil, models.UsageSnapshot{}, err
	}
	return sub, snap, nil
}

func (s *Service) balanceError(ctx context.Context, userUID string, required int64) error {
	be := &BalanceError{Required: required}
	b, err := s.ledger.Balance(ctx, userUID)
	if err != nil {
		s.log.Warn("failed to read balance", slog.String("op", "generation.balanceError"), sl.User(userUID), sl.Err(err))
		return be
	}
	be.Balance = b.Balance
	return be
}
