// Package ledger реализует кредитный журнал: начисление, списание и возврат
// баллов. Каждая операция идемпотентна по reference и повторяется при
// конфликте параллельной записи.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/metrics"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// ErrUnknownGenerationType — для вида генерации не настроена стоимость.
var ErrUnknownGenerationType = errors.New("unknown generation type")

// Repository определяет операции хранилища, нужные журналу.
type Repository interface {
	Grant(ctx context.Context, e models.LedgerEntry) (*models.CreditTransaction, bool, error)
	Deduct(ctx context.Context, e models.LedgerEntry) (*models.CreditTransaction, bool, error)
	Refund(ctx context.Context, userUID, referenceID, source string) (*models.CreditTransaction, bool, error)
	Adjust(ctx context.Context, userUID string, delta int64, referenceID, reason string) (*models.CreditTransaction, bool, error)
	GetBalance(ctx context.Context, userUID string) (*models.Balance, error)
	ListTransactions(ctx context.Context, userUID string, limit int) ([]*models.CreditTransaction, error)
	RecordGeneration(ctx context.Context, g models.Generation) (*models.GenerationResult, error)
}

// Refresher обновляет кэшированную подписку после изменения баланса.
type Refresher interface {
	Refresh(ctx context.Context, userUID string) error
}

// Service — кредитный журнал.
type Service struct {
	repo    Repository
	cfg     config.Ledger
	costs   config.Costs
	refresh Refresher
	log     *slog.Logger
}

// New создаёт журнал.
func New(repo Repository, cfg config.Ledger, costs config.Costs, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cfg:   cfg,
		costs: costs,
		log:   log,
	}
}

// WithRefresher подключает обновление кэша подписки после операций с баллами.
func (s *Service) WithRefresher(r Refresher) *Service {
	s.refresh = r
	return s
}

// refreshCache обновляет кэш подписки. Ошибка не отменяет операцию журнала:
// запись уже зафиксирована в базе.
func (s *Service) refreshCache(ctx context.Context, userUID string) {
	if s.refresh == nil {
		return
	}
	if err := s.refresh.Refresh(ctx, userUID); err != nil {
		s.log.Warn("failed to refresh cached subscription", slog.String("op", "ledger.refreshCache"),
			sl.User(userUID), sl.Err(err))
	}
}

// retry повторяет fn при ErrConcurrencyConflict с экспоненциальной задержкой.
// Остальные ошибки возвращаются сразу.
func (s *Service) retry(ctx context.Context, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	if s.cfg.InitialBackoff > 0 {
		exp.InitialInterval = s.cfg.InitialBackoff
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, s.cfg.MaxRetries), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrConcurrencyConflict) {
			metrics.LedgerRetriesTotal.Inc()
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func record(typ models.TransactionType, applied bool, err error) {
	switch {
	case err != nil:
		metrics.RecordLedger(string(typ), "error")
	case applied:
		metrics.RecordLedger(string(typ), "applied")
	default:
		metrics.RecordLedger(string(typ), "replayed")
	}
}

// Grant начисляет баллы. Повтор с тем же referenceID возвращает исходную запись.
func (s *Service) Grant(ctx context.Context, userUID string, amount int64, source, referenceID string) (*models.CreditTransaction, error) {
	const op = "ledger.Grant"
	log := s.log.With(slog.String("op", op), sl.User(userUID), slog.String("reference_id", referenceID))

	if amount <= 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidAmount)
	}

	var (
		t       *models.CreditTransaction
		applied bool
	)
	err := s.retry(ctx, func() error {
		var err error
		t, applied, err = s.repo.Grant(ctx, models.LedgerEntry{
			UserUID:     userUID,
			Amount:      amount,
			ReferenceID: referenceID,
			Source:      source,
		})
		return err
	})
	record(models.TxGrant, applied, err)
	if err != nil {
		log.Error("failed to grant credits", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if applied {
		log.Info("credits granted", slog.Int64("amount", amount), slog.Int64("balance", t.BalanceAfter))
		s.refreshCache(ctx, userUID)
	}
	return t, nil
}

// Deduct списывает баллы. При нехватке баланса возвращает ErrInsufficientBalance.
func (s *Service) Deduct(ctx context.Context, userUID string, amount int64, referenceID string, metadata map[string]string) (*models.CreditTransaction, error) {
	const op = "ledger.Deduct"
	log := s.log.With(slog.String("op", op), sl.User(userUID), slog.String("reference_id", referenceID))

	if amount <= 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidAmount)
	}

	var (
		t       *models.CreditTransaction
		applied bool
	)
	err := s.retry(ctx, func() error {
		var err error
		t, applied, err = s.repo.Deduct(ctx, models.LedgerEntry{
			UserUID:     userUID,
			Amount:      amount,
			ReferenceID: referenceID,
			Source:      "generation",
			Metadata:    metadata,
		})
		return err
	})
	record(models.TxSpend, applied, err)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			log.Info("insufficient balance", slog.Int64("amount", amount))
		} else {
			log.Error("failed to deduct credits", sl.Err(err))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if applied {
		s.refreshCache(ctx, userUID)
	}
	return t, nil
}

// Refund возвращает баллы исходного списания пользователя userUID с тем же
// referenceID. Списание другого пользователя возвращает ErrSpendNotFound.
func (s *Service) Refund(ctx context.Context, userUID, referenceID, source string) (*models.CreditTransaction, error) {
	const op = "ledger.Refund"
	log := s.log.With(slog.String("op", op), sl.User(userUID), slog.String("reference_id", referenceID))

	var (
		t       *models.CreditTransaction
		applied bool
	)
	err := s.retry(ctx, func() error {
		var err error
		t, applied, err = s.repo.Refund(ctx, userUID, referenceID, source)
		return err
	})
	record(models.TxRefund, applied, err)
	if err != nil {
		if !errors.Is(err, models.ErrSpendNotFound) {
			log.Error("failed to refund credits", sl.Err(err))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if applied {
		log.Info("credits refunded", slog.Int64("amount", t.Amount))
		s.refreshCache(ctx, userUID)
	}
	return t, nil
}

// Adjust выполняет ручную корректировку баланса на delta.
func (s *Service) Adjust(ctx context.Context, userUID string, delta int64, referenceID, reason string) (*models.CreditTransaction, error) {
	const op = "ledger.Adjust"

	var (
		t       *models.CreditTransaction
		applied bool
	)
	err := s.retry(ctx, func() error {
		var err error
		t, applied, err = s.repo.Adjust(ctx, userUID, delta, referenceID, reason)
		return err
	})
	record(models.TxAdminAdjust, applied, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if applied {
		s.log.Warn("balance adjusted", slog.String("op", op), sl.User(userUID),
			slog.Int64("delta", delta), slog.String("reason", reason))
		s.refreshCache(ctx, userUID)
	}
	return t, nil
}

// Balance возвращает текущий баланс.
func (s *Service) Balance(ctx context.Context, userUID string) (*models.Balance, error) {
	const op = "ledger.Balance"

	b, err := s.repo.GetBalance(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// History возвращает последние записи журнала; limit ограничен конфигурацией.
func (s *Service) History(ctx context.Context, userUID string, limit int) ([]*models.CreditTransaction, error) {
	const op = "ledger.History"

	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	list, err := s.repo.ListTransactions(ctx, userUID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// Cost возвращает стоимость генерации для тарифа: сначала переопределение
// тарифа, затем значение по умолчанию.
func (s *Service) Cost(tier models.Tier, typ models.GenerationType) (int64, error) {
	if perTier, ok := s.costs.PerTier[string(tier)]; ok {
		if cost, ok := perTier[string(typ)]; ok {
			return cost, nil
		}
	}
	if cost, ok := s.costs.Default[string(typ)]; ok {
		return cost, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownGenerationType, typ)
}

// RecordGeneration атомарно списывает баллы и учитывает генерацию.
func (s *Service) RecordGeneration(ctx context.Context, g models.Generation) (*models.GenerationResult, error) {
	const op = "ledger.RecordGeneration"

	var res *models.GenerationResult
	err := s.retry(ctx, func() error {
		var err error
		res, err = s.repo.RecordGeneration(ctx, g)
		return err
	})
	if g.Points > 0 {
		record(models.TxSpend, res != nil && !res.Replayed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.Spend != nil && !res.Replayed && g.Owner.IsUser() {
		s.refreshCache(ctx, g.Owner.ID)
	}
	return res, nil
}
