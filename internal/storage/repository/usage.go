package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/genbilling/internal/lib/month"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

func incrementUsage(ctx context.Context, q querier, owner models.Owner, day time.Time, amount int) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `INSERT INTO usage_records (owner_kind, owner_id, usage_date, generation_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_kind, owner_id, usage_date)
		DO UPDATE SET generation_count = usage_records.generation_count + EXCLUDED.generation_count,
		              updated_at = NOW()
		RETURNING generation_count`,
		string(owner.Kind), owner.ID, month.StartOfDay(day), amount).Scan(&count)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

func usageBetween(ctx context.Context, q querier, owner models.Owner, from, to time.Time) (int, error) {
	var total int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(generation_count), 0)
		FROM usage_records
		WHERE owner_kind = $1 AND owner_id = $2 AND usage_date >= $3 AND usage_date < $4`,
		string(owner.Kind), owner.ID, month.StartOfDay(from), month.StartOfDay(to)).Scan(&total)
	if err != nil {
		return 0, classify(err)
	}
	return total, nil
}

// IncrementUsage атомарно увеличивает дневной счётчик и возвращает новое значение.
func (s *Storage) IncrementUsage(ctx context.Context, owner models.Owner, day time.Time, amount int) (int, error) {
	const op = "storage.IncrementUsage"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	count, err := incrementUsage(ctx, s.DB, owner, day, amount)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// UsageBetween суммирует счётчики за дни [from, to).
func (s *Storage) UsageBetween(ctx context.Context, owner models.Owner, from, to time.Time) (int, error) {
	const op = "storage.UsageBetween"

	total, err := usageBetween(ctx, s.DB, owner, from, to)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return total, nil
}

// GenerationsSince считает генерации владельца, зафиксированные не раньше from.
// В отличие от дневных счётчиков учитывает точное время.
func (s *Storage) GenerationsSince(ctx context.Context, owner models.Owner, from time.Time) (int, error) {
	const op = "storage.GenerationsSince"

	var total int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*)
		FROM generation_events
		WHERE owner_kind = $1 AND owner_id = $2 AND created_at >= $3`,
		string(owner.Kind), owner.ID, from.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}
	return total, nil
}

// MigrateSessionUsage переносит дневной счётчик сессии на пользователя.
// Строка сессии помечается migrated_to, поэтому повторный перенос ничего не добавляет.
func (s *Storage) MigrateSessionUsage(ctx context.Context, sessionID, userUID string, day time.Time) (int, error) {
	const op = "storage.MigrateSessionUsage"

	var merged int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx, `UPDATE usage_records
			SET migrated_to = $3, updated_at = NOW()
			WHERE owner_kind = 'session' AND owner_id = $1 AND usage_date = $2 AND migrated_to IS NULL
			RETURNING generation_count`, sessionID, month.StartOfDay(day), userUID).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return classify(err)
		}
		if count == 0 {
			return nil
		}
		if _, err = incrementUsage(ctx, tx, models.UserOwner(userUID), day, count); err != nil {
			return err
		}
		merged = count
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return merged, nil
}

// RecordGeneration в одной транзакции фиксирует генерацию, списывает баллы
// (если Points > 0) и увеличивает дневной счётчик. Повтор с тем же
// ReferenceID ничего не меняет и возвращает Replayed=true.
func (s *Storage) RecordGeneration(ctx context.Context, g models.Generation) (*models.GenerationResult, error) {
	const op = "storage.RecordGeneration"

	var result models.GenerationResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO generation_events
			(reference_id, owner_kind, owner_id, generation_type, points_charged)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (reference_id) DO NOTHING`,
			g.ReferenceID, string(g.Owner.Kind), g.Owner.ID, string(g.Type), g.Points)
		if err != nil {
			return classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			result.Replayed = true
			return s.loadReplay(ctx, tx, g, &result)
		}

		if g.Points > 0 {
			balance, err := debit(ctx, tx, g.Owner.ID, g.Points)
			if err != nil {
				return err
			}
			result.Spend, err = insertTransaction(ctx, tx, models.LedgerEntry{
				UserUID:     g.Owner.ID,
				Type:        models.TxSpend,
				Amount:      g.Points,
				ReferenceID: g.ReferenceID,
				Source:      "generation",
				Metadata:    map[string]string{"generation_type": string(g.Type)},
			}, balance)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: spend %s already recorded", models.ErrConcurrencyConflict, g.ReferenceID)
				}
				return classify(err)
			}
		}

		result.Count, err = incrementUsage(ctx, tx, g.Owner, g.Day, 1)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

func (s *Storage) loadReplay(ctx context.Context, q querier, g models.Generation, result *models.GenerationResult) error {
	day := month.StartOfDay(g.Day)
	count, err := usageBetween(ctx, q, g.Owner, day, day.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	result.Count = count

	spend, err := findTransaction(ctx, q, models.TxSpend, g.ReferenceID)
	switch {
	case err == nil:
		result.Spend = spend
	case !errors.Is(err, models.ErrNotFound):
		return err
	}
	return nil
}
