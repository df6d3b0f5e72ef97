package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/genbilling/internal/models"
)

const (
	directionCredit = "credit"
	directionDebit  = "debit"
)

const transactionColumns = `id, user_uid, type, amount, balance_after, reference_id, source, metadata, created_at`

func scanTransaction(row rowScanner) (*models.CreditTransaction, error) {
	var (
		t        models.CreditTransaction
		metadata []byte
	)
	if err := row.Scan(&t.ID, &t.UserUID, &t.Type, &t.Amount, &t.BalanceAfter,
		&t.ReferenceID, &t.Source, &metadata, &t.CreatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &t, nil
}

func findTransaction(ctx context.Context, q querier, typ models.TransactionType, referenceID string) (*models.CreditTransaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx, `SELECT `+transactionColumns+`
		FROM credit_transactions WHERE type = $1 AND reference_id = $2`, string(typ), referenceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, classify(err)
	}
	return t, nil
}

func insertTransaction(ctx context.Context, q querier, e models.LedgerEntry, balanceAfter int64) (*models.CreditTransaction, error) {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	t, err := scanTransaction(q.QueryRowContext(ctx, `INSERT INTO credit_transactions
		(id, user_uid, type, amount, balance_after, reference_id, source, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+transactionColumns,
		uuid.NewString(), e.UserUID, string(e.Type), e.Amount, balanceAfter, e.ReferenceID, e.Source, raw))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Операции с баллами увеличивают версию строки, чтобы версия кэша
// подписки отражала и изменения баланса.

// credit увеличивает баланс и заработанные баллы.
func credit(ctx context.Context, q querier, userUID string, amount int64) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx, `UPDATE subscriptions
		SET points_balance = points_balance + $1,
		    points_lifetime_earned = points_lifetime_earned + $1,
		    version = version + 1, updated_at = NOW()
		WHERE user_uid = $2
		RETURNING points_balance`, amount, userUID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, classify(err)
	}
	return balance, nil
}

// debit списывает баллы одним условным обновлением: строка меняется, только
// если баланса хватает, поэтому параллельные списания не уводят его в минус.
func debit(ctx context.Context, q querier, userUID string, amount int64) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx, `UPDATE subscriptions
		SET points_balance = points_balance - $1,
		    points_lifetime_spent = points_lifetime_spent + $1,
		    version = version + 1, updated_at = NOW()
		WHERE user_uid = $2 AND points_balance >= $1
		RETURNING points_balance`, amount, userUID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classify(err)
	}

	var exists bool
	if err = q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_uid = $1)`, userUID).
		Scan(&exists); err != nil {
		return 0, classify(err)
	}
	if !exists {
		return 0, models.ErrNotFound
	}
	return 0, models.ErrInsufficientBalance
}

// restore возвращает ранее списанные баллы.
func restore(ctx context.Context, q querier, userUID string, amount int64) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx, `UPDATE subscriptions
		SET points_balance = points_balance + $1,
		    points_lifetime_spent = points_lifetime_spent - $1,
		    version = version + 1, updated_at = NOW()
		WHERE user_uid = $2
		RETURNING points_balance`, amount, userUID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, classify(err)
	}
	return balance, nil
}

// applyEntry выполняет операцию журнала в транзакции. Повтор с той же парой
// (тип, reference) возвращает исходную запись и applied=false.
func (s *Storage) applyEntry(ctx context.Context, e models.LedgerEntry,
	move func(ctx context.Context, q querier) (int64, error)) (*models.CreditTransaction, bool, error) {
	var (
		result  *models.CreditTransaction
		applied bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := findTransaction(ctx, tx, e.Type, e.ReferenceID)
		switch {
		case err == nil:
			result = existing
			return nil
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		balance, err := move(ctx, tx)
		if err != nil {
			return err
		}
		result, err = insertTransaction(ctx, tx, e, balance)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// Параллельная операция с тем же reference успела первой.
		existing, findErr := findTransaction(ctx, s.DB, e.Type, e.ReferenceID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	return result, applied, nil
}

// Grant начисляет баллы. Идемпотентна по referenceID.
func (s *Storage) Grant(ctx context.Context, e models.LedgerEntry) (*models.CreditTransaction, bool, error) {
	const op = "storage.Grant"

	e.Type = models.TxGrant
	t, applied, err := s.applyEntry(ctx, e, func(ctx context.Context, q querier) (int64, error) {
		return credit(ctx, q, e.UserUID, e.Amount)
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return t, applied, nil
}

// Deduct списывает баллы. Идемпотентна по referenceID; при нехватке
// баланса возвращает ErrInsufficientBalance и ничего не меняет.
func (s *Storage) Deduct(ctx context.Context, e models.LedgerEntry) (*models.CreditTransaction, bool, error) {
	const op = "storage.Deduct"

	e.Type = models.TxSpend
	t, applied, err := s.applyEntry(ctx, e, func(ctx context.Context, q querier) (int64, error) {
		return debit(ctx, q, e.UserUID, e.Amount)
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return t, applied, nil
}

// Refund возвращает баллы списания пользователя userUID с тем же
// referenceID. Списание другого пользователя не находится. Повторный
// возврат ничего не меняет.
func (s *Storage) Refund(ctx context.Context, userUID, referenceID, source string) (*models.CreditTransaction, bool, error) {
	const op = "storage.Refund"

	spend, err := findTransaction(ctx, s.DB, models.TxSpend, referenceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, false, fmt.Errorf("%s: %w", op, models.ErrSpendNotFound)
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if spend.UserUID != userUID {
		return nil, false, fmt.Errorf("%s: %w", op, models.ErrSpendNotFound)
	}

	e := models.LedgerEntry{
		UserUID:     spend.UserUID,
		Type:        models.TxRefund,
		Amount:      spend.Amount,
		ReferenceID: referenceID,
		Source:      source,
		Metadata:    map[string]string{"spend_id": spend.ID},
	}
	t, applied, err := s.applyEntry(ctx, e, func(ctx context.Context, q querier) (int64, error) {
		return restore(ctx, q, e.UserUID, e.Amount)
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return t, applied, nil
}

// Adjust выполняет ручную корректировку. Положительная delta учитывается
// как заработанные баллы, отрицательная как потраченные.
func (s *Storage) Adjust(ctx context.Context, userUID string, delta int64, referenceID, reason string) (*models.CreditTransaction, bool, error) {
	const op = "storage.Adjust"

	if delta == 0 {
		return nil, false, fmt.Errorf("%s: %w", op, models.ErrInvalidAmount)
	}
	e := models.LedgerEntry{
		UserUID:     userUID,
		Type:        models.TxAdminAdjust,
		Amount:      delta,
		ReferenceID: referenceID,
		Source:      "admin",
		Metadata:    map[string]string{"direction": directionCredit, "reason": reason},
	}
	move := func(ctx context.Context, q querier) (int64, error) {
		return credit(ctx, q, userUID, delta)
	}
	if delta < 0 {
		e.Amount = -delta
		e.Metadata["direction"] = directionDebit
		move = func(ctx context.Context, q querier) (int64, error) {
			return debit(ctx, q, userUID, -delta)
		}
	}

	t, applied, err := s.applyEntry(ctx, e, move)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return t, applied, nil
}

// GetBalance возвращает снимок баланса пользователя.
func (s *Storage) GetBalance(ctx context.Context, userUID string) (*models.Balance, error) {
	const op = "storage.GetBalance"

	b := models.Balance{UserUID: userUID}
	err := s.DB.QueryRowContext(ctx, `SELECT points_balance, points_lifetime_earned, points_lifetime_spent
		FROM subscriptions WHERE user_uid = $1`, userUID).
		Scan(&b.Balance, &b.LifetimeEarned, &b.LifetimeSpent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return &b, nil
}

// ListTransactions возвращает последние записи журнала пользователя.
func (s *Storage) ListTransactions(ctx context.Context, userUID string, limit int) ([]*models.CreditTransaction, error) {
	const op = "storage.ListTransactions"

	rows, err := s.DB.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE user_uid = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, userUID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// FindLedgerMismatches сверяет баланс с суммой записей журнала.
func (s *Storage) FindLedgerMismatches(ctx context.Context, limit int) ([]models.LedgerMismatch, error) {
	const op = "storage.FindLedgerMismatches"

	rows, err := s.DB.QueryContext(ctx, `WITH journal AS (
			SELECT user_uid,
			       SUM(CASE
			           WHEN type IN ('grant', 'refund') THEN amount
			           WHEN type = 'spend' THEN -amount
			           WHEN type = 'admin_adjust' AND metadata->>'direction' = 'debit' THEN -amount
			           ELSE amount
			       END) AS total
			FROM credit_transactions
			GROUP BY user_uid
		)
		SELECT s.user_uid, s.points_balance, COALESCE(j.total, 0)
		FROM subscriptions s
		LEFT JOIN journal j ON j.user_uid = s.user_uid
		WHERE s.points_balance <> COALESCE(j.total, 0)
		ORDER BY s.user_uid
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.LedgerMismatch
	for rows.Next() {
		var m models.LedgerMismatch
		if err = rows.Scan(&m.UserUID, &m.Balance, &m.JournalTotal); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
