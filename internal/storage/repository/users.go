package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/genbilling/internal/models"
)

// EnsureSubscriber лениво создаёт пользователя и его бесплатную подписку.
// Повторный вызов ничего не меняет, кроме заполнения пустого email.
func (s *Storage) EnsureSubscriber(ctx context.Context, userUID, email string) error {
	const op = "storage.EnsureSubscriber"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (uid, email, subscription_tier, subscription_status)
			VALUES ($1, NULLIF($2, ''), 'free', 'active')
			ON CONFLICT (uid) DO UPDATE SET email = COALESCE(users.email, EXCLUDED.email)`,
			userUID, email); err != nil {
			return classify(err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO subscriptions (user_uid)
			VALUES ($1)
			ON CONFLICT (user_uid) DO NOTHING`, userUID); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSubscriber возвращает пользователя по его UID.
func (s *Storage) GetSubscriber(ctx context.Context, userUID string) (*models.Subscriber, error) {
	const op = "storage.GetSubscriber"

	var u models.Subscriber
	var email sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT uid, email, created_at FROM users WHERE uid = $1`, userUID).
		Scan(&u.UID, &email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	u.Email = email.String
	return &u, nil
}

// WriteLegacy перезаписывает устаревшие поля подписки в таблице users.
func (s *Storage) WriteLegacy(ctx context.Context, legacy models.LegacySubscription) error {
	const op = "storage.WriteLegacy"

	res, err := s.DB.ExecContext(ctx, `UPDATE users
		SET subscription_tier = $2,
		    subscription_status = $3,
		    trial_end_date = $4,
		    subscription_expiry = $5
		WHERE uid = $1`,
		legacy.UserUID, string(legacy.SubscriptionTier), string(legacy.SubscriptionStatus),
		nullTime(legacy.TrialEndDate), nullTime(legacy.SubscriptionExpiry))
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

// GetLegacy читает устаревшее представление подписки.
func (s *Storage) GetLegacy(ctx context.Context, userUID string) (*models.LegacySubscription, error) {
	const op = "storage.GetLegacy"

	var (
		tier, status        sql.NullString
		trialEnd, expiresAt sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, `SELECT subscription_tier, subscription_status, trial_end_date, subscription_expiry
		FROM users WHERE uid = $1`, userUID).Scan(&tier, &status, &trialEnd, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return &models.LegacySubscription{
		UserUID:            userUID,
		SubscriptionTier:   models.Tier(tier.String),
		SubscriptionStatus: models.Status(status.String),
		TrialEndDate:       timePtr(trialEnd),
		SubscriptionExpiry: timePtr(expiresAt),
	}, nil
}

// FindDivergent возвращает пользователей, у которых устаревшее представление
// расходится с канонической подпиской.
func (s *Storage) FindDivergent(ctx context.Context, limit int) ([]models.Divergence, error) {
	const op = "storage.FindDivergent"

	rows, err := s.DB.QueryContext(ctx, `SELECT s.user_uid, s.tier, s.status, u.subscription_tier, u.subscription_status
		FROM subscriptions s
		JOIN users u ON u.uid = s.user_uid
		WHERE u.subscription_tier IS DISTINCT FROM s.tier
		   OR u.subscription_status IS DISTINCT FROM s.status
		   OR u.trial_end_date IS DISTINCT FROM s.trial_ends_at
		   OR u.subscription_expiry IS DISTINCT FROM s.current_period_end
		ORDER BY s.user_uid
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Divergence
	for rows.Next() {
		var d models.Divergence
		var legacyTier, legacyStatus sql.NullString
		if err = rows.Scan(&d.UserUID, &d.CanonicalTier, &d.CanonicalStatus, &legacyTier, &legacyStatus); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		d.LegacyTier = models.Tier(legacyTier.String)
		d.LegacyStatus = models.Status(legacyStatus.String)
		result = append(result, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
