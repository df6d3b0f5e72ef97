package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/genbilling/internal/models"
)

const subscriptionColumns = `user_uid, tier, status, previous_tier, billing_cycle,
	external_subscription_id, external_customer_id, current_period_start, current_period_end,
	cancel_at_period_end, trial_started_at, trial_ends_at, had_trial,
	points_balance, points_lifetime_earned, points_lifetime_spent,
	allotment_tier, allotment_period_start, allotment_reference, allotment_points, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub                      models.Subscription
		previousTier, cycle      sql.NullString
		externalSub, externalCus sql.NullString
		periodStart, periodEnd   sql.NullTime
		trialStart, trialEnd     sql.NullTime
		allotmentStart           sql.NullTime
	)
	if err := row.Scan(&sub.UserUID, &sub.Tier, &sub.Status, &previousTier, &cycle,
		&externalSub, &externalCus, &periodStart, &periodEnd,
		&sub.CancelAtPeriodEnd, &trialStart, &trialEnd, &sub.HadTrial,
		&sub.PointsBalance, &sub.PointsLifetimeEarned, &sub.PointsLifetimeSpent,
		&sub.Allotment.Tier, &allotmentStart, &sub.Allotment.Reference, &sub.Allotment.Points,
		&sub.Version, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if previousTier.Valid {
		sub.PreviousTier = models.Ptr(models.Tier(previousTier.String))
	}
	if cycle.Valid {
		sub.BillingCycle = models.Ptr(models.BillingCycle(cycle.String))
	}
	sub.ExternalSubscriptionID = stringPtr(externalSub)
	sub.ExternalCustomerID = stringPtr(externalCus)
	sub.CurrentPeriodStart = timePtr(periodStart)
	sub.CurrentPeriodEnd = timePtr(periodEnd)
	sub.TrialStartedAt = timePtr(trialStart)
	sub.TrialEndsAt = timePtr(trialEnd)
	sub.Allotment.PeriodStart = timePtr(allotmentStart)
	return &sub, nil
}

// GetSubscription возвращает каноническую подписку пользователя.
func (s *Storage) GetSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	return s.findSubscription(ctx, op, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_uid = $1`, userUID)
}

// FindByExternalSubscriptionID ищет подписку по идентификатору подписки у провайдера.
func (s *Storage) FindByExternalSubscriptionID(ctx context.Context, externalID string) (*models.Subscription, error) {
	const op = "storage.FindByExternalSubscriptionID"
	return s.findSubscription(ctx, op,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_subscription_id = $1`, externalID)
}

// FindByExternalCustomerID ищет подписку по идентификатору покупателя у провайдера.
func (s *Storage) FindByExternalCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	const op = "storage.FindByExternalCustomerID"
	return s.findSubscription(ctx, op,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_customer_id = $1
		ORDER BY updated_at DESC LIMIT 1`, customerID)
}

func (s *Storage) findSubscription(ctx context.Context, op, query string, arg any) (*models.Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return sub, nil
}

// SaveSubscription сохраняет изменения подписки, если версия в базе совпадает
// с sub.Version. Поля баллов не перезаписываются: ими управляет журнал.
// Закреплённое начисление (Allotment) сохраняется вместе с периодом, к
// которому оно относится.
// При несовпадении версии возвращается ErrConcurrencyConflict.
func (s *Storage) SaveSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	const op = "storage.SaveSubscription"

	var previousTier, cycle sql.NullString
	if sub.PreviousTier != nil {
		previousTier = sql.NullString{String: string(*sub.PreviousTier), Valid: true}
	}
	if sub.BillingCycle != nil {
		cycle = sql.NullString{String: string(*sub.BillingCycle), Valid: true}
	}

	query := `UPDATE subscriptions
		SET tier = $2, status = $3, previous_tier = $4, billing_cycle = $5,
		    external_subscription_id = $6, external_customer_id = $7,
		    current_period_start = $8, current_period_end = $9, cancel_at_period_end = $10,
		    trial_started_at = $11, trial_ends_at = $12, had_trial = $13,
		    allotment_tier = $15, allotment_period_start = $16,
		    allotment_reference = $17, allotment_points = $18,
		    version = version + 1, updated_at = NOW()
		WHERE user_uid = $1 AND version = $14
		RETURNING ` + subscriptionColumns
	saved, err := scanSubscription(s.DB.QueryRowContext(ctx, query,
		sub.UserUID, string(sub.Tier), string(sub.Status), previousTier, cycle,
		nullString(sub.ExternalSubscriptionID), nullString(sub.ExternalCustomerID),
		nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd), sub.CancelAtPeriodEnd,
		nullTime(sub.TrialStartedAt), nullTime(sub.TrialEndsAt), sub.HadTrial,
		sub.Version,
		string(sub.Allotment.Tier), nullTime(sub.Allotment.PeriodStart),
		sub.Allotment.Reference, sub.Allotment.Points))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return saved, nil
}

// FindExpiredTrials возвращает подписки, у которых пробный период закончился к now.
func (s *Storage) FindExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	const op = "storage.FindExpiredTrials"
	return s.listSubscriptions(ctx, op, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'trialing' AND trial_ends_at <= $1
		ORDER BY trial_ends_at
		LIMIT $2`, now, limit)
}

// FindLapsedCancellations возвращает отменённые платные подписки с истёкшим периодом.
func (s *Storage) FindLapsedCancellations(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	const op = "storage.FindLapsedCancellations"
	return s.listSubscriptions(ctx, op, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'cancelled' AND tier <> 'free'
		  AND (current_period_end IS NULL OR current_period_end <= $1)
		ORDER BY current_period_end
		LIMIT $2`, now, limit)
}

func (s *Storage) listSubscriptions(ctx context.Context, op, query string, args ...any) ([]*models.Subscription, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
