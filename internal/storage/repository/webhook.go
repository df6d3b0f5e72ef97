package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/genbilling/internal/models"
)

// ClaimEvent занимает событие провайдера для обработки. Новое событие
// вставляется со статусом processing. Существующее занимается повторно только
// если прошлая попытка завершилась failed или её аренда истекла. Событие в
// статусе processing с действующей арендой возвращает ErrEventInFlight,
// завершённое событие возвращает ErrDuplicateEvent. Возвращает номер попытки.
func (s *Storage) ClaimEvent(ctx context.Context, ev models.WebhookEvent, lease time.Duration) (int, error) {
	const op = "storage.ClaimEvent"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var payload any
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}

	var attempts int
	err := s.DB.QueryRowContext(ctx, `INSERT INTO webhook_events
			(provider_event_id, event_type, status, attempts, payload, received_at, claimed_at)
		VALUES ($1, $2, 'processing', 1, $3, NOW(), NOW())
		ON CONFLICT (provider_event_id) DO UPDATE
		SET status = 'processing',
		    attempts = webhook_events.attempts + 1,
		    payload = EXCLUDED.payload,
		    error = NULL,
		    claimed_at = NOW()
		WHERE webhook_events.status = 'failed'
		   OR (webhook_events.status = 'processing'
		       AND webhook_events.claimed_at < NOW() - make_interval(secs => $4))
		RETURNING attempts`,
		ev.ProviderEventID, ev.EventType, payload, lease.Seconds()).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, s.claimConflict(ctx, ev.ProviderEventID))
		}
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}
	return attempts, nil
}

// claimConflict объясняет, почему событие не удалось занять.
func (s *Storage) claimConflict(ctx context.Context, eventID string) error {
	var status models.WebhookStatus
	err := s.DB.QueryRowContext(ctx,
		`SELECT status FROM webhook_events WHERE provider_event_id = $1`, eventID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrEventInFlight
		}
		return classify(err)
	}
	if status.Terminal() {
		return models.ErrDuplicateEvent
	}
	return models.ErrEventInFlight
}

// FindStaleEvents возвращает события с сохранённым телом, которые завершились
// failed или остались в processing дольше аренды.
func (s *Storage) FindStaleEvents(ctx context.Context, lease time.Duration, limit int) ([]models.WebhookEvent, error) {
	const op = "storage.FindStaleEvents"

	rows, err := s.DB.QueryContext(ctx, `SELECT provider_event_id, event_type, status, attempts, payload
		FROM webhook_events
		WHERE payload IS NOT NULL
		  AND (status = 'failed'
		       OR (status = 'processing' AND claimed_at < NOW() - make_interval(secs => $1)))
		ORDER BY claimed_at
		LIMIT $2`, lease.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.WebhookEvent
	for rows.Next() {
		var ev models.WebhookEvent
		if err = rows.Scan(&ev.ProviderEventID, &ev.EventType, &ev.Status, &ev.Attempts, &ev.Payload); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkEvent фиксирует итог обработки события.
func (s *Storage) MarkEvent(ctx context.Context, eventID string, status models.WebhookStatus, reason string) error {
	const op = "storage.MarkEvent"

	res, err := s.DB.ExecContext(ctx, `UPDATE webhook_events
		SET status = $2, error = NULLIF($3, ''), processed_at = NOW()
		WHERE provider_event_id = $1`, eventID, string(status), reason)
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

// GetEvent возвращает запись журнала вебхуков.
func (s *Storage) GetEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	const op = "storage.GetEvent"

	var (
		ev          models.WebhookEvent
		payload     []byte
		reason      sql.NullString
		processedAt sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, `SELECT provider_event_id, event_type, status, attempts, payload, error,
			received_at, claimed_at, processed_at
		FROM webhook_events WHERE provider_event_id = $1`, eventID).
		Scan(&ev.ProviderEventID, &ev.EventType, &ev.Status, &ev.Attempts, &payload, &reason,
			&ev.ReceivedAt, &ev.ClaimedAt, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	ev.Payload = payload
	ev.Error = reason.String
	ev.ProcessedAt = timePtr(processedAt)
	return &ev, nil
}

// CountEventsByStatus возвращает число событий в каждом статусе.
func (s *Storage) CountEventsByStatus(ctx context.Context) (map[models.WebhookStatus]int, error) {
	const op = "storage.CountEventsByStatus"

	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM webhook_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make(map[models.WebhookStatus]int)
	for rows.Next() {
		var (
			status models.WebhookStatus
			count  int
		)
		if err = rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result[status] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
