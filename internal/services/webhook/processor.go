// Package webhook применяет события платёжного провайдера к локальному
// состоянию ровно один раз. Провайдер доставляет события не менее одного
// раза и в произвольном порядке.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/metrics"
	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/services/subscription"
)

var (
	// ErrInvalidSignature — подпись отсутствует или не совпала.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload — тело не разбирается или не содержит id и eventType.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Outcome — итог обработки доставки.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeFlagged    Outcome = "flagged"
	OutcomeDeadLetter Outcome = "dead_letter"
	OutcomeFailed     Outcome = "failed"
)

// Repository — журнал событий и поиск подписчика.
type Repository interface {
	ClaimEvent(ctx context.Context, ev models.WebhookEvent, lease time.Duration) (int, error)
	MarkEvent(ctx context.Context, eventID string, status models.WebhookStatus, reason string) error
	EnsureSubscriber(ctx context.Context, userUID, email string) error
	GetSubscription(ctx context.Context, userUID string) (*models.Subscription, error)
	FindByExternalSubscriptionID(ctx context.Context, externalID string) (*models.Subscription, error)
	FindByExternalCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)
	FindStaleEvents(ctx context.Context, lease time.Duration, limit int) ([]models.WebhookEvent, error)
}

// Writer — единый путь записи подписки.
type Writer interface {
	Update(ctx context.Context, userUID, source string, mutate func(*models.Subscription) error) (*models.Subscription, error)
}

// Ledger начисляет баллы за оплаченный период.
type Ledger interface {
	Grant(ctx context.Context, userUID string, amount int64, source, referenceID string) (*models.CreditTransaction, error)
}

// Resolver разрешает тариф события.
type Resolver interface {
	ResolveEvent(productID, planID, intervalHint string) (models.Tier, models.BillingCycle, error)
}

// Publisher публикует доменные события.
type Publisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// Result — итог обработки доставки.
type Result struct {
	EventID   string
	EventType string
	UserUID   string
	Outcome   Outcome
	Reason    string
}

// Processor обрабатывает вебхуки.
type Processor struct {
	repo       Repository
	writer     Writer
	ledger     Ledger
	resolver   Resolver
	events     Publisher
	cfg        config.Webhook
	allotments config.Allotments
	log        *slog.Logger
	now        func() time.Time
}

// New создаёт Processor.
func New(repo Repository, writer Writer, ledger Ledger, resolver Resolver, events Publisher,
	cfg config.Webhook, allotments config.Allotments, log *slog.Logger) *Processor {
	return &Processor{
		repo:       repo,
		writer:     writer,
		ledger:     ledger,
		resolver:   resolver,
		events:     events,
		cfg:        cfg,
		allotments: allotments,
		log:        log,
		now:        time.Now,
	}
}

// WithClock подменяет источник времени.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process проверяет подпись, занимает событие в журнале и применяет его.
// Ошибка после занятия события означает, что провайдер должен повторить
// доставку.
func (p *Processor) Process(ctx context.Context, body []byte, signature string) (*Result, error) {
	const op = "webhook.Process"

	if !VerifySignature(p.cfg.Secret, body, signature) {
		return nil, ErrInvalidSignature
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformedPayload, err)
	}
	if payload.ID == "" || payload.EventType == "" {
		return nil, fmt.Errorf("%s: %w: missing id or eventType", op, ErrMalformedPayload)
	}

	res, err := p.handle(ctx, &payload, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// ReplayStale повторно применяет события, упавшие с ошибкой или брошенные
// получателем после истечения аренды, из сохранённого тела. Подпись уже
// проверена при первой доставке.
func (p *Processor) ReplayStale(ctx context.Context) (int, error) {
	const op = "webhook.ReplayStale"
	log := p.log.With(slog.String("op", op))

	stale, err := p.repo.FindStaleEvents(ctx, p.cfg.ClaimLease, p.cfg.ReplayBatch)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	replayed := 0
	for _, ev := range stale {
		if err := ctx.Err(); err != nil {
			return replayed, fmt.Errorf("%s: %w", op, err)
		}
		var payload Payload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ID == "" || payload.EventType == "" {
			log.Warn("stored webhook payload is unreadable", slog.String("event_id", ev.ProviderEventID))
			if markErr := p.repo.MarkEvent(ctx, ev.ProviderEventID, models.WebhookDeadLetter, "unreadable payload"); markErr != nil {
				log.Error("failed to mark webhook event", sl.Err(markErr))
			}
			continue
		}
		res, err := p.handle(ctx, &payload, ev.Payload)
		if err != nil {
			log.Warn("webhook replay failed", slog.String("event_id", ev.ProviderEventID), sl.Err(err))
			continue
		}
		if res.Outcome != OutcomeDuplicate {
			replayed++
		}
	}
	if replayed > 0 {
		log.Info("stale webhooks replayed", slog.Int("count", replayed))
	}
	return replayed, nil
}

// handle занимает событие и применяет его. Событие, которое ещё
// обрабатывается другим получателем, возвращает ErrEventInFlight.
func (p *Processor) handle(ctx context.Context, payload *Payload, body []byte) (*Result, error) {
	const op = "webhook.handle"
	log := p.log.With(slog.String("op", op),
		slog.String("event_id", payload.ID), slog.String("event_type", payload.EventType))

	attempts, err := p.repo.ClaimEvent(ctx, models.WebhookEvent{
		ProviderEventID: payload.ID,
		EventType:       payload.EventType,
		Payload:         body,
	}, p.cfg.ClaimLease)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateEvent):
			log.Info("duplicate webhook skipped")
			metrics.RecordWebhook(payload.EventType, string(OutcomeDuplicate))
			return &Result{EventID: payload.ID, EventType: payload.EventType, Outcome: OutcomeDuplicate}, nil
		case errors.Is(err, models.ErrEventInFlight):
			log.Info("webhook is being processed elsewhere")
			metrics.RecordWebhook(payload.EventType, "in_flight")
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Error("failed to claim webhook event", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res, err := p.apply(ctx, payload, attempts)
	if err != nil {
		if p.cfg.MaxRetries > 0 && attempts >= p.cfg.MaxRetries {
			log.Error("webhook retries exhausted", slog.Int("attempts", attempts), sl.Err(err))
			res = &Result{Outcome: OutcomeDeadLetter, Reason: err.Error()}
			p.review(ctx, payload, "", res.Reason)
		} else {
			log.Error("failed to apply webhook", slog.Int("attempts", attempts), sl.Err(err))
			if markErr := p.repo.MarkEvent(ctx, payload.ID, models.WebhookFailed, err.Error()); markErr != nil {
				log.Error("failed to mark webhook event failed", sl.Err(markErr))
			}
			metrics.RecordWebhook(payload.EventType, string(OutcomeFailed))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	res.EventID = payload.ID
	res.EventType = payload.EventType

	if err := p.repo.MarkEvent(ctx, payload.ID, statusOf(res.Outcome), res.Reason); err != nil {
		log.Error("failed to mark webhook event", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.RecordWebhook(payload.EventType, string(res.Outcome))
	log.Info("webhook processed", slog.String("outcome", string(res.Outcome)), sl.User(res.UserUID))
	return res, nil
}

func statusOf(o Outcome) models.WebhookStatus {
	switch o {
	case OutcomeFlagged:
		return models.WebhookFlagged
	case OutcomeDeadLetter:
		return models.WebhookDeadLetter
	default:
		return models.WebhookApplied
	}
}

func (p *Processor) apply(ctx context.Context, payload *Payload, attempts int) (*Result, error) {
	switch payload.EventType {
	case EventRefundCreated, EventDisputeCreated, EventPaymentFailed:
		return p.alert(ctx, payload)
	case EventTrialWillEnd:
		return p.trialEnding(ctx, payload)
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionActive,
		EventSubscriptionUpdate, EventSubscriptionPaid, EventSubscriptionCanceled,
		EventSubscriptionExpired, EventTrialEnded, EventSubscriptionPaused:
		return p.applySubscription(ctx, payload, attempts)
	default:
		return &Result{Outcome: OutcomeDeadLetter, Reason: "unsupported event type"}, nil
	}
}

// resolveSubscriber ищет пользователя по metadata.userId, затем по
// идентификатору подписки, затем по идентификатору покупателя.
func (p *Processor) resolveSubscriber(ctx context.Context, payload *Payload) (*models.Subscription, error) {
	if uid := payload.metadata("userId"); uid != "" {
		if err := p.repo.EnsureSubscriber(ctx, uid, payload.customer().Email); err != nil {
			return nil, err
		}
		return p.repo.GetSubscription(ctx, uid)
	}

	if sub := payload.subscription(); sub != nil && sub.ID != "" {
		found, err := p.repo.FindByExternalSubscriptionID(ctx, sub.ID)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	if customerID := payload.customer().ID; customerID != "" {
		return p.repo.FindByExternalCustomerID(ctx, customerID)
	}
	return nil, models.ErrNotFound
}

func (p *Processor) applySubscription(ctx context.Context, payload *Payload, attempts int) (*Result, error) {
	const op = "webhook.applySubscription"

	current, err := p.resolveSubscriber(ctx, payload)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return p.flag(ctx, payload, "", "subscriber not found"), nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	uid := current.UserUID

	plan, err := p.planOf(payload)
	if err != nil {
		return p.flag(ctx, payload, uid, err.Error()), nil
	}

	now := p.now()
	mutate := p.mutation(payload, plan, now)
	var eventStart *time.Time
	if obj := payload.subscription(); obj != nil && obj.CurrentPeriodStart != nil {
		eventStart = models.Ptr(obj.CurrentPeriodStart.UTC())
	}

	// Решение о начислении принимается внутри CAS-изменения: при конфликте
	// версий оно пересчитывается по свежей записи.
	var granted, unchanged bool
	source := "webhook:" + payload.EventType
	saved, err := p.writer.Update(ctx, uid, source, func(s *models.Subscription) error {
		granted, unchanged = false, false
		if err := mutate(s); err != nil {
			if errors.Is(err, subscription.ErrUnchanged) {
				unchanged = true
			}
			return err
		}
		granted = p.assignAllotment(s, eventStart, payload.ID, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Повторная доставка досписывает начисление, сохранённое прошлой попыткой.
	settle := granted || (attempts > 1 && saved.Allotment.Tier.IsPaid())
	if a := saved.Allotment; settle && a.Reference != "" && a.Points > 0 {
		if _, err := p.ledger.Grant(ctx, uid, a.Points, source, a.Reference); err != nil {
			return nil, fmt.Errorf("%s: grant: %w", op, err)
		}
	}

	res := &Result{UserUID: uid, Outcome: OutcomeApplied}
	if unchanged {
		res.Reason = "no change"
	}
	return res, nil
}

// assignAllotment закрепляет начисление за тарифом и периодом подписки и
// сообщает, назначено ли новое начисление. Событие без периода назначает
// начисление с неизвестным периодом; первое событие с периодом того же
// тарифа принимает его без повторного начисления. Периоды раньше
// закреплённого не начисляются.
func (p *Processor) assignAllotment(s *models.Subscription, eventStart *time.Time, eventID string, now time.Time) bool {
	if !s.HasPaidAccess(now) || s.IsTrialing(now) {
		return false
	}
	cycle := models.CycleMonthly
	if s.BillingCycle != nil {
		cycle = *s.BillingCycle
	}
	points := p.allotment(s.Tier, cycle)
	if points <= 0 {
		return false
	}

	a := &s.Allotment
	if a.Tier == s.Tier {
		switch {
		case eventStart == nil:
			return false
		case a.PeriodStart == nil:
			a.PeriodStart = models.Ptr(*eventStart)
			return false
		case !eventStart.After(*a.PeriodStart):
			return false
		}
	}

	key := eventID
	if eventStart != nil {
		key = eventStart.Format(time.RFC3339)
	}
	*a = models.Allotment{
		Tier:        s.Tier,
		PeriodStart: clonePtr(eventStart),
		Reference:   "allotment:" + s.UserUID + ":" + string(s.Tier) + ":" + key,
		Points:      points,
	}
	return true
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return models.Ptr(*t)
}

func (p *Processor) allotment(t models.Tier, cycle models.BillingCycle) int64 {
	var a config.CycleAllotment
	switch t {
	case models.TierPro:
		a = p.allotments.Pro
	case models.TierProPlus:
		a = p.allotments.ProPlus
	default:
		return 0
	}
	if cycle == models.CycleYearly {
		return a.Yearly
	}
	return a.Monthly
}

func (p *Processor) alert(ctx context.Context, payload *Payload) (*Result, error) {
	uid := ""
	if sub, err := p.resolveSubscriber(ctx, payload); err == nil {
		uid = sub.UserUID
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	p.publish(ctx, models.DomainEvent{
		Type:    models.EventBillingAlert,
		UserUID: uid,
		Source:  "webhook:" + payload.EventType,
		Attributes: map[string]string{
			"eventId":   payload.ID,
			"eventType": payload.EventType,
			"objectId":  payload.Object.ID,
		},
	})
	return &Result{UserUID: uid, Outcome: OutcomeApplied}, nil
}

func (p *Processor) trialEnding(ctx context.Context, payload *Payload) (*Result, error) {
	sub, err := p.resolveSubscriber(ctx, payload)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return p.flag(ctx, payload, "", "subscriber not found"), nil
		}
		return nil, err
	}
	attrs := map[string]string{"eventId": payload.ID}
	if sub.TrialEndsAt != nil {
		attrs["trialEndsAt"] = sub.TrialEndsAt.UTC().Format(time.RFC3339)
	}
	p.publish(ctx, models.DomainEvent{
		Type:       models.EventTrialEnding,
		UserUID:    sub.UserUID,
		Tier:       sub.Tier,
		Status:     sub.Status,
		Source:     "webhook:" + payload.EventType,
		Attributes: attrs,
	})
	return &Result{UserUID: sub.UserUID, Outcome: OutcomeApplied}, nil
}

func (p *Processor) flag(ctx context.Context, payload *Payload, uid, reason string) *Result {
	p.log.Warn("webhook flagged for review", slog.String("op", "webhook.flag"),
		slog.String("event_id", payload.ID), slog.String("reason", reason), sl.User(uid))
	p.review(ctx, payload, uid, reason)
	return &Result{UserUID: uid, Outcome: OutcomeFlagged, Reason: reason}
}

func (p *Processor) review(ctx context.Context, payload *Payload, uid, reason string) {
	p.publish(ctx, models.DomainEvent{
		Type:    models.EventWebhookReview,
		UserUID: uid,
		Source:  "webhook:" + payload.EventType,
		Attributes: map[string]string{
			"eventId":   payload.ID,
			"eventType": payload.EventType,
			"reason":    reason,
			"productId": payload.product().ID,
		},
	})
}

func (p *Processor) publish(ctx context.Context, event models.DomainEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	if err := p.events.Publish(ctx, event); err != nil {
		p.log.Error("failed to publish event", slog.String("op", "webhook.publish"),
			slog.String("type", event.Type), sl.Err(err))
	}
}
