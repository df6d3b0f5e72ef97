package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/metrics"
	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/services/subscription"
	"github.com/magabrotheeeer/genbilling/internal/services/tier"
)

const testSecret = "whsec_test"

type RepoMock struct{ mock.Mock }

func (m *RepoMock) ClaimEvent(ctx context.Context, ev models.WebhookEvent, lease time.Duration) (int, error) {
	args := m.Called(ctx, ev, lease)
	return args.Int(0), args.Error(1)
}

func (m *RepoMock) MarkEvent(ctx context.Context, eventID string, status models.WebhookStatus, reason string) error {
	return m.Called(ctx, eventID, status, reason).Error(0)
}

func (m *RepoMock) EnsureSubscriber(ctx context.Context, userUID, email string) error {
	return m.Called(ctx, userUID, email).Error(0)
}

func (m *RepoMock) GetSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription).Clone(), args.Error(1)
}

func (m *RepoMock) FindByExternalSubscriptionID(ctx context.Context, externalID string) (*models.Subscription, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription).Clone(), args.Error(1)
}

func (m *RepoMock) FindByExternalCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription).Clone(), args.Error(1)
}

func (m *RepoMock) FindStaleEvents(ctx context.Context, lease time.Duration, limit int) ([]models.WebhookEvent, error) {
	args := m.Called(ctx, lease, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.WebhookEvent), args.Error(1)
}

type LedgerMock struct{ mock.Mock }

func (m *LedgerMock) Grant(ctx context.Context, userUID string, amount int64, source, referenceID string) (*models.CreditTransaction, error) {
	args := m.Called(ctx, userUID, amount, source, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreditTransaction), args.Error(1)
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, event models.DomainEvent) error {
	return m.Called(ctx, event).Error(0)
}

// fakeWriter применяет мутацию к подписке в памяти так же, как единый путь
// записи: при смене версии между чтением и сохранением мутация повторяется.
// beforeSave срабатывает один раз перед первым сохранением.
type fakeWriter struct {
	sub        *models.Subscription
	err        error
	calls      int
	beforeSave func()
}

func (w *fakeWriter) Update(_ context.Context, _ string, _ string, mutate func(*models.Subscription) error) (*models.Subscription, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	for {
		cur := w.sub
		next := cur.Clone()
		if err := mutate(next); err != nil {
			if errors.Is(err, subscription.ErrUnchanged) {
				return cur, nil
			}
			return nil, err
		}
		if hook := w.beforeSave; hook != nil {
			w.beforeSave = nil
			hook()
		}
		if w.sub.Version != cur.Version {
			continue
		}
		next.Version++
		w.sub = next
		return next, nil
	}
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

var (
	fixedNow    = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	periodStart = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo      *RepoMock
	ledger    *LedgerMock
	publisher *PublisherMock
	writer    *fakeWriter
	proc      *Processor
}

func newFixture(stored *models.Subscription) *fixture {
	f := &fixture{
		repo:      new(RepoMock),
		ledger:    new(LedgerMock),
		publisher: new(PublisherMock),
		writer:    &fakeWriter{sub: stored},
	}
	resolver := tier.New(config.Tiers{Products: []config.Product{
		{ID: "prod_pro_monthly", Tier: "pro", Cycle: "monthly"},
		{ID: "prod_pro_plus_yearly", Tier: "pro_plus", Cycle: "yearly"},
	}})
	f.proc = New(f.repo, f.writer, f.ledger, resolver, f.publisher,
		config.Webhook{Secret: testSecret, ClaimLease: time.Minute, MaxRetries: 3, ReplayBatch: 100},
		config.Allotments{
			Pro:     config.CycleAllotment{Monthly: 100, Yearly: 1200},
			ProPlus: config.CycleAllotment{Monthly: 300, Yearly: 3600},
		},
		newNoopLogger(),
	).WithClock(func() time.Time { return fixedNow })
	return f
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func checkoutBody(t *testing.T, eventID, productID string) []byte {
	return encode(t, map[string]any{
		"id":         eventID,
		"eventType":  EventCheckoutCompleted,
		"created_at": fixedNow.UnixMilli(),
		"object": map[string]any{
			"id":       "ch_1",
			"object":   "checkout",
			"status":   "completed",
			"product":  map[string]any{"id": productID, "billing_period": "every-month"},
			"customer": map[string]any{"id": "cus_1", "email": "user@example.com"},
			"metadata": map[string]string{"userId": "u1"},
			"subscription": map[string]any{
				"id":                        "sub_1",
				"object":                    "subscription",
				"status":                    "active",
				"current_period_start_date": periodStart.Format(time.RFC3339),
				"current_period_end_date":   periodEnd.Format(time.RFC3339),
			},
		},
	})
}

func subscriptionBody(t *testing.T, eventID, eventType string, obj map[string]any) []byte {
	base := map[string]any{"id": "sub_1", "object": "subscription", "customer": "cus_1"}
	for k, v := range obj {
		base[k] = v
	}
	return encode(t, map[string]any{
		"id":         eventID,
		"eventType":  eventType,
		"created_at": fixedNow.Format(time.RFC3339),
		"object":     base,
	})
}

func paidSubscription() *models.Subscription {
	return &models.Subscription{
		UserUID:                "u1",
		Tier:                   models.TierPro,
		Status:                 models.StatusActive,
		BillingCycle:           models.Ptr(models.CycleMonthly),
		ExternalSubscriptionID: models.Ptr("sub_1"),
		ExternalCustomerID:     models.Ptr("cus_1"),
		CurrentPeriodStart:     models.Ptr(periodStart),
		CurrentPeriodEnd:       models.Ptr(periodEnd),
		PointsBalance:          100,
		Allotment:              models.Allotment{
			Tier:        models.TierPro,
			PeriodStart: models.Ptr(periodStart),
			Reference:   "allotment:u1:pro:" + periodStart.Format(time.RFC3339),
			Points:      100,
		},
		Version: 3,
	}
}

func (f *fixture) expectClaim(eventID string, attempts int, err error) {
	f.repo.On("ClaimEvent", mock.Anything, mock.MatchedBy(func(ev models.WebhookEvent) bool {
		return ev.ProviderEventID == eventID
	}), time.Minute).Return(attempts, err).Once()
}

func TestProcessor_CheckoutCompleted(t *testing.T) {
	f := newFixture(models.NewFreeSubscription("u1"))
	body := checkoutBody(t, "evt_1", "prod_pro_monthly")
	before := testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventCheckoutCompleted, "applied"))

	f.expectClaim("evt_1", 1, nil)
	f.repo.On("EnsureSubscriber", mock.Anything, "u1", "user@example.com").Return(nil).Once()
	f.repo.On("GetSubscription", mock.Anything, "u1").Return(models.NewFreeSubscription("u1"), nil).Once()
	f.ledger.On("Grant", mock.Anything, "u1", int64(100), "webhook:checkout.completed", "allotment:u1:pro:2026-03-10T00:00:00Z").
		Return(&models.CreditTransaction{Amount: 100, BalanceAfter: 100}, nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_1", models.WebhookApplied, "").Return(nil).Once()

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "u1", res.UserUID)

	sub := f.writer.sub
	assert.Equal(t, models.TierPro, sub.Tier)
	assert.Equal(t, models.StatusActive, sub.Status)
	require.NotNil(t, sub.BillingCycle)
	assert.Equal(t, models.CycleMonthly, *sub.BillingCycle)
	assert.Equal(t, "sub_1", *sub.ExternalSubscriptionID)
	assert.Equal(t, "cus_1", *sub.ExternalCustomerID)
	assert.True(t, periodStart.Equal(*sub.CurrentPeriodStart))
	assert.True(t, periodEnd.Equal(*sub.CurrentPeriodEnd))
	require.NotNil(t, sub.PreviousTier)
	assert.Equal(t, models.TierFree, *sub.PreviousTier)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.True(t, sub.Allotment.Covers(models.TierPro, &periodStart))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventCheckoutCompleted, "applied")))
	f.repo.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
}

func TestProcessor_DuplicateDeliveryIsSkipped(t *testing.T) {
	f := newFixture(paidSubscription())
	body := checkoutBody(t, "evt_1", "prod_pro_monthly")

	f.expectClaim("evt_1", 0, models.ErrDuplicateEvent)

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Zero(t, f.writer.calls)
	f.ledger.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "MarkEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_RetryAfterGrantFailureSettlesSavedAllotment(t *testing.T) {
	f := newFixture(models.NewFreeSubscription("u1"))
	body := checkoutBody(t, "evt_1", "prod_pro_monthly")
	sig := Sign(testSecret, body)
	ref := "allotment:u1:pro:2026-03-10T00:00:00Z"

	f.expectClaim("evt_1", 1, nil)
	f.expectClaim("evt_1", 2, nil)
	f.repo.On("EnsureSubscriber", mock.Anything, "u1", "user@example.com").Return(nil).Twice()
	f.repo.On("GetSubscription", mock.Anything, "u1").Return(models.NewFreeSubscription("u1"), nil).Twice()
	f.ledger.On("Grant", mock.Anything, "u1", int64(100), "webhook:checkout.completed", ref).
		Return(nil, models.ErrStoreUnavailable).Once()
	f.ledger.On("Grant", mock.Anything, "u1", int64(100), "webhook:checkout.completed", ref).
		Return(&models.CreditTransaction{Amount: 100}, nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_1", models.WebhookFailed, mock.Anything).Return(nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_1", models.WebhookApplied, "").Return(nil).Once()

	_, err := f.proc.Process(context.Background(), body, sig)
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
	require.Equal(t, models.TierPro, f.writer.sub.Tier)
	version := f.writer.sub.Version

	res, err := f.proc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, version+1, f.writer.sub.Version)
	f.ledger.AssertNumberOfCalls(t, "Grant", 2)
	f.ledger.AssertExpectations(t)
	f.repo.AssertExpectations(t)
}

func TestProcessor_RetryAfterWriteFailure(t *testing.T) {
	f := newFixture(models.NewFreeSubscription("u1"))
	body := checkoutBody(t, "evt_1", "prod_pro_monthly")
	sig := Sign(testSecret, body)

	f.writer.err = models.ErrStoreUnavailable
	f.expectClaim("evt_1", 1, nil)
	f.expectClaim("evt_1", 2, nil)
	f.repo.On("EnsureSubscriber", mock.Anything, "u1", "user@example.com").Return(nil).Twice()
	f.repo.On("GetSubscription", mock.Anything, "u1").Return(models.NewFreeSubscription("u1"), nil).Twice()
	f.ledger.On("Grant", mock.Anything, "u1", int64(100), "webhook:checkout.completed", "allotment:u1:pro:2026-03-10T00:00:00Z").
		Return(&models.CreditTransaction{Amount: 100}, nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_1", models.WebhookFailed, mock.Anything).Return(nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_1", models.WebhookApplied, "").Return(nil).Once()

	_, err := f.proc.Process(context.Background(), body, sig)
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
	f.ledger.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.writer.err = nil
	res, err := f.proc.Process(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, models.TierPro, f.writer.sub.Tier)
	f.ledger.AssertExpectations(t)
	f.repo.AssertExpectations(t)
}

func TestProcessor_RetriesExhaustedGoToDeadLetter(t *testing.T) {
	f := newFixture(models.NewFreeSubscription("u1"))
	body := checkoutBody(t, "evt_1", "prod_pro_monthly")

	f.writer.err = models.ErrStoreUnavailable
	f.expectClaim("evt_1", 3, nil)
	f.repo.On("EnsureSubscriber", mock.Anything, "u1", "user@example.com").Return(nil).Once()
	f.repo.On("GetSubscription", mock.Anything, "u1").Return(models.NewFreeSubscription("u1"), nil).Once()
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e models.DomainEvent) bool {
		return e.Type == models.EventWebhookReview && e.Attributes["eventId"] == "evt_1"
	})).Return(nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_1", models.WebhookDeadLetter, mock.Anything).Return(nil).Once()

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLetter, res.Outcome)
	f.publisher.AssertExpectations(t)
	f.ledger.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_InFlightEventIsNotAcknowledged(t *testing.T) {
	f := newFixture(paidSubscription())
	body := checkoutBody(t, "evt_1", "prod_pro_monthly")

	f.expectClaim("evt_1", 0, models.ErrEventInFlight)

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.ErrorIs(t, err, models.ErrEventInFlight)
	assert.Nil(t, res)
	assert.Zero(t, f.writer.calls)
	f.repo.AssertNotCalled(t, "MarkEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.ledger.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_UnknownTierIsFlagged(t *testing.T) {
	f := newFixture(models.NewFreeSubscription("u1"))
	body := checkoutBody(t, "evt_2", "prod_xyz123")

	f.expectClaim("evt_2", 1, nil)
	f.repo.On("EnsureSubscriber", mock.Anything, "u1", "user@example.com").Return(nil).Once()
	f.repo.On("GetSubscription", mock.Anything, "u1").Return(models.NewFreeSubscription("u1"), nil).Once()
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e models.DomainEvent) bool {
		return e.Type == models.EventWebhookReview && e.UserUID == "u1" && e.Attributes["productId"] == "prod_xyz123"
	})).Return(nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_2", models.WebhookFlagged, mock.Anything).Return(nil).Once()

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFlagged, res.Outcome)
	assert.Zero(t, f.writer.calls)
	assert.Equal(t, models.TierFree, f.writer.sub.Tier)
	f.ledger.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_UnresolvedSubscriberIsFlagged(t *testing.T) {
	f := newFixture(nil)
	body := subscriptionBody(t, "evt_3", EventSubscriptionPaid, map[string]any{"id": "sub_unknown", "customer": "cus_unknown"})

	f.expectClaim("evt_3", 1, nil)
	f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_unknown").Return(nil, models.ErrNotFound).Once()
	f.repo.On("FindByExternalCustomerID", mock.Anything, "cus_unknown").Return(nil, models.ErrNotFound).Once()
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_3", models.WebhookFlagged, "subscriber not found").Return(nil).Once()

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFlagged, res.Outcome)
	f.repo.AssertExpectations(t)
}

func TestProcessor_RenewalGrantsOnlyForNewPeriod(t *testing.T) {
	nextStart := periodEnd
	nextEnd := periodEnd.AddDate(0, 1, 0)

	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantGrant bool
	}{
		{name: "new period", start: nextStart, end: nextEnd, wantGrant: true},
		{name: "same period", start: periodStart, end: periodEnd, wantGrant: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(paidSubscription())
			body := subscriptionBody(t, "evt_paid", EventSubscriptionPaid, map[string]any{
				"status":                    "active",
				"product":                   "prod_pro_monthly",
				"current_period_start_date": tt.start.Format(time.RFC3339),
				"current_period_end_date":   tt.end.Format(time.RFC3339),
			})

			f.expectClaim("evt_paid", 1, nil)
			f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(paidSubscription(), nil).Once()
			if tt.wantGrant {
				f.ledger.On("Grant", mock.Anything, "u1", int64(100), "webhook:subscription.paid", "allotment:u1:pro:2026-04-10T00:00:00Z").
					Return(&models.CreditTransaction{}, nil).Once()
			}
			f.repo.On("MarkEvent", mock.Anything, "evt_paid", models.WebhookApplied, "").Return(nil).Once()

			_, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
			require.NoError(t, err)
			assert.True(t, tt.start.Equal(*f.writer.sub.CurrentPeriodStart))
			if tt.wantGrant {
				f.ledger.AssertExpectations(t)
			} else {
				f.ledger.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func paidBody(t *testing.T, eventID, eventType string, start, end time.Time) []byte {
	return subscriptionBody(t, eventID, eventType, map[string]any{
		"status":                    "active",
		"product":                   "prod_pro_monthly",
		"current_period_start_date": start.Format(time.RFC3339),
		"current_period_end_date":   end.Format(time.RFC3339),
	})
}

func TestProcessor_CheckoutWithoutPeriodGrantsOncePerPeriod(t *testing.T) {
	f := newFixture(models.NewFreeSubscription("u1"))
	checkout := encode(t, map[string]any{
		"id":        "evt_co",
		"eventType": EventCheckoutCompleted,
		"object": map[string]any{
			"id":           "ch_1",
			"object":       "checkout",
			"product":      map[string]any{"id": "prod_pro_monthly"},
			"customer":     map[string]any{"id": "cus_1", "email": "user@example.com"},
			"metadata":     map[string]string{"userId": "u1"},
			"subscription": "sub_1",
		},
	})
	samePeriod := paidBody(t, "evt_paid_1", EventSubscriptionPaid, periodStart, periodEnd)
	nextStart := periodEnd
	nextPeriod := paidBody(t, "evt_paid_2", EventSubscriptionPaid, nextStart, nextStart.AddDate(0, 1, 0))

	for _, id := range []string{"evt_co", "evt_paid_1", "evt_paid_2"} {
		f.expectClaim(id, 1, nil)
		f.repo.On("MarkEvent", mock.Anything, id, models.WebhookApplied, "").Return(nil).Once()
	}
	f.repo.On("EnsureSubscriber", mock.Anything, "u1", "user@example.com").Return(nil).Once()
	f.repo.On("GetSubscription", mock.Anything, "u1").Return(models.NewFreeSubscription("u1"), nil).Once()
	f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(paidSubscription(), nil)
	f.ledger.On("Grant", mock.Anything, "u1", int64(100), "webhook:checkout.completed", "allotment:u1:pro:evt_co").
		Return(&models.CreditTransaction{}, nil).Once()
	f.ledger.On("Grant", mock.Anything, "u1", int64(100), "webhook:subscription.paid", "allotment:u1:pro:2026-04-10T00:00:00Z").
		Return(&models.CreditTransaction{}, nil).Once()

	for _, body := range [][]byte{checkout, samePeriod} {
		_, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
		require.NoError(t, err)
	}
	f.ledger.AssertNumberOfCalls(t, "Grant", 1)
	assert.True(t, f.writer.sub.Allotment.Covers(models.TierPro, &periodStart))
	assert.Equal(t, "allotment:u1:pro:evt_co", f.writer.sub.Allotment.Reference)

	_, err := f.proc.Process(context.Background(), nextPeriod, Sign(testSecret, nextPeriod))
	require.NoError(t, err)
	f.ledger.AssertNumberOfCalls(t, "Grant", 2)
	assert.True(t, f.writer.sub.Allotment.Covers(models.TierPro, &nextStart))
	f.ledger.AssertExpectations(t)
}

func TestProcessor_ConcurrentActivationAndRenewalGrantOnce(t *testing.T) {
	f := newFixture(models.NewFreeSubscription("u1"))
	active := paidBody(t, "evt_active", EventSubscriptionActive, periodStart, periodEnd)
	paid := paidBody(t, "evt_paid", EventSubscriptionPaid, periodStart, periodEnd)

	for _, id := range []string{"evt_active", "evt_paid"} {
		f.expectClaim(id, 1, nil)
		f.repo.On("MarkEvent", mock.Anything, id, models.WebhookApplied, "").Return(nil).Once()
	}
	f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(paidSubscription(), nil)
	f.ledger.On("Grant", mock.Anything, "u1", int64(100), mock.Anything, "allotment:u1:pro:2026-03-10T00:00:00Z").
		Return(&models.CreditTransaction{}, nil)

	// subscription.paid сохраняется между чтением и записью subscription.active.
	f.writer.beforeSave = func() {
		_, err := f.proc.Process(context.Background(), paid, Sign(testSecret, paid))
		require.NoError(t, err)
	}

	_, err := f.proc.Process(context.Background(), active, Sign(testSecret, active))
	require.NoError(t, err)

	f.ledger.AssertNumberOfCalls(t, "Grant", 1)
	f.ledger.AssertCalled(t, "Grant", mock.Anything, "u1", int64(100), "webhook:subscription.paid", "allotment:u1:pro:2026-03-10T00:00:00Z")
	assert.Equal(t, int64(2), f.writer.sub.Version)
	assert.True(t, f.writer.sub.Allotment.Covers(models.TierPro, &periodStart))
	f.repo.AssertExpectations(t)
}

func TestProcessor_TrialDoesNotGrant(t *testing.T) {
	f := newFixture(models.NewFreeSubscription("u1"))
	body := subscriptionBody(t, "evt_trial", EventSubscriptionCreated, map[string]any{
		"status":                    "trialing",
		"product":                   "prod_pro_monthly",
		"current_period_start_date": periodStart.Format(time.RFC3339),
		"current_period_end_date":   periodEnd.Format(time.RFC3339),
	})

	f.expectClaim("evt_trial", 1, nil)
	f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(paidSubscription(), nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_trial", models.WebhookApplied, "").Return(nil).Once()

	_, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrialing, f.writer.sub.Status)
	assert.Empty(t, f.writer.sub.Allotment.Reference)
	f.ledger.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_Canceled(t *testing.T) {
	tests := []struct {
		name       string
		periodEnd  time.Time
		wantTier   models.Tier
		wantExtSub bool
	}{
		{name: "period still running keeps tier", periodEnd: periodEnd, wantTier: models.TierPro, wantExtSub: true},
		{name: "period over downgrades", periodEnd: fixedNow.Add(-time.Hour), wantTier: models.TierFree, wantExtSub: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(paidSubscription())
			body := subscriptionBody(t, "evt_cancel", EventSubscriptionCanceled, map[string]any{
				"status":                  "canceled",
				"current_period_end_date": tt.periodEnd.Format(time.RFC3339),
			})

			f.expectClaim("evt_cancel", 1, nil)
			f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(paidSubscription(), nil).Once()
			f.repo.On("MarkEvent", mock.Anything, "evt_cancel", models.WebhookApplied, "").Return(nil).Once()

			_, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
			require.NoError(t, err)

			sub := f.writer.sub
			assert.Equal(t, models.StatusCancelled, sub.Status)
			assert.Equal(t, tt.wantTier, sub.Tier)
			assert.False(t, sub.CancelAtPeriodEnd)
			assert.Equal(t, tt.wantExtSub, sub.ExternalSubscriptionID != nil)
			if !tt.wantExtSub {
				require.NotNil(t, sub.PreviousTier)
				assert.Equal(t, models.TierPro, *sub.PreviousTier)
			}
		})
	}
}

func TestProcessor_ExpiredDowngrades(t *testing.T) {
	f := newFixture(paidSubscription())
	body := subscriptionBody(t, "evt_exp", EventSubscriptionExpired, map[string]any{"status": "expired"})

	f.expectClaim("evt_exp", 1, nil)
	f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(paidSubscription(), nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_exp", models.WebhookApplied, "").Return(nil).Once()

	_, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, f.writer.sub.Tier)
	assert.Equal(t, models.StatusExpired, f.writer.sub.Status)
	assert.Nil(t, f.writer.sub.ExternalSubscriptionID)
	assert.Equal(t, int64(100), f.writer.sub.PointsBalance)
	assert.Empty(t, f.writer.sub.Allotment.Tier)
	assert.Nil(t, f.writer.sub.Allotment.PeriodStart)
}

func TestProcessor_PausedKeepsTier(t *testing.T) {
	f := newFixture(paidSubscription())
	body := subscriptionBody(t, "evt_pause", EventSubscriptionPaused, map[string]any{"status": "paused"})

	f.expectClaim("evt_pause", 1, nil)
	f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(paidSubscription(), nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_pause", models.WebhookApplied, "").Return(nil).Once()

	_, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, f.writer.sub.Tier)
	assert.Equal(t, models.StatusPaused, f.writer.sub.Status)
}

func TestProcessor_TrialWillEndPublishes(t *testing.T) {
	trialing := paidSubscription()
	trialing.Status = models.StatusTrialing
	trialing.TrialEndsAt = models.Ptr(fixedNow.Add(48 * time.Hour))
	f := newFixture(trialing)
	body := subscriptionBody(t, "evt_twe", EventTrialWillEnd, map[string]any{"status": "trialing"})

	f.expectClaim("evt_twe", 1, nil)
	f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(trialing, nil).Once()
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e models.DomainEvent) bool {
		return e.Type == models.EventTrialEnding && e.UserUID == "u1" && e.Attributes["trialEndsAt"] != ""
	})).Return(nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_twe", models.WebhookApplied, "").Return(nil).Once()

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Zero(t, f.writer.calls)
	f.publisher.AssertExpectations(t)
}

func TestProcessor_BillingAlerts(t *testing.T) {
	f := newFixture(paidSubscription())
	body := encode(t, map[string]any{
		"id":        "evt_refund",
		"eventType": EventRefundCreated,
		"object": map[string]any{
			"id":           "ref_1",
			"object":       "refund",
			"subscription": "sub_1",
			"customer":     map[string]any{"id": "cus_1"},
		},
	})

	f.expectClaim("evt_refund", 1, nil)
	f.repo.On("FindByExternalSubscriptionID", mock.Anything, "sub_1").Return(paidSubscription(), nil).Once()
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e models.DomainEvent) bool {
		return e.Type == models.EventBillingAlert && e.UserUID == "u1" && e.Attributes["objectId"] == "ref_1"
	})).Return(nil).Once()
	f.repo.On("MarkEvent", mock.Anything, "evt_refund", models.WebhookApplied, "").Return(nil).Once()

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Zero(t, f.writer.calls)
}

func TestProcessor_UnsupportedEventIsDeadLettered(t *testing.T) {
	f := newFixture(nil)
	body := encode(t, map[string]any{"id": "evt_x", "eventType": "license.created", "object": map[string]any{}})

	f.expectClaim("evt_x", 1, nil)
	f.repo.On("MarkEvent", mock.Anything, "evt_x", models.WebhookDeadLetter, "unsupported event type").Return(nil).Once()

	res, err := f.proc.Process(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLetter, res.Outcome)
}

func TestProcessor_RejectsBeforeTouchingStorage(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		sign    func(body []byte) string
		wantErr error
	}{
		{
			name:    "missing signature",
			body:    []byte(`{"id":"evt_1","eventType":"checkout.completed"}`),
			sign:    func([]byte) string { return "" },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "wrong secret",
			body:    []byte(`{"id":"evt_1","eventType":"checkout.completed"}`),
			sign:    func(b []byte) string { return Sign("other", b) },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "not json",
			body:    []byte(`{"id":`),
			sign:    func(b []byte) string { return Sign(testSecret, b) },
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "missing event id",
			body:    []byte(`{"eventType":"checkout.completed","object":{}}`),
			sign:    func(b []byte) string { return Sign(testSecret, b) },
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			_, err := f.proc.Process(context.Background(), tt.body, tt.sign(tt.body))
			assert.ErrorIs(t, err, tt.wantErr)
			f.repo.AssertNotCalled(t, "ClaimEvent", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProcessor_ReplayStale(t *testing.T) {
	t.Run("replays stored payloads", func(t *testing.T) {
		f := newFixture(models.NewFreeSubscription("u1"))
		failed := checkoutBody(t, "evt_1", "prod_pro_monthly")
		done := checkoutBody(t, "evt_done", "prod_pro_monthly")

		f.repo.On("FindStaleEvents", mock.Anything, time.Minute, 100).Return([]models.WebhookEvent{
			{ProviderEventID: "evt_1", EventType: EventCheckoutCompleted, Status: models.WebhookFailed, Payload: failed},
			{ProviderEventID: "evt_bad", EventType: EventCheckoutCompleted, Status: models.WebhookFailed, Payload: []byte(`{"id":`)},
			{ProviderEventID: "evt_done", EventType: EventCheckoutCompleted, Status: models.WebhookProcessing, Payload: done},
		}, nil).Once()
		f.expectClaim("evt_1", 2, nil)
		f.expectClaim("evt_done", 0, models.ErrDuplicateEvent)
		f.repo.On("EnsureSubscriber", mock.Anything, "u1", "user@example.com").Return(nil).Once()
		f.repo.On("GetSubscription", mock.Anything, "u1").Return(models.NewFreeSubscription("u1"), nil).Once()
		f.ledger.On("Grant", mock.Anything, "u1", int64(100), "webhook:checkout.completed", "allotment:u1:pro:2026-03-10T00:00:00Z").
			Return(&models.CreditTransaction{}, nil).Once()
		f.repo.On("MarkEvent", mock.Anything, "evt_1", models.WebhookApplied, "").Return(nil).Once()
		f.repo.On("MarkEvent", mock.Anything, "evt_bad", models.WebhookDeadLetter, "unreadable payload").Return(nil).Once()

		n, err := f.proc.ReplayStale(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, models.TierPro, f.writer.sub.Tier)
		f.repo.AssertExpectations(t)
		f.ledger.AssertExpectations(t)
	})

	t.Run("failed replay is left for the next run", func(t *testing.T) {
		f := newFixture(models.NewFreeSubscription("u1"))
		body := checkoutBody(t, "evt_1", "prod_pro_monthly")
		f.writer.err = models.ErrStoreUnavailable

		f.repo.On("FindStaleEvents", mock.Anything, time.Minute, 100).Return([]models.WebhookEvent{
			{ProviderEventID: "evt_1", Payload: body},
		}, nil).Once()
		f.expectClaim("evt_1", 2, nil)
		f.repo.On("EnsureSubscriber", mock.Anything, "u1", "user@example.com").Return(nil).Once()
		f.repo.On("GetSubscription", mock.Anything, "u1").Return(models.NewFreeSubscription("u1"), nil).Once()
		f.repo.On("MarkEvent", mock.Anything, "evt_1", models.WebhookFailed, mock.Anything).Return(nil).Once()

		n, err := f.proc.ReplayStale(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		f.repo.AssertExpectations(t)
	})

	t.Run("store error", func(t *testing.T) {
		f := newFixture(nil)
		f.repo.On("FindStaleEvents", mock.Anything, time.Minute, 100).Return(nil, models.ErrStoreUnavailable).Once()

		_, err := f.proc.ReplayStale(context.Background())
		require.ErrorIs(t, err, models.ErrStoreUnavailable)
		f.repo.AssertNotCalled(t, "ClaimEvent", mock.Anything, mock.Anything, mock.Anything)
	})
}
