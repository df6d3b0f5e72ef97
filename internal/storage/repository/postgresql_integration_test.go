package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/genbilling/internal/lib/month"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

func TestStorage_ConcurrentDeductNeverOverspends(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateSubscriberWithBalance(t, "u1", 10)

	var succeeded, rejected atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := range 25 {
		g.Go(func() error {
			_, _, err := storage.Deduct(ctx, models.LedgerEntry{
				UserUID:     "u1",
				Amount:      1,
				ReferenceID: fmt.Sprintf("gen-%d", i),
				Source:      "generation",
			})
			switch {
			case err == nil:
				succeeded.Add(1)
				return nil
			case errors.Is(err, models.ErrInsufficientBalance):
				rejected.Add(1)
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, int32(15), rejected.Load())

	b, err := storage.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Balance)
	NewTestVerification(storage).VerifyLedgerIdentity(t, "u1")
}

func TestStorage_DeductIsIdempotentPerReference(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateSubscriberWithBalance(t, "u1", 100)
	ctx := context.Background()

	entry := models.LedgerEntry{UserUID: "u1", Amount: 5, ReferenceID: "gen-1", Source: "generation"}

	var applied atomic.Int32
	g := new(errgroup.Group)
	for range 8 {
		g.Go(func() error {
			_, ok, err := storage.Deduct(ctx, entry)
			if ok {
				applied.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), applied.Load())

	first, ok, err := storage.Deduct(ctx, entry)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(95), first.BalanceAfter)

	b, err := storage.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(95), b.Balance)
	assert.Equal(t, 1, NewTestVerification(storage).CountTransactions(t, "u1", "spend"))
}

func TestStorage_RefundRestoresOnce(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateSubscriberWithBalance(t, "u1", 20)
	ctx := context.Background()

	_, _, err := storage.Deduct(ctx, models.LedgerEntry{UserUID: "u1", Amount: 5, ReferenceID: "gen-1", Source: "generation"})
	require.NoError(t, err)

	for range 3 {
		refund, _, err := storage.Refund(ctx, "u1", "gen-1", "worker")
		require.NoError(t, err)
		assert.Equal(t, int64(20), refund.BalanceAfter)
	}

	factory.CreateSubscriberWithBalance(t, "u2", 0)
	_, _, err = storage.Refund(ctx, "u2", "gen-1", "worker")
	require.ErrorIs(t, err, models.ErrSpendNotFound, "spend of another user")

	b, err := storage.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.Balance)
	assert.Equal(t, int64(0), b.LifetimeSpent)
	NewTestVerification(storage).VerifyLedgerIdentity(t, "u1")
}

func TestStorage_AdjustKeepsIdentity(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateSubscriberWithBalance(t, "u1", 10)
	ctx := context.Background()

	_, _, err := storage.Adjust(ctx, "u1", 7, "adj-1", "goodwill")
	require.NoError(t, err)
	_, _, err = storage.Adjust(ctx, "u1", -12, "adj-2", "chargeback")
	require.NoError(t, err)
	_, _, err = storage.Adjust(ctx, "u1", -100, "adj-3", "too much")
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	b, err := storage.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.Balance)
	NewTestVerification(storage).VerifyLedgerIdentity(t, "u1")

	history, err := storage.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestStorage_RecordGenerationReplay(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateSubscriberWithBalance(t, "u1", 10)
	ctx := context.Background()
	now := time.Now().UTC()

	g := models.Generation{
		Owner:       models.UserOwner("u1"),
		Type:        models.GenerationVideoStandard,
		ReferenceID: "task-1",
		Points:      5,
		Day:         now,
	}
	first, err := storage.RecordGeneration(ctx, g)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, 1, first.Count)
	require.NotNil(t, first.Spend)
	assert.Equal(t, int64(5), first.Spend.BalanceAfter)

	again, err := storage.RecordGeneration(ctx, g)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, again.Count)
	assert.Equal(t, first.Spend.ID, again.Spend.ID)

	g.ReferenceID = "task-2"
	g.Points = 6
	_, err = storage.RecordGeneration(ctx, g)
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	day := month.StartOfDay(now)
	count, err := storage.UsageBetween(ctx, models.UserOwner("u1"), day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, count, "rejected generation must not count")

	since, err := storage.GenerationsSince(ctx, models.UserOwner("u1"), now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, since)
	since, err = storage.GenerationsSince(ctx, models.UserOwner("u1"), time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, since, "generations before the start must not count")
}

func TestStorage_MigrateSessionUsageOnce(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	NewTestDataFactory(storage).CreateSubscriber(t, "u1")
	ctx := context.Background()
	now := time.Now().UTC()
	session := models.SessionOwner("sess-1")

	for range 2 {
		_, err := storage.IncrementUsage(ctx, session, now, 1)
		require.NoError(t, err)
	}
	_, err := storage.IncrementUsage(ctx, models.UserOwner("u1"), now, 1)
	require.NoError(t, err)

	merged, err := storage.MigrateSessionUsage(ctx, "sess-1", "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	merged, err = storage.MigrateSessionUsage(ctx, "sess-1", "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)

	day := month.StartOfDay(now)
	total, err := storage.UsageBetween(ctx, models.UserOwner("u1"), day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestStorage_SaveSubscriptionOptimistic(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateSubscriberWithBalance(t, "u1", 50)
	ctx := context.Background()

	sub, err := storage.GetSubscription(ctx, "u1")
	require.NoError(t, err)

	stale := sub.Clone()
	sub.Tier = models.TierPro
	sub.ExternalSubscriptionID = models.Ptr("sub_1")
	sub.PointsBalance = 0
	periodStart := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	sub.Allotment = models.Allotment{
		Tier:        models.TierPro,
		PeriodStart: &periodStart,
		Reference:   "allotment:u1:pro:2026-03-10T00:00:00Z",
		Points:      100,
	}

	saved, err := storage.SaveSubscription(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, sub.Version+1, saved.Version)
	assert.Equal(t, int64(50), saved.PointsBalance, "save must not touch points")
	assert.True(t, saved.Allotment.Covers(models.TierPro, &periodStart))
	assert.Equal(t, int64(100), saved.Allotment.Points)

	stale.Status = models.StatusPaused
	_, err = storage.SaveSubscription(ctx, stale)
	require.ErrorIs(t, err, models.ErrConcurrencyConflict)

	found, err := storage.FindByExternalSubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.UserUID)
}

func TestStorage_ClaimEvent_LeaseAndRetry(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	ev := models.WebhookEvent{ProviderEventID: "evt_1", EventType: "checkout.completed", Payload: []byte(`{}`)}

	attempts, err := storage.ClaimEvent(ctx, ev, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	_, err = storage.ClaimEvent(ctx, ev, time.Hour)
	require.ErrorIs(t, err, models.ErrEventInFlight, "in-flight claim holds the lease")

	require.NoError(t, storage.MarkEvent(ctx, "evt_1", models.WebhookFailed, "boom"))
	stale, err := storage.FindStaleEvents(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "evt_1", stale[0].ProviderEventID)

	attempts, err = storage.ClaimEvent(ctx, ev, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	require.NoError(t, storage.MarkEvent(ctx, "evt_1", models.WebhookApplied, ""))
	_, err = storage.ClaimEvent(ctx, ev, 0)
	require.ErrorIs(t, err, models.ErrDuplicateEvent)

	stored, err := storage.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookApplied, stored.Status)
	assert.Empty(t, stored.Error)
}

func TestStorage_FindDivergent(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	NewTestDataFactory(storage).CreateSubscriber(t, "u1")
	ctx := context.Background()

	found, err := storage.FindDivergent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = storage.DB.Exec(`UPDATE users SET subscription_tier = 'pro' WHERE uid = 'u1'`)
	require.NoError(t, err)

	found, err = storage.FindDivergent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, models.TierFree, found[0].CanonicalTier)
	assert.Equal(t, models.TierPro, found[0].LegacyTier)

	sub, err := storage.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, storage.WriteLegacy(ctx, models.LegacyFrom(sub)))

	found, err = storage.FindDivergent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}
