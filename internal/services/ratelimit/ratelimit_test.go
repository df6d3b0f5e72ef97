package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

func newTestEvaluator() *Evaluator {
	return New(config.Limits{
		Free:    config.TierLimit{Daily: 3, Monthly: 30},
		Pro:     config.TierLimit{Monthly: 300},
		ProPlus: config.TierLimit{Monthly: 0},
		Trial:   config.TrialLimits{Days: 7, ProDaily: 4, ProPlusDaily: 6},
	})
}

func TestEvaluate_Free(t *testing.T) {
	e := newTestEvaluator()
	now := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		usage      models.UsageSnapshot
		wantOK     bool
		wantReason string
		wantReset  time.Time
		wantDaily  int
	}{
		{
			name:      "under limit",
			usage:     models.UsageSnapshot{Today: 2, ThisMonth: 10},
			wantOK:    true,
			wantReset: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			wantDaily: 1,
		},
		{
			name:       "daily boundary",
			usage:      models.UsageSnapshot{Today: 3, ThisMonth: 10},
			wantReason: ReasonDaily,
			wantReset:  time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "monthly boundary",
			usage:      models.UsageSnapshot{Today: 0, ThisMonth: 30},
			wantReason: ReasonMonthly,
			wantReset:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			wantDaily:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(StateOf(nil), tt.usage, now)
			assert.Equal(t, tt.wantOK, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, models.TierFree, d.Tier)
			require.NotNil(t, d.ResetAt)
			assert.Equal(t, tt.wantReset, *d.ResetAt)
			assert.Equal(t, tt.wantDaily, d.Remaining.Daily)
		})
	}
}

func TestEvaluate_MonthlyResetRollsYear(t *testing.T) {
	e := newTestEvaluator()
	now := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)

	d := e.Evaluate(StateOf(nil), models.UsageSnapshot{ThisMonth: 30}, now)
	assert.False(t, d.Allowed)
	require.NotNil(t, d.ResetAt)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), *d.ResetAt)
}

func TestEvaluate_TrialCap(t *testing.T) {
	e := newTestEvaluator()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ends := started.Add(7 * 24 * time.Hour)
	now := started.Add(5*24*time.Hour + 2*time.Hour)

	sub := &models.Subscription{
		UserUID:        "u1",
		Tier:           models.TierPro,
		Status:         models.StatusTrialing,
		TrialStartedAt: &started,
		TrialEndsAt:    &ends,
	}

	d := e.Evaluate(StateOf(sub), models.UsageSnapshot{Today: 3, TrialTotal: 27}, now)
	assert.True(t, d.Allowed)
	assert.True(t, d.IsTrialing)
	assert.Equal(t, 28, d.TrialCap)
	assert.Equal(t, 1, d.Remaining.Monthly)

	d = e.Evaluate(StateOf(sub), models.UsageSnapshot{Today: 0, TrialTotal: 28}, now)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Trial limit reached (28 total)", d.Reason)
	require.NotNil(t, d.ResetAt)
	assert.Equal(t, ends, *d.ResetAt)
}

func TestEvaluate_TrialDailyAfterCap(t *testing.T) {
	e := newTestEvaluator()
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ends := started.Add(7 * 24 * time.Hour)
	sub := &models.Subscription{
		Tier:           models.TierProPlus,
		Status:         models.StatusTrialing,
		TrialStartedAt: &started,
		TrialEndsAt:    &ends,
	}

	d := e.Evaluate(StateOf(sub), models.UsageSnapshot{Today: 6, TrialTotal: 12}, started.Add(49*time.Hour))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDaily, d.Reason)
	assert.Equal(t, 42, d.TrialCap)
}

func TestEvaluate_TrialLengthFallsBackToConfig(t *testing.T) {
	e := newTestEvaluator()
	ends := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 7, e.TrialDays(State{TrialEndsAt: &ends}))
}

func TestEvaluate_ExpiredTrialIsFree(t *testing.T) {
	e := newTestEvaluator()
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ends := started.Add(7 * 24 * time.Hour)
	sub := &models.Subscription{
		Tier:           models.TierPro,
		Status:         models.StatusTrialing,
		TrialStartedAt: &started,
		TrialEndsAt:    &ends,
	}

	d := e.Evaluate(StateOf(sub), models.UsageSnapshot{Today: 3}, ends.Add(time.Hour))
	assert.False(t, d.Allowed)
	assert.False(t, d.IsTrialing)
	assert.Equal(t, models.TierFree, d.Tier)
	assert.Equal(t, ReasonDaily, d.Reason)
}

func TestEvaluate_Paid(t *testing.T) {
	e := newTestEvaluator()
	now := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	periodEnd := now.Add(10 * 24 * time.Hour)
	lapsed := now.Add(-time.Hour)

	tests := []struct {
		name       string
		sub        *models.Subscription
		usage      models.UsageSnapshot
		wantOK     bool
		wantTier   models.Tier
		wantReason string
	}{
		{
			name:     "pro has no daily limit",
			sub:      &models.Subscription{Tier: models.TierPro, Status: models.StatusActive},
			usage:    models.UsageSnapshot{Today: 100, ThisMonth: 299},
			wantOK:   true,
			wantTier: models.TierPro,
		},
		{
			name:       "pro monthly limit",
			sub:        &models.Subscription{Tier: models.TierPro, Status: models.StatusActive},
			usage:      models.UsageSnapshot{ThisMonth: 300},
			wantTier:   models.TierPro,
			wantReason: ReasonMonthly,
		},
		{
			name:     "zero limit is unlimited",
			sub:      &models.Subscription{Tier: models.TierProPlus, Status: models.StatusActive},
			usage:    models.UsageSnapshot{Today: 5000, ThisMonth: 90000},
			wantOK:   true,
			wantTier: models.TierProPlus,
		},
		{
			name:     "cancelled keeps access until period end",
			sub:      &models.Subscription{Tier: models.TierPro, Status: models.StatusCancelled, CurrentPeriodEnd: &periodEnd},
			usage:    models.UsageSnapshot{Today: 10},
			wantOK:   true,
			wantTier: models.TierPro,
		},
		{
			name:       "cancelled after period end falls back to free",
			sub:        &models.Subscription{Tier: models.TierPro, Status: models.StatusCancelled, CurrentPeriodEnd: &lapsed},
			usage:      models.UsageSnapshot{Today: 10},
			wantTier:   models.TierFree,
			wantReason: ReasonDaily,
		},
		{
			name:       "paused is free",
			sub:        &models.Subscription{Tier: models.TierPro, Status: models.StatusPaused},
			usage:      models.UsageSnapshot{Today: 3},
			wantTier:   models.TierFree,
			wantReason: ReasonDaily,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(StateOf(tt.sub), tt.usage, now)
			assert.Equal(t, tt.wantOK, d.Allowed)
			assert.Equal(t, tt.wantTier, d.Tier)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestEvaluate_UnlimitedRemaining(t *testing.T) {
	e := newTestEvaluator()
	d := e.Evaluate(State{Tier: models.TierProPlus, Status: models.StatusActive}, models.UsageSnapshot{}, time.Now())
	assert.Equal(t, -1, d.Remaining.Daily)
	assert.Equal(t, -1, d.Remaining.Monthly)
	assert.Nil(t, d.ResetAt)
}
