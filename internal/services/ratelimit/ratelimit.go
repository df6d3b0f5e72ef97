// Package ratelimit решает, можно ли выполнить генерацию, по тарифу,
// состоянию пробного периода и счётчикам использования. Evaluate — чистая
// функция конфигурации, состояния и времени; хранилище не используется.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/lib/month"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

const (
	ReasonDaily   = "Daily limit reached"
	ReasonMonthly = "Monthly limit reached"
)

// State — часть подписки, от которой зависят лимиты.
type State struct {
	Tier           models.Tier
	Status         models.Status
	TrialStartedAt *time.Time
	TrialEndsAt    *time.Time
	PeriodEnd      *time.Time
}

// StateOf извлекает State из подписки; nil означает анонимного или нового пользователя.
func StateOf(sub *models.Subscription) State {
	if sub == nil {
		return State{Tier: models.TierFree, Status: models.StatusActive}
	}
	return State{
		Tier:           sub.Tier,
		Status:         sub.Status,
		TrialStartedAt: sub.TrialStartedAt,
		TrialEndsAt:    sub.TrialEndsAt,
		PeriodEnd:      sub.CurrentPeriodEnd,
	}
}

// Limits — действующие лимиты; 0 означает отсутствие лимита.
type Limits struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// Remaining — остаток квоты; -1 означает отсутствие лимита.
type Remaining struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// Decision — результат оценки.
type Decision struct {
	Allowed    bool
	Reason     string
	Tier       models.Tier
	Limits     Limits
	Remaining  Remaining
	ResetAt    *time.Time
	IsTrialing bool
	TrialCap   int
}

// Evaluator оценивает лимиты по конфигурации.
type Evaluator struct {
	cfg config.Limits
}

// New создаёт Evaluator.
func New(cfg config.Limits) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate принимает решение для очередной генерации.
func (e *Evaluator) Evaluate(state State, usage models.UsageSnapshot, now time.Time) Decision {
	now = now.UTC()

	if e.trialActive(state, now) {
		return e.evaluateTrial(state, usage, now)
	}

	if e.paidActive(state, now) {
		limit := e.tierLimit(state.Tier)
		return evaluateWindows(state.Tier, Limits{Monthly: limit.Monthly}, usage, now)
	}

	free := e.cfg.Free
	return evaluateWindows(models.TierFree, Limits{Daily: free.Daily, Monthly: free.Monthly}, usage, now)
}

func (e *Evaluator) trialActive(state State, now time.Time) bool {
	if state.Status != models.StatusTrialing || !state.Tier.IsPaid() {
		return false
	}
	return state.TrialEndsAt != nil && now.Before(*state.TrialEndsAt)
}

func (e *Evaluator) paidActive(state State, now time.Time) bool {
	if !state.Tier.IsPaid() {
		return false
	}
	switch state.Status {
	case models.StatusActive:
		return true
	case models.StatusCancelled:
		return state.PeriodEnd != nil && now.Before(*state.PeriodEnd)
	default:
		return false
	}
}

func (e *Evaluator) tierLimit(t models.Tier) config.TierLimit {
	switch t {
	case models.TierPro:
		return e.cfg.Pro
	case models.TierProPlus:
		return e.cfg.ProPlus
	default:
		return e.cfg.Free
	}
}

// TrialDailyLimit возвращает дневной лимит пробного периода тарифа.
func (e *Evaluator) TrialDailyLimit(t models.Tier) int {
	if t == models.TierProPlus {
		return e.cfg.Trial.ProPlusDaily
	}
	return e.cfg.Trial.ProDaily
}

// TrialDays возвращает длину пробного периода в днях.
func (e *Evaluator) TrialDays(state State) int {
	if state.TrialStartedAt != nil && state.TrialEndsAt != nil {
		if days := month.Days(*state.TrialStartedAt, *state.TrialEndsAt); days > 0 {
			return days
		}
	}
	return e.cfg.Trial.Days
}

func (e *Evaluator) evaluateTrial(state State, usage models.UsageSnapshot, now time.Time) Decision {
	daily := e.TrialDailyLimit(state.Tier)
	trialCap := daily * e.TrialDays(state)

	d := Decision{
		Allowed:    true,
		Tier:       state.Tier,
		Limits:     Limits{Daily: daily, Monthly: trialCap},
		IsTrialing: true,
		TrialCap:   trialCap,
		Remaining: Remaining{
			Daily:   clampRemaining(daily, usage.Today),
			Monthly: clampRemaining(trialCap, usage.TrialTotal),
		},
	}

	if usage.TrialTotal >= trialCap {
		d.Allowed = false
		d.Reason = fmt.Sprintf("Trial limit reached (%d total)", trialCap)
		ends := state.TrialEndsAt.UTC()
		d.ResetAt = &ends
		return d
	}
	if daily > 0 && usage.Today >= daily {
		d.Allowed = false
		d.Reason = ReasonDaily
		reset := month.NextDay(now)
		d.ResetAt = &reset
		return d
	}
	reset := month.NextDay(now)
	d.ResetAt = &reset
	return d
}

func evaluateWindows(t models.Tier, limits Limits, usage models.UsageSnapshot, now time.Time) Decision {
	d := Decision{
		Allowed: true,
		Tier:    t,
		Limits:  limits,
		Remaining: Remaining{
			Daily:   clampRemaining(limits.Daily, usage.Today),
			Monthly: clampRemaining(limits.Monthly, usage.ThisMonth),
		},
	}

	switch {
	case limits.Daily > 0 && usage.Today >= limits.Daily:
		d.Allowed = false
		d.Reason = ReasonDaily
		reset := month.NextDay(now)
		d.ResetAt = &reset
	case limits.Monthly > 0 && usage.ThisMonth >= limits.Monthly:
		d.Allowed = false
		d.Reason = ReasonMonthly
		reset := month.NextMonth(now)
		d.ResetAt = &reset
	case limits.Daily > 0:
		reset := month.NextDay(now)
		d.ResetAt = &reset
	case limits.Monthly > 0:
		reset := month.NextMonth(now)
		d.ResetAt = &reset
	}
	return d
}

func clampRemaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
