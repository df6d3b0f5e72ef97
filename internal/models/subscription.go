// Package models содержит доменные структуры биллингового ядра: подписку,
// записи кредитного журнала, счётчики использования и журнал вебхуков,
// а также общие ошибки, которыми обмениваются слои сервиса.
package models

import "time"

// Tier — уровень тарифного плана.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierProPlus Tier = "pro_plus"
)

// IsPaid сообщает, относится ли тариф к платным.
func (t Tier) IsPaid() bool {
	return t == TierPro || t == TierProPlus
}

// Valid проверяет, что значение входит в известный набор тарифов.
func (t Tier) Valid() bool {
	return t == TierFree || t.IsPaid()
}

// Status — состояние жизненного цикла подписки.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrialing  Status = "trialing"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusPaused    Status = "paused"
)

// BillingCycle — период оплаты платного тарифа.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Subscription — каноническое представление подписки пользователя.
// Поля баллов меняет только кредитный журнал, остальные поля — только
// единый путь записи подписки.
type Subscription struct {
	UserUID                string
	Tier                   Tier
	Status                 Status
	PreviousTier           *Tier
	BillingCycle           *BillingCycle
	ExternalSubscriptionID *string
	ExternalCustomerID     *string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	TrialStartedAt         *time.Time
	TrialEndsAt            *time.Time
	HadTrial               bool
	PointsBalance          int64
	PointsLifetimeEarned   int64
	PointsLifetimeSpent    int64
	Allotment              Allotment
	Version                int64
	UpdatedAt              time.Time
}

// Allotment — начисление баллов, закреплённое за текущим платным периодом.
// Reference служит ключом идемпотентности начисления в журнале: повторное
// событие за тот же тариф и период получает тот же Reference.
type Allotment struct {
	Tier        Tier
	PeriodStart *time.Time
	Reference   string
	Points      int64
}

// Covers сообщает, закреплено ли начисление за тарифом tier и периодом start.
func (a Allotment) Covers(tier Tier, start *time.Time) bool {
	if a.Tier != tier || a.PeriodStart == nil || start == nil {
		return false
	}
	return a.PeriodStart.Equal(*start)
}

// NewFreeSubscription возвращает подписку, создаваемую лениво при первом обращении.
func NewFreeSubscription(userUID string) *Subscription {
	return &Subscription{
		UserUID: userUID,
		Tier:    TierFree,
		Status:  StatusActive,
	}
}

// IsTrialing сообщает, идёт ли пробный период на момент now.
func (s *Subscription) IsTrialing(now time.Time) bool {
	if s.Status != StatusTrialing || s.TrialEndsAt == nil {
		return false
	}
	return now.Before(*s.TrialEndsAt)
}

// HasPaidAccess сообщает, действуют ли платные лимиты (без учёта пробного периода).
// Отменённая подписка сохраняет доступ до конца оплаченного периода.
func (s *Subscription) HasPaidAccess(now time.Time) bool {
	if !s.Tier.IsPaid() {
		return false
	}
	switch s.Status {
	case StatusActive:
		return true
	case StatusCancelled:
		return s.CurrentPeriodEnd != nil && now.Before(*s.CurrentPeriodEnd)
	default:
		return false
	}
}

// Downgrade переводит подписку на бесплатный тариф, сохраняя прежний тариф
// для истории. Внешний идентификатор подписки сбрасывается, так как
// бесплатный тариф не может ссылаться на подписку у провайдера.
func (s *Subscription) Downgrade(status Status) {
	if s.Tier.IsPaid() {
		prev := s.Tier
		s.PreviousTier = &prev
	}
	s.Tier = TierFree
	s.Status = status
	s.BillingCycle = nil
	s.ExternalSubscriptionID = nil
	s.CancelAtPeriodEnd = false
	s.TrialStartedAt = nil
	s.TrialEndsAt = nil
	s.Allotment.Tier = ""
	s.Allotment.PeriodStart = nil
}

// ClearTrial сбрасывает поля пробного периода; флаг HadTrial остаётся навсегда.
func (s *Subscription) ClearTrial() {
	s.TrialStartedAt = nil
	s.TrialEndsAt = nil
}

// Clone возвращает глубокую копию, чтобы изменения не затрагивали исходник.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.PreviousTier = clonePtr(s.PreviousTier)
	c.BillingCycle = clonePtr(s.BillingCycle)
	c.ExternalSubscriptionID = clonePtr(s.ExternalSubscriptionID)
	c.ExternalCustomerID = clonePtr(s.ExternalCustomerID)
	c.CurrentPeriodStart = clonePtr(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = clonePtr(s.CurrentPeriodEnd)
	c.TrialStartedAt = clonePtr(s.TrialStartedAt)
	c.TrialEndsAt = clonePtr(s.TrialEndsAt)
	c.Allotment.PeriodStart = clonePtr(s.Allotment.PeriodStart)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr возвращает указатель на копию значения.
func Ptr[T any](v T) *T {
	return &v
}

// LegacySubscription — устаревшее представление подписки в таблице users.
// Заполняется только из канонической записи.
type LegacySubscription struct {
	UserUID            string
	SubscriptionTier   Tier
	SubscriptionStatus Status
	TrialEndDate       *time.Time
	SubscriptionExpiry *time.Time
}

// LegacyFrom строит устаревшее представление из канонической подписки.
func LegacyFrom(s *Subscription) LegacySubscription {
	return LegacySubscription{
		UserUID:            s.UserUID,
		SubscriptionTier:   s.Tier,
		SubscriptionStatus: s.Status,
		TrialEndDate:       clonePtr(s.TrialEndsAt),
		SubscriptionExpiry: clonePtr(s.CurrentPeriodEnd),
	}
}

// Divergence описывает расхождение канонической и устаревшей записи.
type Divergence struct {
	UserUID         string
	CanonicalTier   Tier
	CanonicalStatus Status
	LegacyTier      Tier
	LegacyStatus    Status
}
