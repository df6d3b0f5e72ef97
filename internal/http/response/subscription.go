package response

import (
	"time"

	"github.com/magabrotheeeer/genbilling/internal/models"
)

// Subscription — представление подписки в ответах API.
type Subscription struct {
	Tier               string     `json:"tier" example:"pro"`
	Status             string     `json:"status" example:"active"`
	BillingCycle       string     `json:"billingCycle,omitempty" example:"monthly"`
	IsTrialing         bool       `json:"isTrialing" example:"false"`
	HasPaidAccess      bool       `json:"hasPaidAccess" example:"true"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd" example:"false"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	TrialEndsAt        *time.Time `json:"trialEndsAt,omitempty"`
	HadTrial           bool       `json:"hadTrial" example:"false"`
	PointsBalance      int64      `json:"pointsBalance" example:"100"`
	PointsLifetimeUsed int64      `json:"pointsLifetimeSpent" example:"20"`
}

// FromSubscription строит представление подписки на момент now.
func FromSubscription(sub *models.Subscription, now time.Time) Subscription {
	out := Subscription{
		Tier:               string(sub.Tier),
		Status:             string(sub.Status),
		IsTrialing:         sub.IsTrialing(now),
		HasPaidAccess:      sub.HasPaidAccess(now),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialEndsAt:        sub.TrialEndsAt,
		HadTrial:           sub.HadTrial,
		PointsBalance:      sub.PointsBalance,
		PointsLifetimeUsed: sub.PointsLifetimeSpent,
	}
	if sub.BillingCycle != nil {
		out.BillingCycle = string(*sub.BillingCycle)
	}
	return out
}
