package webhook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/services/subscription"
)

var errNotPaidPlan = errors.New("resolved plan is not paid")

type plan struct {
	tier  models.Tier
	cycle models.BillingCycle
	known bool
}

// planOf разрешает тариф события. Для событий активации тариф обязателен,
// для обновлений и продлений он разрешается, только если продукт передан.
func (p *Processor) planOf(payload *Payload) (plan, error) {
	var required bool
	switch payload.EventType {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionActive:
		required = true
	case EventSubscriptionUpdate, EventSubscriptionPaid, EventTrialEnded:
	default:
		return plan{}, nil
	}

	product := payload.product()
	planID := payload.metadata("planId")
	if !required && product.ID == "" && planID == "" {
		return plan{}, nil
	}

	t, cycle, err := p.resolver.ResolveEvent(product.ID, planID, product.BillingPeriod)
	if err != nil {
		return plan{}, fmt.Errorf("product %q: %w", product.ID, err)
	}
	if !t.IsPaid() {
		return plan{}, fmt.Errorf("product %q: %w", product.ID, errNotPaidPlan)
	}
	return plan{tier: t, cycle: cycle, known: true}, nil
}

// mutation строит изменение подписки по событию. Результат зависит только от
// события и переданного состояния, поэтому его можно применять повторно.
func (p *Processor) mutation(payload *Payload, pl plan, now time.Time) func(*models.Subscription) error {
	obj := payload.subscription()
	if obj == nil {
		obj = &Object{}
	}
	customer := payload.customer()

	return func(s *models.Subscription) error {
		switch payload.EventType {
		case EventCheckoutCompleted:
			applyPlan(s, pl, obj, customer.ID)
			s.Status = models.StatusActive
			s.CancelAtPeriodEnd = false
			s.ClearTrial()

		case EventSubscriptionCreated, EventSubscriptionActive:
			applyPlan(s, pl, obj, customer.ID)
			s.CancelAtPeriodEnd = false
			if mapStatus(obj.Status) == models.StatusTrialing {
				s.Status = models.StatusTrialing
				s.HadTrial = true
				if obj.CurrentPeriodStart != nil {
					s.TrialStartedAt = models.Ptr(obj.CurrentPeriodStart.UTC())
				}
				if obj.CurrentPeriodEnd != nil {
					s.TrialEndsAt = models.Ptr(obj.CurrentPeriodEnd.UTC())
				}
			} else {
				s.Status = models.StatusActive
				s.ClearTrial()
			}

		case EventSubscriptionUpdate:
			applyPlan(s, pl, obj, customer.ID)
			s.CancelAtPeriodEnd = obj.CancelAtPeriodEnd || obj.Status == "scheduled_cancel"
			switch mapStatus(obj.Status) {
			case models.StatusActive:
				s.Status = models.StatusActive
			case models.StatusTrialing:
				s.Status = models.StatusTrialing
			case models.StatusPaused:
				s.Status = models.StatusPaused
			case models.StatusCancelled:
				s.Status = models.StatusCancelled
				s.CancelAtPeriodEnd = false
			case models.StatusExpired:
				s.ClearTrial()
				s.Downgrade(models.StatusExpired)
			}

		case EventSubscriptionPaid:
			applyPlan(s, pl, obj, customer.ID)
			s.Status = models.StatusActive
			s.CancelAtPeriodEnd = obj.Status == "scheduled_cancel"
			s.ClearTrial()

		case EventSubscriptionCanceled:
			if !s.Tier.IsPaid() {
				return subscription.ErrUnchanged
			}
			if obj.CurrentPeriodEnd != nil {
				s.CurrentPeriodEnd = models.Ptr(obj.CurrentPeriodEnd.UTC())
			}
			s.Status = models.StatusCancelled
			s.CancelAtPeriodEnd = false
			if s.CurrentPeriodEnd == nil || !now.Before(*s.CurrentPeriodEnd) {
				s.Downgrade(models.StatusCancelled)
			}

		case EventSubscriptionExpired:
			if !s.Tier.IsPaid() && s.Status == models.StatusExpired {
				return subscription.ErrUnchanged
			}
			s.ClearTrial()
			s.Downgrade(models.StatusExpired)

		case EventTrialEnded:
			s.ClearTrial()
			if mapStatus(obj.Status) == models.StatusActive {
				applyPlan(s, pl, obj, customer.ID)
				s.Status = models.StatusActive
			} else {
				s.Downgrade(models.StatusExpired)
			}

		case EventSubscriptionPaused:
			if !s.Tier.IsPaid() {
				return subscription.ErrUnchanged
			}
			s.Status = models.StatusPaused

		default:
			return subscription.ErrUnchanged
		}

		if !s.Tier.IsPaid() {
			s.ExternalSubscriptionID = nil
		}
		return nil
	}
}

// applyPlan переносит тариф, внешние идентификаторы и период из события.
func applyPlan(s *models.Subscription, pl plan, obj *Object, customerID string) {
	if pl.known {
		if s.Tier != pl.tier {
			prev := s.Tier
			s.PreviousTier = &prev
		}
		s.Tier = pl.tier
		s.BillingCycle = models.Ptr(pl.cycle)
	}
	if obj.ID != "" {
		s.ExternalSubscriptionID = models.Ptr(obj.ID)
	}
	if customerID != "" {
		s.ExternalCustomerID = models.Ptr(customerID)
	}
	if obj.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = models.Ptr(obj.CurrentPeriodStart.UTC())
	}
	if obj.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = models.Ptr(obj.CurrentPeriodEnd.UTC())
	}
}

// mapStatus переводит статус провайдера во внутренний; пустая строка
// означает неизвестный статус.
func mapStatus(status string) models.Status {
	switch strings.ToLower(status) {
	case "active", "scheduled_cancel":
		return models.StatusActive
	case "trialing":
		return models.StatusTrialing
	case "paused":
		return models.StatusPaused
	case "canceled", "cancelled":
		return models.StatusCancelled
	case "expired":
		return models.StatusExpired
	default:
		return ""
	}
}
