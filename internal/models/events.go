package models

import "time"

// Типы доменных событий; совпадают с ключами маршрутизации брокера.
const (
	EventSubscriptionChanged = "subscription.changed"
	EventTrialEnding         = "trial.ending"
	EventBillingAlert        = "billing.alert"
	EventWebhookReview       = "webhook.review"
)

// DomainEvent — сообщение, публикуемое после изменения состояния биллинга.
type DomainEvent struct {
	Type       string            `json:"type"`
	UserUID    string            `json:"userUid,omitempty"`
	Tier       Tier              `json:"tier,omitempty"`
	Status     Status            `json:"status,omitempty"`
	Source     string            `json:"source,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}
