package models

import "time"

// WebhookStatus — состояние обработки события провайдера.
type WebhookStatus string

const (
	WebhookProcessing WebhookStatus = "processing"
	WebhookApplied    WebhookStatus = "applied"
	WebhookFlagged    WebhookStatus = "flagged"
	WebhookDeadLetter WebhookStatus = "dead_letter"
	WebhookFailed     WebhookStatus = "failed"
)

// Terminal сообщает, что повторная доставка события не требует обработки.
func (s WebhookStatus) Terminal() bool {
	return s == WebhookApplied || s == WebhookFlagged || s == WebhookDeadLetter
}

// WebhookEvent — запись журнала дедупликации вебхуков.
type WebhookEvent struct {
	ProviderEventID string
	EventType       string
	Status          WebhookStatus
	Attempts        int
	Payload         []byte
	Error           string
	ReceivedAt      time.Time
	ClaimedAt       time.Time
	ProcessedAt     *time.Time
}
