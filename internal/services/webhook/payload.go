package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Типы событий провайдера.
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionActive   = "subscription.active"
	EventSubscriptionUpdate   = "subscription.update"
	EventSubscriptionPaid     = "subscription.paid"
	EventSubscriptionCanceled = "subscription.canceled"
	EventSubscriptionExpired  = "subscription.expired"
	EventTrialWillEnd         = "subscription.trial_will_end"
	EventTrialEnded           = "subscription.trial_ended"
	EventSubscriptionPaused   = "subscription.paused"
	EventRefundCreated        = "refund.created"
	EventDisputeCreated       = "dispute.created"
	EventPaymentFailed        = "payment.failed"
)

// Payload — тело вебхука.
type Payload struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	CreatedAt Timestamp `json:"created_at"`
	Object    Object    `json:"object"`
}

// Object — объект события: checkout, subscription, refund и т.д.
// Вложенная подписка может прийти строкой с идентификатором.
type Object struct {
	ID                 string            `json:"id"`
	Object             string            `json:"object"`
	Status             string            `json:"status"`
	Product            Ref               `json:"product"`
	Customer           Ref               `json:"customer"`
	Subscription       *Object           `json:"subscription"`
	Metadata           map[string]string `json:"metadata"`
	CurrentPeriodStart *time.Time        `json:"current_period_start_date"`
	CurrentPeriodEnd   *time.Time        `json:"current_period_end_date"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
}

type plainObject Object

// UnmarshalJSON принимает как объект, так и строку с идентификатором.
func (o *Object) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &o.ID)
	}
	return json.Unmarshal(b, (*plainObject)(o))
}

// Ref — ссылка на продукт или покупателя.
type Ref struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	BillingPeriod string `json:"billing_period"`
}

type plainRef Ref

// UnmarshalJSON принимает как объект, так и строку с идентификатором.
func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	return json.Unmarshal(b, (*plainRef)(r))
}

// Timestamp — время события: миллисекунды Unix или строка RFC 3339.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON разбирает оба формата.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || len(b) == 0 {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// subscription возвращает объект подписки события: сам объект для событий
// subscription.*, вложенную подписку для остальных.
func (p *Payload) subscription() *Object {
	if p.Object.Object == "subscription" || isSubscriptionEvent(p.EventType) {
		return &p.Object
	}
	return p.Object.Subscription
}

func (p *Payload) metadata(key string) string {
	if v := p.Object.Metadata[key]; v != "" {
		return v
	}
	if sub := p.Object.Subscription; sub != nil {
		return sub.Metadata[key]
	}
	return ""
}

func (p *Payload) product() Ref {
	if p.Object.Product.ID != "" {
		return p.Object.Product
	}
	if sub := p.subscription(); sub != nil {
		return sub.Product
	}
	return Ref{}
}

func (p *Payload) customer() Ref {
	if p.Object.Customer.ID != "" {
		return p.Object.Customer
	}
	if sub := p.subscription(); sub != nil {
		return sub.Customer
	}
	return Ref{}
}

func isSubscriptionEvent(eventType string) bool {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionActive, EventSubscriptionUpdate,
		EventSubscriptionPaid, EventSubscriptionCanceled, EventSubscriptionExpired,
		EventTrialWillEnd, EventTrialEnded, EventSubscriptionPaused:
		return true
	}
	return false
}
