package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/genbilling/internal/models"
)

// Publisher публикует доменные события в обменник.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

// NewPublisher создаёт Publisher поверх настроенного канала.
func NewPublisher(ch *amqp.Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// Publish отправляет событие с ключом маршрутизации, равным его типу.
func (p *Publisher) Publish(ctx context.Context, event models.DomainEvent) error {
	const op = "rabbitmq.Publish"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := PublishMessage(p.ch, p.exchange, event.Type, event); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch *amqp.Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// LogPublisher пишет события в лог; используется, когда брокер не настроен.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish логирует событие.
func (p *LogPublisher) Publish(_ context.Context, event models.DomainEvent) error {
	p.log.Info("domain event",
		slog.String("type", event.Type),
		slog.String("user_uid", event.UserUID),
		slog.String("tier", string(event.Tier)),
		slog.String("status", string(event.Status)),
	)
	return nil
}
