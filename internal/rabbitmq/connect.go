// Package rabbitmq публикует доменные события биллинга в RabbitMQ.
package rabbitmq

import (
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/genbilling/internal/models"
)

// QueueConfig описывает очередь и ключ, которым она привязана к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// BillingQueues возвращает очереди потребителей доменных событий.
func BillingQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "billing.subscription_changed", RoutingKey: models.EventSubscriptionChanged},
		{QueueName: "billing.trial_ending", RoutingKey: models.EventTrialEnding},
		{QueueName: "billing.alerts", RoutingKey: models.EventBillingAlert},
		{QueueName: "billing.webhook_review", RoutingKey: models.EventWebhookReview},
	}
}

// Connect подключается к брокеру, делая до retries попыток с паузой delay.
func Connect(connection string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	var conn *amqp.Connection
	var err error

	if retries < 1 {
		retries = 1
	}
	for range retries {
		conn, err = amqp.Dial(connection)
		if err == nil {
			return conn, nil
		}
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("%s: %w", op, err)
}

// SetupChannel открывает канал, объявляет direct-обменник exchange и
// привязывает к нему очереди.
func SetupChannel(conn *amqp.Connection, exchange string, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.QueueName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}

		err = ch.QueueBind(
			q.QueueName,
			q.RoutingKey,
			exchange,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}

	return ch, nil
}
