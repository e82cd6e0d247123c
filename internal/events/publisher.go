// Package events publishes gateway events, such as circuit breaker state
// changes, to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
)

// DefaultExchange is the topic exchange gateway events are published to
const DefaultExchange = "gateway.events"

// Publisher sends an event body under a routing key
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close() error
}

// Channel is the part of *amqp.Channel the publisher needs
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes JSON events to a RabbitMQ topic exchange
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	logger   *logging.Logger
}

// DialAMQP connects to url, declares the durable topic exchange and returns
// a publisher bound to it.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Properties: amqp.Table{
			"connection_name": "hooklabs-gateway",
		},
	})
	if err != nil {
		return nil, errors.NewExternalError("rabbitmq", "failed to connect").WithCause(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.NewExternalError("rabbitmq", "failed to open channel").WithCause(err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.NewExternalError("rabbitmq", "failed to declare exchange").WithCause(err)
	}

	p := NewAMQPPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher publishes on an already open channel
func NewAMQPPublisher(ch Channel, exchange string) *AMQPPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   logging.GetLogger(),
	}
}

// Publish sends body as a persistent JSON message
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("Event published", "exchange", p.exchange, "routing_key", routingKey)
	return nil
}

// Close closes the channel and, when the publisher dialed it, the connection
func (p *AMQPPublisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
	}
	return err
}

// LogPublisher writes events to the log instead of a broker
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: logging.GetLogger()}
}

// Publish logs the event
func (p *LogPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.logger.WithContext(ctx).
		WithField("routing_key", routingKey).
		WithField("event", body).
		Info("Gateway event")
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error {
	return nil
}
