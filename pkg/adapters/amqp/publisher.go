// Package amqp publishes engine events to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the exchange events go to when none is configured.
const DefaultExchange = "neonflow.events"

// Routing keys.
const (
	RoutingKeyTransition = "transition"
	RoutingKeyRunPrefix  = "run." // followed by the run status
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	MessageTypeTransition MessageType = "transition"
	MessageTypeRunEnd     MessageType = "run_end"
)

// Message is the envelope written to the exchange.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher implements ports.EventPublisher over an AMQP channel.
type Publisher struct {
	ch       Channel
	exchange string
	logger   *slog.Logger
	now      func() time.Time
	closer   func() error
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// WithExchange overrides DefaultExchange.
func WithExchange(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.exchange = name
		}
	}
}

// NewPublisher wraps an open channel.
func NewPublisher(ch Channel, opts ...Option) *Publisher {
	p := &Publisher{
		ch:       ch,
		exchange: DefaultExchange,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial connects to url, declares a durable topic exchange and returns a
// publisher that owns the connection.
func Dial(url string, opts ...Option) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := NewPublisher(ch, opts...)
	err = ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}

	p.closer = func() error {
		return errors.Join(ch.Close(), conn.Close())
	}
	return p, nil
}

// Close releases the connection opened by Dial. It is a no-op for publishers
// built with NewPublisher.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// PublishTransition publishes a transition event under RoutingKeyTransition.
func (p *Publisher) PublishTransition(ctx context.Context, event *domain.TransitionEvent) error {
	return p.publish(ctx, RoutingKeyTransition, MessageTypeTransition, event)
}

// PublishRunEnd publishes a run end event under "run.<status>".
func (p *Publisher) PublishRunEnd(ctx context.Context, event *domain.RunEvent) error {
	payload := runEndPayload{RunEvent: event}
	if event.Err != nil {
		payload.Error = event.Err.Error()
	}
	return p.publish(ctx, RoutingKeyRunPrefix+string(event.Status), MessageTypeRunEnd, payload)
}

type runEndPayload struct {
	*domain.RunEvent
	Error string `json:"error,omitempty"`
}

func (p *Publisher) publish(ctx context.Context, key string, typ MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Timestamp: p.now(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, key, err)
	}

	p.logger.Debug("published message",
		"exchange", p.exchange,
		"routing_key", key,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}
