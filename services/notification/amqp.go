package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"shutterbook/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	notificationRoutingPrefix = "notification."
	opsRoutingKey             = "ops.manual_required"
	opsQueue                  = "settlement.ops"
)

// Publisher is the slice of an AMQP channel used to emit events.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// EventPublisher emits settlement notifications and ops alerts to a topic exchange.
// Routing keys are notification.<kind> and ops.manual_required.
type EventPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  Publisher
	exchange string
	logger   *zap.Logger
}

// DialEventPublisher connects and declares the durable exchange and the ops queue.
func DialEventPublisher(url, exchange string, logger *zap.Logger) (*EventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: exchange declare failed: %w", err)
	}
	if _, err := ch.QueueDeclare(opsQueue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}
	if err := ch.QueueBind(opsQueue, opsRoutingKey, exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue bind failed: %w", err)
	}
	return &EventPublisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// NewEventPublisher wraps an already-open channel.
func NewEventPublisher(channel Publisher, exchange string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{channel: channel, exchange: exchange, logger: logger}
}

var (
	_ Notifier   = (*EventPublisher)(nil)
	_ OpsAlerter = (*EventPublisher)(nil)
)

func (p *EventPublisher) Notify(ctx context.Context, n models.Notification) error {
	return p.publish(ctx, notificationRoutingPrefix+string(n.Kind()), n.Render())
}

func (p *EventPublisher) Alert(ctx context.Context, alert OpsAlert) error {
	return p.publish(ctx, opsRoutingKey, alert)
}

func (p *EventPublisher) publish(ctx context.Context, key string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event failed: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish %s failed: %w", key, err)
	}
	p.logger.Debug("Event published", zap.String("routingKey", key))
	return nil
}

func (p *EventPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
