package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

const (
	DefaultExchange          = "cafe_exchange"
	OrderCompletedRoutingKey = "order.completed"
)

// OrderCompleted is the body of an order.completed message.
type OrderCompleted struct {
	OrderID     string               `json:"order_id"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	Items       []checkout.OrderItem `json:"items"`
	CompletedAt time.Time            `json:"completed_at"`
}

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Config struct {
	URL      string
	Exchange string
	// Attempts bounds the dial retries. Zero means 5.
	Attempts int
}

// Publisher sends order events to a topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewPublisher wraps an already open channel. The exchange must exist.
func NewPublisher(channel Channel, exchange string, logger *slog.Logger) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{
		channel:  channel,
		exchange: exchange,
		logger:   logger.With("component", "events"),
		tracer:   otel.Tracer("checkout/events"),
		now:      time.Now,
	}
}

// Dial connects to RabbitMQ, retrying with a growing delay, and declares the
// durable topic exchange events are published to.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < cfg.Attempts; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}

		retryTime := time.Duration(i*i)*time.Second + time.Second
		logger.WarnContext(ctx, "failed to connect to rabbitmq, retrying", "retry_in", retryTime, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryTime):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq after retries: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	logger.InfoContext(ctx, "connected to rabbitmq", "exchange", cfg.Exchange)

	p := NewPublisher(channel, cfg.Exchange, logger)
	p.conn = conn
	return p, nil
}

// PublishOrderCompleted sends a persistent order.completed message. It is
// called after the checkout transaction committed.
func (p *Publisher) PublishOrderCompleted(ctx context.Context, order *checkout.Order) error {
	ctx, span := p.tracer.Start(ctx, "events.publish_order_completed",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", p.exchange),
			attribute.String("order.id", order.ID),
		),
	)
	defer span.End()

	body, err := json.Marshal(OrderCompleted{
		OrderID:     order.ID,
		TotalAmount: order.TotalAmount,
		Items:       order.Items,
		CompletedAt: order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		OrderCompletedRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers:      headers,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    order.ID,
			Timestamp:    p.now(),
			Body:         body,
		},
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish message to exchange %s with routing key %s: %w",
			p.exchange, OrderCompletedRoutingKey, err)
	}

	p.logger.DebugContext(ctx, "published order event", "order_id", order.ID, "routing_key", OrderCompletedRoutingKey)
	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return err
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// headerCarrier lets the otel propagator write into amqp headers.
type headerCarrier amqp.Table

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishOrderCompleted(context.Context, *checkout.Order) error { return nil }

func (Noop) Close() error { return nil }
