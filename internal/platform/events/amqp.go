package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/rtt/rtt/pkg/retry"
)

// publishRetry keeps a publish within EmitTimeout while the broker is down.
var publishRetry = retry.Config{
	MaxAttempts:   2,
	InitialDelay:  50 * time.Millisecond,
	MaxDelay:      100 * time.Millisecond,
	BackoffFactor: 2,
}

// AMQPPublisher publishes events to a durable topic exchange, routed by
// event type. A dropped connection is redialled on the next publish.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   zerolog.Logger
	retry    retry.Config

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		logger:   logger,
		retry:    publishRetry,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect requires p.mu.
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         evt.Type,
		Body:         body,
	}

	return retry.Do(ctx, p.retry, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return retry.Permanent(err)
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.conn == nil || p.conn.IsClosed() {
			if err := p.connect(); err != nil {
				return err
			}
		}
		if err := p.ch.Publish(p.exchange, evt.Type, false, false, msg); err != nil {
			p.ch.Close()
			p.conn.Close()
			p.conn, p.ch = nil, nil
			return fmt.Errorf("publish %s: %w", evt.Type, err)
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		p.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("event_type", evt.Type).Msg("retrying event publish")
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
