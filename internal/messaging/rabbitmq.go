package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/config"
)

const (
	keyHeader          = "message-key"
	defaultRoutingKey  = "tally.event"
	rabbitContentType  = "application/json"
	rabbitRedialPeriod = time.Second
)

// rabbitClient publishes to a topic exchange routed by event type and
// consumes from a durable queue bound to every key.
type rabbitClient struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	confirms <-chan amqp.Confirmation
	mu       sync.Mutex

	exchange string
	queue    string
	prefetch int
	logger   *zap.Logger
}

func newRabbitClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	rc := cfg.Messaging.RabbitMQ

	conn, err := amqp.Dial(rc.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(rc.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", rc.Exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	client := &rabbitClient{
		conn:     conn,
		pub:      ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		exchange: rc.Exchange,
		queue:    rc.Queue,
		prefetch: rc.Prefetch,
		logger:   logger,
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing rabbitmq client")

			_ = ch.Close()
			return conn.Close()
		},
	})

	return client, nil
}

// Publish waits for the broker to confirm the message before returning.
func (r *rabbitClient) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := toTable(headers)
	if len(key) > 0 {
		table[keyHeader] = string(key)
	}

	err := r.pub.PublishWithContext(ctx, r.exchange, routingKey(headers), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  rabbitContentType,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
		Body:         value,
	})
	if err != nil {
		return err
	}

	select {
	case conf, ok := <-r.confirms:
		if !ok {
			return errors.New("rabbitmq channel closed before confirm")
		}
		if !conf.Ack {
			return fmt.Errorf("rabbitmq nacked delivery %d", conf.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume acks after the handler succeeds and requeues on failure.
func (r *rabbitClient) Consume(ctx context.Context, handler Handler) error {
	for {
		err := r.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("rabbitmq consumer stopped", zap.Error(err))

		if err := sleep(ctx, rabbitRedialPeriod); err != nil {
			return err
		}
	}
}

func (r *rabbitClient) consumeOnce(ctx context.Context, handler Handler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	if err := ch.QueueBind(r.queue, "#", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", r.queue, err)
	}
	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}

			msg := fromDelivery(d)
			if err := handler(ctx, msg); err != nil {
				r.logger.Error("message handler failed", zap.Error(err), zap.Uint64("delivery_tag", d.DeliveryTag))

				if nackErr := d.Nack(false, true); nackErr != nil {
					r.logger.Warn("nack failed", zap.Error(nackErr))
				}
				continue
			}

			if err := d.Ack(false); err != nil {
				r.logger.Warn("ack failed", zap.Error(err))
			}
		}
	}
}

func (r *rabbitClient) Topic() string { return r.exchange }

func routingKey(headers map[string]string) string {
	if eventType := headers[EventTypeHeader]; eventType != "" {
		return eventType
	}
	return defaultRoutingKey
}

func toTable(headers map[string]string) amqp.Table {
	table := make(amqp.Table, len(headers)+1)
	for k, v := range headers {
		table[k] = v
	}
	return table
}

func fromDelivery(d amqp.Delivery) Message {
	msg := Message{
		Topic: d.Exchange,
		Value: append([]byte(nil), d.Body...),
		Time:  d.Timestamp,
	}
	if len(d.Headers) == 0 {
		return msg
	}

	msg.Headers = make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == keyHeader {
			msg.Key = []byte(s)
			continue
		}
		msg.Headers[k] = s
	}
	return msg
}
