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

	"github.com/Additional-Code/mesbridge/internal/config"
)

// rabbitClient publishes to and consumes from one durable queue named after the topic.
type rabbitClient struct {
	url      string
	queue    string
	prefetch int
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	publish *amqp.Channel
}

func newRabbitClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	client := &rabbitClient{
		url:      cfg.Messaging.RabbitMQ.URL,
		queue:    cfg.Messaging.Kafka.Topic,
		prefetch: cfg.Messaging.RabbitMQ.Prefetch,
		logger:   logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return client.connect()
		},
		OnStop: func(context.Context) error {
			logger.Info("closing rabbitmq client")
			return client.close()
		},
	})

	return client, nil
}

func (r *rabbitClient) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	r.conn = conn
	r.publish = ch
	r.logger.Info("rabbitmq connected", zap.String("queue", r.queue))
	return nil
}

func (r *rabbitClient) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.publish = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func (r *rabbitClient) Publish(ctx context.Context, key []byte, value []byte) error {
	if err := r.connect(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.publish.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(key),
		Timestamp:    time.Now().UTC(),
		Body:         value,
	})
}

func (r *rabbitClient) Consume(ctx context.Context, handler Handler) error {
	if err := r.connect(); err != nil {
		return err
	}

	r.mu.Lock()
	ch, err := r.conn.Channel()
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if r.prefetch > 0 {
		if err := ch.Qos(r.prefetch, 0, false); err != nil {
			return fmt.Errorf("set rabbitmq qos: %w", err)
		}
	}

	deliveries, err := ch.ConsumeWithContext(ctx, r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			msg := Message{
				Topic:   r.queue,
				Key:     []byte(d.MessageId),
				Value:   d.Body,
				Headers: stringHeaders(d.Headers),
				Offset:  int64(d.DeliveryTag),
				Time:    d.Timestamp,
			}
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

func (r *rabbitClient) Topic() string { return r.queue }

func stringHeaders(t amqp.Table) map[string]string {
	if len(t) == 0 {
		return nil
	}
	out := make(map[string]string, len(t))
	for k, v := range t {
		out[k] = fmt.Sprint(v)
	}
	return out
}
