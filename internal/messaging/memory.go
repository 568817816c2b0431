package messaging

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MemoryClient is an in-process bus backed by a buffered channel. Every
// message is delivered to exactly one consumer.
type MemoryClient struct {
	topic  string
	queue  chan Message
	offset atomic.Int64
	logger *zap.Logger
}

// NewMemoryClient builds a bus holding up to buffer undelivered messages.
func NewMemoryClient(topic string, buffer int, logger *zap.Logger) *MemoryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &MemoryClient{topic: topic, queue: make(chan Message, buffer), logger: logger}
}

// Publish blocks while the buffer is full.
func (m *MemoryClient) Publish(ctx context.Context, key []byte, value []byte) error {
	msg := Message{
		Topic:  m.topic,
		Key:    append([]byte(nil), key...),
		Value:  append([]byte(nil), value...),
		Offset: m.offset.Add(1),
		Time:   time.Now().UTC(),
	}
	select {
	case m.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryClient) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.queue:
			if err := handler(ctx, msg); err != nil {
				m.logger.Error("message handler failed", zap.Error(err), zap.Int64("offset", msg.Offset))
			}
		}
	}
}

func (m *MemoryClient) Topic() string { return m.topic }

// Pending reports how many messages are waiting for a consumer.
func (m *MemoryClient) Pending() int { return len(m.queue) }
