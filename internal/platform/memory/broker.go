package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/scribe/internal/queue"
)

// Broker is a buffered channel queue implementing queue.Broker.
// Abandoned messages are redelivered after RedeliveryDelay, mimicking a
// visibility timeout.
type Broker struct {
	deliveries chan queue.Delivery
	logger     *slog.Logger

	// RedeliveryDelay is how long retried or abandoned messages wait before redelivery.
	RedeliveryDelay time.Duration

	mu     sync.RWMutex
	closed bool
	seq    atomic.Int64
}

// Compile-time check that Broker implements queue.Broker.
var _ queue.Broker = (*Broker)(nil)

// NewBroker creates a broker buffering up to size messages.
func NewBroker(size int, logger *slog.Logger) *Broker {
	return &Broker{
		deliveries:      make(chan queue.Delivery, size),
		logger:          logger.With("component", "memory_broker"),
		RedeliveryDelay: 100 * time.Millisecond,
	}
}

// Publish enqueues payload. It fails fast when the buffer is full.
func (b *Broker) Publish(ctx context.Context, payload []byte) error {
	id := strconv.FormatInt(b.seq.Add(1), 10)
	return b.enqueue(queue.Delivery{ID: id, Payload: payload, Attempt: 1})
}

func (b *Broker) enqueue(d queue.Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return queue.ErrBrokerClosed
	}

	select {
	case b.deliveries <- d:
		b.logger.Debug("message enqueued",
			"message_id", d.ID,
			"attempt", d.Attempt,
			"queue_len", len(b.deliveries),
			"queue_cap", cap(b.deliveries))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", queue.ErrQueueFull, cap(b.deliveries))
	}
}

// Consume delivers messages to handler until ctx is done or the broker is closed.
func (b *Broker) Consume(ctx context.Context, handler queue.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-b.deliveries:
			if !ok {
				return queue.ErrBrokerClosed
			}
			ack := handler(ctx, d)
			if ack != queue.AckDone {
				b.redeliver(d)
			}
		}
	}
}

func (b *Broker) redeliver(d queue.Delivery) {
	d.Attempt++
	time.AfterFunc(b.RedeliveryDelay, func() {
		if err := b.enqueue(d); err != nil {
			b.logger.Warn("failed to redeliver message", "message_id", d.ID, "error", err)
		}
	})
}

// Len reports the number of buffered messages.
func (b *Broker) Len() int {
	return len(b.deliveries)
}

// Close stops accepting messages. Consumers drain what is buffered and then
// return. Redeliveries scheduled after Close are dropped.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.deliveries)
		b.logger.Info("broker closed")
	}
	return nil
}
