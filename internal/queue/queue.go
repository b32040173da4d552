// Package queue defines the producer/consumer contract between the API and
// the workers. Delivery is at-least-once: a handler may see the same
// message more than once and must be idempotent.
package queue

import (
	"context"
	"errors"
)

// Common errors returned by brokers.
var (
	ErrBrokerClosed = errors.New("broker is closed")
	ErrQueueFull    = errors.New("queue is full")
)

// Ack tells the broker what to do with a delivery after the handler returns.
type Ack int

const (
	// AckDone removes the message from the queue.
	AckDone Ack = iota
	// AckRetry returns the message to the queue for a later delivery.
	AckRetry
	// AckAbandon leaves the message unacknowledged. The broker redelivers
	// it once its visibility timeout expires.
	AckAbandon
)

// String returns the name of the acknowledgement.
func (a Ack) String() string {
	switch a {
	case AckDone:
		return "done"
	case AckRetry:
		return "retry"
	case AckAbandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// Delivery is one received message.
type Delivery struct {
	// ID is the broker-assigned message identifier.
	ID string
	// Payload is the encoded domain.Message.
	Payload []byte
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int
}

// Handler processes a delivery and decides its acknowledgement.
type Handler func(ctx context.Context, d Delivery) Ack

// Publisher enqueues encoded messages.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Broker is a durable queue shared by API and worker processes.
type Broker interface {
	Publisher

	// Consume receives messages and passes each to handler until ctx is done.
	// It is safe to call from several goroutines; each call is one consumer.
	Consume(ctx context.Context, handler Handler) error

	// Close releases the broker's resources.
	Close() error
}
