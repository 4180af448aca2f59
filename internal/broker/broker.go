// Package broker defines a pluggable pub/sub abstraction (spec section 4.3)
// so the rest of the pipeline never depends on Kafka directly.
package broker

import (
	"context"
	"errors"
)

// Handler processes one delivered message. Implementations must not retain
// value beyond the call; the broker may reuse the backing buffer.
type Handler func(ctx context.Context, topic string, key *string, value []byte) error

// Broker is the contract every concrete transport (Kafka, and whatever else
// an operator wires in) must satisfy.
type Broker interface {
	// Publish sends value to topic, optionally keyed for partition routing.
	// Implementations retry transient errors internally with exponential
	// backoff and fail fast on permanent ones.
	Publish(ctx context.Context, topic string, partitionKey *string, value []byte) error

	// Subscribe blocks, consuming topics under groupID and invoking handler
	// for each message, until ctx is cancelled. Handler errors are logged by
	// the broker and never stop the loop.
	// Implementations only commit/mark a message once handler returns, so a
	// handler must not return before it has finished with the message -- an
	// early return would let the broker advance past work that never ran.
	Subscribe(ctx context.Context, topics []string, groupID string, handler Handler) error

	// Health reports connection status.
	Health(ctx context.Context) Status

	// Close tears down connections. Idempotent.
	Close() error
}

// Status is the result of a Health check.
type Status struct {
	Status    string // "healthy" | "unhealthy" | "degraded"
	Connected bool
	Details   string
}

// Error taxonomy (spec section 4.3): every broker error is a BrokerError,
// further classified as Connection, Publish, or Subscribe.
var (
	ErrConnection = errors.New("broker: connection error")
	ErrPublish    = errors.New("broker: publish error")
	ErrSubscribe  = errors.New("broker: subscribe error")
)

// Err wraps cause under one of the sentinel kinds above so callers can use
// errors.Is(err, broker.ErrPublish) etc.
func Err(kind error, cause error) error {
	return &brokerError{kind: kind, cause: cause}
}

type brokerError struct {
	kind  error
	cause error
}

func (e *brokerError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *brokerError) Unwrap() error { return e.cause }

func (e *brokerError) Is(target error) bool { return target == e.kind }
