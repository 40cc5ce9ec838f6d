package events

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a bus that has been closed.
var ErrClosed = errors.New("event bus closed")

// ExchangeKind mirrors the AMQP exchange types the machine uses.
type ExchangeKind string

const (
	ExchangeTopic  ExchangeKind = "topic"
	ExchangeFanout ExchangeKind = "fanout"
)

// Subscription describes where inbound messages come from.
type Subscription struct {
	// Name labels the subscription in logs and metrics.
	Name     string
	Exchange string
	Kind     ExchangeKind
	// Queue is the durable queue to consume from. Empty means a private
	// queue that lives as long as the connection.
	Queue      string
	RoutingKey string
}

// Message is one inbound delivery.
type Message struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg Message) error

// Publisher announces piece lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber registers push-based handlers. Subscribe returns once the
// subscription is established; deliveries continue until ctx is done or the
// bus is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, sub Subscription, handler Handler) error
}

// Bus is the full broker surface used by the daemon.
type Bus interface {
	Publisher
	Subscriber
	Health(ctx context.Context) error
	Close() error
}

type retryError struct{ err error }

func (e retryError) Error() string { return e.err.Error() }
func (e retryError) Unwrap() error { return e.err }

// Retry marks a handler error as transient so the message is redelivered.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return retryError{err: err}
}

// IsRetry reports whether err was marked with Retry.
func IsRetry(err error) bool {
	var target retryError
	return errors.As(err, &target)
}
