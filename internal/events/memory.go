package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"machine/internal/logging"
)

// MemoryBus is an in-process Bus. Published events are recorded in order and
// routed synchronously to subscribers bound to the events exchange; Deliver
// injects inbound messages the way a broker would.
type MemoryBus struct {
	eventsExchange string
	logger         *slog.Logger

	mu        sync.Mutex
	closed    bool
	published []Event
	subs      []memorySubscription
}

type memorySubscription struct {
	ctx     context.Context
	sub     Subscription
	handler Handler
}

// NewMemoryBus creates an in-process bus publishing to eventsExchange.
func NewMemoryBus(eventsExchange string, logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		eventsExchange: eventsExchange,
		logger:         logging.NewComponentLogger(logger, "bus-memory"),
	}
}

// Publish records ev and forwards it to matching subscribers.
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.published = append(b.published, ev)
	b.mu.Unlock()

	b.logger.Debug("event published",
		logging.String(logging.FieldTopic, string(ev.Topic)),
		logging.String(logging.FieldPieceID, ev.PieceID),
	)
	if err := b.route(ctx, b.eventsExchange, string(ev.Topic), body); err != nil {
		b.logger.Debug("event subscriber failed", logging.Error(err))
	}
	return nil
}

// Subscribe registers handler until ctx is done or the bus closes.
func (b *MemoryBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if handler == nil {
		return errors.New("subscribe: handler is required")
	}
	if sub.Exchange == "" {
		return errors.New("subscribe: exchange is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subs = append(b.subs, memorySubscription{ctx: ctx, sub: sub, handler: handler})
	return nil
}

// Deliver routes an inbound message to every subscription bound to exchange
// and matching routingKey. Handler errors are joined and returned.
func (b *MemoryBus) Deliver(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.route(ctx, exchange, routingKey, body)
}

func (b *MemoryBus) route(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	live := b.subs[:0]
	var targets []memorySubscription
	for _, s := range b.subs {
		if s.ctx.Err() != nil {
			continue
		}
		live = append(live, s)
		if s.sub.Exchange != exchange {
			continue
		}
		if s.sub.Kind == ExchangeTopic && !MatchRoutingKey(s.sub.RoutingKey, routingKey) {
			continue
		}
		targets = append(targets, s)
	}
	b.subs = live
	b.mu.Unlock()

	var errs []error
	for _, target := range targets {
		msg := Message{Exchange: exchange, RoutingKey: routingKey, Body: append([]byte(nil), body...)}
		if err := target.handler(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.sub.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Published returns a copy of every event published so far, in order.
func (b *MemoryBus) Published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.published))
	copy(out, b.published)
	return out
}

// Health reports ErrClosed once the bus is closed.
func (b *MemoryBus) Health(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close drops every subscription. Further calls are no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
