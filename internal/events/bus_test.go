package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"machine/internal/config"
	"machine/internal/logging"
)

func TestMatchRoutingKey(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"machine.piece.produce.A", "machine.piece.produce.A", true},
		{"machine.piece.produce.A", "machine.piece.produce.B", false},
		{"machine.piece.produce.*", "machine.piece.produce.B", true},
		{"machine.piece.*", "machine.piece.produce.B", false},
		{"machine.#", "machine.piece.produce.B", true},
		{"#", "piece.started", true},
		{"piece.#.done", "piece.done", true},
		{"*", "", true},
		{"piece.*", "piece", false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, MatchRoutingKey(tc.pattern, tc.key), "%s vs %s", tc.pattern, tc.key)
	}
}

func TestSubscriptions(t *testing.T) {
	produce := ProduceSubscription("B")
	assert.Equal(t, "machine", produce.Exchange)
	assert.Equal(t, ExchangeTopic, produce.Kind)
	assert.Equal(t, "machine.piece.produce.B", produce.RoutingKey)

	cancel := CancelSubscription("B")
	assert.Equal(t, "machine_cancel", cancel.Exchange)
	assert.Equal(t, ExchangeFanout, cancel.Kind)
	assert.Equal(t, "machine.piece.cancel.B", cancel.Queue)
	assert.Equal(t, "machine.piece.cancel", CancelSubscription(" ").Queue)

	key := PublicKeySubscription("B")
	assert.Equal(t, "public_key", key.Exchange)
	assert.Equal(t, "client.public_key.machine.B", key.Queue)
}

func TestFanoutQueuesAreNotSharedAcrossTypes(t *testing.T) {
	assert.NotEqual(t, CancelSubscription("A").Queue, CancelSubscription("B").Queue)
	assert.NotEqual(t, PublicKeySubscription("A").Queue, PublicKeySubscription("B").Queue)

	bus := NewMemoryBus("machine.events", logging.NewNop())
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(name string) Handler {
		return func(_ context.Context, msg Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+string(msg.Body))
			return nil
		}
	}
	require.NoError(t, bus.Subscribe(ctx, CancelSubscription("A"), record("A")))
	require.NoError(t, bus.Subscribe(ctx, CancelSubscription("B"), record("B")))

	require.NoError(t, bus.Deliver(ctx, CancelExchange, "", []byte(`{"id":"7"}`)))

	assert.ElementsMatch(t, []string{`A:{"id":"7"}`, `B:{"id":"7"}`}, got)
}

func TestMemoryBus_RoutesByExchangeAndKey(t *testing.T) {
	bus := NewMemoryBus("machine.events", logging.NewNop())
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(name string) Handler {
		return func(_ context.Context, msg Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+string(msg.Body))
			return nil
		}
	}
	require.NoError(t, bus.Subscribe(ctx, ProduceSubscription("A"), record("produce-A")))
	require.NoError(t, bus.Subscribe(ctx, ProduceSubscription("B"), record("produce-B")))
	require.NoError(t, bus.Subscribe(ctx, CancelSubscription("A"), record("cancel")))

	require.NoError(t, bus.Deliver(ctx, ProduceExchange, ProduceRoutingKey("A"), []byte(`a`)))
	require.NoError(t, bus.Deliver(ctx, CancelExchange, "", []byte(`c`)))
	require.NoError(t, bus.Deliver(ctx, PublicKeyExchange, "", []byte(`ignored`)))

	assert.Equal(t, []string{"produce-A:a", "cancel:c"}, got)
}

func TestMemoryBus_PublishRecordsAndFansOut(t *testing.T) {
	bus := NewMemoryBus("machine.events", logging.NewNop())
	ctx := context.Background()

	var finished []Event
	sub := Subscription{Name: "watch", Exchange: "machine.events", Kind: ExchangeTopic, RoutingKey: "piece.finished"}
	require.NoError(t, bus.Subscribe(ctx, sub, func(_ context.Context, msg Message) error {
		ev, err := Decode(msg.Body)
		if err != nil {
			return err
		}
		finished = append(finished, ev)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, NewEvent(TopicPieceStarted, "1", "A")))
	require.NoError(t, bus.Publish(ctx, NewEvent(TopicPieceFinished, "1", "A")))

	published := bus.Published()
	require.Len(t, published, 2)
	assert.Equal(t, TopicPieceStarted, published[0].Topic)
	require.Len(t, finished, 1)
	assert.Equal(t, "1", finished[0].PieceID)
}

func TestMemoryBus_DropsCancelledSubscriptions(t *testing.T) {
	bus := NewMemoryBus("machine.events", logging.NewNop())
	subCtx, cancel := context.WithCancel(context.Background())

	calls := 0
	require.NoError(t, bus.Subscribe(subCtx, CancelSubscription("A"), func(context.Context, Message) error {
		calls++
		return nil
	}))
	cancel()

	require.NoError(t, bus.Deliver(context.Background(), CancelExchange, "", []byte(`{}`)))
	assert.Equal(t, 0, calls)
}

func TestMemoryBus_DeliverReturnsHandlerErrors(t *testing.T) {
	bus := NewMemoryBus("machine.events", logging.NewNop())
	boom := errors.New("boom")
	require.NoError(t, bus.Subscribe(context.Background(), CancelSubscription("A"), func(context.Context, Message) error {
		return boom
	}))

	err := bus.Deliver(context.Background(), CancelExchange, "", nil)
	assert.ErrorIs(t, err, boom)
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus("machine.events", logging.NewNop())
	require.NoError(t, bus.Close())

	ctx := context.Background()
	assert.ErrorIs(t, bus.Publish(ctx, NewEvent(TopicPieceStarted, "1", "A")), ErrClosed)
	assert.ErrorIs(t, bus.Health(ctx), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe(ctx, CancelSubscription("A"), func(context.Context, Message) error { return nil }), ErrClosed)
}

func TestRetryWrapping(t *testing.T) {
	base := errors.New("store busy")
	wrapped := Retry(base)

	assert.True(t, IsRetry(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsRetry(base))
	assert.NoError(t, Retry(nil))
}

type fakeAcknowledger struct {
	acked   int
	nacked  int
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acked++; return nil }

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func TestDispatchSettlesDeliveries(t *testing.T) {
	ctx := context.Background()
	sub := CancelSubscription("A")
	logger := logging.NewNop()

	cases := []struct {
		name       string
		handlerErr error
		wantAck    int
		wantNack   int
	}{
		{"success", nil, 1, 0},
		{"rejected", errors.New("malformed"), 1, 0},
		{"transient", Retry(errors.New("database is locked")), 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			d := amqp.Delivery{Acknowledger: ack, Exchange: CancelExchange, Body: []byte(`{"piece_id":"1"}`)}
			var seen Message
			dispatch(ctx, logger, sub, d, func(_ context.Context, msg Message) error {
				seen = msg
				return tc.handlerErr
			})
			assert.Equal(t, tc.wantAck, ack.acked)
			assert.Equal(t, tc.wantNack, ack.nacked)
			if tc.wantNack > 0 {
				assert.True(t, ack.requeue)
			}
			assert.Equal(t, `{"piece_id":"1"}`, string(seen.Body))
		})
	}
}

func TestTLSConfigRejectsMissingCA(t *testing.T) {
	_, err := TLSConfig(config.Broker{TLSEnabled: true, CACert: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}

func TestOpenSelectsDriver(t *testing.T) {
	cfg := config.Default()
	bus, err := Open(&cfg, logging.NewNop())
	require.NoError(t, err)
	_, ok := bus.(*MemoryBus)
	assert.True(t, ok)

	cfg.Broker.Driver = "carrier-pigeon"
	_, err = Open(&cfg, logging.NewNop())
	assert.Error(t, err)
}
