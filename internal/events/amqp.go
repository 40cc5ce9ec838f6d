package events

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"machine/internal/config"
	"machine/internal/logging"
)

const connectionName = "machine"

// AMQPBus publishes and consumes through a RabbitMQ broker.
type AMQPBus struct {
	cfg    config.Broker
	logger *slog.Logger

	conn *amqp.Connection

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu       sync.Mutex
	closed   bool
	channels []*amqp.Channel
	wg       sync.WaitGroup
}

// DialAMQP connects to the broker and declares the events exchange.
func DialAMQP(cfg config.Broker, logger *slog.Logger) (*AMQPBus, error) {
	amqpCfg := amqp.Config{Properties: amqp.NewConnectionProperties()}
	amqpCfg.Properties.SetClientConnectionName(connectionName)
	if cfg.TLSEnabled {
		tlsCfg, err := TLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		amqpCfg.TLSClientConfig = tlsCfg
	}

	conn, err := amqp.DialConfig(cfg.URL, amqpCfg)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := pubCh.ExchangeDeclare(cfg.EventsExchange, string(ExchangeTopic), true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.EventsExchange, err)
	}

	bus := &AMQPBus{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "bus-amqp"),
		conn:   conn,
		pubCh:  pubCh,
	}
	go bus.watchConnection(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return bus, nil
}

// TLSConfig builds the client TLS settings from the broker section.
func TLSConfig(cfg config.Broker) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read broker ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("broker ca cert %q contains no certificates", cfg.CACert)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load broker client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func (b *AMQPBus) watchConnection(notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if !ok || amqpErr == nil {
		return
	}
	logging.ErrorWithContext(b.logger, "broker connection lost", "broker_disconnected",
		logging.String("reason", amqpErr.Reason),
		logging.Int("code", amqpErr.Code),
		logging.String(logging.FieldErrorHint, "check the broker and restart the machine service"),
	)
}

// Publish sends ev to the events exchange with the topic as routing key.
func (b *AMQPBus) Publish(ctx context.Context, ev Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     ev.ID,
		CorrelationId: ev.CorrelationID,
		Timestamp:     ev.OccurredAt,
		Type:          string(ev.Topic),
		Body:          body,
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.isClosed() {
		return ErrClosed
	}
	if err := b.pubCh.PublishWithContext(ctx, b.cfg.EventsExchange, string(ev.Topic), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Topic, err)
	}
	return nil
}

// Subscribe declares the exchange, queue and binding described by sub and
// starts a consumer goroutine.
func (b *AMQPBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if handler == nil {
		return errors.New("subscribe: handler is required")
	}
	if b.isClosed() {
		return ErrClosed
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel for %s: %w", sub.Name, err)
	}
	deliveries, err := b.declare(ctx, ch, sub)
	if err != nil {
		_ = ch.Close()
		return err
	}

	b.mu.Lock()
	b.channels = append(b.channels, ch)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(ctx, sub, deliveries, handler)
	}()
	b.logger.Info("subscribed",
		logging.String("subscription", sub.Name),
		logging.String("exchange", sub.Exchange),
		logging.String("queue", sub.Queue),
		logging.String(logging.FieldTopic, sub.RoutingKey),
	)
	return nil
}

func (b *AMQPBus) declare(ctx context.Context, ch *amqp.Channel, sub Subscription) (<-chan amqp.Delivery, error) {
	prefetch := b.cfg.PrefetchCount
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos for %s: %w", sub.Name, err)
	}
	kind := sub.Kind
	if kind == "" {
		kind = ExchangeTopic
	}
	if err := ch.ExchangeDeclare(sub.Exchange, string(kind), true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %q: %w", sub.Exchange, err)
	}
	durable := sub.Queue != ""
	queue, err := ch.QueueDeclare(sub.Queue, durable, !durable, !durable, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %q: %w", sub.Queue, err)
	}
	if err := ch.QueueBind(queue.Name, sub.RoutingKey, sub.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %q: %w", queue.Name, err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, queue.Name, connectionName+"-"+sub.Name, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %q: %w", queue.Name, err)
	}
	return deliveries, nil
}

func (b *AMQPBus) consume(ctx context.Context, sub Subscription, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			dispatch(ctx, b.logger, sub, d, handler)
		}
	}
}

// dispatch runs handler for one delivery and settles it. Retry errors are
// requeued; other failures are logged and acknowledged so a poison message
// cannot wedge the queue.
func dispatch(ctx context.Context, logger *slog.Logger, sub Subscription, d amqp.Delivery, handler Handler) {
	msg := Message{Exchange: d.Exchange, RoutingKey: d.RoutingKey, Body: d.Body}
	err := handler(ctx, msg)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Warn("ack failed", logging.String("subscription", sub.Name), logging.Error(ackErr))
		}
	case IsRetry(err) && ctx.Err() == nil:
		logging.WarnWithContext(logger, "message handling failed, requeueing", "message_requeued",
			logging.String("subscription", sub.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "message will be redelivered"),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Warn("nack failed", logging.String("subscription", sub.Name), logging.Error(nackErr))
		}
	case IsRetry(err):
		// Shutting down: let the broker redeliver to the next consumer.
		_ = d.Nack(false, true)
	default:
		logging.WarnWithContext(logger, "message rejected", "message_rejected",
			logging.String("subscription", sub.Name),
			logging.String(logging.FieldTopic, d.RoutingKey),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the publisher payload"),
			logging.String(logging.FieldImpact, "message dropped"),
		)
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Warn("ack failed", logging.String("subscription", sub.Name), logging.Error(ackErr))
		}
	}
}

// Health reports whether the broker connection is still open.
func (b *AMQPBus) Health(context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("broker connection closed")
	}
	return nil
}

// Close tears down consumer channels, then the connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := b.channels
	b.channels = nil
	b.mu.Unlock()

	var errs []error
	for _, ch := range channels {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	b.pubMu.Lock()
	if b.pubCh != nil {
		if err := b.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	b.pubMu.Unlock()
	b.wg.Wait()
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *AMQPBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
