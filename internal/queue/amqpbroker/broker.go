// Package amqpbroker implements queue.Broker on RabbitMQ. Queues are
// declared durable, messages persistent, and every publish waits for a
// publisher confirm.
package amqpbroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/openmusic/openmusic/internal/queue"
)

type Config struct {
	URL             string
	ConnectAttempts uint
	// Prefetch caps unacknowledged deliveries per consumer channel.
	Prefetch int
	Log      *slog.Logger
}

type Broker struct {
	cfg Config
	log *slog.Logger

	connMu sync.Mutex
	conn   *amqp.Connection

	// the confirm-mode publish channel is not safe for concurrent use
	pubMu    sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]bool
}

// Open dials the broker, retrying with exponential backoff up to
// cfg.ConnectAttempts times.
func Open(ctx context.Context, cfg Config) (*Broker, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	b := &Broker{cfg: cfg, log: log.With("broker", "amqp")}

	if _, err := b.connection(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connection(ctx context.Context) (*amqp.Connection, error) {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	attempts := b.cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		c, err := amqp.DialConfig(b.cfg.URL, amqp.Config{
			Heartbeat: 10 * time.Second,
			Dial:      amqp.DefaultDial(5 * time.Second),
		})
		if err != nil {
			b.log.Warn("broker.connect_failed", "err", err)
			return nil, err
		}
		return c, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(attempts))

	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", queue.ErrBrokerUnavailable, err)
	}

	b.conn = conn
	b.log.Info("broker.connected")
	return conn, nil
}

func (b *Broker) Publish(ctx context.Context, name string, msg queue.Message) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if err := b.publishLocked(ctx, name, msg); err != nil {
		// drop the channel; the next publish opens a fresh one
		if b.pubCh != nil {
			_ = b.pubCh.Close()
			b.pubCh = nil
		}
		return err
	}
	return nil
}

func (b *Broker) publishLocked(ctx context.Context, name string, msg queue.Message) error {
	ch, err := b.publishChannel(ctx)
	if err != nil {
		return err
	}

	if !b.declared[name] {
		if err := declare(ch, name); err != nil {
			return err
		}
		b.declared[name] = true
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      toTable(msg.Headers),
		Body:         msg.Body,
	})
	if err != nil {
		return fmt.Errorf("%w: publish %s: %v", queue.ErrBrokerUnavailable, name, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: confirm %s: %v", queue.ErrBrokerUnavailable, name, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked publish to %s", queue.ErrBrokerUnavailable, name)
	}
	return nil
}

func (b *Broker) publishChannel(ctx context.Context) (*amqp.Channel, error) {
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}

	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", queue.ErrBrokerUnavailable, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: confirm mode: %v", queue.ErrBrokerUnavailable, err)
	}

	b.pubCh = ch
	b.declared = map[string]bool{}
	return ch, nil
}

// Consume reopens its channel, and the connection if needed, whenever the
// broker drops it. It gives up only when reconnecting fails.
func (b *Broker) Consume(ctx context.Context, name string, h queue.Handler) error {
	for {
		err := b.consumeOnce(ctx, name, h)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, queue.ErrBrokerUnavailable) {
			return err
		}

		b.log.Warn("broker.consumer_lost", "queue", name, "err", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (b *Broker) consumeOnce(ctx context.Context, name string, h queue.Handler) error {
	conn, err := b.connection(ctx)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declare(ch, name); err != nil {
		return err
	}

	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	tag := consumerTag()
	deliveries, err := ch.Consume(name, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", name, err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	b.log.Info("broker.consuming", "queue", name, "tag", tag)

	err = serve(ctx, deliveries, closed, func(d amqp.Delivery) {
		h(ctx, &delivery{b: b, queue: name, raw: d})
	})
	if ctx.Err() != nil {
		// unacked prefetched deliveries return to the queue when ch closes
		_ = ch.Cancel(tag, false)
	}
	return err
}

// serve hands deliveries to handle one at a time. Once ctx is done no
// further delivery is handled, even one already received.
func serve(ctx context.Context, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error, handle func(amqp.Delivery)) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case aerr := <-closed:
			return fmt.Errorf("channel closed: %v", aerr)

		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery stream closed")
			}
			if ctx.Err() != nil {
				return nil
			}
			handle(d)
		}
	}
}

// Depth reports ready messages; unacknowledged ones are not counted.
func (b *Broker) Depth(ctx context.Context, name string) (int, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return 0, err
	}

	// a failed passive declare closes the channel, so use a throwaway one
	ch, err := conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("%w: open channel: %v", queue.ErrBrokerUnavailable, err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(name, true, false, false, false, queueArgs(name))
	if err != nil {
		return 0, fmt.Errorf("%w: inspect %s: %v", queue.ErrBrokerUnavailable, name, err)
	}
	return q.Messages, nil
}

func (b *Broker) Ping(ctx context.Context) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("%w: connection closed", queue.ErrBrokerUnavailable)
	}
	return nil
}

func (b *Broker) Close() error {
	b.pubMu.Lock()
	if b.pubCh != nil {
		_ = b.pubCh.Close()
		b.pubCh = nil
	}
	b.pubMu.Unlock()

	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

// declare creates name and its dead-letter queue. Rejected messages on
// name are routed to the dead-letter queue by the broker itself. A
// dead-letter queue is declared alone, without arguments.
func declare(ch *amqp.Channel, name string) error {
	if !queue.IsDeadLetterQueue(name) {
		if err := declareQueue(ch, queue.DeadLetterQueue(name)); err != nil {
			return err
		}
	}
	return declareQueue(ch, name)
}

func declareQueue(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, queueArgs(name)); err != nil {
		return fmt.Errorf("%w: declare %s: %v", queue.ErrBrokerUnavailable, name, err)
	}
	return nil
}

// queueArgs is nil for dead-letter queues: redeclaring one with different
// arguments fails with PRECONDITION_FAILED.
func queueArgs(name string) amqp.Table {
	if queue.IsDeadLetterQueue(name) {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue.DeadLetterQueue(name),
	}
}

func consumerTag() string {
	host, _ := os.Hostname()
	return "openmusic-worker-" + host + "-" + strconv.Itoa(os.Getpid())
}
