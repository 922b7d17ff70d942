package amqpbroker

import (
	"context"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/openmusic/openmusic/internal/queue"
)

type delivery struct {
	b     *Broker
	queue string
	raw   amqp.Delivery
}

func (d *delivery) Message() queue.Message {
	return queue.Message{Body: d.raw.Body, Headers: fromTable(d.raw.Headers)}
}

func (d *delivery) Redelivered() bool { return d.raw.Redelivered }

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.raw.Ack(false); err != nil {
		return fmt.Errorf("%w: ack: %v", queue.ErrBrokerUnavailable, err)
	}
	return nil
}

// Requeue publishes the bumped copy before acking, so a crash in between
// duplicates the job rather than losing it.
func (d *delivery) Requeue(ctx context.Context) error {
	msg := d.Message()

	if err := d.b.Publish(ctx, d.queue, msg.WithAttempt(msg.Attempt()+1)); err != nil {
		_ = d.raw.Nack(false, true)
		return err
	}
	return d.Ack(ctx)
}

func (d *delivery) DeadLetter(ctx context.Context, reason string) error {
	msg := d.Message()
	dead := msg.WithAttempt(msg.Attempt())
	dead.Headers[queue.HeaderDeadReason] = reason

	if err := d.b.Publish(ctx, queue.DeadLetterQueue(d.queue), dead); err != nil {
		// fall back to the queue's dead-letter exchange; the reason header is lost
		d.b.log.Warn("broker.dead_letter_publish_failed", "queue", d.queue, "reason", reason, "err", err)
		if nerr := d.raw.Nack(false, false); nerr != nil {
			return fmt.Errorf("%w: nack: %v", queue.ErrBrokerUnavailable, nerr)
		}
		return nil
	}
	return d.Ack(ctx)
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}

	t := make(amqp.Table, len(headers))
	for k, v := range headers {
		t[k] = v
	}
	return t
}

// fromTable keeps scalar headers only; broker-added arrays such as
// x-death are dropped.
func fromTable(t amqp.Table) map[string]string {
	out := make(map[string]string, len(t))

	for k, v := range t {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []byte:
			out[k] = string(val)
		case int8, int16, int32, int64, int, uint8, uint16, uint32:
			out[k] = fmt.Sprint(val)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}
