package redisbroker

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/openmusic/openmusic/internal/queue"
)

type delivery struct {
	b           *Broker
	stream      string
	id          string
	msg         queue.Message
	redelivered bool
}

func (d *delivery) Message() queue.Message { return d.msg }

func (d *delivery) Redelivered() bool { return d.redelivered }

func (d *delivery) Ack(ctx context.Context) error {
	return d.settle(ctx, nil)
}

func (d *delivery) Requeue(ctx context.Context) error {
	next := d.msg.WithAttempt(d.msg.Attempt() + 1)

	return d.settle(ctx, func(pipe redis.Pipeliner) {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: d.stream, Values: encode(next)})
	})
}

func (d *delivery) DeadLetter(ctx context.Context, reason string) error {
	dead := d.msg.WithAttempt(d.msg.Attempt())
	dead.Headers[queue.HeaderDeadReason] = reason

	return d.settle(ctx, func(pipe redis.Pipeliner) {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: queue.DeadLetterQueue(d.stream), Values: encode(dead)})
	})
}

// settle runs the optional forward step, XACK and XDEL in one MULTI block
// so a copy is never written without the original being removed.
func (d *delivery) settle(ctx context.Context, forward func(redis.Pipeliner)) error {
	_, err := d.b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if forward != nil {
			forward(pipe)
		}
		pipe.XAck(ctx, d.stream, d.b.cfg.Group, d.id)
		pipe.XDel(ctx, d.stream, d.id)
		return nil
	})

	if err != nil {
		return fmt.Errorf("%w: settle %s %s: %v", queue.ErrBrokerUnavailable, d.stream, d.id, err)
	}
	return nil
}

func defaultConsumerName() string {
	host, _ := os.Hostname()
	return host + "-" + strconv.Itoa(os.Getpid())
}
