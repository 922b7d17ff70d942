// Package redisbroker implements queue.Broker on Redis Streams with one
// consumer group per queue. Durability follows the server's persistence
// settings: run Redis with appendonly enabled in production.
package redisbroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/openmusic/openmusic/internal/queue"
)

const (
	fieldBody     = "body"
	headerPrefix  = "h:"
	defaultGroup  = "exporters"
	defaultBlock  = 5 * time.Second
	maxReadErrors = 5
)

type Config struct {
	Addr            string
	Password        string
	DB              int
	ConnectAttempts uint

	Group    string
	Consumer string
	// Block bounds each XREADGROUP wait and so the shutdown latency.
	Block time.Duration
	// ClaimIdle > 0 lets this consumer take over entries another consumer
	// left pending for at least that long.
	ClaimIdle time.Duration

	Log *slog.Logger
}

type Broker struct {
	rdb *redis.Client
	cfg Config
	log *slog.Logger
}

// Open dials Redis and retries the initial ping with exponential backoff.
func Open(ctx context.Context, cfg Config) (*Broker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	b := NewWithClient(rdb, cfg)

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.log.Warn("broker.connect_failed", "addr", cfg.Addr, "err", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(attempts))

	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %v", queue.ErrBrokerUnavailable, err)
	}

	return b, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of
// connection settings; Close still closes rdb.
func NewWithClient(rdb *redis.Client, cfg Config) *Broker {
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = defaultConsumerName()
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Broker{rdb: rdb, cfg: cfg, log: log.With("broker", "redis")}
}

func (b *Broker) Publish(ctx context.Context, name string, msg queue.Message) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: name,
		Values: encode(msg),
	}).Err()

	if err != nil {
		return fmt.Errorf("%w: xadd %s: %v", queue.ErrBrokerUnavailable, name, err)
	}
	return nil
}

func (b *Broker) Consume(ctx context.Context, name string, h queue.Handler) error {
	if err := b.ensureGroup(ctx, name); err != nil {
		return err
	}

	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, redelivered, err := b.next(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			// the stream or group was deleted under us
			if strings.HasPrefix(err.Error(), "NOGROUP") {
				if gerr := b.ensureGroup(ctx, name); gerr == nil {
					continue
				}
			}

			failures++
			if failures >= maxReadErrors {
				return fmt.Errorf("%w: xreadgroup %s: %v", queue.ErrBrokerUnavailable, name, err)
			}

			b.log.Warn("broker.read_failed", "queue", name, "failures", failures, "err", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(failures) * 200 * time.Millisecond):
			}
			continue
		}

		failures = 0

		for _, m := range msgs {
			h(ctx, &delivery{
				b:           b,
				stream:      name,
				id:          m.ID,
				msg:         decode(m.Values),
				redelivered: redelivered,
			})
		}
	}
}

// next returns stale pending entries first, then new ones.
func (b *Broker) next(ctx context.Context, name string) ([]redis.XMessage, bool, error) {
	if b.cfg.ClaimIdle > 0 {
		claimed, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   name,
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			MinIdle:  b.cfg.ClaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()

		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, false, err
		}
		if len(claimed) > 0 {
			return claimed, true, nil
		}
	}

	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{name, ">"},
		Count:    1,
		Block:    b.cfg.Block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, false, nil
}

func (b *Broker) ensureGroup(ctx context.Context, name string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, name, b.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group %s on %s: %v", queue.ErrBrokerUnavailable, b.cfg.Group, name, err)
	}
	return nil
}

// Depth counts entries still held in the stream, in-flight ones included,
// since settled entries are deleted.
func (b *Broker) Depth(ctx context.Context, name string) (int, error) {
	n, err := b.rdb.XLen(ctx, name).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: xlen %s: %v", queue.ErrBrokerUnavailable, name, err)
	}
	return int(n), nil
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	return b.rdb.Close()
}

func encode(msg queue.Message) map[string]any {
	values := make(map[string]any, len(msg.Headers)+1)
	values[fieldBody] = string(msg.Body)

	for k, v := range msg.Headers {
		values[headerPrefix+k] = v
	}
	return values
}

func decode(values map[string]any) queue.Message {
	msg := queue.Message{Headers: map[string]string{}}

	for k, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}

		switch {
		case k == fieldBody:
			msg.Body = []byte(s)
		case strings.HasPrefix(k, headerPrefix):
			msg.Headers[strings.TrimPrefix(k, headerPrefix)] = s
		}
	}
	return msg
}
