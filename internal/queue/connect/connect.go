// Package connect opens the broker selected by BROKER_DRIVER.
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmusic/openmusic/internal/config"
	"github.com/openmusic/openmusic/internal/queue"
	"github.com/openmusic/openmusic/internal/queue/amqpbroker"
	"github.com/openmusic/openmusic/internal/queue/redisbroker"
)

func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (queue.Broker, error) {
	switch cfg.BrokerDriver {
	case config.BrokerAMQP:
		b, err := amqpbroker.Open(ctx, amqpbroker.Config{
			URL:             cfg.AMQPURL,
			ConnectAttempts: cfg.BrokerConnectAttempts,
			Prefetch:        1,
			Log:             log,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	case config.BrokerRedis:
		b, err := redisbroker.Open(ctx, redisbroker.Config{
			Addr:            cfg.RedisAddr,
			Password:        cfg.RedisPassword,
			DB:              cfg.RedisDB,
			ConnectAttempts: cfg.BrokerConnectAttempts,
			ClaimIdle:       5 * time.Minute,
			Log:             log,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.BrokerDriver)
	}
}
