// Package dispatchutils builds a dispatch.Signal from configuration.
package dispatchutils

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/memwal/pkg/dispatch"
	"github.com/papercomputeco/memwal/pkg/dispatch/kafka"
	"github.com/papercomputeco/memwal/pkg/dispatch/local"
	"github.com/papercomputeco/memwal/pkg/dispatch/nop"
	"github.com/papercomputeco/memwal/pkg/dispatch/redis"
)

type NewSignalOpts struct {
	ProviderType string
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	// Subscribe is set by workers, which consume wake-ups. Gateways only send.
	Subscribe bool

	Logger *slog.Logger
}

func NewSignal(ctx context.Context, o *NewSignalOpts) (dispatch.Signal, error) {
	switch o.ProviderType {
	case "", "local":
		return local.NewSignal(local.DefaultBuffer), nil
	case "none", "nop":
		return nop.NewSignal(), nil
	case "redis":
		return redis.NewSignal(ctx, redis.Config{
			Addr:      o.RedisAddr,
			Subscribe: o.Subscribe,
			Logger:    o.Logger,
		})
	case "kafka":
		return kafka.NewSignal(kafka.Config{
			Brokers:   o.KafkaBrokers,
			Topic:     o.KafkaTopic,
			GroupID:   o.KafkaGroup,
			Subscribe: o.Subscribe,
			Logger:    o.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported dispatch provider: %s", o.ProviderType)
	}
}
