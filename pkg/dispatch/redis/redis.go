// Package redis implements dispatch.Signal over Redis pub/sub. Pub/sub is
// fire-and-forget: subscribers that are down miss signals, which is exactly
// the delivery guarantee a wake-up needs.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/papercomputeco/memwal/pkg/dispatch"
	"github.com/papercomputeco/memwal/pkg/logger"
)

// DefaultChannel is the pub/sub channel name.
const DefaultChannel = "memwal:dispatch"

// Config holds the settings of a Signal.
type Config struct {
	Addr    string
	Channel string

	// Subscribe starts a subscription so Wake delivers events. Gateways only
	// publish and leave it off.
	Subscribe bool

	Buffer int
	Logger *slog.Logger
}

// Signal publishes and optionally receives wake-ups through Redis.
type Signal struct {
	client  *goredis.Client
	channel string
	logger  *slog.Logger

	pubsub *goredis.PubSub
	wake   chan dispatch.Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSignal connects to Redis and verifies the connection.
func NewSignal(ctx context.Context, c Config) (*Signal, error) {
	if c.Addr == "" {
		return nil, fmt.Errorf("redis dispatch: addr is required")
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Buffer <= 0 {
		c.Buffer = 16
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	client := goredis.NewClient(&goredis.Options{Addr: c.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis dispatch: ping %s: %w", c.Addr, err)
	}

	s := &Signal{
		client:  client,
		channel: c.Channel,
		logger:  c.Logger,
		done:    make(chan struct{}),
	}

	if c.Subscribe {
		s.pubsub = client.Subscribe(ctx, c.Channel)
		if _, err := s.pubsub.Receive(ctx); err != nil {
			s.pubsub.Close()
			client.Close()
			return nil, fmt.Errorf("redis dispatch: subscribe %s: %w", c.Channel, err)
		}
		s.wake = make(chan dispatch.Event, c.Buffer)
		s.wg.Add(1)
		go s.forward()
	}
	return s, nil
}

func (s *Signal) forward() {
	defer s.wg.Done()
	defer close(s.wake)

	messages := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var ev dispatch.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warn("dropping malformed dispatch event", "channel", msg.Channel, "error", err)
				continue
			}
			dispatch.Offer(s.wake, ev)
		}
	}
}

// Notify publishes the event.
func (s *Signal) Notify(ctx context.Context, event *dispatch.Event) error {
	if event == nil {
		return dispatch.ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis dispatch: encoding event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis dispatch: publish: %w", err)
	}
	return nil
}

func (s *Signal) Wake() <-chan dispatch.Event {
	if s.wake == nil {
		return nil
	}
	return s.wake
}

// Close stops the subscription and closes the client.
func (s *Signal) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.pubsub != nil {
			err = s.pubsub.Close()
		}
		s.wg.Wait()
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

var _ dispatch.Signal = (*Signal)(nil)
