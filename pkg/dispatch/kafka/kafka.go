// Package kafka implements dispatch.Signal over a Kafka topic. Events are
// keyed by tenant so a tenant's wake-ups land on one partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/memwal/pkg/dispatch"
	"github.com/papercomputeco/memwal/pkg/logger"
)

const (
	DefaultTopic = "memwal.dispatch"
	DefaultGroup = "memwal-workers"
)

// Config holds the settings of a Signal.
type Config struct {
	Brokers []string
	Topic   string

	// GroupID is the consumer group of subscribing workers. Every worker in
	// the group sees a share of the signals, which is enough to wake one.
	GroupID string

	// Subscribe starts a reader so Wake delivers events.
	Subscribe bool

	Buffer int
	Logger *slog.Logger
}

// Signal writes wake-ups to Kafka and optionally reads them back.
type Signal struct {
	writer *kafkago.Writer
	reader *kafkago.Reader
	logger *slog.Logger

	wake   chan dispatch.Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSignal creates a Signal. Connections are established lazily by kafka-go.
func NewSignal(c Config) (*Signal, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka dispatch: at least one broker is required")
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.GroupID == "" {
		c.GroupID = DefaultGroup
	}
	if c.Buffer <= 0 {
		c.Buffer = 16
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	s := &Signal{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(c.Brokers...),
			Topic:        c.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
			Completion: func(_ []kafkago.Message, err error) {
				if err != nil {
					c.Logger.Warn("kafka dispatch write failed", "error", err)
				}
			},
		},
		logger: c.Logger,
	}

	if c.Subscribe {
		s.reader = kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     c.Brokers,
			GroupID:     c.GroupID,
			Topic:       c.Topic,
			StartOffset: kafkago.LastOffset,
			MaxWait:     time.Second,
		})
		s.wake = make(chan dispatch.Event, c.Buffer)

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.forward(ctx)
	}
	return s, nil
}

func (s *Signal) forward(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.wake)

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			s.logger.Warn("kafka dispatch read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var ev dispatch.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			s.logger.Warn("dropping malformed dispatch event", "offset", msg.Offset, "error", err)
			continue
		}
		dispatch.Offer(s.wake, ev)
	}
}

// Notify enqueues the event on the async writer.
func (s *Signal) Notify(ctx context.Context, event *dispatch.Event) error {
	if event == nil {
		return dispatch.ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka dispatch: encoding event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.Tenant),
		Value: payload,
		Time:  event.EmittedAt,
	})
}

func (s *Signal) Wake() <-chan dispatch.Event {
	if s.wake == nil {
		return nil
	}
	return s.wake
}

// Close flushes the writer and stops the reader.
func (s *Signal) Close() error {
	var errs []error
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.reader != nil {
			errs = append(errs, s.reader.Close())
		}
		s.wg.Wait()
		errs = append(errs, s.writer.Close())
	})
	return errors.Join(errs...)
}

var _ dispatch.Signal = (*Signal)(nil)
