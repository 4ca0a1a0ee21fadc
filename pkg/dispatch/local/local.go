// Package local implements an in-process dispatch.Signal for single-binary
// deployments where the gateway and the worker share a process.
package local

import (
	"context"
	"sync"

	"github.com/papercomputeco/memwal/pkg/dispatch"
)

// DefaultBuffer bounds queued wake-ups. Workers only need to know that work
// exists, so a small buffer loses nothing useful.
const DefaultBuffer = 16

// Signal is a buffered in-process channel.
type Signal struct {
	mu     sync.RWMutex
	ch     chan dispatch.Event
	closed bool
}

// NewSignal creates a Signal with the given buffer (DefaultBuffer if <= 0).
func NewSignal(buffer int) *Signal {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Signal{ch: make(chan dispatch.Event, buffer)}
}

// Notify queues the event, dropping it when the buffer is full.
func (s *Signal) Notify(_ context.Context, event *dispatch.Event) error {
	if event == nil {
		return dispatch.ErrNilEvent
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	dispatch.Offer(s.ch, *event)
	return nil
}

func (s *Signal) Wake() <-chan dispatch.Event {
	return s.ch
}

// Close closes the wake channel. Later Notify calls are ignored.
func (s *Signal) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

var _ dispatch.Signal = (*Signal)(nil)
