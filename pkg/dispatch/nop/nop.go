// Package nop provides a dispatch.Signal that does nothing. Workers using it
// rely on polling alone.
package nop

import (
	"context"

	"github.com/papercomputeco/memwal/pkg/dispatch"
)

// Signal is a no-op dispatch signal used for tests and disabled mode.
type Signal struct{}

// NewSignal creates a new no-op signal.
func NewSignal() *Signal {
	return &Signal{}
}

// Notify validates input and otherwise does nothing.
func (s *Signal) Notify(_ context.Context, event *dispatch.Event) error {
	if event == nil {
		return dispatch.ErrNilEvent
	}
	return nil
}

// Wake returns a nil channel, which never fires.
func (s *Signal) Wake() <-chan dispatch.Event {
	return nil
}

// Close is a no-op.
func (s *Signal) Close() error {
	return nil
}

var _ dispatch.Signal = (*Signal)(nil)
