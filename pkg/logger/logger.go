// Package logger builds the *slog.Logger used across memwal.
//
// Services log JSON (WithJSON) so the gateway, worker, and reaper can be
// shipped to the same aggregator and told apart by their "service" attribute.
// Interactive runs use the charmbracelet handler (WithPretty).
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	pretty  bool
	json    bool
	service string
	w       io.Writer
}

// New creates a *slog.Logger from the given options. With no options it
// writes info-level text records to stdout.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo, w: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}

	var h slog.Handler
	switch {
	case c.pretty:
		cl := charmlog.NewWithOptions(c.w, charmlog.Options{
			Level:           charmlog.Level(c.level),
			ReportTimestamp: true,
		})
		if c.service != "" {
			cl.SetPrefix(c.service)
		}
		return slog.New(cl)

	case c.json:
		h = slog.NewJSONHandler(c.w, &slog.HandlerOptions{Level: c.level})

	default:
		h = slog.NewTextHandler(c.w, &slog.HandlerOptions{Level: c.level})
	}

	l := slog.New(h)
	if c.service != "" {
		l = l.With("service", c.service)
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
