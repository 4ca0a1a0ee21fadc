package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/gateway"
	"github.com/papercomputeco/memwal/pkg/wal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IngestRequest is the body of POST /v1/tenants/:tenant/interactions.
type IngestRequest struct {
	Interaction extraction.Interaction `json:"interaction"`

	// IdempotencyKey overrides the derived key. The Idempotency-Key header
	// is used when the body leaves it empty.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Metadata is stored on the WAL entry, not in the payload.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EntryList is the body of the pending and failed listings.
type EntryList struct {
	Count   int          `json:"count"`
	Entries []*wal.Entry `json:"entries"`
}

// handlePing returns a simple liveness response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleHealth reports 503 when the store is unreachable or memory is critical.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	report := s.config.Health.Check(c.UserContext())
	status := fiber.StatusOK
	if !report.Healthy() {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}

// handleIngest appends one interaction and acknowledges it with 202.
func (s *Server) handleIngest(c *fiber.Ctx) error {
	var body IngestRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	key := body.IdempotencyKey
	if key == "" {
		key = c.Get("Idempotency-Key")
	}

	res, err := s.config.Gateway.Ingest(c.UserContext(), gateway.Request{
		Tenant:         c.Params("tenant"),
		IdempotencyKey: key,
		Interaction:    body.Interaction,
		Metadata:       body.Metadata,
	})
	if err != nil {
		return s.writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(res)
}

// handleStats returns entry counts by status.
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.config.Store.Stats(c.UserContext(), c.Params("tenant"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(stats)
}

// handlePending lists pending entries, oldest first.
func (s *Server) handlePending(c *fiber.Ctx) error {
	return s.listEntries(c, s.config.Store.Pending)
}

// handleFailed lists dead-lettered entries, most recent first.
func (s *Server) handleFailed(c *fiber.Ctx) error {
	return s.listEntries(c, s.config.Store.Failed)
}

func (s *Server) listEntries(c *fiber.Ctx, list func(context.Context, string, int) ([]*wal.Entry, error)) error {
	limit := c.QueryInt("limit", DefaultListLimit)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be positive"})
	}
	limit = min(limit, MaxListLimit)

	entries, err := list(c.UserContext(), c.Params("tenant"), limit)
	if err != nil {
		return s.writeError(c, err)
	}
	if entries == nil {
		entries = []*wal.Entry{}
	}
	return c.JSON(EntryList{Count: len(entries), Entries: entries})
}

// handleCheckpoint returns the latest checkpoint, optionally for one worker.
func (s *Server) handleCheckpoint(c *fiber.Ctx) error {
	cp, err := s.config.Store.LatestCheckpoint(c.UserContext(), c.Params("tenant"), c.Query("worker_id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(cp)
}

// handleGetEntry returns a single entry.
func (s *Server) handleGetEntry(c *fiber.Ctx) error {
	e, err := s.config.Store.Get(c.UserContext(), c.Params("tenant"), c.Params("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(e)
}

// writeError maps domain errors onto status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest), errors.Is(err, wal.ErrEmptyTenant):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, wal.ErrNotFound), errors.Is(err, wal.ErrNoCheckpoint):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "request timed out"})
	default:
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "tenant", c.Params("tenant"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
	}
}
