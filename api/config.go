// Package api provides the HTTP surface of memwal: interaction ingestion,
// operator inspection of the WAL, health and metrics.
package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/papercomputeco/memwal/pkg/gateway"
	"github.com/papercomputeco/memwal/pkg/health"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const (
	// DefaultListLimit is used when a list request has no ?limit=.
	DefaultListLimit = 50

	// MaxListLimit caps ?limit= on list requests.
	MaxListLimit = 500
)

// Config is the API server configuration. Every dependency is optional;
// routes are only mounted for the dependencies provided, so a worker can
// serve /health and /metrics without the ingestion routes.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// Gateway mounts POST /v1/tenants/:tenant/interactions.
	Gateway *gateway.Gateway

	// Store mounts the read-only /v1/tenants/:tenant/wal routes.
	Store wal.Store

	// Health mounts GET /health.
	Health *health.Checker

	// Gatherer mounts GET /metrics.
	Gatherer prometheus.Gatherer
}
