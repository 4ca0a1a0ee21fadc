// Package consolidate is the slow path. Workers claim pending WAL entries,
// run them through the extraction collaborator, fold the result into memory
// records, rescore salience, archive what has gone cold, and finalize each
// entry. A Reaper returns claims abandoned by crashed workers to pending.
//
// Workers never talk to each other. The only coordination is the atomic
// Claim of the storage backend.
package consolidate

import (
	"errors"
	"fmt"

	"github.com/papercomputeco/memwal/pkg/salience"
)

// ErrDrained is returned by Worker.Run after the resource guard asked the
// worker to stop. The process should exit and let its supervisor restart it.
var ErrDrained = errors.New("consolidation worker drained")

// State is the position of a Worker in its loop.
type State int32

const (
	StateIdle State = iota
	StateClaiming
	StateProcessing
	StateCheckpointing
	StateDraining
	StateExited
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateClaiming:      "claiming",
	StateProcessing:    "processing",
	StateCheckpointing: "checkpointing",
	StateDraining:      "draining",
	StateExited:        "exited",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// TenantSettings are the effective per-tenant knobs a worker applies.
type TenantSettings struct {
	MaxRetries         int
	CheckpointInterval int

	// Scorer rescores records and decides archival.
	Scorer *salience.Scorer

	// DefaultScore is assigned to records on first observation.
	DefaultScore float64
}

// SettingsFunc resolves settings for a tenant. It is consulted once per
// claimed batch so configuration reloads apply without a restart.
type SettingsFunc func(tenant string) (TenantSettings, error)

// Default knobs used when a setting is left zero.
const (
	DefaultMaxRetries   = 3
	DefaultDefaultScore = 0.5
)

// DefaultSettings resolves the documented defaults for every tenant.
func DefaultSettings(string) (TenantSettings, error) {
	scorer, err := salience.NewScorer(salience.DefaultConfig())
	if err != nil {
		return TenantSettings{}, err
	}
	return TenantSettings{
		MaxRetries:   DefaultMaxRetries,
		Scorer:       scorer,
		DefaultScore: DefaultDefaultScore,
	}, nil
}
