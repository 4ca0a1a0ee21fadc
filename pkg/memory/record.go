// Package memory holds the consolidated memory records produced by the
// consolidation worker and the archival flow that demotes low-salience ones.
//
// Records are keyed by (tenant, key), where key is the normalized identity of
// an extracted entity. The consolidation worker is the only writer of
// salience scores; archival only ever flips a record from live to archived.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist for the tenant.
	ErrNotFound = errors.New("memory record not found")

	// ErrInvalidScore is returned when a salience score falls outside [0,1].
	ErrInvalidScore = errors.New("salience score must be within [0,1]")
)

// Record is a consolidated memory about one entity.
type Record struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`
	Key    string `json:"key"`

	Label   string `json:"label"`
	Kind    string `json:"kind,omitempty"`
	Content string `json:"content"`

	SalienceScore  float64   `json:"salience_score"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`
	Utility        float64   `json:"utility"`
	Confidence     float64   `json:"confidence"`

	IsArchived bool   `json:"is_archived"`
	ArchiveRef string `json:"archive_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy so callers cannot mutate backend state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Observation is one mention of an entity inside one WAL entry.
type Observation struct {
	Tenant string
	Key    string

	// EntryID identifies the WAL entry that produced the observation.
	// Applying the same (Key, EntryID) twice is a no-op.
	EntryID string

	Label   string
	Kind    string
	Content string

	// At is the time of the interaction, not the time of consolidation, so
	// reprocessing an entry produces identical record state.
	At time.Time

	// Utility is added to the record's accumulated utility signal.
	Utility float64

	Confidence float64

	// DefaultScore is the salience assigned when the record is first created.
	DefaultScore float64
}

// Link is a directed relationship between two records of the same tenant.
type Link struct {
	Tenant    string    `json:"tenant"`
	FromKey   string    `json:"from_key"`
	ToKey     string    `json:"to_key"`
	Rel       string    `json:"rel"`
	EntryID   string    `json:"entry_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordStore persists memory records. Every method is idempotent with
// respect to the WAL entry that drives it.
type RecordStore interface {
	// Observe creates the record if missing and applies the observation
	// once. applied is false when the (record, entry) pair was seen before.
	Observe(ctx context.Context, obs Observation) (rec *Record, applied bool, err error)

	// GetRecord returns the record for (tenant, key).
	GetRecord(ctx context.Context, tenant, key string) (*Record, error)

	// SetSalience stores a recomputed score.
	SetSalience(ctx context.Context, tenant, key string, score float64, at time.Time) error

	// Link stores a relationship. Duplicate links are ignored.
	Link(ctx context.Context, link Link) error

	// Links returns the outgoing relationships of a record.
	Links(ctx context.Context, tenant, key string) ([]Link, error)

	// MarkArchived flips is_archived and replaces content with the summary
	// and cold reference in one update. It returns false if the record was
	// already archived.
	MarkArchived(ctx context.Context, tenant, key, summary, ref string, at time.Time) (bool, error)

	// ArchiveCandidates lists live records created at or before cutoff,
	// lowest salience first.
	ArchiveCandidates(ctx context.Context, tenant string, cutoff time.Time, limit int) ([]*Record, error)
}

// NormalizeKey folds an entity name into a stable record key.
func NormalizeKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ValidateScore rejects scores outside [0,1].
func ValidateScore(score float64) error {
	if score < 0 || score > 1 || score != score {
		return ErrInvalidScore
	}
	return nil
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Apply folds an observation into an existing record. Backends call it after
// establishing that the observation has not been applied before.
func Apply(rec *Record, obs Observation) {
	// Newest interaction wins content regardless of consolidation order.
	newest := !obs.At.Before(rec.LastAccessedAt)

	rec.AccessCount++
	if newest {
		rec.LastAccessedAt = obs.At
	}
	rec.Utility = Clamp01(rec.Utility + obs.Utility)
	if obs.Confidence > rec.Confidence {
		rec.Confidence = Clamp01(obs.Confidence)
	}
	if rec.Label == "" {
		rec.Label = obs.Label
	}
	if rec.Kind == "" {
		rec.Kind = obs.Kind
	}
	if newest && obs.Content != "" && !rec.IsArchived {
		rec.Content = obs.Content
	}
}

// NewRecord materializes a record from its first observation.
func NewRecord(id string, obs Observation, now time.Time) *Record {
	rec := &Record{
		ID:            id,
		Tenant:        obs.Tenant,
		Key:           obs.Key,
		SalienceScore: Clamp01(obs.DefaultScore),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	Apply(rec, obs)
	return rec
}
