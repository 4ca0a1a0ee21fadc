package salience

import (
	"time"

	"github.com/papercomputeco/memwal/pkg/memory"
)

// Decision is the outcome of evaluating a record for archival.
type Decision struct {
	Score   float64
	Archive bool
	Reason  string
}

const (
	ReasonAlreadyArchived = "already archived"
	ReasonTooYoung        = "younger than minimum age"
	ReasonSalient         = "score at or above threshold"
	ReasonLowSalience     = "score below threshold"
)

// Decide scores rec and applies the archive rule: a live record becomes a
// candidate when its score is below the threshold and it is at least MinAge old.
func (s *Scorer) Decide(rec *memory.Record, now time.Time) Decision {
	score := s.Score(rec, now)

	switch {
	case rec.IsArchived:
		return Decision{Score: score, Reason: ReasonAlreadyArchived}
	case now.Sub(rec.CreatedAt) < s.config.MinAge:
		return Decision{Score: score, Reason: ReasonTooYoung}
	case score >= s.config.ArchiveThreshold:
		return Decision{Score: score, Reason: ReasonSalient}
	default:
		return Decision{Score: score, Archive: true, Reason: ReasonLowSalience}
	}
}
