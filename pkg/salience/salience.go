// Package salience scores memory records and decides when they are archived.
//
//	S = w1·R + w2·F + w3·U
//
// R decays exponentially with time since last access, F is the log-normalized
// access count, and U is the accumulated utility signal. Scoring is pure: the
// same record and the same "now" always yield the same score and decision.
package salience

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/papercomputeco/memwal/pkg/memory"
)

const (
	DefaultRecencyWeight   = 0.3
	DefaultFrequencyWeight = 0.3
	DefaultUtilityWeight   = 0.4

	DefaultHalfLife            = 7 * 24 * time.Hour
	DefaultFrequencySaturation = 100
	DefaultArchiveThreshold    = 0.2
	DefaultMinAgeDays          = 30

	weightTolerance = 1e-6
)

var (
	ErrNegativeWeight = errors.New("salience weights must not be negative")
	ErrWeightSum      = errors.New("salience weights must sum to 1.0")
)

// Weights are the ω coefficients of the recency, frequency and utility terms.
type Weights struct {
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Utility   float64 `json:"utility"`
}

// DefaultWeights returns 0.3 / 0.3 / 0.4.
func DefaultWeights() Weights {
	return Weights{
		Recency:   DefaultRecencyWeight,
		Frequency: DefaultFrequencyWeight,
		Utility:   DefaultUtilityWeight,
	}
}

// WeightsFromSlice builds Weights from a [recency, frequency, utility] triple.
func WeightsFromSlice(w []float64) (Weights, error) {
	if len(w) != 3 {
		return Weights{}, fmt.Errorf("expected 3 salience weights, got %d", len(w))
	}
	ws := Weights{Recency: w[0], Frequency: w[1], Utility: w[2]}
	return ws, ws.Validate()
}

// Validate checks the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	if w.Recency < 0 || w.Frequency < 0 || w.Utility < 0 {
		return ErrNegativeWeight
	}
	if sum := w.Recency + w.Frequency + w.Utility; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w (got %.6f)", ErrWeightSum, sum)
	}
	return nil
}

// Config parameterizes a Scorer.
type Config struct {
	Weights Weights

	// HalfLife is the idle time after which the recency term halves.
	HalfLife time.Duration

	// FrequencySaturation is the access count at which F reaches 1.
	FrequencySaturation int

	// ArchiveThreshold is the score below which an old record is archived.
	ArchiveThreshold float64

	// MinAge is the minimum record age before archival is considered.
	MinAge time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		HalfLife:            DefaultHalfLife,
		FrequencySaturation: DefaultFrequencySaturation,
		ArchiveThreshold:    DefaultArchiveThreshold,
		MinAge:              DefaultMinAgeDays * 24 * time.Hour,
	}
}

// Scorer computes salience scores. It holds no mutable state.
type Scorer struct {
	config Config
}

// NewScorer validates c and returns a Scorer.
func NewScorer(c Config) (*Scorer, error) {
	if err := c.Weights.Validate(); err != nil {
		return nil, err
	}
	if c.HalfLife <= 0 {
		return nil, fmt.Errorf("salience half-life must be positive, got %s", c.HalfLife)
	}
	if c.FrequencySaturation < 1 {
		return nil, fmt.Errorf("frequency saturation must be at least 1, got %d", c.FrequencySaturation)
	}
	if c.ArchiveThreshold < 0 || c.ArchiveThreshold > 1 {
		return nil, fmt.Errorf("archive threshold must be within [0,1], got %v", c.ArchiveThreshold)
	}
	if c.MinAge < 0 {
		return nil, fmt.Errorf("minimum archive age must not be negative, got %s", c.MinAge)
	}
	return &Scorer{config: c}, nil
}

// Config returns the scorer's parameters.
func (s *Scorer) Config() Config {
	return s.config
}

// Components are the three terms of the score, each in [0,1].
type Components struct {
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Utility   float64 `json:"utility"`
}

// Components computes R, F and U for rec at now.
func (s *Scorer) Components(rec *memory.Record, now time.Time) Components {
	return Components{
		Recency:   Recency(now.Sub(rec.LastAccessedAt), s.config.HalfLife),
		Frequency: Frequency(rec.AccessCount, s.config.FrequencySaturation),
		Utility:   memory.Clamp01(rec.Utility),
	}
}

// Score returns S for rec at now, clamped to [0,1].
func (s *Scorer) Score(rec *memory.Record, now time.Time) float64 {
	return s.Combine(s.Components(rec, now))
}

// Combine applies the weights to precomputed components.
func (s *Scorer) Combine(c Components) float64 {
	w := s.config.Weights
	return memory.Clamp01(w.Recency*c.Recency + w.Frequency*c.Frequency + w.Utility*c.Utility)
}

// Recency is exp(-ln2 · idle/halfLife). Non-positive idle time scores 1.
func Recency(idle, halfLife time.Duration) float64 {
	if idle <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * idle.Seconds() / halfLife.Seconds())
}

// Frequency is ln(1+count)/ln(1+saturation), capped at 1.
func Frequency(count, saturation int) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(float64(count))/math.Log1p(float64(saturation)))
}
