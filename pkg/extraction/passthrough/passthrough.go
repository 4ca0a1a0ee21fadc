// Package passthrough implements an Extractor that trusts entities and
// relationships supplied in the interaction itself. It serves local
// development and callers that run extraction upstream.
package passthrough

import (
	"context"
	"fmt"

	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/wal"
)

// DefaultConfidence is reported for caller-supplied extractions.
const DefaultConfidence = 1.0

// Extractor returns the interaction's own entities.
type Extractor struct{}

// NewExtractor creates a passthrough extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, req extraction.Request) (*extraction.Result, error) {
	if req.Interaction == nil {
		return nil, wal.PermanentError(fmt.Errorf("%w: no interaction", extraction.ErrMalformedPayload))
	}
	return &extraction.Result{
		Entities:      req.Interaction.Entities,
		Relationships: req.Interaction.Relationships,
		Confidence:    DefaultConfidence,
	}, nil
}

// Close is a no-op.
func (e *Extractor) Close() error {
	return nil
}

var _ extraction.Extractor = (*Extractor)(nil)
