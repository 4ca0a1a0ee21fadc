// Package extraction defines the Extraction/Graph collaborator consumed by
// consolidation workers, and the interaction payload the gateway writes to
// the WAL.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/memwal/pkg/wal"
)

var (
	// ErrMalformedPayload is returned when a WAL payload cannot be decoded
	// into an Interaction. It is always permanent.
	ErrMalformedPayload = errors.New("malformed interaction payload")

	// ErrUnavailable wraps failures talking to the extraction service.
	ErrUnavailable = errors.New("extraction service unavailable")
)

// Interaction is the raw payload the gateway appends. Workers decode it; the
// WAL itself never does.
type Interaction struct {
	Actor      string         `json:"actor"`
	Channel    string         `json:"channel,omitempty"`
	Content    string         `json:"content"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Entities and Relationships may be supplied by callers that already
	// extracted them. The passthrough extractor uses them as-is.
	Entities      []Entity       `json:"entities,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Validate checks the fields every interaction needs.
func (i *Interaction) Validate() error {
	if strings.TrimSpace(i.Content) == "" {
		return fmt.Errorf("%w: content is empty", ErrMalformedPayload)
	}
	if i.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is missing", ErrMalformedPayload)
	}
	return nil
}

// DecodeInteraction parses a WAL payload. Decoding failures are classified
// permanent: retrying a malformed payload can never succeed.
func DecodeInteraction(payload []byte) (*Interaction, error) {
	var in Interaction
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, wal.PermanentError(fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if err := in.Validate(); err != nil {
		return nil, wal.PermanentError(err)
	}
	return &in, nil
}

// Entity is one thing mentioned by an interaction.
type Entity struct {
	Name    string `json:"name"`
	Kind    string `json:"kind,omitempty"`
	Summary string `json:"summary,omitempty"`

	// Utility is the feedback signal this mention contributes, in [0,1].
	Utility float64 `json:"utility,omitempty"`
}

// Relationship links two entities by name.
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rel  string `json:"rel"`
}

// Result is what the extraction service returns for one entry.
type Result struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Confidence    float64        `json:"confidence"`
}

// Request is the input to Extract.
type Request struct {
	Tenant      string       `json:"tenant"`
	EntryID     string       `json:"entry_id"`
	Interaction *Interaction `json:"interaction"`
}

// Extractor turns an interaction into entities and relationships. It must be
// safe to call repeatedly for the same entry. Implementations tag errors with
// wal.PermanentError when retrying cannot help; anything else is transient.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
	Close() error
}
