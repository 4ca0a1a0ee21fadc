package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/papercomputeco/memwal/pkg/logger"
)

// ColdStore holds the full original of archived records. The consolidation
// core only decides when and what to archive; the cold store owns the format.
type ColdStore interface {
	// Put stores the original and returns a reference to it. Putting the same
	// (tenant, key) twice overwrites the previous object.
	Put(ctx context.Context, tenant, key string, original []byte) (ref string, err error)

	// Get loads an original by reference.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Evictor removes archived records from a hot search index.
type Evictor interface {
	Delete(ctx context.Context, ids []string) error
}

// Summarizer compresses a live record into its archived form.
type Summarizer interface {
	Summarize(rec *Record) string
}

// Snapshot is the document written to the cold store.
type Snapshot struct {
	Record     *Record   `json:"record"`
	Links      []Link    `json:"links,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ArchiverConfig holds the collaborators of an Archiver.
type ArchiverConfig struct {
	Records    RecordStore
	Cold       ColdStore
	Summarizer Summarizer

	// Evictor is optional.
	Evictor Evictor

	Logger *slog.Logger
}

// Archiver performs the two-step archival of a record: the original goes to
// the cold store first, then the live record is flipped to archived and its
// content replaced by a summary plus the cold reference.
type Archiver struct {
	records    RecordStore
	cold       ColdStore
	summarizer Summarizer
	evictor    Evictor
	logger     *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(c ArchiverConfig) (*Archiver, error) {
	if c.Records == nil {
		return nil, fmt.Errorf("archiver: record store is required")
	}
	if c.Cold == nil {
		return nil, fmt.Errorf("archiver: cold store is required")
	}
	if c.Summarizer == nil {
		c.Summarizer = TruncatingSummarizer{MaxChars: DefaultSummaryChars}
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return &Archiver{
		records:    c.Records,
		cold:       c.Cold,
		summarizer: c.Summarizer,
		evictor:    c.Evictor,
		logger:     c.Logger,
	}, nil
}

// Archive demotes rec. It returns false if the record was already archived.
func (a *Archiver) Archive(ctx context.Context, rec *Record, now time.Time) (bool, error) {
	if rec == nil || rec.IsArchived {
		return false, nil
	}

	links, err := a.records.Links(ctx, rec.Tenant, rec.Key)
	if err != nil {
		return false, fmt.Errorf("loading links for %s: %w", rec.Key, err)
	}

	original, err := json.Marshal(Snapshot{Record: rec, Links: links, ArchivedAt: now})
	if err != nil {
		return false, fmt.Errorf("marshaling snapshot: %w", err)
	}

	ref, err := a.cold.Put(ctx, rec.Tenant, rec.Key, original)
	if err != nil {
		return false, fmt.Errorf("writing cold copy of %s: %w", rec.Key, err)
	}

	summary := a.summarizer.Summarize(rec)
	ok, err := a.records.MarkArchived(ctx, rec.Tenant, rec.Key, summary, ref, now)
	if err != nil {
		return false, fmt.Errorf("marking %s archived: %w", rec.Key, err)
	}
	if !ok {
		return false, nil
	}

	if a.evictor != nil {
		if err := a.evictor.Delete(ctx, []string{rec.ID}); err != nil {
			a.logger.Warn("failed to evict archived record from vector index",
				"tenant", rec.Tenant,
				"key", rec.Key,
				"error", err,
			)
		}
	}

	a.logger.Debug("record archived",
		"tenant", rec.Tenant,
		"key", rec.Key,
		"ref", ref,
		"salience", rec.SalienceScore,
	)
	return true, nil
}

// DefaultSummaryChars bounds the summary kept on an archived record.
const DefaultSummaryChars = 280

// TruncatingSummarizer keeps the label and a prefix of the content.
type TruncatingSummarizer struct {
	MaxChars int
}

func (s TruncatingSummarizer) Summarize(rec *Record) string {
	limit := s.MaxChars
	if limit <= 0 {
		limit = DefaultSummaryChars
	}

	var b strings.Builder
	if rec.Label != "" {
		b.WriteString(rec.Label)
		if rec.Kind != "" {
			b.WriteString(" (" + rec.Kind + ")")
		}
	}

	content := strings.Join(strings.Fields(rec.Content), " ")
	if content != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(content)
	}

	out := b.String()
	if utf8.RuneCountInString(out) <= limit {
		return out
	}
	runes := []rune(out)
	return string(runes[:limit-1]) + "…"
}
