package wal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of an Entry.
//
// Legal transitions are pending -> processing -> {completed | pending | failed}.
// Completed and failed are terminal.
type Status uint8

const (
	// StatusPending is waiting to be claimed.
	StatusPending Status = iota + 1

	// StatusProcessing is held by exactly one worker.
	StatusProcessing

	// StatusCompleted is terminal success.
	StatusCompleted

	// StatusFailed is terminal failure (dead-letter).
	StatusFailed
)

var statusNames = map[Status]string{
	StatusPending:    "pending",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
}

// ParseStatus converts the stored representation back into a Status.
func ParseStatus(s string) (Status, error) {
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown wal status %q", s)
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is one of the four declared states.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusPending || next == StatusFailed
	default:
		return false
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid wal status %d", uint8(s))
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Entry is one raw interaction awaiting consolidation.
type Entry struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// AvailableAt is the earliest time a pending entry may be claimed again.
	AvailableAt time.Time `json:"available_at"`

	// Payload is owned by the caller. The WAL never interprets it.
	Payload json.RawMessage `json:"raw_payload"`

	Status         Status  `json:"status"`
	RetryCount     int     `json:"retry_count"`
	LastError      *string `json:"last_error"`
	IdempotencyKey string  `json:"idempotency_key"`
	WorkerID       *string `json:"worker_id"`
	CheckpointID   *string `json:"checkpoint_id"`

	Metadata map[string]any `json:"metadata"`
}

// Clone returns a deep copy so callers cannot mutate backend state.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	c.ProcessedAt = clonePtr(e.ProcessedAt)
	c.LastError = clonePtr(e.LastError)
	c.WorkerID = clonePtr(e.WorkerID)
	c.CheckpointID = clonePtr(e.CheckpointID)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Checkpoint records consolidation progress for observability.
// Correctness comes from the claim protocol, not from checkpoints.
type Checkpoint struct {
	ID       string `json:"id"`
	Tenant   string `json:"tenant"`
	WorkerID string `json:"worker_id"`

	// BatchSize is the number of entries finalized since the previous checkpoint.
	BatchSize int `json:"batch_size"`

	// Watermark is the id of the newest finalized entry in the batch.
	Watermark string `json:"watermark"`

	// Processed is the cumulative count finalized by the worker.
	Processed int64 `json:"processed"`

	CreatedAt time.Time `json:"created_at"`
}

// Stats are entry counts by status for one tenant.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`

	// OldestPendingAt is the creation time of the oldest pending entry.
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
}

// Add counts one entry in the given status.
func (s *Stats) Add(status Status, n int) {
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusProcessing:
		s.Processing += n
	case StatusCompleted:
		s.Completed += n
	case StatusFailed:
		s.Failed += n
	}
	s.Total += n
}
