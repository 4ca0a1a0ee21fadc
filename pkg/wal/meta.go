package wal

import (
	"encoding/json"
	"fmt"
)

// Metadata keys written by the store itself.
const (
	MetaErrorClass = "error_class"
	MetaReapCount  = "reap_count"
	MetaReapedFrom = "reaped_from"
)

// ReapNote is the last_error recorded when a stale claim is reclaimed.
func ReapNote(workerID string) string {
	return fmt.Sprintf("reaped: claim by worker %q went stale", workerID)
}

// CountMeta increments an integer counter inside a metadata bag, tolerating the
// numeric types a JSON round-trip may have produced.
func CountMeta(meta map[string]any, key string) map[string]any {
	if meta == nil {
		meta = make(map[string]any)
	}
	var n int64
	switch v := meta[key].(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		n = int64(v)
	case json.Number:
		n, _ = v.Int64()
	}
	meta[key] = n + 1
	return meta
}
