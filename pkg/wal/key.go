package wal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// IdempotencyKey derives a deterministic key from the logical identity of an
// interaction. Two deliveries of the same message by the same actor within the
// same time bucket produce the same key.
func IdempotencyKey(tenant, actor, channel, content string, occurredAt time.Time, bucket time.Duration) string {
	var ts int64
	if bucket > 0 {
		ts = occurredAt.UTC().Truncate(bucket).Unix()
	} else {
		ts = occurredAt.UTC().Unix()
	}

	h := sha256.New()
	for _, part := range []string{tenant, actor, channel, strings.TrimSpace(content), strconv.FormatInt(ts, 10)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
