// Package coldstore provides memory.ColdStore implementations for archived
// record originals. Originals are zstd-compressed before they are written.
package coldstore

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/papercomputeco/memwal/pkg/memory"
)

// encoder and decoder are safe for concurrent EncodeAll/DecodeAll use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	decoder, _ = zstd.NewReader(nil)
)

func compress(original []byte) []byte {
	return encoder.EncodeAll(original, make([]byte, 0, len(original)/2))
}

func decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing archived original: %w", err)
	}
	return out, nil
}

// objectName is deterministic so re-archiving a record overwrites the same
// object instead of leaving orphans behind.
func objectName(tenant, key string) string {
	return path.Join(url.PathEscape(tenant), url.PathEscape(key)+".json.zst")
}

func splitRef(ref, scheme string) (bucket, name string, err error) {
	rest, ok := strings.CutPrefix(ref, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("unsupported cold store reference %q", ref)
	}
	bucket, name, ok = strings.Cut(rest, "/")
	if !ok || name == "" {
		return "", "", fmt.Errorf("malformed cold store reference %q", ref)
	}
	return bucket, name, nil
}

// NewOpts selects and configures a cold store.
type NewOpts struct {
	// ProviderType is "memory" or "s3".
	ProviderType string
	S3           S3Config
}

// New builds the cold store named by o.ProviderType.
func New(ctx context.Context, o *NewOpts) (memory.ColdStore, error) {
	switch o.ProviderType {
	case "", "memory":
		return NewMemory(), nil
	case "s3":
		return NewS3(ctx, o.S3)
	default:
		return nil, fmt.Errorf("unsupported archive provider: %s", o.ProviderType)
	}
}
