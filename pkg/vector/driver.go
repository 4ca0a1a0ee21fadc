// Package vector provides the hot vector index collaborator. Embeddings are
// written by an upstream service; consolidation only removes records from the
// index once they are archived.
package vector

import "context"

// Index handles removal of documents from a vector index.
type Index interface {
	// Delete removes documents by their IDs. Missing IDs are not an error.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the index.
	Close() error
}
