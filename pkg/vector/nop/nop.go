// Package nop provides a vector.Index for deployments without a vector store.
package nop

import (
	"context"

	"github.com/papercomputeco/memwal/pkg/vector"
)

// Index ignores every call.
type Index struct{}

func NewIndex() *Index {
	return &Index{}
}

func (i *Index) Delete(context.Context, []string) error {
	return nil
}

func (i *Index) Close() error {
	return nil
}

var _ vector.Index = (*Index)(nil)
