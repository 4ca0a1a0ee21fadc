package vectorutils

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/memwal/pkg/vector"
	"github.com/papercomputeco/memwal/pkg/vector/nop"
	"github.com/papercomputeco/memwal/pkg/vector/qdrant"
)

type NewVectorIndexOpts struct {
	ProviderType string
	TargetURL    string
	Collection   string
	Logger       *slog.Logger
}

func NewVectorIndex(ctx context.Context, o *NewVectorIndexOpts) (vector.Index, error) {
	switch o.ProviderType {
	case "", "none":
		return nop.NewIndex(), nil
	case "qdrant":
		return qdrant.NewIndex(ctx, qdrant.Config{
			Target:         o.TargetURL,
			CollectionName: o.Collection,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
