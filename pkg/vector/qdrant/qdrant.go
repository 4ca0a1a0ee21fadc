// Package qdrant provides a Qdrant-backed vector.Index.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/memwal/pkg/logger"
	"github.com/papercomputeco/memwal/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection holding memory embeddings.
	DefaultCollectionName = "memories"

	defaultPort = 6334
)

// Config holds configuration for the Qdrant index.
type Config struct {
	// Target is the gRPC address, host[:port].
	Target string

	// CollectionName defaults to DefaultCollectionName if empty.
	CollectionName string

	APIKey string
	UseTLS bool
}

// Index implements vector.Index over Qdrant's gRPC API. Point ids are the
// memory record ids, which are UUIDs.
type Index struct {
	client     *qc.Client
	collection string
	logger     *slog.Logger
}

// NewIndex connects to Qdrant and checks the collection exists.
func NewIndex(ctx context.Context, c Config, l *slog.Logger) (*Index, error) {
	if c.Target == "" {
		return nil, fmt.Errorf("qdrant target is required")
	}
	if l == nil {
		l = logger.Nop()
	}
	collection := c.CollectionName
	if collection == "" {
		collection = DefaultCollectionName
	}

	host, port, err := splitTarget(c.Target)
	if err != nil {
		return nil, err
	}

	client, err := qc.NewClient(&qc.Config{
		Host:   host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: checking collection %q: %v", vector.ErrConnection, collection, err)
	}
	if !exists {
		l.Warn("qdrant collection does not exist yet; evictions will be no-ops until it is created",
			"collection", collection,
		)
	}

	l.Info("connected to qdrant",
		"target", c.Target,
		"collection", collection,
	)

	return &Index{client: client, collection: collection, logger: l}, nil
}

// Delete removes the points for the given record ids.
func (i *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	points := make([]*qc.PointId, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%w: %q", vector.ErrInvalidID, id)
		}
		points = append(points, qc.NewID(id))
	}

	_, err := i.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: i.collection,
		Wait:           qc.PtrOf(true),
		Points:         qc.NewPointsSelector(points...),
	})
	if err != nil {
		return fmt.Errorf("deleting %d points from %s: %w", len(ids), i.collection, err)
	}

	i.logger.Debug("deleted points from qdrant",
		"collection", i.collection,
		"count", len(ids),
	)
	return nil
}

// Close closes the gRPC connection.
func (i *Index) Close() error {
	return i.client.Close()
}

func splitTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// No port given.
		return target, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port in %q: %w", target, err)
	}
	return host, port, nil
}

var _ vector.Index = (*Index)(nil)
