package testing

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
)

// MongoDBContainer wraps a single-node replica set, which transactions require
type MongoDBContainer struct {
	Container *mongodb.MongoDBContainer
	URI       string
}

// NewMongoDBContainer starts mongo:6 as replica set rs0
func NewMongoDBContainer(ctx context.Context) (*MongoDBContainer, error) {
	container, err := mongodb.Run(ctx, "mongo:6", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &MongoDBContainer{Container: container, URI: uri}, nil
}

// Close terminates the container
func (m *MongoDBContainer) Close(ctx context.Context) error {
	if m.Container == nil {
		return nil
	}
	return testcontainers.TerminateContainer(m.Container, testcontainers.StopContext(ctx))
}

// Connect returns an engine client pointed at database in the container
func (m *MongoDBContainer) Connect(ctx context.Context, database string) (*pkgmongo.Client, error) {
	cfg := pkgmongo.DefaultConfig()
	cfg.URI = m.URI
	cfg.Database = database
	cfg.MinPoolSize = 0
	return pkgmongo.NewClient(ctx, cfg)
}
