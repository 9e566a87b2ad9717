package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
)

// InstrumentedClient wraps a Client with metrics, logging and tracing
type InstrumentedClient struct {
	client  *Client
	metrics *metrics.Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewInstrumentedClient creates a new instrumented MongoDB client. m and logger may be nil.
func NewInstrumentedClient(client *Client, m *metrics.Metrics, logger *logging.Logger) *InstrumentedClient {
	return &InstrumentedClient{
		client:  client,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("mongodb"),
	}
}

// Collection returns an instrumented collection
func (c *InstrumentedClient) Collection(name string) *InstrumentedCollection {
	return &InstrumentedCollection{
		Collection: c.client.Collection(name),
		name:       name,
		database:   c.client.config.Database,
		metrics:    c.metrics,
		logger:     c.logger,
		tracer:     c.tracer,
	}
}

// Database returns the underlying database handle
func (c *InstrumentedClient) Database() *mongo.Database { return c.client.Database() }

// Close disconnects the client
func (c *InstrumentedClient) Close(ctx context.Context) error { return c.client.Close(ctx) }

// HealthCheck pings the primary
func (c *InstrumentedClient) HealthCheck(ctx context.Context) error {
	return c.client.HealthCheck(ctx)
}

// WithTransaction runs fn in a transaction under a span
func (c *InstrumentedClient) WithTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	ctx, span := c.tracer.Start(ctx, "mongodb.transaction",
		trace.WithAttributes(
			attribute.String("db.system", "mongodb"),
			attribute.String("db.name", c.client.config.Database),
		),
	)
	defer span.End()

	err := c.client.WithTransaction(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.metrics != nil {
			c.metrics.RecordTransactionError(transactionErrorReason(err))
		}
	}
	return err
}

func transactionErrorReason(err error) string {
	var cmdErr mongo.CommandError
	switch {
	case mongo.IsTimeout(err):
		return "timeout"
	case mongo.IsNetworkError(err):
		return "network"
	case errors.As(err, &cmdErr) && cmdErr.HasErrorLabel("TransientTransactionError"):
		return "transient"
	default:
		return "aborted"
	}
}

// InstrumentedCollection embeds the driver collection and instruments the
// operations repositories use. Anything not overridden here goes straight to the driver.
type InstrumentedCollection struct {
	*mongo.Collection
	name     string
	database string
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

func (c *InstrumentedCollection) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "mongodb."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "mongodb"),
			attribute.String("db.name", c.database),
			attribute.String("db.operation", operation),
			attribute.String("db.collection", c.name),
		),
	)
	defer span.End()

	err := fn(ctx)
	duration := time.Since(start)
	// a miss on FindOne is a normal outcome, not a failed query
	success := err == nil || errors.Is(err, mongo.ErrNoDocuments)

	if c.metrics != nil {
		c.metrics.RecordMongoDBOperation(c.name, operation, success, duration)
	}
	if c.logger != nil {
		c.logger.DatabaseQuery(ctx, c.name, operation, duration, success)
	}
	if !success {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// InsertOne inserts a single document
func (c *InstrumentedCollection) InsertOne(ctx context.Context, doc interface{}, opts ...*options.InsertOneOptions) (res *mongo.InsertOneResult, err error) {
	err = c.observe(ctx, "insertOne", func(ctx context.Context) error {
		res, err = c.Collection.InsertOne(ctx, doc, opts...)
		return err
	})
	return res, err
}

// InsertMany inserts several documents
func (c *InstrumentedCollection) InsertMany(ctx context.Context, docs []interface{}, opts ...*options.InsertManyOptions) (res *mongo.InsertManyResult, err error) {
	err = c.observe(ctx, "insertMany", func(ctx context.Context) error {
		res, err = c.Collection.InsertMany(ctx, docs, opts...)
		return err
	})
	return res, err
}

// FindOneInto decodes the first match into out; it returns mongo.ErrNoDocuments on a miss
func (c *InstrumentedCollection) FindOneInto(ctx context.Context, filter interface{}, out interface{}, opts ...*options.FindOneOptions) error {
	return c.observe(ctx, "findOne", func(ctx context.Context) error {
		return c.Collection.FindOne(ctx, filter, opts...).Decode(out)
	})
}

// FindAll decodes every match into out, which must be a pointer to a slice
func (c *InstrumentedCollection) FindAll(ctx context.Context, filter interface{}, out interface{}, opts ...*options.FindOptions) error {
	return c.observe(ctx, "find", func(ctx context.Context) error {
		cursor, err := c.Collection.Find(ctx, filter, opts...)
		if err != nil {
			return err
		}
		return cursor.All(ctx, out)
	})
}

// UpdateOne updates a single document
func (c *InstrumentedCollection) UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (res *mongo.UpdateResult, err error) {
	err = c.observe(ctx, "updateOne", func(ctx context.Context) error {
		res, err = c.Collection.UpdateOne(ctx, filter, update, opts...)
		return err
	})
	return res, err
}

// FindOneAndUpdateInto applies update to the first match and decodes the
// result into out; it returns mongo.ErrNoDocuments when nothing matched
func (c *InstrumentedCollection) FindOneAndUpdateInto(ctx context.Context, filter, update interface{}, out interface{}, opts ...*options.FindOneAndUpdateOptions) error {
	return c.observe(ctx, "findOneAndUpdate", func(ctx context.Context) error {
		return c.Collection.FindOneAndUpdate(ctx, filter, update, opts...).Decode(out)
	})
}

// UpdateMany updates every matching document
func (c *InstrumentedCollection) UpdateMany(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (res *mongo.UpdateResult, err error) {
	err = c.observe(ctx, "updateMany", func(ctx context.Context) error {
		res, err = c.Collection.UpdateMany(ctx, filter, update, opts...)
		return err
	})
	return res, err
}

// ReplaceOne replaces a single document
func (c *InstrumentedCollection) ReplaceOne(ctx context.Context, filter, replacement interface{}, opts ...*options.ReplaceOptions) (res *mongo.UpdateResult, err error) {
	err = c.observe(ctx, "replaceOne", func(ctx context.Context) error {
		res, err = c.Collection.ReplaceOne(ctx, filter, replacement, opts...)
		return err
	})
	return res, err
}

// DeleteMany deletes every matching document
func (c *InstrumentedCollection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (res *mongo.DeleteResult, err error) {
	err = c.observe(ctx, "deleteMany", func(ctx context.Context) error {
		res, err = c.Collection.DeleteMany(ctx, filter, opts...)
		return err
	})
	return res, err
}

// CountDocuments counts matching documents
func (c *InstrumentedCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (n int64, err error) {
	err = c.observe(ctx, "countDocuments", func(ctx context.Context) error {
		n, err = c.Collection.CountDocuments(ctx, filter, opts...)
		return err
	})
	return n, err
}

// AggregateAll runs a pipeline and decodes every result into out
func (c *InstrumentedCollection) AggregateAll(ctx context.Context, pipeline interface{}, out interface{}, opts ...*options.AggregateOptions) error {
	return c.observe(ctx, "aggregate", func(ctx context.Context) error {
		cursor, err := c.Collection.Aggregate(ctx, pipeline, opts...)
		if err != nil {
			return err
		}
		return cursor.All(ctx, out)
	})
}
