// Package store reads the primary MongoDB store: full collection scans for
// backfill and change streams for live sync.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/o2r-project/o2r-finder/internal/retry"
	"github.com/o2r-project/o2r-finder/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Provider wraps a connected MongoDB client bound to one database.
type Provider struct {
	client    *mongo.Client
	db        *mongo.Database
	batchSize int32
}

// NewProvider connects once and verifies the connection with a ping.
func NewProvider(ctx context.Context, uri, dbName string, connectTimeout time.Duration) (*Provider, error) {
	clientOpts := options.Client().ApplyURI(uri)

	if clientOpts.ConnectTimeout == nil {
		if connectTimeout <= 0 {
			connectTimeout = 10 * time.Second
		}
		clientOpts.SetConnectTimeout(connectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &Provider{
		client:    client,
		db:        client.Database(dbName),
		batchSize: 100,
	}, nil
}

// Connect establishes the store connection under cfg.Connect. Exhausting
// the attempts yields a *model.ConnectivityError.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	var provider *Provider
	err := retry.Do(ctx, cfg.Connect, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		p, err := NewProvider(attemptCtx, cfg.URI, cfg.Database, cfg.ConnectTimeout)
		if err != nil {
			logger.Warn("MongoDB not reachable", "attempt", attempt, "of", cfg.Connect.Attempts, "error", err)
			return err
		}
		provider = p
		return nil
	})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return nil, &model.ConnectivityError{Dependency: "mongodb", Attempts: exhausted.Attempts, Err: exhausted.Err}
	}
	if err != nil {
		return nil, err
	}

	if cfg.BatchSize > 0 {
		provider.batchSize = cfg.BatchSize
	}
	logger.Info("Connected to MongoDB", "database", cfg.Database)
	return provider, nil
}

// Client returns the underlying MongoDB client
func (p *Provider) Client() *mongo.Client {
	return p.client
}

// DatabaseName returns the database this provider reads from
func (p *Provider) DatabaseName() string {
	return p.db.Name()
}

// Ping checks the connection is still alive.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, nil)
}

// Scan calls fn for every document in the collection. Iteration stops at
// the first error returned by fn.
func (p *Provider) Scan(ctx context.Context, collection string, fn func(model.Document) error) error {
	cursor, err := p.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetBatchSize(p.batchSize))
	if err != nil {
		return fmt.Errorf("scan %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return fmt.Errorf("scan %s: decode: %w", collection, err)
		}
		if err := fn(ToDocument(raw)); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", collection, err)
	}
	return nil
}

// Watch opens a change stream on the collection. A non-nil resumeAfter
// continues after that token.
func (p *Provider) Watch(ctx context.Context, collection string, resumeAfter bson.Raw) (ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if resumeAfter != nil {
		opts.SetResumeAfter(resumeAfter)
	}

	stream, err := p.db.Collection(collection).Watch(ctx, watchPipeline(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream on %s: %w", collection, err)
	}
	return &mongoStream{stream: stream, token: resumeAfter}, nil
}

// Close closes the MongoDB connection
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

// watchPipeline limits the stream to operations that touch single documents.
// invalidate is kept so a dropped collection ends the stream.
func watchPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType": bson.M{"$in": bson.A{
				string(OpInsert), string(OpUpdate), string(OpReplace), string(OpDelete), "invalidate",
			}},
		}}},
	}
}
