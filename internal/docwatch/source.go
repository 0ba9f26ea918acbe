package docwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeStream is the part of *mongo.ChangeStream the watcher needs.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

var _ ChangeStream = (*mongo.ChangeStream)(nil)

// Source reads the watched collection.
type Source interface {
	// Watch opens a change stream filtered by pipeline with full documents
	// looked up on update.
	Watch(ctx context.Context, pipeline mongo.Pipeline) (ChangeStream, error)

	// FindOne reads the document with the given _id. A nil document means it
	// does not exist. The timestamp is the operation time of the read when the
	// deployment reports one.
	FindOne(ctx context.Context, id any) (bson.M, *primitive.Timestamp, error)
}

// Config configures the MongoDB connection.
type Config struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default MongoDB configuration.
func DefaultConfig() Config {
	return Config{
		URI:      "mongodb://localhost:27017",
		Database: "slotwatch",
		Timeout:  10 * time.Second,
	}
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.URI == "" {
		c.URI = defaults.URI
	}
	if c.Database == "" {
		c.Database = defaults.Database
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Database == "" {
		return fmt.Errorf("mongo.database is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("mongo.timeout must not be negative")
	}
	return nil
}

// CollectionSource implements Source on a MongoDB collection.
type CollectionSource struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect connects to MongoDB, verifies the connection and binds collection.
func Connect(ctx context.Context, cfg Config, collection string) (*CollectionSource, error) {
	cfg.ApplyDefaults()
	clientOpts := options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &CollectionSource{
		client: client,
		coll:   client.Database(cfg.Database).Collection(collection),
	}, nil
}

// Close disconnects the client.
func (s *CollectionSource) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *CollectionSource) Watch(ctx context.Context, pipeline mongo.Pipeline) (ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := s.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}
	return stream, nil
}

func (s *CollectionSource) FindOne(ctx context.Context, id any) (bson.M, *primitive.Timestamp, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(context.Background())

	var doc bson.M
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		return s.coll.FindOne(sc, bson.M{"_id": id}).Decode(&doc)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		doc, err = nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return doc, sess.OperationTime(), nil
}
