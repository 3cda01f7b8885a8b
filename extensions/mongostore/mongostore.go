// Package mongostore provides a mauzr.Store kept in a MongoDB collection, for
// agents that share one database instead of local disks.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/eqrx/mauzr"
)

// Defaults for Config.
const (
	DefaultDatabase         = "mauzr"
	DefaultCollection       = "ledger"
	DefaultOperationTimeout = 5 * time.Second
)

// Config selects where the ledger of one agent lives.
type Config struct {
	URI        string
	Database   string
	Collection string

	// Agent separates the entries of agents sharing a collection.
	Agent string

	OperationTimeout time.Duration
}

// entry is the document stored per key.
type entry struct {
	Agent string `bson:"agent"`
	Key   string `bson:"key"`
	Value []byte `bson:"value"`
}

// Store is a mauzr.Store backed by MongoDB. Writes use majority write
// concern with journaling, so an acknowledged Set is durable and Sync has
// nothing left to flush.
type Store struct {
	mu         sync.Mutex
	client     *mongo.Client
	ownsClient bool
	coll       *mongo.Collection
	agent      string
	timeout    time.Duration
	closed     bool
}

var _ mauzr.Store = (*Store)(nil)

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
}

// Connect dials MongoDB, verifies the connection and prepares the index.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Agent == "" {
		return nil, errors.New("agent name is required")
	}
	cfg.applyDefaults()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("mauzr-" + cfg.Agent).
		SetConnectTimeout(cfg.OperationTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s, err := New(ctx, client, cfg)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// New uses an existing client. Close leaves the client connected.
func New(ctx context.Context, client *mongo.Client, cfg Config) (*Store, error) {
	cfg.applyDefaults()

	wc := writeconcern.Majority()
	wc.Journal = boolPtr(true)

	coll := client.Database(cfg.Database).
		Collection(cfg.Collection, options.Collection().SetWriteConcern(wc))

	indexCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()

	_, err := coll.Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "agent", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("ledger_agent_key_unique"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating ledger index: %w", err)
	}

	return &Store{
		client:  client,
		coll:    coll,
		agent:   cfg.Agent,
		timeout: cfg.OperationTimeout,
	}, nil
}

func boolPtr(b bool) *bool { return &b }

func (s *Store) filter(key string) bson.D {
	return bson.D{{Key: "agent", Value: s.agent}, {Key: "key", Value: key}}
}

func (s *Store) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Get returns the value of key and whether it exists.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, mauzr.ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	var e entry
	err := s.coll.FindOne(ctx, s.filter(key)).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %q: %w", key, err)
	}
	return nonNil(e.Value), true, nil
}

// Set stores value under key.
func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mauzr.ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	update := bson.D{{Key: "$set", Value: bson.D{{Key: "value", Value: nonNil(value)}}}}
	_, err := s.coll.UpdateOne(ctx, s.filter(key), update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mauzr.ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	if _, err := s.coll.DeleteOne(ctx, s.filter(key)); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// Items returns every key and value of the agent.
func (s *Store) Items() (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, mauzr.ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	cursor, err := s.coll.Find(ctx, bson.D{{Key: "agent", Value: s.agent}})
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}

	var entries []entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}

	items := make(map[string][]byte, len(entries))
	for _, e := range entries {
		items[e.Key] = nonNil(e.Value)
	}
	return items, nil
}

// Sync only checks that the store is open; every write is acknowledged
// durably.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mauzr.ErrStoreClosed
	}
	return nil
}

// Close releases the store and disconnects the client if Connect created it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if !s.ownsClient {
		return nil
	}

	ctx, cancel := s.opContext()
	defer cancel()
	return s.client.Disconnect(ctx)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
