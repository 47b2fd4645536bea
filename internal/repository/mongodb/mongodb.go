// Package mongodb implements the repository interfaces on top of MongoDB.
//
// The document layout mirrors the SQLite tables: one collection per entity
// and a separate memberships collection instead of arrays embedded in the
// project and user documents. Uniqueness rules that SQLite enforces with
// PRIMARY KEY / UNIQUE constraints are unique indexes here, created by Open.
//
// Multi-document writes (project delete, rating batches) do not use
// transactions so that a standalone mongod works; where atomicity matters
// the code checks first and compensates on failure.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sakif/teamify/internal/repository"
)

// compile-time check that *Store implements the whole repository.Store
var _ repository.Store = (*Store)(nil)

const (
	colUsers         = "users"
	colConnections   = "connections"
	colProjects      = "projects"
	colMemberships   = "memberships"
	colRatings       = "ratings"
	colNotifications = "notifications"
)

// caseInsensitive makes username and email comparisons ignore case, the
// same way COLLATE NOCASE does in the SQLite backend.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

// Store holds a connected client and the database all collections live in.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri, verifies the connection and ensures every index exists.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: creating indexes: %w", err)
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database. Tests use it to clean up after themselves.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colUsers: {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true).SetCollation(caseInsensitive),
			},
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetCollation(caseInsensitive),
			},
			{
				Keys:    bson.D{{Key: "github_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
		},
		colConnections: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "peer_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colProjects: {
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "creator_id", Value: 1}}},
		},
		colMemberships: {
			{
				Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		colRatings: {
			{
				Keys: bson.D{
					{Key: "project_id", Value: 1},
					{Key: "reviewer_id", Value: 1},
					{Key: "reviewee_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "reviewee_id", Value: 1}}},
		},
		colNotifications: {
			{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys: bson.D{{Key: "dedupe_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(
					bson.D{{Key: "dedupe_key", Value: bson.D{{Key: "$type", Value: "string"}}}},
				),
			},
		},
	}

	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
