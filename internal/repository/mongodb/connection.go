package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
)

type connectionDoc struct {
	UserID    string    `bson:"user_id"`
	PeerID    string    `bson:"peer_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// AddConnection stores both directions. Each direction is an upsert, so a
// retry after a partial failure converges instead of erroring.
func (s *Store) AddConnection(ctx context.Context, userID, peerID string) error {
	if _, err := s.GetUserByID(ctx, peerID); err != nil {
		return err
	}

	existing, err := s.col(colConnections).CountDocuments(ctx, bson.D{
		{Key: "user_id", Value: userID}, {Key: "peer_id", Value: peerID},
	})
	if err != nil {
		return fmt.Errorf("mongo: checking connection %s -> %s: %w", userID, peerID, err)
	}
	if existing > 0 {
		return apperror.Conflictf("users %s and %s are already connected", userID, peerID)
	}

	now := time.Now().UTC()
	for _, pair := range [][2]string{{userID, peerID}, {peerID, userID}} {
		filter := bson.D{{Key: "user_id", Value: pair[0]}, {Key: "peer_id", Value: pair[1]}}
		update := bson.D{{Key: "$setOnInsert", Value: connectionDoc{UserID: pair[0], PeerID: pair[1], CreatedAt: now}}}
		if _, err := s.col(colConnections).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
			return fmt.Errorf("mongo: adding connection %s -> %s: %w", pair[0], pair[1], err)
		}
	}
	return nil
}

func (s *Store) RemoveConnection(ctx context.Context, userID, peerID string) error {
	result, err := s.col(colConnections).DeleteMany(ctx, bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "user_id", Value: userID}, {Key: "peer_id", Value: peerID}},
		bson.D{{Key: "user_id", Value: peerID}, {Key: "peer_id", Value: userID}},
	}}})
	if err != nil {
		return fmt.Errorf("mongo: removing connection %s <-> %s: %w", userID, peerID, err)
	}
	if result.DeletedCount == 0 {
		return apperror.NotFound("connection", peerID)
	}
	return nil
}

func (s *Store) ListConnections(ctx context.Context, userID string) ([]model.PublicUser, error) {
	cur, err := s.col(colConnections).Find(ctx,
		bson.D{{Key: "user_id", Value: userID}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing connections of %s: %w", userID, err)
	}
	var docs []connectionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decoding connections: %w", err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.PeerID
	}
	return s.publicUsers(ctx, ids)
}
