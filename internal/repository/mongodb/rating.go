package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
)

// CreateRatings inserts the batch with an ordered InsertMany. If the unique
// index rejects one of them, the documents that did get in are deleted again.
func (s *Store) CreateRatings(ctx context.Context, ratings []*model.Rating) error {
	if len(ratings) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]any, len(ratings))
	ids := make([]string, len(ratings))
	for i, r := range ratings {
		r.ID = xid.New().String()
		r.CreatedAt = now
		if r.Type == "" {
			r.Type = model.RatingTypeProjectCompletion
		}
		docs[i] = r
		ids[i] = r.ID
	}

	_, err := s.col(colRatings).InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err == nil {
		return nil
	}

	if _, cleanupErr := s.col(colRatings).DeleteMany(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}); cleanupErr != nil {
		return fmt.Errorf("mongo: rolling back rating batch: %w (after %v)", cleanupErr, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperror.Conflictf("a rating in this batch already exists for project %s", ratings[0].ProjectID)
	}
	return fmt.Errorf("mongo: inserting ratings: %w", err)
}

func (s *Store) ListRatingsByReviewer(ctx context.Context, projectID, reviewerID string) ([]model.Rating, error) {
	cur, err := s.col(colRatings).Find(ctx,
		bson.D{{Key: "project_id", Value: projectID}, {Key: "reviewer_id", Value: reviewerID}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "reviewee_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing ratings by %s on %s: %w", reviewerID, projectID, err)
	}
	ratings := []model.Rating{}
	if err := cur.All(ctx, &ratings); err != nil {
		return nil, fmt.Errorf("mongo: decoding ratings: %w", err)
	}
	return ratings, nil
}

func (s *Store) SummarizeRatings(ctx context.Context, userID string) (model.RatingSummary, error) {
	summary := model.RatingSummary{UserID: userID}

	cur, err := s.col(colRatings).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "reviewee_id", Value: userID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "average", Value: bson.D{{Key: "$avg", Value: "$value"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return summary, fmt.Errorf("mongo: summarizing ratings of %s: %w", userID, err)
	}

	var rows []struct {
		Average float64 `bson:"average"`
		Count   int     `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return summary, fmt.Errorf("mongo: decoding rating summary: %w", err)
	}
	if len(rows) > 0 {
		summary.Average = rows[0].Average
		summary.Count = rows[0].Count
	}
	return summary, nil
}
