package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
)

// CreateRatings stores a reviewer's batch in one transaction. If any pair
// was already rated, nothing from the batch is kept.
func (db *DB) CreateRatings(ctx context.Context, ratings []*model.Rating) error {
	now := time.Now().UTC()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range ratings {
			r.ID = xid.New().String()
			r.CreatedAt = now
			if r.Type == "" {
				r.Type = model.RatingTypeProjectCompletion
			}

			_, err := tx.ExecContext(ctx,
				`INSERT INTO ratings (id, project_id, reviewer_id, reviewee_id, type, value, feedback, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.ProjectID, r.ReviewerID, r.RevieweeID, r.Type, r.Value, r.Feedback, r.CreatedAt,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return apperror.Conflictf("user %s was already rated for project %s", r.RevieweeID, r.ProjectID)
				}
				if isForeignKeyViolation(err) {
					return apperror.NotFound("user", r.RevieweeID)
				}
				return fmt.Errorf("sqlite: inserting rating: %w", err)
			}
		}
		return nil
	})
}

// ListRatingsByReviewer returns what one reviewer submitted for a project.
func (db *DB) ListRatingsByReviewer(ctx context.Context, projectID, reviewerID string) ([]model.Rating, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, project_id, reviewer_id, reviewee_id, type, value, feedback, created_at
		 FROM ratings
		 WHERE project_id = ? AND reviewer_id = ?
		 ORDER BY created_at ASC, reviewee_id ASC`,
		projectID, reviewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing ratings by %s on %s: %w", reviewerID, projectID, err)
	}
	defer rows.Close()

	ratings := []model.Rating{}
	for rows.Next() {
		var r model.Rating
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.ReviewerID, &r.RevieweeID,
			&r.Type, &r.Value, &r.Feedback, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating ratings: %w", err)
	}
	return ratings, nil
}

// SummarizeRatings averages every rating userID has received.
func (db *DB) SummarizeRatings(ctx context.Context, userID string) (model.RatingSummary, error) {
	summary := model.RatingSummary{UserID: userID}
	var avg sql.NullFloat64
	err := db.conn.QueryRowContext(ctx,
		`SELECT AVG(value), COUNT(*) FROM ratings WHERE reviewee_id = ?`, userID,
	).Scan(&avg, &summary.Count)
	if err != nil {
		return summary, fmt.Errorf("sqlite: summarizing ratings of %s: %w", userID, err)
	}
	if avg.Valid {
		summary.Average = avg.Float64
	}
	return summary, nil
}
