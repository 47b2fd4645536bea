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

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = xid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if _, err := s.col(colNotifications).InsertOne(ctx, n); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflictf("notification %q already exists", n.DedupeKey)
		}
		return fmt.Errorf("mongo: inserting notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string) ([]model.NotificationView, error) {
	cur, err := s.col(colNotifications).Find(ctx,
		bson.D{{Key: "recipient_id", Value: recipientID}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing notifications of %s: %w", recipientID, err)
	}
	var notes []model.Notification
	if err := cur.All(ctx, &notes); err != nil {
		return nil, fmt.Errorf("mongo: decoding notifications: %w", err)
	}

	var related []string
	seen := map[string]bool{}
	for _, n := range notes {
		if n.RelatedUserID != "" && !seen[n.RelatedUserID] {
			seen[n.RelatedUserID] = true
			related = append(related, n.RelatedUserID)
		}
	}
	users, err := s.publicUsers(ctx, related)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.PublicUser, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	views := make([]model.NotificationView, len(notes))
	for i, n := range notes {
		views[i].Notification = n
		if u, ok := byID[n.RelatedUserID]; ok {
			views[i].RelatedUser = &u
		}
	}
	return views, nil
}

func (s *Store) NotifiedRecipients(ctx context.Context, projectID string, typ model.NotificationType) (map[string]bool, error) {
	cur, err := s.col(colNotifications).Find(ctx,
		bson.D{{Key: "related_project_id", Value: projectID}, {Key: "type", Value: typ}},
		options.Find().SetProjection(bson.D{{Key: "recipient_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing notified recipients of %s: %w", projectID, err)
	}
	var rows []struct {
		RecipientID string `bson:"recipient_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("mongo: decoding recipients: %w", err)
	}

	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.RecipientID] = true
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	result, err := s.col(colNotifications).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "recipient_id", Value: recipientID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "read", Value: true}}}},
	)
	if err != nil {
		return fmt.Errorf("mongo: marking notification %s read: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("notification", id)
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.col(colNotifications).UpdateMany(ctx,
		bson.D{{Key: "recipient_id", Value: recipientID}, {Key: "read", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "read", Value: true}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("mongo: marking notifications of %s read: %w", recipientID, err)
	}
	return result.ModifiedCount, nil
}

func (s *Store) DeleteNotification(ctx context.Context, id, recipientID string) error {
	result, err := s.col(colNotifications).DeleteOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "recipient_id", Value: recipientID}})
	if err != nil {
		return fmt.Errorf("mongo: deleting notification %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return apperror.NotFound("notification", id)
	}
	return nil
}

func (s *Store) DeleteAllNotifications(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.col(colNotifications).DeleteMany(ctx, bson.D{{Key: "recipient_id", Value: recipientID}})
	if err != nil {
		return 0, fmt.Errorf("mongo: deleting notifications of %s: %w", recipientID, err)
	}
	return result.DeletedCount, nil
}
