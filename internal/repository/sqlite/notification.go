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

// CreateNotification inserts n. A reused DedupeKey surfaces as ErrConflict,
// which emitters treat as "already delivered".
func (db *DB) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = xid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	var dedupe sql.NullString
	if n.DedupeKey != "" {
		dedupe = sql.NullString{String: n.DedupeKey, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient_id, type, related_user_id, related_project_id,
			message, read, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, string(n.Type), n.RelatedUserID, nullString(n.RelatedProjectID),
		n.Message, n.Read, dedupe, n.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflictf("notification %q already exists", n.DedupeKey)
		}
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", n.RecipientID)
		}
		return fmt.Errorf("sqlite: inserting notification: %w", err)
	}
	return nil
}

// ListNotifications returns a recipient's notifications newest first, each
// joined with the public profile of the user that triggered it.
func (db *DB) ListNotifications(ctx context.Context, recipientID string) ([]model.NotificationView, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT n.id, n.recipient_id, n.type, n.related_user_id, n.related_project_id,
			n.message, n.read, n.created_at,
			u.id, u.username, u.name, u.headline, u.profile_image
		 FROM notifications n
		 LEFT JOIN users u ON u.id = n.related_user_id
		 WHERE n.recipient_id = ?
		 ORDER BY n.created_at DESC, n.id DESC`,
		recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing notifications of %s: %w", recipientID, err)
	}
	defer rows.Close()

	views := []model.NotificationView{}
	for rows.Next() {
		var (
			v         model.NotificationView
			typ       string
			projectID sql.NullString
			uID       sql.NullString
			uUsername sql.NullString
			uName     sql.NullString
			uHeadline sql.NullString
			uImage    sql.NullString
		)
		err := rows.Scan(
			&v.ID, &v.RecipientID, &typ, &v.RelatedUserID, &projectID,
			&v.Message, &v.Read, &v.CreatedAt,
			&uID, &uUsername, &uName, &uHeadline, &uImage,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning notification: %w", err)
		}
		v.Type = model.NotificationType(typ)
		if projectID.Valid {
			id := projectID.String
			v.RelatedProjectID = &id
		}
		if uID.Valid {
			v.RelatedUser = &model.PublicUser{
				ID:           uID.String,
				Username:     uUsername.String,
				Name:         uName.String,
				Headline:     uHeadline.String,
				ProfileImage: uImage.String,
			}
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating notifications: %w", err)
	}
	return views, nil
}

func (db *DB) NotifiedRecipients(ctx context.Context, projectID string, typ model.NotificationType) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT recipient_id FROM notifications
		 WHERE related_project_id = ? AND type = ?`,
		projectID, string(typ),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing notified recipients of %s: %w", projectID, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning recipient: %w", err)
		}
		seen[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating recipients: %w", err)
	}
	return seen, nil
}

func (db *DB) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND recipient_id = ?`,
		id, recipientID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking notification %s read: %w", id, err)
	}
	return checkAffected(result, apperror.NotFound("notification", id))
}

// MarkAllNotificationsRead returns how many unread notifications it flipped.
func (db *DB) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE recipient_id = ? AND read = 0`,
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: marking notifications of %s read: %w", recipientID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

func (db *DB) DeleteNotification(ctx context.Context, id, recipientID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ? AND recipient_id = ?`, id, recipientID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting notification %s: %w", id, err)
	}
	return checkAffected(result, apperror.NotFound("notification", id))
}

func (db *DB) DeleteAllNotifications(ctx context.Context, recipientID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM notifications WHERE recipient_id = ?`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting notifications of %s: %w", recipientID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
