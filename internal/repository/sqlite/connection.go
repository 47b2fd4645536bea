package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
)

// AddConnection stores both directions of a connection in one transaction,
// so the network can never be half-linked.
func (db *DB) AddConnection(ctx context.Context, userID, peerID string) error {
	now := time.Now().UTC()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, pair := range [][2]string{{userID, peerID}, {peerID, userID}} {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO connections (user_id, peer_id, created_at) VALUES (?, ?, ?)`,
				pair[0], pair[1], now,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return apperror.Conflictf("users %s and %s are already connected", userID, peerID)
				}
				if isForeignKeyViolation(err) {
					return apperror.NotFound("user", peerID)
				}
				return fmt.Errorf("sqlite: adding connection %s -> %s: %w", pair[0], pair[1], err)
			}
		}
		return nil
	})
}

// RemoveConnection deletes both directions. ErrNotFound if they were not connected.
func (db *DB) RemoveConnection(ctx context.Context, userID, peerID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM connections
		 WHERE (user_id = ? AND peer_id = ?) OR (user_id = ? AND peer_id = ?)`,
		userID, peerID, peerID, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing connection %s <-> %s: %w", userID, peerID, err)
	}
	return checkAffected(result, apperror.NotFound("connection", peerID))
}

// ListConnections returns the public profiles of everyone userID is connected to.
func (db *DB) ListConnections(ctx context.Context, userID string) ([]model.PublicUser, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.id, u.username, u.name, u.headline, u.profile_image
		 FROM connections c
		 JOIN users u ON u.id = c.peer_id
		 WHERE c.user_id = ?
		 ORDER BY c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing connections of %s: %w", userID, err)
	}
	defer rows.Close()
	return scanPublicUsers(rows)
}

func scanPublicUsers(rows *sql.Rows) ([]model.PublicUser, error) {
	users := []model.PublicUser{}
	for rows.Next() {
		var u model.PublicUser
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Headline, &u.ProfileImage); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}
