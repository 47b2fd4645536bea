package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/repository"
)

// AddApplicant records a pending application. The (project_id, user_id)
// primary key rejects a second membership of either role.
func (db *DB) AddApplicant(ctx context.Context, projectID, userID string) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO memberships (project_id, user_id, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		projectID, userID, string(model.RoleApplicant), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflictf("user %s already belongs to project %s", userID, projectID)
		}
		if isForeignKeyViolation(err) {
			return apperror.NotFound("project", projectID)
		}
		return fmt.Errorf("sqlite: adding applicant %s to %s: %w", userID, projectID, err)
	}
	return nil
}

// PromoteApplicant flips an applicant to selected in a single statement, so
// the user is never observable in both lists or in neither. The headcount
// subquery runs inside the same statement, and SQLite serializes writers,
// so two promotions can never both take the last slot.
func (db *DB) PromoteApplicant(ctx context.Context, projectID, userID string, capacity int) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE memberships SET role = ?, updated_at = ?
		 WHERE project_id = ? AND user_id = ? AND role = ?
		   AND (SELECT COUNT(*) FROM memberships WHERE project_id = ? AND role = ?) < ?`,
		string(model.RoleSelected), time.Now().UTC(), projectID, userID, string(model.RoleApplicant),
		projectID, string(model.RoleSelected), capacity,
	)
	if err != nil {
		return fmt.Errorf("sqlite: promoting %s in %s: %w", userID, projectID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: either the user is no longer an applicant or the
	// headcount guard failed.
	m, err := db.GetMembership(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound("applicant", userID)
		}
		return err
	}
	if m.Role != model.RoleApplicant {
		return apperror.NotFound("applicant", userID)
	}
	return repository.ErrTeamFull
}

// RemoveMember deletes the membership only while it still has the given role.
func (db *DB) RemoveMember(ctx context.Context, projectID, userID string, role model.MemberRole) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM memberships WHERE project_id = ? AND user_id = ? AND role = ?`,
		projectID, userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing %s %s from %s: %w", role, userID, projectID, err)
	}
	return checkAffected(result, apperror.NotFound(string(role), userID))
}

func (db *DB) GetMembership(ctx context.Context, projectID, userID string) (*model.Membership, error) {
	var (
		m    model.Membership
		role string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT project_id, user_id, role, created_at, updated_at
		 FROM memberships WHERE project_id = ? AND user_id = ?`,
		projectID, userID,
	).Scan(&m.ProjectID, &m.UserID, &role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("membership", userID)
		}
		return nil, fmt.Errorf("sqlite: getting membership %s/%s: %w", projectID, userID, err)
	}
	m.Role = model.MemberRole(role)
	return &m, nil
}

// ListMembers returns the public profiles holding role in a project, in the
// order they joined.
func (db *DB) ListMembers(ctx context.Context, projectID string, role model.MemberRole) ([]model.PublicUser, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.id, u.username, u.name, u.headline, u.profile_image
		 FROM memberships m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.project_id = ? AND m.role = ?
		 ORDER BY m.created_at ASC, u.id ASC`,
		projectID, string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing %s members of %s: %w", role, projectID, err)
	}
	defer rows.Close()
	return scanPublicUsers(rows)
}

func (db *DB) CountMembers(ctx context.Context, projectID string, role model.MemberRole) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE project_id = ? AND role = ?`,
		projectID, string(role),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting %s members of %s: %w", role, projectID, err)
	}
	return n, nil
}

// ListUserProjects returns every project the user applied to or was selected
// for, most recent membership first.
func (db *DB) ListUserProjects(ctx context.Context, userID string) ([]model.AppliedProject, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+projectColumns+`, mu.role, mu.created_at
		 FROM memberships mu
		 JOIN projects p ON p.id = mu.project_id
		 WHERE mu.user_id = ?
		 ORDER BY mu.created_at DESC, p.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing projects of member %s: %w", userID, err)
	}
	defer rows.Close()

	out := []model.AppliedProject{}
	for rows.Next() {
		var (
			ap    model.AppliedProject
			techs string
			st    string
			role  string
		)
		p := &ap.Project
		err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &techs, &p.CreatorID,
			&p.StartDate, &p.EndDate, &p.PeopleRequired, &st, &p.IsEnabled,
			&p.CreatedAt, &p.UpdatedAt, &p.ApplicantCount,
			&role, &ap.Since,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning applied project: %w", err)
		}
		p.Status = model.Status(st)
		if err := decodeTechnologies(techs, p); err != nil {
			return nil, err
		}
		ap.Role = model.MemberRole(role)
		out = append(out, ap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating applied projects: %w", err)
	}
	return out, nil
}
