package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/repository"
)

// projectColumns always selects the derived applicant count as the last
// column so every project query can share scanProject.
const projectColumns = `p.id, p.name, p.description, p.technologies, p.creator_id,
	p.start_date, p.end_date, p.people_required, p.status, p.is_enabled,
	p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM memberships m WHERE m.project_id = p.id AND m.role = 'applicant')`

// CreateProject inserts a new project. ID and timestamps are set on the
// caller's struct.
func (db *DB) CreateProject(ctx context.Context, project *model.Project) error {
	now := time.Now().UTC()
	project.ID = xid.New().String()
	project.CreatedAt = now
	project.UpdatedAt = now

	techs, err := encodeJSONList(project.Technologies)
	if err != nil {
		return fmt.Errorf("sqlite: encoding technologies: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, technologies, creator_id, start_date,
			end_date, people_required, status, is_enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.Description, techs, project.CreatorID,
		project.StartDate.UTC(), project.EndDate.UTC(), project.PeopleRequired,
		string(project.Status), project.IsEnabled, project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", project.CreatorID)
		}
		return fmt.Errorf("sqlite: creating project: %w", err)
	}
	return nil
}

// GetProjectByID retrieves a single project by its ID.
func (db *DB) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects p WHERE p.id = ?`, id)

	p, err := scanProject(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("project", id)
		}
		return nil, fmt.Errorf("sqlite: getting project %s: %w", id, err)
	}
	return p, nil
}

// UpdateProjectDetails rewrites the editable fields of a project.
func (db *DB) UpdateProjectDetails(ctx context.Context, project *model.Project) error {
	project.UpdatedAt = time.Now().UTC()

	techs, err := encodeJSONList(project.Technologies)
	if err != nil {
		return fmt.Errorf("sqlite: encoding technologies: %w", err)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE projects
		 SET name = ?, description = ?, technologies = ?, start_date = ?, end_date = ?,
		     people_required = ?, updated_at = ?
		 WHERE id = ?`,
		project.Name, project.Description, techs, project.StartDate.UTC(),
		project.EndDate.UTC(), project.PeopleRequired, project.UpdatedAt, project.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating project %s: %w", project.ID, err)
	}
	return checkAffected(result, apperror.NotFound("project", project.ID))
}

// UpdateProjectStatus is a compare-and-set on the status column: the write
// only lands if the project is still in `from`. Two racing transitions can
// therefore never both succeed.
func (db *DB) UpdateProjectStatus(ctx context.Context, id string, from, to model.Status) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating status of project %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: either the project is gone or someone moved it first.
	if _, err := db.GetProjectByID(ctx, id); err != nil {
		return err
	}
	return apperror.Conflictf("project %s is no longer %s", id, from)
}

// SetProjectEnabled shows or hides a project in the public listing.
func (db *DB) SetProjectEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE projects SET is_enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: toggling project %s: %w", id, err)
	}
	return checkAffected(result, apperror.NotFound("project", id))
}

// DeleteProject removes a project. Memberships and ratings go with it via
// ON DELETE CASCADE; notifications keep their text and lose the project link.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting project %s: %w", id, err)
	}
	return checkAffected(result, apperror.NotFound("project", id))
}

// ListProjects returns one page of the public listing.
//
// The WHERE clause is assembled from optional filters. Every user-supplied
// value still goes through a ? placeholder; only fixed SQL fragments are
// concatenated.
func (db *DB) ListProjects(ctx context.Context, q repository.ProjectQuery) ([]model.Project, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = repository.ProjectPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := []string{"p.is_enabled = 1"}
	var args []any

	if q.ViewerID != "" {
		where = append(where,
			`NOT EXISTS (SELECT 1 FROM memberships m WHERE m.project_id = p.id AND m.user_id = ?)`)
		args = append(args, q.ViewerID)
	}

	if search := strings.TrimSpace(q.Search); search != "" {
		// LIKE is case-insensitive for ASCII in SQLite.
		pattern := "%" + escapeLike(search) + "%"
		where = append(where, `(p.name LIKE ? ESCAPE '\' OR p.description LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	if len(q.Technologies) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.Technologies)), ", ")
		where = append(where,
			`EXISTS (SELECT 1 FROM json_each(p.technologies) t WHERE t.value IN (`+placeholders+`))`)
		for _, tech := range q.Technologies {
			args = append(args, tech)
		}
	}

	var orderBy string
	switch q.Sort {
	case model.SortOldest:
		orderBy = "p.created_at ASC, p.id ASC"
	case model.SortApplicants:
		orderBy = "applicant_count DESC, p.created_at DESC, p.id DESC"
	default:
		orderBy = "p.created_at DESC, p.id DESC"
	}

	query := `SELECT ` + projectColumns + ` AS applicant_count
		FROM projects p
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + orderBy + `
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing projects: %w", err)
	}
	defer rows.Close()

	return scanProjects(rows, limit)
}

// ListProjectsByCreator returns every project a user created, newest first,
// including disabled ones.
func (db *DB) ListProjectsByCreator(ctx context.Context, creatorID string) ([]model.Project, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+projectColumns+`
		 FROM projects p
		 WHERE p.creator_id = ?
		 ORDER BY p.created_at DESC, p.id DESC`,
		creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing projects of %s: %w", creatorID, err)
	}
	defer rows.Close()

	return scanProjects(rows, 0)
}

func scanProjects(rows *sql.Rows, capacity int) ([]model.Project, error) {
	projects := make([]model.Project, 0, capacity)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning project row: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating projects: %w", err)
	}
	return projects, nil
}

func scanProject(row rowScanner) (*model.Project, error) {
	var (
		p      model.Project
		techs  string
		status string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &techs, &p.CreatorID,
		&p.StartDate, &p.EndDate, &p.PeopleRequired, &status, &p.IsEnabled,
		&p.CreatedAt, &p.UpdatedAt, &p.ApplicantCount,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.Status(status)
	if err := decodeTechnologies(techs, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeTechnologies(raw string, p *model.Project) error {
	if err := json.Unmarshal([]byte(raw), &p.Technologies); err != nil {
		return fmt.Errorf("sqlite: decoding technologies of %s: %w", p.ID, err)
	}
	return nil
}

// escapeLike escapes LIKE wildcards so a search for "50%" matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
