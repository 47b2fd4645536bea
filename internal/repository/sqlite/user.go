package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
)

const userColumns = `id, username, email, password_hash, github_id, security_question,
	security_answer_hash, name, headline, bio, location, profile_image, banner_image,
	skills, experience, education, created_at, updated_at`

// CreateUser inserts a new user. The ID and timestamps are filled in on the
// caller's struct. A taken username or email is reported as a conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	skills, experience, education, err := encodeProfileLists(user)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.PasswordHash, nullInt64(user.GitHubID),
		user.SecurityQuestion, user.SecurityAnswerHash, user.Name, user.Headline,
		user.Bio, user.Location, user.ProfileImage, user.BannerImage,
		skills, experience, education, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflictf("username or email is already registered")
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByLogin finds a user by username or email. Both columns are
// COLLATE NOCASE, so the comparison is case-insensitive.
func (db *DB) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? OR email = ? LIMIT 1`,
		login, login)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", login)
		}
		return nil, fmt.Errorf("sqlite: getting user by login %q: %w", login, err)
	}
	return u, nil
}

// UpsertGitHubUser inserts or refreshes the account linked to a GitHub ID.
//
// Existing accounts keep their internal ID and username; only the fields
// GitHub is authoritative for (email, display name, avatar) are refreshed.
func (db *DB) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	if user.GitHubID == nil {
		return fmt.Errorf("sqlite: upserting GitHub user: missing GitHub ID")
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, *user.GitHubID)
	existing, err := scanUser(row)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: looking up user by github_id %d: %w", *user.GitHubID, err)
	}

	if existing == nil {
		return db.CreateUser(ctx, user)
	}

	existing.UpdatedAt = time.Now().UTC()
	if user.Email != "" {
		existing.Email = user.Email
	}
	if user.ProfileImage != "" {
		existing.ProfileImage = user.ProfileImage
	}
	if existing.Name == "" {
		existing.Name = user.Name
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE users SET email = ?, profile_image = ?, name = ?, updated_at = ? WHERE id = ?`,
		existing.Email, existing.ProfileImage, existing.Name, existing.UpdatedAt, existing.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflictf("email is already registered")
		}
		return fmt.Errorf("sqlite: updating user %s: %w", existing.ID, err)
	}

	*user = *existing
	return nil
}

// UpdateProfile rewrites the presentation fields of a user.
func (db *DB) UpdateProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	skills, experience, education, err := encodeProfileLists(user)
	if err != nil {
		return err
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET name = ?, headline = ?, bio = ?, location = ?, profile_image = ?,
		     banner_image = ?, skills = ?, experience = ?, education = ?, updated_at = ?
		 WHERE id = ?`,
		user.Name, user.Headline, user.Bio, user.Location, user.ProfileImage,
		user.BannerImage, skills, experience, education, user.UpdatedAt, user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile %s: %w", user.ID, err)
	}
	return checkAffected(result, apperror.NotFound("user", user.ID))
}

// UpdatePassword replaces a user's password hash.
func (db *DB) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for %s: %w", userID, err)
	}
	return checkAffected(result, apperror.NotFound("user", userID))
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                             model.User
		githubID                      sql.NullInt64
		skills, experience, education string
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &githubID, &u.SecurityQuestion,
		&u.SecurityAnswerHash, &u.Name, &u.Headline, &u.Bio, &u.Location,
		&u.ProfileImage, &u.BannerImage, &skills, &experience, &education,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	if err := json.Unmarshal([]byte(skills), &u.Skills); err != nil {
		return nil, fmt.Errorf("decoding skills: %w", err)
	}
	if err := json.Unmarshal([]byte(experience), &u.Experience); err != nil {
		return nil, fmt.Errorf("decoding experience: %w", err)
	}
	if err := json.Unmarshal([]byte(education), &u.Education); err != nil {
		return nil, fmt.Errorf("decoding education: %w", err)
	}
	return &u, nil
}

func encodeProfileLists(u *model.User) (skills, experience, education string, err error) {
	if skills, err = encodeJSONList(u.Skills); err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding skills: %w", err)
	}
	if experience, err = encodeJSONList(u.Experience); err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding experience: %w", err)
	}
	if education, err = encodeJSONList(u.Education); err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding education: %w", err)
	}
	return skills, experience, education, nil
}

// encodeJSONList marshals a slice, writing "[]" rather than "null" for nil.
func encodeJSONList[T any](list []T) (string, error) {
	if list == nil {
		list = []T{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
