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

// publicUserProjection limits user lookups that feed joins to PublicUser fields.
var publicUserProjection = bson.D{
	{Key: "username", Value: 1},
	{Key: "name", Value: 1},
	{Key: "headline", Value: 1},
	{Key: "profile_image", Value: 1},
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	normalizeProfileLists(user)

	if _, err := s.col(colUsers).InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflictf("username or email is already registered")
		}
		return fmt.Errorf("mongo: inserting user %q: %w", user.Username, err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.col(colUsers).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&u)
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("mongo: getting user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "username", Value: login}},
		bson.D{{Key: "email", Value: login}},
	}}}

	var u model.User
	err := s.col(colUsers).FindOne(ctx, filter, options.FindOne().SetCollation(caseInsensitive)).Decode(&u)
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("user", login)
		}
		return nil, fmt.Errorf("mongo: getting user by login %q: %w", login, err)
	}
	return &u, nil
}

// UpsertGitHubUser keeps the internal ID and username of an existing account
// and refreshes only the fields GitHub owns.
func (s *Store) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	if user.GitHubID == nil {
		return fmt.Errorf("mongo: upserting GitHub user: missing GitHub ID")
	}

	var existing model.User
	err := s.col(colUsers).FindOne(ctx, bson.D{{Key: "github_id", Value: *user.GitHubID}}).Decode(&existing)
	if isNoDocuments(err) {
		return s.CreateUser(ctx, user)
	}
	if err != nil {
		return fmt.Errorf("mongo: looking up user by github_id %d: %w", *user.GitHubID, err)
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

	_, err = s.col(colUsers).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: existing.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "email", Value: existing.Email},
			{Key: "profile_image", Value: existing.ProfileImage},
			{Key: "name", Value: existing.Name},
			{Key: "updated_at", Value: existing.UpdatedAt},
		}}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflictf("email is already registered")
		}
		return fmt.Errorf("mongo: updating user %s: %w", existing.ID, err)
	}

	*user = existing
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()
	normalizeProfileLists(user)

	result, err := s.col(colUsers).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: user.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "name", Value: user.Name},
			{Key: "headline", Value: user.Headline},
			{Key: "bio", Value: user.Bio},
			{Key: "location", Value: user.Location},
			{Key: "profile_image", Value: user.ProfileImage},
			{Key: "banner_image", Value: user.BannerImage},
			{Key: "skills", Value: user.Skills},
			{Key: "experience", Value: user.Experience},
			{Key: "education", Value: user.Education},
			{Key: "updated_at", Value: user.UpdatedAt},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mongo: updating profile %s: %w", user.ID, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.col(colUsers).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "password_hash", Value: passwordHash},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mongo: updating password for %s: %w", userID, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// publicUsers loads the public profiles for ids and returns them in the
// order of ids. Unknown ids are skipped.
func (s *Store) publicUsers(ctx context.Context, ids []string) ([]model.PublicUser, error) {
	out := []model.PublicUser{}
	if len(ids) == 0 {
		return out, nil
	}

	cur, err := s.col(colUsers).Find(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}},
		options.Find().SetProjection(publicUserProjection),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: loading users: %w", err)
	}
	var found []model.PublicUser
	if err := cur.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("mongo: decoding users: %w", err)
	}

	byID := make(map[string]model.PublicUser, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// normalizeProfileLists stores empty arrays instead of null, matching the
// '[]' column defaults of the SQLite backend.
func normalizeProfileLists(u *model.User) {
	if u.Skills == nil {
		u.Skills = []string{}
	}
	if u.Experience == nil {
		u.Experience = []model.Experience{}
	}
	if u.Education == nil {
		u.Education = []model.Education{}
	}
}
