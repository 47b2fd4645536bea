package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/repository"
)

func membershipFilter(projectID, userID string) bson.D {
	return bson.D{{Key: "project_id", Value: projectID}, {Key: "user_id", Value: userID}}
}

func (s *Store) AddApplicant(ctx context.Context, projectID, userID string) error {
	n, err := s.col(colProjects).CountDocuments(ctx, bson.D{{Key: "_id", Value: projectID}})
	if err != nil {
		return fmt.Errorf("mongo: checking project %s: %w", projectID, err)
	}
	if n == 0 {
		return apperror.NotFound("project", projectID)
	}

	now := time.Now().UTC()
	m := model.Membership{
		ProjectID: projectID,
		UserID:    userID,
		Role:      model.RoleApplicant,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.col(colMemberships).InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflictf("user %s already belongs to project %s", userID, projectID)
		}
		return fmt.Errorf("mongo: adding applicant %s to %s: %w", userID, projectID, err)
	}
	return nil
}

// PromoteApplicant has no multi-document statement to lean on, so it
// promotes first and recounts. When the recount shows more than capacity
// selected members the promotion is rolled back. Concurrent promotions can
// therefore both lose the last slot, but they can never both keep it.
func (s *Store) PromoteApplicant(ctx context.Context, projectID, userID string, capacity int) error {
	selected, err := s.CountMembers(ctx, projectID, model.RoleSelected)
	if err != nil {
		return err
	}
	if selected >= capacity {
		if err := s.requireApplicant(ctx, projectID, userID); err != nil {
			return err
		}
		return repository.ErrTeamFull
	}

	if err := s.setRole(ctx, projectID, userID, model.RoleApplicant, model.RoleSelected); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound("applicant", userID)
		}
		return fmt.Errorf("mongo: promoting %s in %s: %w", userID, projectID, err)
	}

	selected, countErr := s.CountMembers(ctx, projectID, model.RoleSelected)
	if countErr == nil && selected <= capacity {
		return nil
	}
	if err := s.setRole(ctx, projectID, userID, model.RoleSelected, model.RoleApplicant); err != nil {
		return fmt.Errorf("mongo: demoting %s in %s after overfill: %w", userID, projectID, err)
	}
	if countErr != nil {
		return countErr
	}
	return repository.ErrTeamFull
}

// setRole moves a membership from one role to another. ErrNotFound if the
// membership does not currently hold `from`.
func (s *Store) setRole(ctx context.Context, projectID, userID string, from, to model.MemberRole) error {
	filter := append(membershipFilter(projectID, userID), bson.E{Key: "role", Value: from})
	result, err := s.col(colMemberships).UpdateOne(ctx, filter,
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "role", Value: to},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound(string(from), userID)
	}
	return nil
}

func (s *Store) requireApplicant(ctx context.Context, projectID, userID string) error {
	m, err := s.GetMembership(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound("applicant", userID)
		}
		return err
	}
	if m.Role != model.RoleApplicant {
		return apperror.NotFound("applicant", userID)
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, projectID, userID string, role model.MemberRole) error {
	filter := append(membershipFilter(projectID, userID), bson.E{Key: "role", Value: role})
	result, err := s.col(colMemberships).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("mongo: removing %s %s from %s: %w", role, userID, projectID, err)
	}
	if result.DeletedCount == 0 {
		return apperror.NotFound(string(role), userID)
	}
	return nil
}

func (s *Store) GetMembership(ctx context.Context, projectID, userID string) (*model.Membership, error) {
	var m model.Membership
	err := s.col(colMemberships).FindOne(ctx, membershipFilter(projectID, userID)).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("membership", userID)
		}
		return nil, fmt.Errorf("mongo: getting membership %s/%s: %w", projectID, userID, err)
	}
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, projectID string, role model.MemberRole) ([]model.PublicUser, error) {
	cur, err := s.col(colMemberships).Find(ctx,
		bson.D{{Key: "project_id", Value: projectID}, {Key: "role", Value: role}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing %s members of %s: %w", role, projectID, err)
	}
	var members []model.Membership
	if err := cur.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("mongo: decoding memberships: %w", err)
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return s.publicUsers(ctx, ids)
}

func (s *Store) CountMembers(ctx context.Context, projectID string, role model.MemberRole) (int, error) {
	n, err := s.col(colMemberships).CountDocuments(ctx,
		bson.D{{Key: "project_id", Value: projectID}, {Key: "role", Value: role}})
	if err != nil {
		return 0, fmt.Errorf("mongo: counting %s members of %s: %w", role, projectID, err)
	}
	return int(n), nil
}

func (s *Store) ListUserProjects(ctx context.Context, userID string) ([]model.AppliedProject, error) {
	cur, err := s.col(colMemberships).Find(ctx,
		bson.D{{Key: "user_id", Value: userID}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing projects of member %s: %w", userID, err)
	}
	var members []model.Membership
	if err := cur.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("mongo: decoding memberships: %w", err)
	}

	out := []model.AppliedProject{}
	for _, m := range members {
		p, err := s.GetProjectByID(ctx, m.ProjectID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				// Membership outlived a half-finished project delete.
				continue
			}
			return nil, err
		}
		out = append(out, model.AppliedProject{Project: *p, Role: m.Role, Since: m.CreatedAt})
	}
	return out, nil
}
