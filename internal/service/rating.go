package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/juju/clock"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/repository"
)

const (
	MinRatingValue    = 1
	MaxRatingValue    = 5
	MaxFeedbackLength = 1000
)

// RatingInput is one teammate review in a submission.
type RatingInput struct {
	UserID   string
	Rating   int
	Feedback string
}

// RatingService handles teammate reviews of completed projects.
type RatingService struct {
	store    repository.Store
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

func NewRatingService(store repository.Store, notifier Notifier, clk clock.Clock, logger *slog.Logger) *RatingService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &RatingService{store: store, notifier: notifier, clock: clk, logger: logger}
}

// Submit stores a reviewer's ratings for a completed project.
//
// The team is the creator plus the selected members. Only team members may
// review, only teammates may be reviewed, and each pair is rated at most
// once. The batch is written all-or-nothing.
func (s *RatingService) Submit(ctx context.Context, projectID, reviewerID string, inputs []RatingInput) ([]model.Rating, error) {
	projectID, err := requireID("projectId", projectID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("service/rating: loading project %s: %w", projectID, err)
	}
	if project.Status != model.StatusCompleted {
		return nil, apperror.ValidationFailed("status", "Ratings can only be submitted for completed projects")
	}

	team, err := s.team(ctx, project)
	if err != nil {
		return nil, err
	}
	if !team[reviewerID] {
		return nil, apperror.Forbidden("Only members of the project team can submit ratings")
	}
	if len(inputs) == 0 {
		return nil, apperror.ValidationFailed("ratings", "At least one rating is required")
	}

	existing, err := s.store.ListRatingsByReviewer(ctx, project.ID, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("service/rating: loading existing ratings: %w", err)
	}
	rated := make(map[string]bool, len(existing)+len(inputs))
	for _, r := range existing {
		rated[r.RevieweeID] = true
	}

	batch := make([]*model.Rating, 0, len(inputs))
	for _, in := range inputs {
		revieweeID := strings.TrimSpace(in.UserID)
		feedback := strings.TrimSpace(in.Feedback)

		switch {
		case revieweeID == "":
			return nil, apperror.ValidationFailed("userId", "userId is required for every rating")
		case revieweeID == reviewerID:
			return nil, apperror.ValidationFailed("userId", "You cannot rate yourself")
		case !team[revieweeID]:
			return nil, apperror.ValidationFailed("userId",
				fmt.Sprintf("User %s is not a member of this project", revieweeID))
		case in.Rating < MinRatingValue || in.Rating > MaxRatingValue:
			return nil, apperror.ValidationFailed("rating",
				fmt.Sprintf("Rating must be between %d and %d", MinRatingValue, MaxRatingValue))
		case len(feedback) > MaxFeedbackLength:
			return nil, apperror.ValidationFailed("feedback",
				fmt.Sprintf("Feedback must be %d characters or less", MaxFeedbackLength))
		case rated[revieweeID]:
			return nil, apperror.Conflictf("You have already rated user %s for this project", revieweeID)
		}
		rated[revieweeID] = true

		batch = append(batch, &model.Rating{
			ProjectID:  project.ID,
			ReviewerID: reviewerID,
			RevieweeID: revieweeID,
			Type:       model.RatingTypeProjectCompletion,
			Value:      in.Rating,
			Feedback:   feedback,
		})
	}

	if err := s.store.CreateRatings(ctx, batch); err != nil {
		if isConflict(err) || isNotFound(err) {
			return nil, err
		}
		s.logger.Error("failed to store ratings",
			slog.String("projectID", project.ID),
			slog.String("reviewerID", reviewerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/rating: storing ratings: %w", err)
	}

	s.logger.Info("ratings submitted",
		slog.String("projectID", project.ID),
		slog.String("reviewerID", reviewerID),
		slog.Int("count", len(batch)),
	)

	reviewerName := "A teammate"
	if reviewer, err := s.store.GetUserByID(ctx, reviewerID); err == nil {
		reviewerName = displayName(reviewer)
	}
	projectRef := project.ID
	now := s.clock.Now().UTC()
	notifications := make([]model.Notification, 0, len(batch))
	out := make([]model.Rating, 0, len(batch))
	for _, r := range batch {
		out = append(out, *r)
		notifications = append(notifications, model.Notification{
			RecipientID:      r.RevieweeID,
			Type:             model.NotifyProjectRating,
			RelatedUserID:    reviewerID,
			RelatedProjectID: &projectRef,
			Message:          fmt.Sprintf("%s rated you for the project %q", reviewerName, project.Name),
			CreatedAt:        now,
		})
	}
	s.notifier.Emit(ctx, notifications...)
	return out, nil
}

// ForProject returns the ratings reviewerID submitted for a project.
func (s *RatingService) ForProject(ctx context.Context, projectID, reviewerID string) ([]model.Rating, error) {
	projectID, err := requireID("projectId", projectID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	ratings, err := s.store.ListRatingsByReviewer(ctx, projectID, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("service/rating: listing ratings: %w", err)
	}
	return ratings, nil
}

// AggregateForUser averages every rating userID received. The average is
// 0 when there are none.
func (s *RatingService) AggregateForUser(ctx context.Context, userID string) (model.RatingSummary, error) {
	userID, err := requireID("userId", userID)
	if err != nil {
		return model.RatingSummary{}, err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return model.RatingSummary{}, err
	}
	summary, err := s.store.SummarizeRatings(ctx, userID)
	if err != nil {
		return model.RatingSummary{}, fmt.Errorf("service/rating: summarizing ratings: %w", err)
	}
	return summary, nil
}

// team returns the ids of the creator and the selected members.
func (s *RatingService) team(ctx context.Context, project *model.Project) (map[string]bool, error) {
	members, err := s.store.ListMembers(ctx, project.ID, model.RoleSelected)
	if err != nil {
		return nil, fmt.Errorf("service/rating: listing team: %w", err)
	}
	team := make(map[string]bool, len(members)+1)
	team[project.CreatorID] = true
	for _, m := range members {
		team[m.ID] = true
	}
	return team, nil
}
