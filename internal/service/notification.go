package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/repository"
)

// NotificationService lets a recipient read and clear their notifications.
// Creating them is the notifier's job.
//
// Every mutator matches on the recipient as well as the id, so acting on
// someone else's notification looks exactly like acting on a missing one.
type NotificationService struct {
	repo   repository.NotificationRepository
	logger *slog.Logger
}

func NewNotificationService(repo repository.NotificationRepository, logger *slog.Logger) *NotificationService {
	return &NotificationService{repo: repo, logger: logger}
}

// List returns the recipient's notifications newest first.
func (s *NotificationService) List(ctx context.Context, recipientID string) ([]model.NotificationView, error) {
	list, err := s.repo.ListNotifications(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("service/notification: listing: %w", err)
	}
	return list, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, recipientID, id string) error {
	id, err := requireID("id", id)
	if err != nil {
		return err
	}
	return s.repo.MarkNotificationRead(ctx, id, recipientID)
}

// MarkAllRead returns how many notifications changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.repo.MarkAllNotificationsRead(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("service/notification: marking all read: %w", err)
	}
	return n, nil
}

func (s *NotificationService) Delete(ctx context.Context, recipientID, id string) error {
	id, err := requireID("id", id)
	if err != nil {
		return err
	}
	return s.repo.DeleteNotification(ctx, id, recipientID)
}

// DeleteAll returns how many notifications were removed.
func (s *NotificationService) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.repo.DeleteAllNotifications(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("service/notification: deleting all: %w", err)
	}
	s.logger.Info("notifications cleared",
		slog.String("recipientID", recipientID),
		slog.Int64("count", n),
	)
	return n, nil
}
