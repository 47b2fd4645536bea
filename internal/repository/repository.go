// Package repository declares the storage contracts used by the service layer.
//
// Two implementations live in sub-packages: sqlite (the default, embedded)
// and mongodb (a document database reached over the network). Services only
// ever see these interfaces.
//
// Error contract shared by every implementation:
//   - a missing row/document is reported as apperror.ErrNotFound
//   - a uniqueness violation is reported as apperror.ErrConflict
//   - everything else is wrapped with the backend name as prefix
package repository

import (
	"context"
	"errors"

	"github.com/sakif/teamify/internal/model"
)

// ErrTeamFull is returned by PromoteApplicant when the project already has
// as many selected members as it asked for.
var ErrTeamFull = errors.New("team is full")

// ProjectPageSize is the fixed page size of the public project listing.
const ProjectPageSize = 10

// ProjectQuery describes one page of the public project listing.
type ProjectQuery struct {
	// ViewerID, when set, excludes projects the viewer holds a membership in.
	ViewerID string
	// Search is a case-insensitive substring matched against name and description.
	Search string
	// Technologies matches projects carrying ANY of the listed tags.
	Technologies []string
	Sort         model.SortOrder
	Limit        int
	Offset       int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// GetUserByLogin looks a user up by username or email (case-insensitive).
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	// UpsertGitHubUser creates or refreshes the account linked to user.GitHubID.
	UpsertGitHubUser(ctx context.Context, user *model.User) error
	UpdateProfile(ctx context.Context, user *model.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

type ConnectionRepository interface {
	// AddConnection stores the symmetric pair (userID, peerID).
	AddConnection(ctx context.Context, userID, peerID string) error
	RemoveConnection(ctx context.Context, userID, peerID string) error
	ListConnections(ctx context.Context, userID string) ([]model.PublicUser, error)
}

type ProjectRepository interface {
	CreateProject(ctx context.Context, project *model.Project) error
	GetProjectByID(ctx context.Context, id string) (*model.Project, error)
	// UpdateProjectDetails rewrites the editable fields (name, description,
	// technologies, dates, headcount).
	UpdateProjectDetails(ctx context.Context, project *model.Project) error
	// UpdateProjectStatus moves a project from one status to another. It
	// reports ErrConflict if the stored status is no longer `from`.
	UpdateProjectStatus(ctx context.Context, id string, from, to model.Status) error
	SetProjectEnabled(ctx context.Context, id string, enabled bool) error
	// DeleteProject removes the project with its memberships and ratings.
	DeleteProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context, q ProjectQuery) ([]model.Project, error)
	ListProjectsByCreator(ctx context.Context, creatorID string) ([]model.Project, error)
}

type MembershipRepository interface {
	// AddApplicant inserts an applicant membership. ErrConflict if the user
	// already holds any membership in the project.
	AddApplicant(ctx context.Context, projectID, userID string) error
	// PromoteApplicant turns an applicant into a selected member as long as
	// fewer than capacity members are selected. The capacity check and the
	// role change are one atomic step. ErrNotFound if the user is not
	// currently an applicant, ErrTeamFull if the team is full.
	PromoteApplicant(ctx context.Context, projectID, userID string, capacity int) error
	// RemoveMember deletes the membership if it currently has the given role.
	// ErrNotFound otherwise.
	RemoveMember(ctx context.Context, projectID, userID string, role model.MemberRole) error
	GetMembership(ctx context.Context, projectID, userID string) (*model.Membership, error)
	ListMembers(ctx context.Context, projectID string, role model.MemberRole) ([]model.PublicUser, error)
	CountMembers(ctx context.Context, projectID string, role model.MemberRole) (int, error)
	// ListUserProjects derives the projects a user applied to or was selected for.
	ListUserProjects(ctx context.Context, userID string) ([]model.AppliedProject, error)
}

type RatingRepository interface {
	// CreateRatings stores all ratings or none. ErrConflict if any
	// (project, reviewer, reviewee) already exists.
	CreateRatings(ctx context.Context, ratings []*model.Rating) error
	ListRatingsByReviewer(ctx context.Context, projectID, reviewerID string) ([]model.Rating, error)
	SummarizeRatings(ctx context.Context, userID string) (model.RatingSummary, error)
}

type NotificationRepository interface {
	// CreateNotification stores n. ErrConflict if n.DedupeKey is already used.
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, recipientID string) ([]model.NotificationView, error)
	// NotifiedRecipients returns the recipients that already have a
	// notification of type typ about projectID.
	NotifiedRecipients(ctx context.Context, projectID string, typ model.NotificationType) (map[string]bool, error)
	// The mutators below match on (id, recipientID): a notification that
	// belongs to someone else is reported as ErrNotFound.
	MarkNotificationRead(ctx context.Context, id, recipientID string) error
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
	DeleteNotification(ctx context.Context, id, recipientID string) error
	DeleteAllNotifications(ctx context.Context, recipientID string) (int64, error)
}

// Store is everything a backend provides. Both *sqlite.DB and *mongodb.Store
// implement it.
type Store interface {
	UserRepository
	ConnectionRepository
	ProjectRepository
	MembershipRepository
	RatingRepository
	NotificationRepository
	Ping(ctx context.Context) error
	Close() error
}
