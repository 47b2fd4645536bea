package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/repository"
)

const (
	MaxProjectNameLength        = 100
	MaxProjectDescriptionLength = 5000
	MaxPeopleRequired           = 100
)

// ProjectInput carries the editable fields of a project.
type ProjectInput struct {
	Name           string
	Description    string
	Technologies   []string
	StartDate      time.Time
	EndDate        time.Time
	PeopleRequired int
}

// MaxProjectPage bounds the listing's page number so the row offset stays
// far from integer overflow.
const MaxProjectPage = 100_000

// ListParams selects one page of the public listing. Page is 1-based.
type ListParams struct {
	ViewerID     string
	Search       string
	Technologies []string
	Sort         model.SortOrder
	Page         int
}

// ProjectPage is one page of the public listing.
type ProjectPage struct {
	Projects []model.Project `json:"projects"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	HasMore  bool            `json:"hasMore"`
}

// ProjectService runs the project lifecycle.
//
// Membership rows are the only record of who applied and who was
// selected, so every operation here is one conditional write plus, at
// most, a notification. Operations that must not race (select, remove,
// status changes) rely on compare-and-set writes in the store: a second
// concurrent request sees ErrNotFound or ErrConflict instead of
// succeeding twice.
type ProjectService struct {
	store    repository.Store
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

func NewProjectService(store repository.Store, notifier Notifier, clk clock.Clock, logger *slog.Logger) *ProjectService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &ProjectService{store: store, notifier: notifier, clock: clk, logger: logger}
}

// Create validates and stores a new project owned by creatorID. It starts
// Open and enabled.
func (s *ProjectService) Create(ctx context.Context, creatorID string, in ProjectInput) (*model.Project, error) {
	if err := s.normalizeInput(&in); err != nil {
		return nil, err
	}

	project := &model.Project{
		Name:           in.Name,
		Description:    in.Description,
		Technologies:   in.Technologies,
		CreatorID:      creatorID,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		PeopleRequired: in.PeopleRequired,
		Status:         model.StatusOpen,
		IsEnabled:      true,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		if isNotFound(err) {
			return nil, err
		}
		s.logger.Error("failed to create project",
			slog.String("creatorID", creatorID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/project: creating project: %w", err)
	}

	s.logger.Info("project created",
		slog.String("projectID", project.ID),
		slog.String("creatorID", creatorID),
	)
	return project, nil
}

// Get returns a project with its creator and member lists.
func (s *ProjectService) Get(ctx context.Context, projectID string) (*model.ProjectDetail, error) {
	project, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	detail := &model.ProjectDetail{Project: *project}
	if creator, err := s.store.GetUserByID(ctx, project.CreatorID); err == nil {
		detail.Creator = creator.Public()
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("service/project: loading creator: %w", err)
	}

	if detail.Applicants, err = s.store.ListMembers(ctx, project.ID, model.RoleApplicant); err != nil {
		return nil, fmt.Errorf("service/project: listing applicants: %w", err)
	}
	if detail.SelectedApplicants, err = s.store.ListMembers(ctx, project.ID, model.RoleSelected); err != nil {
		return nil, fmt.Errorf("service/project: listing selected members: %w", err)
	}
	return detail, nil
}

// Update rewrites the editable fields. Only the creator may do it, and
// only while the project is still Open.
func (s *ProjectService) Update(ctx context.Context, actorID, projectID string, in ProjectInput) (*model.Project, error) {
	project, err := s.ownedProject(ctx, actorID, projectID, "edit")
	if err != nil {
		return nil, err
	}
	if project.Status != model.StatusOpen {
		return nil, apperror.ValidationFailed("status", "Only open projects can be edited")
	}
	if err := s.normalizeInput(&in); err != nil {
		return nil, err
	}

	selected, err := s.store.CountMembers(ctx, project.ID, model.RoleSelected)
	if err != nil {
		return nil, fmt.Errorf("service/project: counting team: %w", err)
	}
	if in.PeopleRequired < selected {
		return nil, apperror.ValidationFailed("peopleRequired",
			fmt.Sprintf("People required cannot be lower than the %d members already selected", selected))
	}

	project.Name = in.Name
	project.Description = in.Description
	project.Technologies = in.Technologies
	project.StartDate = in.StartDate
	project.EndDate = in.EndDate
	project.PeopleRequired = in.PeopleRequired

	if err := s.store.UpdateProjectDetails(ctx, project); err != nil {
		return nil, fmt.Errorf("service/project: updating %s: %w", project.ID, err)
	}
	s.logger.Info("project updated", slog.String("projectID", project.ID))
	return project, nil
}

// Apply adds userID as an applicant and tells the creator.
func (s *ProjectService) Apply(ctx context.Context, projectID, userID string) error {
	project, err := s.project(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.IsEnabled {
		return apperror.ValidationFailed("projectId", "Project is not accepting applications")
	}
	if project.Status != model.StatusOpen {
		return apperror.ValidationFailed("status", "Project is not open for applications")
	}
	if !project.StartDate.After(s.clock.Now()) {
		return apperror.ValidationFailed("startDate", "Start date must be in the future")
	}

	applicant, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.store.AddApplicant(ctx, project.ID, userID); err != nil {
		if isConflict(err) {
			return apperror.ValidationFailed("projectId", "You have already applied to this project")
		}
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("service/project: applying to %s: %w", project.ID, err)
	}

	s.logger.Info("applicant added",
		slog.String("projectID", project.ID),
		slog.String("userID", userID),
	)

	if userID != project.CreatorID {
		s.notify(ctx, project, project.CreatorID, userID, model.NotifyApplied,
			fmt.Sprintf("%s applied to your project %q", displayName(applicant), project.Name))
	}
	return nil
}

// Select promotes a pending applicant to the team.
func (s *ProjectService) Select(ctx context.Context, actorID, projectID, applicantID string) error {
	applicantID, err := requireID("applicantId", applicantID)
	if err != nil {
		return err
	}
	project, err := s.ownedProject(ctx, actorID, projectID, "select applicants for")
	if err != nil {
		return err
	}
	if project.Status.Terminal() {
		return apperror.ValidationFailed("status", fmt.Sprintf("Project is already %s", project.Status))
	}

	notApplicant := apperror.ValidationFailed("applicantId", "User has not applied to this project")
	m, err := s.store.GetMembership(ctx, project.ID, applicantID)
	if err != nil {
		if isNotFound(err) {
			return notApplicant
		}
		return fmt.Errorf("service/project: loading membership: %w", err)
	}
	if m.Role != model.RoleApplicant {
		return notApplicant
	}

	// The promotion only matches an applicant row while the team has a free
	// slot, so concurrent selects can neither double-count one applicant nor
	// overfill the team.
	err = s.store.PromoteApplicant(ctx, project.ID, applicantID, project.PeopleRequired)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrTeamFull):
		return apperror.ValidationFailed("applicantId", "The team is already full")
	case isNotFound(err):
		return notApplicant
	default:
		return fmt.Errorf("service/project: selecting %s: %w", applicantID, err)
	}

	s.logger.Info("applicant selected",
		slog.String("projectID", project.ID),
		slog.String("userID", applicantID),
	)
	s.notify(ctx, project, applicantID, actorID, model.NotifySelected,
		fmt.Sprintf("You have been selected for the project %q", project.Name))
	return nil
}

// Remove takes a selected member off the team.
func (s *ProjectService) Remove(ctx context.Context, actorID, projectID, memberID string) error {
	memberID, err := requireID("applicantId", memberID)
	if err != nil {
		return err
	}
	project, err := s.ownedProject(ctx, actorID, projectID, "remove members from")
	if err != nil {
		return err
	}

	if err := s.store.RemoveMember(ctx, project.ID, memberID, model.RoleSelected); err != nil {
		if isNotFound(err) {
			return apperror.ValidationFailed("applicantId", "User is not a selected member of this project")
		}
		return fmt.Errorf("service/project: removing %s: %w", memberID, err)
	}

	s.logger.Info("member removed",
		slog.String("projectID", project.ID),
		slog.String("userID", memberID),
	)
	s.notify(ctx, project, memberID, actorID, model.NotifyRemoved,
		fmt.Sprintf("You have been removed from the project %q", project.Name))
	return nil
}

// Unapply withdraws a pending application.
func (s *ProjectService) Unapply(ctx context.Context, projectID, userID string) error {
	project, err := s.project(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, project.ID, userID, model.RoleApplicant); err != nil {
		if isNotFound(err) {
			return apperror.ValidationFailed("projectId", "You have no pending application for this project")
		}
		return fmt.Errorf("service/project: withdrawing from %s: %w", project.ID, err)
	}
	s.logger.Info("application withdrawn",
		slog.String("projectID", project.ID),
		slog.String("userID", userID),
	)
	return nil
}

// Leave takes userID off a team they were selected for.
func (s *ProjectService) Leave(ctx context.Context, projectID, userID string) error {
	project, err := s.project(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, project.ID, userID, model.RoleSelected); err != nil {
		if isNotFound(err) {
			return apperror.ValidationFailed("projectId", "You are not a member of this project's team")
		}
		return fmt.Errorf("service/project: leaving %s: %w", project.ID, err)
	}
	s.logger.Info("member left",
		slog.String("projectID", project.ID),
		slog.String("userID", userID),
	)
	return nil
}

// UpdateStatus moves a project through its lifecycle. rawStatus accepts
// the canonical values and the legacy literals.
//
// Completing a project notifies every selected member who has not been
// told yet. Completing it again is allowed and only reaches members that
// were missed, so the fan-out is safe to repeat.
func (s *ProjectService) UpdateStatus(ctx context.Context, actorID, projectID, rawStatus string) (*model.Project, error) {
	target, err := model.ParseStatus(rawStatus)
	if err != nil {
		return nil, apperror.ValidationFailed("status", "Invalid status value")
	}
	project, err := s.ownedProject(ctx, actorID, projectID, "change the status of")
	if err != nil {
		return nil, err
	}
	if !project.Status.CanTransitionTo(target) {
		return nil, apperror.ValidationFailed("status",
			fmt.Sprintf("Cannot change status from %s to %s", project.Status, target))
	}

	if project.Status != target {
		if err := s.store.UpdateProjectStatus(ctx, project.ID, project.Status, target); err != nil {
			if isConflict(err) || isNotFound(err) {
				return nil, err
			}
			return nil, fmt.Errorf("service/project: updating status of %s: %w", project.ID, err)
		}
		s.logger.Info("project status changed",
			slog.String("projectID", project.ID),
			slog.String("from", string(project.Status)),
			slog.String("to", string(target)),
		)
		project.Status = target
		project.UpdatedAt = s.clock.Now().UTC()
	}

	if target == model.StatusCompleted {
		if err := s.notifyCompleted(ctx, actorID, project); err != nil {
			// The status change stands; the next completion call retries.
			s.logger.Error("failed to fan out completion notifications",
				slog.String("projectID", project.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return project, nil
}

// Start is UpdateStatus to In Progress.
func (s *ProjectService) Start(ctx context.Context, actorID, projectID string) (*model.Project, error) {
	return s.UpdateStatus(ctx, actorID, projectID, string(model.StatusInProgress))
}

func (s *ProjectService) notifyCompleted(ctx context.Context, actorID string, project *model.Project) error {
	members, err := s.store.ListMembers(ctx, project.ID, model.RoleSelected)
	if err != nil {
		return fmt.Errorf("listing team: %w", err)
	}
	already, err := s.store.NotifiedRecipients(ctx, project.ID, model.NotifyProjectCompleted)
	if err != nil {
		return fmt.Errorf("loading notified recipients: %w", err)
	}

	var batch []model.Notification
	for _, m := range members {
		if already[m.ID] {
			continue
		}
		n := s.newNotification(project, m.ID, actorID, model.NotifyProjectCompleted,
			fmt.Sprintf("The project %q has been completed. You can now rate your teammates.", project.Name))
		n.DedupeKey = fmt.Sprintf("%s:%s:%s", model.NotifyProjectCompleted, project.ID, m.ID)
		batch = append(batch, n)
	}
	if len(batch) > 0 {
		s.notifier.Emit(ctx, batch...)
	}
	return nil
}

// Toggle flips whether the project shows up in the public listing.
func (s *ProjectService) Toggle(ctx context.Context, actorID, projectID string) (*model.Project, error) {
	project, err := s.ownedProject(ctx, actorID, projectID, "toggle")
	if err != nil {
		return nil, err
	}
	if err := s.store.SetProjectEnabled(ctx, project.ID, !project.IsEnabled); err != nil {
		return nil, fmt.Errorf("service/project: toggling %s: %w", project.ID, err)
	}
	project.IsEnabled = !project.IsEnabled
	s.logger.Info("project toggled",
		slog.String("projectID", project.ID),
		slog.Bool("enabled", project.IsEnabled),
	)
	return project, nil
}

// Delete removes the project together with its memberships and ratings.
func (s *ProjectService) Delete(ctx context.Context, actorID, projectID string) error {
	project, err := s.ownedProject(ctx, actorID, projectID, "delete")
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, project.ID); err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("service/project: deleting %s: %w", project.ID, err)
	}
	s.logger.Info("project deleted", slog.String("projectID", project.ID))
	return nil
}

// List returns one page of enabled projects the viewer is not part of.
func (s *ProjectService) List(ctx context.Context, p ListParams) (*ProjectPage, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > MaxProjectPage {
		return nil, apperror.ValidationFailed("page", fmt.Sprintf("Page must be at most %d", MaxProjectPage))
	}
	techs, err := canonicalTechnologies(p.Technologies, false)
	if err != nil {
		return nil, err
	}
	if p.Sort == "" {
		p.Sort = model.SortRecent
	}

	// Ask for one extra row to learn whether another page exists.
	projects, err := s.store.ListProjects(ctx, repository.ProjectQuery{
		ViewerID:     p.ViewerID,
		Search:       strings.TrimSpace(p.Search),
		Technologies: techs,
		Sort:         p.Sort,
		Limit:        repository.ProjectPageSize + 1,
		Offset:       (p.Page - 1) * repository.ProjectPageSize,
	})
	if err != nil {
		s.logger.Error("failed to list projects", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/project: listing projects: %w", err)
	}

	page := &ProjectPage{Projects: projects, Page: p.Page, PageSize: repository.ProjectPageSize}
	if len(projects) > repository.ProjectPageSize {
		page.Projects = projects[:repository.ProjectPageSize]
		page.HasMore = true
	}
	return page, nil
}

// ListCreated returns every project userID created, disabled ones included.
func (s *ProjectService) ListCreated(ctx context.Context, userID string) ([]model.Project, error) {
	projects, err := s.store.ListProjectsByCreator(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/project: listing created projects: %w", err)
	}
	return projects, nil
}

// ListApplied returns the projects userID applied to or was selected for.
func (s *ProjectService) ListApplied(ctx context.Context, userID string) ([]model.AppliedProject, error) {
	projects, err := s.store.ListUserProjects(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/project: listing applied projects: %w", err)
	}
	return projects, nil
}

func (s *ProjectService) project(ctx context.Context, projectID string) (*model.Project, error) {
	projectID, err := requireID("projectId", projectID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("service/project: loading %s: %w", projectID, err)
	}
	return project, nil
}

// ownedProject loads a project and checks that actorID created it.
func (s *ProjectService) ownedProject(ctx context.Context, actorID, projectID, action string) (*model.Project, error) {
	project, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.CreatorID != actorID {
		return nil, apperror.Forbidden(fmt.Sprintf("Only the project creator can %s this project", action))
	}
	return project, nil
}

func (s *ProjectService) notify(ctx context.Context, project *model.Project, recipientID, relatedUserID string, typ model.NotificationType, message string) {
	s.notifier.Emit(ctx, s.newNotification(project, recipientID, relatedUserID, typ, message))
}

func (s *ProjectService) newNotification(project *model.Project, recipientID, relatedUserID string, typ model.NotificationType, message string) model.Notification {
	projectID := project.ID
	return model.Notification{
		RecipientID:      recipientID,
		Type:             typ,
		RelatedUserID:    relatedUserID,
		RelatedProjectID: &projectID,
		Message:          message,
		CreatedAt:        s.clock.Now().UTC(),
	}
}

// normalizeInput trims and validates a create/update request in place.
func (s *ProjectService) normalizeInput(in *ProjectInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)

	switch {
	case in.Name == "":
		return apperror.ValidationFailed("name", "Project name is required")
	case len(in.Name) > MaxProjectNameLength:
		return apperror.ValidationFailed("name",
			fmt.Sprintf("Project name must be %d characters or less", MaxProjectNameLength))
	case in.Description == "":
		return apperror.ValidationFailed("description", "Project description is required")
	case len(in.Description) > MaxProjectDescriptionLength:
		return apperror.ValidationFailed("description",
			fmt.Sprintf("Project description must be %d characters or less", MaxProjectDescriptionLength))
	}

	techs, err := canonicalTechnologies(in.Technologies, true)
	if err != nil {
		return err
	}
	in.Technologies = techs

	if in.StartDate.IsZero() || !in.StartDate.After(s.clock.Now()) {
		return apperror.ValidationFailed("startDate", "Start date must be in the future")
	}
	if !in.EndDate.After(in.StartDate) {
		return apperror.ValidationFailed("endDate", "End date must be after the start date")
	}
	if in.PeopleRequired < 1 || in.PeopleRequired > MaxPeopleRequired {
		return apperror.ValidationFailed("peopleRequired",
			fmt.Sprintf("People required must be between 1 and %d", MaxPeopleRequired))
	}
	return nil
}

// canonicalTechnologies maps tags to their canonical spelling, dropping
// blanks and duplicates. Unknown tags are rejected.
func canonicalTechnologies(tags []string, required bool) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			continue
		}
		canonical, ok := model.CanonicalTechnology(tag)
		if !ok {
			return nil, apperror.ValidationFailed("technologies", fmt.Sprintf("Unknown technology %q", tag))
		}
		if !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	if required && len(out) == 0 {
		return nil, apperror.ValidationFailed("technologies", "At least one technology is required")
	}
	return out, nil
}
