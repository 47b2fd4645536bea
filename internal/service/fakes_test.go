package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/auth"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/notify"
	"github.com/sakif/teamify/internal/repository"
)

// =========================================================================
// IN-MEMORY STORE
// =========================================================================
//
// memStore is a hand-written fake of repository.Store. It keeps the same
// error contract as the real backends (ErrNotFound, ErrConflict) so the
// services behave exactly as they would against SQLite, without any I/O.

var _ repository.Store = (*memStore)(nil)

type memStore struct {
	mu            sync.Mutex
	nextID        int
	users         map[string]*model.User
	connections   map[[2]string]bool
	projects      map[string]*model.Project
	memberships   map[[2]string]*model.Membership
	ratings       []*model.Rating
	notifications []*model.Notification

	// failNotifications makes CreateNotification fail this many times.
	failNotifications int
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*model.User),
		connections: make(map[[2]string]bool),
		projects:    make(map[string]*model.Project),
		memberships: make(map[[2]string]*model.Membership),
	}
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%04d", prefix, m.nextID)
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

// --- users ---------------------------------------------------------------

func (m *memStore) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUserLocked(u)
}

func (m *memStore) createUserLocked(u *model.User) error {
	for _, existing := range m.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return apperror.Conflictf("username or email is already registered")
		}
		if u.GitHubID != nil && existing.GitHubID != nil && *u.GitHubID == *existing.GitHubID {
			return apperror.Conflictf("github account is already linked")
		}
	}
	u.ID = m.id("user")
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	m.users[u.ID] = &stored
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	out := *u
	return &out, nil
}

func (m *memStore) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, login) || strings.EqualFold(u.Email, login) {
			out := *u
			return &out, nil
		}
	}
	return nil, apperror.NotFound("user", login)
}

func (m *memStore) UpsertGitHubUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.GitHubID != nil && *existing.GitHubID == *u.GitHubID {
			if u.Email != "" {
				existing.Email = u.Email
			}
			if u.ProfileImage != "" {
				existing.ProfileImage = u.ProfileImage
			}
			*u = *existing
			return nil
		}
	}
	return m.createUserLocked(u)
}

func (m *memStore) UpdateProfile(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return apperror.NotFound("user", u.ID)
	}
	stored := *u
	m.users[u.ID] = &stored
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.PasswordHash = hash
	return nil
}

// --- connections ---------------------------------------------------------

func (m *memStore) AddConnection(_ context.Context, userID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[peerID]; !ok {
		return apperror.NotFound("user", peerID)
	}
	if m.connections[[2]string{userID, peerID}] {
		return apperror.Conflictf("users %s and %s are already connected", userID, peerID)
	}
	m.connections[[2]string{userID, peerID}] = true
	m.connections[[2]string{peerID, userID}] = true
	return nil
}

func (m *memStore) RemoveConnection(_ context.Context, userID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connections[[2]string{userID, peerID}] {
		return apperror.NotFound("connection", peerID)
	}
	delete(m.connections, [2]string{userID, peerID})
	delete(m.connections, [2]string{peerID, userID})
	return nil
}

func (m *memStore) ListConnections(_ context.Context, userID string) ([]model.PublicUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PublicUser{}
	for pair := range m.connections {
		if pair[0] == userID {
			out = append(out, m.users[pair[1]].Public())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// --- projects ------------------------------------------------------------

func (m *memStore) CreateProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[p.CreatorID]; !ok {
		return apperror.NotFound("user", p.CreatorID)
	}
	p.ID = m.id("project")
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	stored := *p
	m.projects[p.ID] = &stored
	return nil
}

func (m *memStore) GetProjectByID(_ context.Context, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, apperror.NotFound("project", id)
	}
	out := *p
	out.ApplicantCount = m.countLocked(id, model.RoleApplicant)
	return &out, nil
}

func (m *memStore) UpdateProjectDetails(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.projects[p.ID]
	if !ok {
		return apperror.NotFound("project", p.ID)
	}
	stored.Name, stored.Description, stored.Technologies = p.Name, p.Description, p.Technologies
	stored.StartDate, stored.EndDate, stored.PeopleRequired = p.StartDate, p.EndDate, p.PeopleRequired
	return nil
}

func (m *memStore) UpdateProjectStatus(_ context.Context, id string, from, to model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return apperror.NotFound("project", id)
	}
	if p.Status != from {
		return apperror.Conflictf("project %s is no longer %s", id, from)
	}
	p.Status = to
	return nil
}

func (m *memStore) SetProjectEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return apperror.NotFound("project", id)
	}
	p.IsEnabled = enabled
	return nil
}

func (m *memStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return apperror.NotFound("project", id)
	}
	delete(m.projects, id)
	for key := range m.memberships {
		if key[0] == id {
			delete(m.memberships, key)
		}
	}
	kept := m.ratings[:0]
	for _, r := range m.ratings {
		if r.ProjectID != id {
			kept = append(kept, r)
		}
	}
	m.ratings = kept
	for _, n := range m.notifications {
		if n.RelatedProjectID != nil && *n.RelatedProjectID == id {
			n.RelatedProjectID = nil
		}
	}
	return nil
}

// ListProjects supports the filters the services pass; ordering is by
// creation sequence, newest first.
func (m *memStore) ListProjects(_ context.Context, q repository.ProjectQuery) ([]model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Project{}
	for _, p := range m.projects {
		if !p.IsEnabled {
			continue
		}
		if q.ViewerID != "" && m.memberships[[2]string{p.ID, q.ViewerID}] != nil {
			continue
		}
		if q.Search != "" {
			s := strings.ToLower(q.Search)
			if !strings.Contains(strings.ToLower(p.Name), s) && !strings.Contains(strings.ToLower(p.Description), s) {
				continue
			}
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Offset >= len(out) {
		return []model.Project{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) ListProjectsByCreator(_ context.Context, creatorID string) ([]model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Project{}
	for _, p := range m.projects {
		if p.CreatorID == creatorID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// --- memberships ---------------------------------------------------------

func (m *memStore) AddApplicant(_ context.Context, projectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; !ok {
		return apperror.NotFound("project", projectID)
	}
	key := [2]string{projectID, userID}
	if m.memberships[key] != nil {
		return apperror.Conflictf("user %s already belongs to project %s", userID, projectID)
	}
	m.memberships[key] = &model.Membership{
		ProjectID: projectID, UserID: userID, Role: model.RoleApplicant,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (m *memStore) PromoteApplicant(_ context.Context, projectID, userID string, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.memberships[[2]string{projectID, userID}]
	if ms == nil || ms.Role != model.RoleApplicant {
		return apperror.NotFound("applicant", userID)
	}
	selected := 0
	for key, other := range m.memberships {
		if key[0] == projectID && other.Role == model.RoleSelected {
			selected++
		}
	}
	if selected >= capacity {
		return repository.ErrTeamFull
	}
	ms.Role = model.RoleSelected
	return nil
}

func (m *memStore) RemoveMember(_ context.Context, projectID, userID string, role model.MemberRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{projectID, userID}
	ms := m.memberships[key]
	if ms == nil || ms.Role != role {
		return apperror.NotFound(string(role), userID)
	}
	delete(m.memberships, key)
	return nil
}

func (m *memStore) GetMembership(_ context.Context, projectID, userID string) (*model.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.memberships[[2]string{projectID, userID}]
	if ms == nil {
		return nil, apperror.NotFound("membership", userID)
	}
	out := *ms
	return &out, nil
}

func (m *memStore) ListMembers(_ context.Context, projectID string, role model.MemberRole) ([]model.PublicUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.PublicUser{}
	for key, ms := range m.memberships {
		if key[0] == projectID && ms.Role == role {
			out = append(out, m.users[key[1]].Public())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CountMembers(_ context.Context, projectID string, role model.MemberRole) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(projectID, role), nil
}

func (m *memStore) countLocked(projectID string, role model.MemberRole) int {
	n := 0
	for key, ms := range m.memberships {
		if key[0] == projectID && ms.Role == role {
			n++
		}
	}
	return n
}

func (m *memStore) ListUserProjects(_ context.Context, userID string) ([]model.AppliedProject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.AppliedProject{}
	for key, ms := range m.memberships {
		if key[1] == userID {
			out = append(out, model.AppliedProject{Project: *m.projects[key[0]], Role: ms.Role, Since: ms.CreatedAt})
		}
	}
	return out, nil
}

// --- ratings -------------------------------------------------------------

func (m *memStore) CreateRatings(_ context.Context, ratings []*model.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range ratings {
		for _, existing := range m.ratings {
			if existing.ProjectID == r.ProjectID && existing.ReviewerID == r.ReviewerID && existing.RevieweeID == r.RevieweeID {
				return apperror.Conflictf("user %s was already rated for project %s", r.RevieweeID, r.ProjectID)
			}
		}
	}
	for _, r := range ratings {
		r.ID = m.id("rating")
		r.CreatedAt = time.Now().UTC()
		stored := *r
		m.ratings = append(m.ratings, &stored)
	}
	return nil
}

func (m *memStore) ListRatingsByReviewer(_ context.Context, projectID, reviewerID string) ([]model.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Rating{}
	for _, r := range m.ratings {
		if r.ProjectID == projectID && r.ReviewerID == reviewerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) SummarizeRatings(_ context.Context, userID string) (model.RatingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := model.RatingSummary{UserID: userID}
	total := 0
	for _, r := range m.ratings {
		if r.RevieweeID == userID {
			total += r.Value
			summary.Count++
		}
	}
	if summary.Count > 0 {
		summary.Average = float64(total) / float64(summary.Count)
	}
	return summary, nil
}

// --- notifications -------------------------------------------------------

func (m *memStore) CreateNotification(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNotifications > 0 {
		m.failNotifications--
		return fmt.Errorf("memstore: simulated write failure")
	}
	if n.DedupeKey != "" {
		for _, existing := range m.notifications {
			if existing.DedupeKey == n.DedupeKey {
				return apperror.Conflictf("notification %q already exists", n.DedupeKey)
			}
		}
	}
	n.ID = m.id("notification")
	stored := *n
	m.notifications = append(m.notifications, &stored)
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, recipientID string) ([]model.NotificationView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.NotificationView{}
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.RecipientID != recipientID {
			continue
		}
		view := model.NotificationView{Notification: *n}
		if u, ok := m.users[n.RelatedUserID]; ok {
			pub := u.Public()
			view.RelatedUser = &pub
		}
		out = append(out, view)
	}
	return out, nil
}

func (m *memStore) NotifiedRecipients(_ context.Context, projectID string, typ model.NotificationType) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, n := range m.notifications {
		if n.Type == typ && n.RelatedProjectID != nil && *n.RelatedProjectID == projectID {
			out[n.RecipientID] = true
		}
	}
	return out, nil
}

func (m *memStore) findNotificationLocked(id, recipientID string) (int, error) {
	for i, n := range m.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			return i, nil
		}
	}
	return -1, apperror.NotFound("notification", id)
}

func (m *memStore) MarkNotificationRead(_ context.Context, id, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.findNotificationLocked(id, recipientID)
	if err != nil {
		return err
	}
	m.notifications[i].Read = true
	return nil
}

func (m *memStore) MarkAllNotificationsRead(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, x := range m.notifications {
		if x.RecipientID == recipientID && !x.Read {
			x.Read = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteNotification(_ context.Context, id, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.findNotificationLocked(id, recipientID)
	if err != nil {
		return err
	}
	m.notifications = append(m.notifications[:i], m.notifications[i+1:]...)
	return nil
}

func (m *memStore) DeleteAllNotifications(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.notifications[:0]
	for _, x := range m.notifications {
		if x.RecipientID == recipientID {
			n++
			continue
		}
		kept = append(kept, x)
	}
	m.notifications = kept
	return n, nil
}

// notificationsFor returns the stored notifications of one recipient and type.
func (m *memStore) notificationsFor(recipientID string, typ model.NotificationType) []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && n.Type == typ {
			out = append(out, *n)
		}
	}
	return out
}

// =========================================================================
// TEST HARNESS
// =========================================================================

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// harness wires every service over one memStore, a real emitter and a
// testclock fixed at testNow.
type harness struct {
	store         *memStore
	clock         *testclock.Clock
	emitter       *notify.Emitter
	projects      *ProjectService
	ratings       *RatingService
	notifications *NotificationService
	users         *UserService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	clk := testclock.NewClock(testNow)

	tokens, err := auth.NewTokenService("service-test-secret-32-chars!!!", time.Hour, clk)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	emitter := notify.NewEmitter(store, logger, notify.Options{Clock: clk, MaxAttempts: 3})

	return &harness{
		store:         store,
		clock:         clk,
		emitter:       emitter,
		projects:      NewProjectService(store, emitter, clk, logger),
		ratings:       NewRatingService(store, emitter, clk, logger),
		notifications: NewNotificationService(store, logger),
		users:         NewUserService(store, tokens, auth.NewPasswordServiceForTest(4), emitter, clk, logger),
	}
}

// addUser stores a user directly, bypassing registration.
func (h *harness) addUser(t *testing.T, username string) string {
	t.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", Name: strings.ToUpper(username[:1]) + username[1:]}
	if err := h.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u.ID
}

// validInput starts tomorrow and lasts two days.
func validInput(name string) ProjectInput {
	return ProjectInput{
		Name:           name,
		Description:    "A project called " + name,
		Technologies:   []string{"React"},
		StartDate:      testNow.Add(24 * time.Hour),
		EndDate:        testNow.Add(48 * time.Hour),
		PeopleRequired: 2,
	}
}

func (h *harness) createProject(t *testing.T, creatorID, name string) *model.Project {
	t.Helper()
	p, err := h.projects.Create(context.Background(), creatorID, validInput(name))
	if err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return p
}

// selectMember runs apply + select for userID.
func (h *harness) selectMember(t *testing.T, p *model.Project, userID string) {
	t.Helper()
	ctx := context.Background()
	if err := h.projects.Apply(ctx, p.ID, userID); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := h.projects.Select(ctx, p.CreatorID, p.ID, userID); err != nil {
		t.Fatalf("Select: %v", err)
	}
}
