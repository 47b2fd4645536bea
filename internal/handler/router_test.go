package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/teamify/internal/auth"
	"github.com/sakif/teamify/internal/chat"
	"github.com/sakif/teamify/internal/handler"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/notify"
	"github.com/sakif/teamify/internal/repository/sqlite"
	"github.com/sakif/teamify/internal/server"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// testApp is the full router over an in-memory SQLite store, with a
// testclock driving lifecycle rules and token expiry.
type testApp struct {
	t       *testing.T
	handler http.Handler
	clock   *testclock.Clock
}

func newTestApp(t *testing.T, chatIssuer *chat.TokenIssuer) *testApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := testclock.NewClock(testNow)

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-32-characters", 7*24*time.Hour, clk)
	require.NoError(t, err)

	srv, err := server.New(server.Config{TokenTTL: time.Hour}, server.Deps{
		Store:     store,
		Tokens:    tokens,
		Passwords: auth.NewPasswordServiceForTest(4),
		Emitter:   notify.NewEmitter(store, logger, notify.Options{Clock: clk}),
		Chat:      chatIssuer,
		Clock:     clk,
	}, logger)
	require.NoError(t, err)

	return &testApp{t: t, handler: srv.Handler(), clock: clk}
}

// do sends a JSON request, authenticated with token when it is not empty.
func (a *testApp) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

// register signs up username and returns its id and session token.
func (a *testApp) register(username string) (id, token string) {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username":         username,
		"email":            username + "@example.com",
		"password":         "correct-horse",
		"securityQuestion": "First pet?",
		"securityAnswer":   "Fluffy",
	})
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())

	var res handler.SessionResponse
	decode(a.t, rr, &res)
	return res.User.ID, res.Token
}

func (a *testApp) createProject(token, name string) model.Project {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/project", token, projectBody(name, testNow.Add(24*time.Hour)))
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())
	var p model.Project
	decode(a.t, rr, &p)
	return p
}

func projectBody(name string, start time.Time) map[string]any {
	return map[string]any{
		"name":           name,
		"description":    "A project called " + name,
		"technologies":   []string{"React"},
		"startDate":      start.Format(time.RFC3339),
		"endDate":        start.Add(24 * time.Hour).Format(time.RFC3339),
		"peopleRequired": 2,
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(dst), "decoding %q", rr.Body.String())
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var body handler.ErrorResponse
	decode(t, rr, &body)
	return body
}

func ids(users []model.PublicUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

// =========================================================================
// LIFECYCLE SCENARIOS
// =========================================================================

func TestScenario_ApplySelectCompleteRate(t *testing.T) {
	app := newTestApp(t, nil)
	_, creatorToken := app.register("alice")
	memberID, memberToken := app.register("bob")

	// Create: 201, Open.
	p := app.createProject(creatorToken, "Chess")
	assert.Equal(t, model.StatusOpen, p.Status)
	assert.Equal(t, []string{"React"}, p.Technologies)

	// Apply: 200, bob is an applicant.
	rr := app.do(http.MethodPost, "/project/apply/"+p.ID, memberToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var detail model.ProjectDetail
	decode(t, app.do(http.MethodGet, "/project/"+p.ID, "", nil), &detail)
	assert.Equal(t, []string{memberID}, ids(detail.Applicants))
	assert.Empty(t, detail.SelectedApplicants)

	// Select: 200, bob moves to the team.
	rr = app.do(http.MethodPost, "/editProject/select-applicant", creatorToken, map[string]string{
		"projectId": p.ID, "applicantId": memberID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	decode(t, app.do(http.MethodGet, "/project/"+p.ID, "", nil), &detail)
	assert.Empty(t, detail.Applicants)
	assert.Equal(t, []string{memberID}, ids(detail.SelectedApplicants))

	// Complete twice: one projectCompleted notification for bob.
	for i := 0; i < 2; i++ {
		rr = app.do(http.MethodPatch, "/editProject/status/"+p.ID, creatorToken, map[string]string{"status": "Completed"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	var inbox []model.NotificationView
	decode(t, app.do(http.MethodGet, "/notifications", memberToken, nil), &inbox)
	completed := 0
	for _, n := range inbox {
		if n.Type == model.NotifyProjectCompleted {
			completed++
			assert.Equal(t, memberID, n.RecipientID)
		}
	}
	assert.Equal(t, 1, completed, "projectCompleted notifications for the member")

	// Rate: 200, one rating of 5.
	rr = app.do(http.MethodPost, "/editProject/"+p.ID+"/ratings", creatorToken, map[string]any{
		"ratings": []map[string]any{{"userId": memberID, "rating": 5, "feedback": "great"}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var mine []model.Rating
	decode(t, app.do(http.MethodGet, "/editProject/"+p.ID+"/ratings", creatorToken, nil), &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, 5, mine[0].Value)
	assert.Equal(t, memberID, mine[0].RevieweeID)

	var summary model.RatingSummary
	decode(t, app.do(http.MethodGet, "/users/"+memberID+"/rating", "", nil), &summary)
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, 5.0, summary.Average)
}

func TestScenario_ApplyAfterStartDate(t *testing.T) {
	app := newTestApp(t, nil)
	_, creatorToken := app.register("alice")
	_, memberToken := app.register("bob")
	p := app.createProject(creatorToken, "Chess")

	// The project starts tomorrow; two days later it is too late to apply.
	app.clock.Advance(48 * time.Hour)

	rr := app.do(http.MethodPost, "/project/apply/"+p.ID, memberToken, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := errorBody(t, rr)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, "Start date must be in the future", body.Message)
	assert.Equal(t, "startDate", body.Field)
}

// =========================================================================
// PROJECT ENDPOINTS
// =========================================================================

func TestProject_CreateValidation(t *testing.T) {
	app := newTestApp(t, nil)
	_, token := app.register("alice")

	tests := []struct {
		name      string
		body      any
		wantField string
	}{
		{"missing name", map[string]any{"description": "d", "technologies": []string{"Go"}, "peopleRequired": 1}, "name"},
		{"start in the past", projectBody("Chess", testNow.Add(-time.Hour)), "startDate"},
		{"unknown technology", func() map[string]any {
			b := projectBody("Chess", testNow.Add(time.Hour))
			b["technologies"] = []string{"COBOL-on-Rails"}
			return b
		}(), "technologies"},
		{"malformed json", "not an object", "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(http.MethodPost, "/project", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.wantField, errorBody(t, rr).Field)
		})
	}
}

func TestProject_CreateRequiresAuth(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.do(http.MethodPost, "/project", "", projectBody("Chess", testNow.Add(24*time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestProject_DateOnlyStartDate(t *testing.T) {
	app := newTestApp(t, nil)
	_, token := app.register("alice")

	body := projectBody("Chess", testNow)
	body["startDate"] = "2026-03-03"
	body["endDate"] = "2026-03-10"

	rr := app.do(http.MethodPost, "/project", token, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var p model.Project
	decode(t, rr, &p)
	assert.True(t, p.StartDate.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)))
}

func TestProject_ListExcludesJoinedProjects(t *testing.T) {
	app := newTestApp(t, nil)
	_, creatorToken := app.register("alice")
	_, viewerToken := app.register("bob")
	joined := app.createProject(creatorToken, "Chess")
	other := app.createProject(creatorToken, "Go")

	require.Equal(t, http.StatusOK, app.do(http.MethodPost, "/project/apply/"+joined.ID, viewerToken, nil).Code)

	var page struct {
		Projects []model.Project `json:"projects"`
		HasMore  bool            `json:"hasMore"`
	}
	decode(t, app.do(http.MethodGet, "/project", viewerToken, nil), &page)
	require.Len(t, page.Projects, 1)
	assert.Equal(t, other.ID, page.Projects[0].ID)
	assert.False(t, page.HasMore)

	// Anonymous viewers see both.
	decode(t, app.do(http.MethodGet, "/project?sortBy=oldest", "", nil), &page)
	assert.Len(t, page.Projects, 2)
}

func TestProject_ListPageOutOfRange(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.do(http.MethodGet, "/project?page=9223372036854775807", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "page", errorBody(t, rr).Field)
}

func TestProject_SelectByNonCreatorIsForbidden(t *testing.T) {
	app := newTestApp(t, nil)
	_, creatorToken := app.register("alice")
	memberID, memberToken := app.register("bob")
	p := app.createProject(creatorToken, "Chess")
	require.Equal(t, http.StatusOK, app.do(http.MethodPost, "/project/apply/"+p.ID, memberToken, nil).Code)

	rr := app.do(http.MethodPost, "/editProject/select-applicant", memberToken, map[string]string{
		"projectId": p.ID, "applicantId": memberID,
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestProject_ApplyTwice(t *testing.T) {
	app := newTestApp(t, nil)
	_, creatorToken := app.register("alice")
	_, memberToken := app.register("bob")
	p := app.createProject(creatorToken, "Chess")

	require.Equal(t, http.StatusOK, app.do(http.MethodPost, "/project/apply/"+p.ID, memberToken, nil).Code)
	rr := app.do(http.MethodPost, "/project/apply/"+p.ID, memberToken, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var applied []model.AppliedProject
	decode(t, app.do(http.MethodGet, "/appliedProjects", memberToken, nil), &applied)
	require.Len(t, applied, 1)
	assert.Equal(t, model.RoleApplicant, applied[0].Role)

	// Leave is for team members; withdrawing is for applicants.
	assert.Equal(t, http.StatusBadRequest,
		app.do(http.MethodPost, "/appliedProjects/leave", memberToken, map[string]string{"projectId": p.ID}).Code)
	assert.Equal(t, http.StatusOK,
		app.do(http.MethodPost, "/appliedProjects/withdraw", memberToken, map[string]string{"projectId": p.ID}).Code)
}

func TestProject_NotFound(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.do(http.MethodGet, "/project/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", errorBody(t, rr).Error)
}

func TestProject_Technologies(t *testing.T) {
	app := newTestApp(t, nil)

	var techs []string
	decode(t, app.do(http.MethodGet, "/project/technologies", "", nil), &techs)
	assert.Equal(t, model.Technologies, techs)
}

// =========================================================================
// AUTH / USERS
// =========================================================================

func TestAuth_RegisterLoginMe(t *testing.T) {
	app := newTestApp(t, nil)
	id, _ := app.register("alice")

	rr := app.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "correct-horse",
		"securityQuestion": "q", "securityAnswer": "a",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = app.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = app.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// The session cookie alone authenticates.
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	app.handler.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)

	var user map[string]any
	decode(t, me, &user)
	assert.Equal(t, id, user["id"])
	assert.NotContains(t, user, "passwordHash")
	assert.NotContains(t, user, "securityAnswerHash")
}

func TestAuth_RegisterMissingField(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := errorBody(t, rr)
	assert.Equal(t, "securityQuestion", body.Field)
	assert.Equal(t, "securityQuestion is required", body.Message)
}

func TestAuth_ResetPassword(t *testing.T) {
	app := newTestApp(t, nil)
	app.register("alice")

	var q map[string]string
	decode(t, app.do(http.MethodGet, "/auth/security-question?username=alice", "", nil), &q)
	assert.Equal(t, "First pet?", q["securityQuestion"])

	rr := app.do(http.MethodPost, "/auth/reset-password", "", map[string]string{
		"username": "alice", "securityAnswer": "rex", "newPassword": "brand-new-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = app.do(http.MethodPost, "/auth/reset-password", "", map[string]string{
		"username": "alice", "securityAnswer": "fluffy", "newPassword": "brand-new-pass",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = app.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "brand-new-pass"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_GitHubRoutesOffWithoutConfig(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.do(http.MethodGet, "/auth/github/login", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUsers_ConnectNotifiesPeer(t *testing.T) {
	app := newTestApp(t, nil)
	aliceID, aliceToken := app.register("alice")
	bobID, bobToken := app.register("bob")

	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodPost, "/users/"+aliceID+"/connect", aliceToken, nil).Code)
	require.Equal(t, http.StatusOK, app.do(http.MethodPost, "/users/"+bobID+"/connect", aliceToken, nil).Code)
	assert.Equal(t, http.StatusConflict, app.do(http.MethodPost, "/users/"+aliceID+"/connect", bobToken, nil).Code)

	var connections []model.PublicUser
	decode(t, app.do(http.MethodGet, "/users/"+bobID+"/connections", "", nil), &connections)
	assert.Equal(t, []string{aliceID}, ids(connections))

	var inbox []model.NotificationView
	decode(t, app.do(http.MethodGet, "/notifications", bobToken, nil), &inbox)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotifyConnectionAccepted, inbox[0].Type)
	require.NotNil(t, inbox[0].RelatedUser)
	assert.Equal(t, "alice", inbox[0].RelatedUser.Username)

	// Mark, then clear the inbox.
	rr := app.do(http.MethodPatch, "/notifications/"+inbox[0].ID+"/read", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "only the recipient may mark it")
	require.Equal(t, http.StatusOK, app.do(http.MethodPatch, "/notifications/"+inbox[0].ID+"/read", bobToken, nil).Code)

	var count handler.CountResponse
	decode(t, app.do(http.MethodDelete, "/notifications", bobToken, nil), &count)
	assert.Equal(t, int64(1), count.Count)

	require.Equal(t, http.StatusOK, app.do(http.MethodDelete, "/users/"+aliceID+"/connect", bobToken, nil).Code)
}

func TestNotifications_OnlyRecipientCanTouchThem(t *testing.T) {
	app := newTestApp(t, nil)
	_, ownerToken := app.register("alice")
	_, bobToken := app.register("bob")
	_, carolToken := app.register("carol")
	p := app.createProject(ownerToken, "Chess")
	require.Equal(t, http.StatusOK, app.do(http.MethodPost, "/project/apply/"+p.ID, bobToken, nil).Code)
	require.Equal(t, http.StatusOK, app.do(http.MethodPost, "/project/apply/"+p.ID, carolToken, nil).Code)

	var inbox []model.NotificationView
	decode(t, app.do(http.MethodGet, "/notifications", ownerToken, nil), &inbox)
	require.Len(t, inbox, 2)
	target := inbox[0].ID

	// Someone else's notification id looks exactly like a missing one.
	for _, tc := range []struct{ method, path string }{
		{http.MethodPatch, "/notifications/" + target + "/read"},
		{http.MethodDelete, "/notifications/" + target},
		{http.MethodPatch, "/notifications/missing/read"},
		{http.MethodDelete, "/notifications/missing"},
	} {
		rr := app.do(tc.method, tc.path, bobToken, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, "%s %s", tc.method, tc.path)
	}

	var count handler.CountResponse
	decode(t, app.do(http.MethodPatch, "/notifications/read-all", bobToken, nil), &count)
	assert.Equal(t, int64(0), count.Count, "the caller owns no notifications")

	decode(t, app.do(http.MethodPatch, "/notifications/read-all", ownerToken, nil), &count)
	assert.Equal(t, int64(2), count.Count)
	decode(t, app.do(http.MethodGet, "/notifications", ownerToken, nil), &inbox)
	for _, n := range inbox {
		assert.True(t, n.Read, "notification %s should be read", n.ID)
	}

	require.Equal(t, http.StatusOK, app.do(http.MethodDelete, "/notifications/"+target, ownerToken, nil).Code)
	decode(t, app.do(http.MethodGet, "/notifications", ownerToken, nil), &inbox)
	require.Len(t, inbox, 1)
	assert.NotEqual(t, target, inbox[0].ID)

	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/notifications", "", nil).Code)
}

func TestUsers_UpdateProfile(t *testing.T) {
	app := newTestApp(t, nil)
	id, token := app.register("alice")

	rr := app.do(http.MethodPut, "/users/me", token, map[string]any{
		"name":     "Alice Liddell",
		"headline": "Go developer",
		"skills":   []string{"Go", "SQL"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var profile map[string]any
	decode(t, app.do(http.MethodGet, "/users/"+id, "", nil), &profile)
	assert.Equal(t, "Alice Liddell", profile["name"])
	assert.Equal(t, []any{"Go", "SQL"}, profile["skills"])

	rr = app.do(http.MethodPut, "/users/me", token, map[string]any{"profileImage": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "profileImage", errorBody(t, rr).Field)
}

// =========================================================================
// CHAT / HEALTH
// =========================================================================

func TestChatToken(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		app := newTestApp(t, nil)
		_, token := app.register("alice")

		rr := app.do(http.MethodGet, "/chat/token", token, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("configured", func(t *testing.T) {
		app := newTestApp(t, chat.NewTokenIssuer("public-key", "chat-secret", time.Hour, nil))
		id, token := app.register("alice")

		rr := app.do(http.MethodGet, "/chat/token", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var creds chat.Credentials
		decode(t, rr, &creds)
		assert.Equal(t, "public-key", creds.APIKey)
		assert.Equal(t, id, creds.UserID)
		assert.NotEmpty(t, creds.Token)
	})
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
