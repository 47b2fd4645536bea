package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/auth"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/service"
)

const stateCookieName = "oauth_state"

// AuthHandler manages sign-up, password and GitHub login, and sessions.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin  → password accounts, issue the session cookie
//   - HandleGitHubLogin / Callback  → OAuth flow (only when GitHub is configured)
//   - HandleSecurityQuestion / HandleResetPassword → forgotten password flow
//   - HandleLogout → clear the cookie
//   - HandleMe     → who is logged in
//
// Sessions are stateless JWTs carried in an HttpOnly cookie. The token is
// also returned in the body so non-browser clients can send it as a Bearer
// header.
type AuthHandler struct {
	users        *service.UserService
	github       *auth.GitHubProvider // nil when GitHub login is not configured
	validator    *Validator
	tokenTTL     time.Duration
	cookieSecure bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil.
func NewAuthHandler(
	users *service.UserService,
	github *auth.GitHubProvider,
	validator *Validator,
	tokenTTL time.Duration,
	cookieSecure bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:        users,
		github:       github,
		validator:    validator,
		tokenTTL:     tokenTTL,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

type registerRequest struct {
	Username         string `json:"username"         validate:"required"`
	Email            string `json:"email"            validate:"required"`
	Password         string `json:"password"         validate:"required"`
	SecurityQuestion string `json:"securityQuestion" validate:"required"`
	SecurityAnswer   string `json:"securityAnswer"   validate:"required"`
}

type loginRequest struct {
	// Username accepts a username or an email address.
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email"`
	Password string `json:"password" validate:"required"`
}

type resetPasswordRequest struct {
	Username       string `json:"username"       validate:"required"`
	SecurityAnswer string `json:"securityAnswer" validate:"required"`
	NewPassword    string `json:"newPassword"    validate:"required"`
}

// SessionResponse is returned by every endpoint that signs a user in.
type SessionResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// HandleRegister creates a password account and signs it in.
//
// HTTP: POST /auth/register → 201
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.users.Register(r.Context(), service.RegisterInput{
		Username:         req.Username,
		Email:            req.Email,
		Password:         req.Password,
		SecurityQuestion: req.SecurityQuestion,
		SecurityAnswer:   req.SecurityAnswer,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.startSession(w, http.StatusCreated, res)
}

// HandleLogin signs in with a username or email and a password.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}

	res, err := h.users.Login(r.Context(), identifier, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.startSession(w, http.StatusOK, res)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /auth/logout
//
// Tokens are stateless, so the token itself stays valid until it expires;
// without the cookie the browser simply stops sending it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeMessage(w, http.StatusOK, "logged out")
}

// HandleMe returns the logged-in user.
//
// HTTP: GET /auth/me (RequireAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleSecurityQuestion returns the question for a username.
//
// HTTP: GET /auth/security-question?username=
func (h *AuthHandler) HandleSecurityQuestion(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	question, err := h.users.SecurityQuestion(r.Context(), username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"securityQuestion": question})
}

// HandleResetPassword sets a new password after a correct security answer.
//
// HTTP: POST /auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.users.ResetPassword(r.Context(), req.Username, req.SecurityAnswer, req.NewPassword)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.startSession(w, http.StatusOK, res)
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state is stored in a short-lived HttpOnly cookie and must come
// back unchanged on the callback.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, r, h.logger, apperror.NotFound("login provider", "github"))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile
//  3. Find or create the linked account
//  4. Set the session cookie and redirect to the app
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, r, h.logger, apperror.NotFound("login provider", "github"))
		return
	}

	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		writeError(w, r, h.logger, apperror.ValidationFailed("state", "Invalid OAuth state"))
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeError(w, r, h.logger, apperror.ValidationFailed("state", "Invalid OAuth state"))
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for a GitHub profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, h.logger, apperror.ValidationFailed("code", "Missing OAuth code"))
		return
	}
	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeError(w, r, h.logger, apperror.Unauthorized("GitHub authentication failed"))
		return
	}

	// --- Step 3: Find or create the account ---
	res, err := h.users.LoginGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// --- Step 4: Session cookie + redirect ---
	h.setSessionCookie(w, res.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, status int, res *service.AuthResult) {
	h.setSessionCookie(w, res.Token)
	writeJSON(w, status, SessionResponse{User: res.User, Token: res.Token})
}

// setSessionCookie stores the JWT in an HttpOnly cookie that lives as long
// as the token.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
