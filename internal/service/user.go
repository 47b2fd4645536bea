package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/clock"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/auth"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/repository"
)

const (
	MinPasswordLength   = 8
	MaxProfileTextField = 200
	MaxBioLength        = 2000
	MaxSkills           = 50

	// githubUsernameAttempts bounds the suffix search for a free username
	// when a GitHub login collides with an existing account.
	githubUsernameAttempts = 5
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

// RegisterInput is a username/password sign-up.
type RegisterInput struct {
	Username         string
	Email            string
	Password         string
	SecurityQuestion string
	SecurityAnswer   string
}

// ProfileInput carries the editable profile fields.
type ProfileInput struct {
	Name         string
	Headline     string
	Bio          string
	Location     string
	ProfileImage string
	BannerImage  string
	Skills       []string
	Experience   []model.Experience
	Education    []model.Education
}

// AuthResult bundles the user and a fresh session token so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Profile is what other users see on a profile page.
type Profile struct {
	model.PublicUser
	Bio         string              `json:"bio"`
	Location    string              `json:"location"`
	BannerImage string              `json:"bannerImage"`
	Skills      []string            `json:"skills"`
	Experience  []model.Experience  `json:"experience"`
	Education   []model.Education   `json:"education"`
	Rating      model.RatingSummary `json:"rating"`
	Connections int                 `json:"connections"`
}

// UserService handles accounts, sessions, profiles and connections.
type UserService struct {
	store     repository.Store
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	notifier  Notifier
	clock     clock.Clock
	logger    *slog.Logger
}

func NewUserService(
	store repository.Store,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	notifier Notifier,
	clk clock.Clock,
	logger *slog.Logger,
) *UserService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &UserService{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		notifier:  notifier,
		clock:     clk,
		logger:    logger,
	}
}

// Register creates an account and signs the user in.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	question := strings.TrimSpace(in.SecurityQuestion)

	if !usernamePattern.MatchString(username) {
		return nil, apperror.ValidationFailed("username",
			"Username must be 3-30 characters of letters, digits or underscores")
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "A valid email address is required")
	}
	if err := validatePassword("password", in.Password); err != nil {
		return nil, err
	}
	if question == "" {
		return nil, apperror.ValidationFailed("securityQuestion", "Security question is required")
	}
	if model.NormalizeAnswer(in.SecurityAnswer) == "" {
		return nil, apperror.ValidationFailed("securityAnswer", "Security answer is required")
	}

	passwordHash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/user: hashing password: %w", err)
	}
	answerHash, err := s.passwords.HashAnswer(in.SecurityAnswer)
	if err != nil {
		return nil, fmt.Errorf("service/user: hashing security answer: %w", err)
	}

	user := &model.User{
		Username:           username,
		Email:              email,
		PasswordHash:       passwordHash,
		SecurityQuestion:   question,
		SecurityAnswerHash: answerHash,
		Name:               username,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if isConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("service/user: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return s.session(user)
}

// Login signs in with a username or email and a password. Unknown users
// and wrong passwords get the same error.
func (s *UserService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	invalid := apperror.Unauthorized("Invalid username or password")

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, invalid
	}

	user, err := s.store.GetUserByLogin(ctx, identifier)
	if err != nil {
		if isNotFound(err) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/user: looking up %q: %w", identifier, err)
	}
	if user.PasswordHash == "" {
		// GitHub-only account.
		return nil, invalid
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrMismatch) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/user: verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.session(user)
}

// LoginGitHub signs in the account linked to a GitHub profile, creating
// it on first login.
//
// A new account takes the GitHub login as username, sanitised to the
// username alphabet. If that name is taken a numeric suffix is tried. If
// GitHub hides the email, a noreply placeholder keeps the email unique.
func (s *UserService) LoginGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil || gh.ID == 0 {
		return nil, fmt.Errorf("service/user: GitHub user must not be empty")
	}

	base := sanitizeUsername(gh.Login)
	placeholder := fmt.Sprintf("%d+%s@users.noreply.github.com", gh.ID, strings.ToLower(base))
	email := strings.ToLower(strings.TrimSpace(gh.Email))
	if email == "" {
		email = placeholder
	}
	githubID := gh.ID

	var lastErr error
	for attempt := 0; attempt < githubUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			suffix := "_" + strconv.Itoa(attempt+1)
			username = truncate(base, 30-len(suffix)) + suffix
		}
		// After the first collision, also assume the email may be the
		// taken value.
		if attempt > 1 {
			email = placeholder
		}

		user := &model.User{
			Username:     username,
			Email:        email,
			GitHubID:     &githubID,
			Name:         strings.TrimSpace(gh.Name),
			Bio:          strings.TrimSpace(gh.Bio),
			Location:     strings.TrimSpace(gh.Location),
			ProfileImage: gh.AvatarURL,
		}
		if user.Name == "" {
			user.Name = gh.Login
		}

		err := s.store.UpsertGitHubUser(ctx, user)
		if err == nil {
			s.logger.Info("user authenticated via GitHub",
				slog.String("userID", user.ID),
				slog.String("login", gh.Login),
			)
			return s.session(user)
		}
		if !isConflict(err) {
			return nil, fmt.Errorf("service/user: upserting GitHub user %d: %w", gh.ID, err)
		}
		lastErr = err
	}
	return nil, lastErr
}

// Get returns the full record of a user.
func (s *UserService) Get(ctx context.Context, userID string) (*model.User, error) {
	userID, err := requireID("userId", userID)
	if err != nil {
		return nil, err
	}
	return s.store.GetUserByID(ctx, userID)
}

// SecurityQuestion returns the question set for username.
func (s *UserService) SecurityQuestion(ctx context.Context, username string) (string, error) {
	username, err := requireID("username", username)
	if err != nil {
		return "", err
	}
	user, err := s.store.GetUserByLogin(ctx, username)
	if err != nil {
		return "", err
	}
	if user.SecurityQuestion == "" {
		return "", apperror.NotFound("security question", username)
	}
	return user.SecurityQuestion, nil
}

// ResetPassword sets a new password after checking the security answer,
// and signs the user in.
func (s *UserService) ResetPassword(ctx context.Context, username, answer, newPassword string) (*AuthResult, error) {
	username, err := requireID("username", username)
	if err != nil {
		return nil, err
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByLogin(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.passwords.VerifyAnswer(user.SecurityAnswerHash, answer); err != nil {
		if errors.Is(err, auth.ErrMismatch) {
			s.logger.Warn("wrong security answer", slog.String("userID", user.ID))
			return nil, apperror.Unauthorized("Incorrect security answer")
		}
		return nil, fmt.Errorf("service/user: verifying security answer: %w", err)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("service/user: hashing password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, fmt.Errorf("service/user: updating password: %w", err)
	}
	user.PasswordHash = hash

	s.logger.Info("password reset", slog.String("userID", user.ID))
	return s.session(user)
}

// Profile returns the public profile of a user with their rating summary.
func (s *UserService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.SummarizeRatings(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/user: summarizing ratings: %w", err)
	}
	connections, err := s.store.ListConnections(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/user: listing connections: %w", err)
	}

	return &Profile{
		PublicUser:  user.Public(),
		Bio:         user.Bio,
		Location:    user.Location,
		BannerImage: user.BannerImage,
		Skills:      nonNil(user.Skills),
		Experience:  nonNil(user.Experience),
		Education:   nonNil(user.Education),
		Rating:      summary,
		Connections: len(connections),
	}, nil
}

// UpdateProfile replaces the profile fields of userID.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		name  string
		value *string
		max   int
	}{
		{"name", &in.Name, MaxProfileTextField},
		{"headline", &in.Headline, MaxProfileTextField},
		{"bio", &in.Bio, MaxBioLength},
		{"location", &in.Location, MaxProfileTextField},
		{"profileImage", &in.ProfileImage, MaxBioLength},
		{"bannerImage", &in.BannerImage, MaxBioLength},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if len(*f.value) > f.max {
			return nil, apperror.ValidationFailed(f.name, fmt.Sprintf("%s must be %d characters or less", f.name, f.max))
		}
	}
	if len(in.Skills) > MaxSkills {
		return nil, apperror.ValidationFailed("skills", fmt.Sprintf("At most %d skills are allowed", MaxSkills))
	}

	skills := make([]string, 0, len(in.Skills))
	for _, skill := range in.Skills {
		if skill = strings.TrimSpace(skill); skill != "" {
			skills = append(skills, skill)
		}
	}

	user.Name = in.Name
	user.Headline = in.Headline
	user.Bio = in.Bio
	user.Location = in.Location
	user.ProfileImage = in.ProfileImage
	user.BannerImage = in.BannerImage
	user.Skills = skills
	user.Experience = nonNil(in.Experience)
	user.Education = nonNil(in.Education)

	if err := s.store.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("service/user: updating profile: %w", err)
	}
	s.logger.Info("profile updated", slog.String("userID", user.ID))
	return user, nil
}

// Connect links userID and peerID in both directions and tells the peer.
func (s *UserService) Connect(ctx context.Context, userID, peerID string) error {
	peerID, err := requireID("userId", peerID)
	if err != nil {
		return err
	}
	if peerID == userID {
		return apperror.ValidationFailed("userId", "You cannot connect with yourself")
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.AddConnection(ctx, userID, peerID); err != nil {
		if isConflict(err) || isNotFound(err) {
			return err
		}
		return fmt.Errorf("service/user: connecting %s and %s: %w", userID, peerID, err)
	}

	s.logger.Info("users connected",
		slog.String("userID", userID),
		slog.String("peerID", peerID),
	)
	s.notifier.Emit(ctx, model.Notification{
		RecipientID:   peerID,
		Type:          model.NotifyConnectionAccepted,
		RelatedUserID: userID,
		Message:       fmt.Sprintf("%s connected with you", displayName(user)),
		CreatedAt:     s.clock.Now().UTC(),
	})
	return nil
}

// Disconnect removes both directions of a connection.
func (s *UserService) Disconnect(ctx context.Context, userID, peerID string) error {
	peerID, err := requireID("userId", peerID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveConnection(ctx, userID, peerID); err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("service/user: disconnecting %s and %s: %w", userID, peerID, err)
	}
	s.logger.Info("users disconnected",
		slog.String("userID", userID),
		slog.String("peerID", peerID),
	)
	return nil
}

// Connections lists the public profiles userID is connected to.
func (s *UserService) Connections(ctx context.Context, userID string) ([]model.PublicUser, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListConnections(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/user: listing connections: %w", err)
	}
	return list, nil
}

func (s *UserService) session(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/user: generating token for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func validatePassword(field, password string) error {
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("Password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	return nil
}

// sanitizeUsername maps a GitHub login onto the username alphabet.
func sanitizeUsername(login string) string {
	var b strings.Builder
	for _, r := range login {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := truncate(b.String(), 30)
	for len(name) < 3 {
		name += "_"
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
