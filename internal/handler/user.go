package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/teamify/internal/chat"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/service"
)

// UserHandler serves profiles, connections and chat credentials.
type UserHandler struct {
	users     *service.UserService
	chat      *chat.TokenIssuer // nil when chat is not configured
	validator *Validator
	logger    *slog.Logger
}

// NewUserHandler creates a UserHandler. chat may be nil.
func NewUserHandler(users *service.UserService, chatIssuer *chat.TokenIssuer, validator *Validator, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, chat: chatIssuer, validator: validator, logger: logger}
}

type profileRequest struct {
	Name         string             `json:"name"`
	Headline     string             `json:"headline"`
	Bio          string             `json:"bio"`
	Location     string             `json:"location"`
	ProfileImage string             `json:"profileImage" validate:"omitempty,url"`
	BannerImage  string             `json:"bannerImage"  validate:"omitempty,url"`
	Skills       []string           `json:"skills"`
	Experience   []model.Experience `json:"experience"`
	Education    []model.Education  `json:"education"`
}

// HandleProfile returns a user's public profile with their rating summary.
//
// HTTP: GET /users/{id}
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.users.Profile(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleUpdateProfile replaces the caller's profile fields.
//
// HTTP: PUT /users/me
func (h *UserHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req profileRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), userID, service.ProfileInput{
		Name:         req.Name,
		Headline:     req.Headline,
		Bio:          req.Bio,
		Location:     req.Location,
		ProfileImage: req.ProfileImage,
		BannerImage:  req.BannerImage,
		Skills:       req.Skills,
		Experience:   req.Experience,
		Education:    req.Education,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleConnections lists a user's connections.
//
// HTTP: GET /users/{id}/connections
func (h *UserHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.Connections(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleConnect connects the caller with the user in the path.
//
// HTTP: POST /users/{id}/connect
func (h *UserHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.users.Connect(r.Context(), userID, pathID(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Connected")
}

// HandleDisconnect removes the connection between the caller and the user
// in the path.
//
// HTTP: DELETE /users/{id}/connect
func (h *UserHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.users.Disconnect(r.Context(), userID, pathID(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Disconnected")
}

// HandleChatToken issues hosted-chat credentials for the caller.
//
// HTTP: GET /chat/token → 503 when chat is not configured
func (h *UserHandler) HandleChatToken(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	creds, err := h.chat.Issue(userID)
	if errors.Is(err, chat.ErrNotConfigured) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "unavailable",
			Message: "Chat is not configured",
		})
		return
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

// Pinger is anything whose liveness the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers GET /healthz by pinging the store.
func HealthHandler(store Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			logger.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
