package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/teamify/internal/service"
)

// RatingHandler serves post-completion peer ratings.
type RatingHandler struct {
	ratings   *service.RatingService
	validator *Validator
	logger    *slog.Logger
}

// NewRatingHandler creates a RatingHandler.
func NewRatingHandler(ratings *service.RatingService, validator *Validator, logger *slog.Logger) *RatingHandler {
	return &RatingHandler{ratings: ratings, validator: validator, logger: logger}
}

type ratingRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

type submitRatingsRequest struct {
	Ratings []ratingRequest `json:"ratings" validate:"required,dive"`
}

// HandleSubmit stores the caller's ratings of their teammates.
//
// HTTP: POST /editProject/{id}/ratings  {"ratings": [{"userId", "rating", "feedback"}]}
//
// The batch is all-or-nothing: one invalid or already-rated entry rejects
// every entry.
func (h *RatingHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req submitRatingsRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	inputs := make([]service.RatingInput, 0, len(req.Ratings))
	for _, rr := range req.Ratings {
		inputs = append(inputs, service.RatingInput{UserID: rr.UserID, Rating: rr.Rating, Feedback: rr.Feedback})
	}

	ratings, err := h.ratings.Submit(r.Context(), pathID(r), userID, inputs)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

// HandleListMine returns the ratings the caller wrote for a project.
//
// HTTP: GET /editProject/{id}/ratings
func (h *RatingHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ratings, err := h.ratings.ForProject(r.Context(), pathID(r), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

// HandleSummary returns the average rating a user received.
//
// HTTP: GET /users/{id}/rating
func (h *RatingHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ratings.AggregateForUser(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
