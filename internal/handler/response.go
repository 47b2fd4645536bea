package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError so the frontend sees
// one error shape regardless of status code:
//
//	{"error": "validation_error", "message": "Start date must be in the future", "field": "startDate"}
//
// Services return apperror values; the mapping to HTTP status lives here
// and nowhere else.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/auth"
)

// maxBodyBytes caps JSON request bodies. Profile payloads with long
// experience lists are the largest legitimate bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending request field, for validation errors
}

// MessageResponse is the body of operations that have nothing else to return.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be written before the body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

// writeError maps a domain error to an HTTP status and sends it.
//
// errors.Is walks the wrap chain, so a service error like
//
//	fmt.Errorf("service/project: applying: %w", apperror.ValidationFailed(...))
//
// still maps to 400. Anything that is not an *apperror.AppError is an
// internal failure: it is logged with the request id and the client gets a
// generic 500 without the raw message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, kind := statusFor(err)
		if status == http.StatusInternalServerError {
			writeInternalError(w, r, logger, err)
			return
		}
		writeJSON(w, status, ErrorResponse{
			Error:   kind,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}
	writeInternalError(w, r, logger, err)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeInternalError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("requestID", requestID(r)),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a JSON body into dst and runs struct validation on it.
// Malformed bodies are validation errors on the "body" field.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *Validator, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "Request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.ValidationFailed("body", "Request body is too large")
		}
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return v.Struct(dst)
}

// currentUser returns the id RequireAuth stored in the context. On a route
// without RequireAuth it reports Unauthorized.
func currentUser(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthorized("Authentication required")
	}
	return id, nil
}

func pathID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func requestID(r *http.Request) string {
	return chimiddleware.GetReqID(r.Context())
}
