package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/teamify/internal/service"
)

// NotificationHandler serves the caller's notification inbox.
// Every route is behind RequireAuth and only touches the caller's own rows.
type NotificationHandler struct {
	notifications *service.NotificationService
	logger        *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notifications *service.NotificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

// CountResponse reports how many notifications a bulk operation touched.
type CountResponse struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// HandleList returns the inbox, newest first.
//
// HTTP: GET /notifications
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	list, err := h.notifications.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleMarkRead marks one notification as read.
//
// HTTP: PATCH /notifications/{id}/read
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), userID, pathID(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Notification marked as read")
}

// HandleMarkAllRead marks the whole inbox as read.
//
// HTTP: PATCH /notifications/read-all
func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, err := h.notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Message: "All notifications marked as read", Count: n})
}

// HandleDelete deletes one notification.
//
// HTTP: DELETE /notifications/{id}
func (h *NotificationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.notifications.Delete(r.Context(), userID, pathID(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Notification deleted")
}

// HandleDeleteAll empties the inbox.
//
// HTTP: DELETE /notifications
func (h *NotificationHandler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, err := h.notifications.DeleteAll(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Message: "All notifications deleted", Count: n})
}
