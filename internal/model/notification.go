package model

import "time"

// NotificationType identifies what happened. The values are part of the
// public API, including the capitalised "Removed".
type NotificationType string

const (
	NotifyApplied            NotificationType = "applied"
	NotifySelected           NotificationType = "selected"
	NotifyRemoved            NotificationType = "Removed"
	NotifyProjectCompleted   NotificationType = "projectCompleted"
	NotifyProjectRating      NotificationType = "projectRating"
	NotifyLike               NotificationType = "like"
	NotifyComment            NotificationType = "comment"
	NotifyConnectionAccepted NotificationType = "connectionAccepted"
)

// Notification is a message delivered to one recipient.
//
// DedupeKey is optional. When set, storage rejects a second notification
// with the same key, which is what makes repeated fan-outs (for example
// completing a project twice) safe.
type Notification struct {
	ID               string           `json:"id"                         bson:"_id"`
	RecipientID      string           `json:"recipientId"                bson:"recipient_id"`
	Type             NotificationType `json:"type"                       bson:"type"`
	RelatedUserID    string           `json:"relatedUserId"              bson:"related_user_id"`
	RelatedProjectID *string          `json:"relatedProjectId,omitempty" bson:"related_project_id,omitempty"`
	Message          string           `json:"message"                    bson:"message"`
	Read             bool             `json:"read"                       bson:"read"`
	DedupeKey        string           `json:"-"                          bson:"dedupe_key,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"                  bson:"created_at"`
}

// NotificationView is a notification joined with the public fields of the
// user that triggered it.
type NotificationView struct {
	Notification
	RelatedUser *PublicUser `json:"relatedUser,omitempty"`
}
