package model

import "time"

// MemberRole is a user's standing in a project.
type MemberRole string

const (
	RoleApplicant MemberRole = "applicant"
	RoleSelected  MemberRole = "selected"
)

// Membership is the authoritative join between a user and a project.
// Exactly one row exists per (ProjectID, UserID), so a user can never be
// both a pending applicant and a selected member of the same project.
type Membership struct {
	ProjectID string     `json:"projectId" bson:"project_id"`
	UserID    string     `json:"userId"    bson:"user_id"`
	Role      MemberRole `json:"role"      bson:"role"`
	CreatedAt time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" bson:"updated_at"`
}

// AppliedProject is one entry of a user's derived "applied projects" list.
type AppliedProject struct {
	Project Project    `json:"project"`
	Role    MemberRole `json:"role"`
	Since   time.Time  `json:"since"`
}
