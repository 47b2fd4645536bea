package model

import (
	"strings"
	"time"
)

// Project is a collaborative software project that users can apply to.
//
// Note what is NOT here: there are no applicant or team-member arrays.
// Who applied and who was selected lives in Membership rows, which are the
// single source of truth for both "applicants of a project" and "projects a
// user applied to". See membership.go.
type Project struct {
	ID             string    `json:"id"             bson:"_id"`
	Name           string    `json:"name"           bson:"name"`
	Description    string    `json:"description"    bson:"description"`
	Technologies   []string  `json:"technologies"   bson:"technologies"`
	CreatorID      string    `json:"creatorId"      bson:"creator_id"`
	StartDate      time.Time `json:"startDate"      bson:"start_date"`
	EndDate        time.Time `json:"endDate"        bson:"end_date"`
	PeopleRequired int       `json:"peopleRequired" bson:"people_required"`
	Status         Status    `json:"status"         bson:"status"`
	IsEnabled      bool      `json:"isEnabled"      bson:"is_enabled"`
	ApplicantCount int       `json:"applicantCount" bson:"applicant_count,omitempty"`
	CreatedAt      time.Time `json:"createdAt"      bson:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt"      bson:"updated_at"`
}

// ProjectDetail is a project together with its derived member lists.
type ProjectDetail struct {
	Project
	Creator            PublicUser   `json:"creator"`
	Applicants         []PublicUser `json:"applicants"`
	SelectedApplicants []PublicUser `json:"selectedApplicants"`
}

// Technologies is the fixed set of tags a project may carry.
var Technologies = []string{
	"React", "Angular", "Vue", "Svelte", "Next.js",
	"Node.js", "Express", "Django", "Flask", "Spring",
	"JavaScript", "TypeScript", "Python", "Java", "Go",
	"Rust", "C++", "C#", "Kotlin", "Swift",
	"Flutter", "React Native", "MongoDB", "PostgreSQL", "MySQL",
	"Firebase", "GraphQL", "Docker", "Kubernetes", "AWS",
	"Machine Learning", "TensorFlow",
}

var technologyIndex = func() map[string]string {
	m := make(map[string]string, len(Technologies))
	for _, t := range Technologies {
		m[strings.ToLower(t)] = t
	}
	return m
}()

// CanonicalTechnology returns the canonical spelling of a technology tag,
// matching case-insensitively. ok is false for tags outside the set.
func CanonicalTechnology(tag string) (canonical string, ok bool) {
	canonical, ok = technologyIndex[strings.ToLower(strings.TrimSpace(tag))]
	return canonical, ok
}

// SortOrder selects how the project listing is ordered.
type SortOrder string

const (
	SortRecent     SortOrder = "recent"
	SortOldest     SortOrder = "oldest"
	SortApplicants SortOrder = "applicants"
)

// ParseSortOrder maps a query parameter to a SortOrder. Unknown or empty
// values fall back to SortRecent. "mostApplicants" and "applicants.length"
// are accepted for older clients.
func ParseSortOrder(s string) SortOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oldest":
		return SortOldest
	case "applicants", "mostapplicants", "applicants.length":
		return SortApplicants
	default:
		return SortRecent
	}
}
