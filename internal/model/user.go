// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data — similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import (
	"strings"
	"time"
)

// User represents a registered account and its public profile.
//
// Credentials live next to the profile but never leave the server: the
// `json:"-"` tag keeps PasswordHash and SecurityAnswerHash out of every
// response, no matter which handler encodes the struct.
//
// WHY GitHubID *int64?
// Most accounts are created with a username and password, so the GitHub ID
// is optional. A nil pointer maps to NULL in SQLite (where the UNIQUE
// constraint ignores NULLs) and to a missing field in Mongo.
type User struct {
	ID                 string       `json:"id"                 bson:"_id"`
	Username           string       `json:"username"           bson:"username"`
	Email              string       `json:"email"              bson:"email"`
	PasswordHash       string       `json:"-"                  bson:"password_hash"`
	GitHubID           *int64       `json:"githubId,omitempty" bson:"github_id,omitempty"`
	SecurityQuestion   string       `json:"securityQuestion,omitempty" bson:"security_question"`
	SecurityAnswerHash string       `json:"-"                  bson:"security_answer_hash"`
	Name               string       `json:"name"               bson:"name"`
	Headline           string       `json:"headline"           bson:"headline"`
	Bio                string       `json:"bio"                bson:"bio"`
	Location           string       `json:"location"           bson:"location"`
	ProfileImage       string       `json:"profileImage"       bson:"profile_image"`
	BannerImage        string       `json:"bannerImage"        bson:"banner_image"`
	Skills             []string     `json:"skills"             bson:"skills"`
	Experience         []Experience `json:"experience"         bson:"experience"`
	Education          []Education  `json:"education"          bson:"education"`
	CreatedAt          time.Time    `json:"createdAt"          bson:"created_at"`
	UpdatedAt          time.Time    `json:"updatedAt"          bson:"updated_at"`
}

// Experience is one entry of a user's work history. Dates are free-form
// ("2023-01", "present") because they are only ever displayed.
type Experience struct {
	Title       string `json:"title"       bson:"title"`
	Company     string `json:"company"     bson:"company"`
	StartDate   string `json:"startDate"   bson:"start_date"`
	EndDate     string `json:"endDate"     bson:"end_date"`
	Description string `json:"description" bson:"description"`
}

// Education is one entry of a user's education history.
type Education struct {
	School       string `json:"school"       bson:"school"`
	Degree       string `json:"degree"       bson:"degree"`
	FieldOfStudy string `json:"fieldOfStudy" bson:"field_of_study"`
	StartYear    string `json:"startYear"    bson:"start_year"`
	EndYear      string `json:"endYear"      bson:"end_year"`
}

// PublicUser is the subset of a user that other users may see when it is
// joined into another resource (applicant lists, notifications, connections).
type PublicUser struct {
	ID           string `json:"id"           bson:"_id"`
	Username     string `json:"username"     bson:"username"`
	Name         string `json:"name"         bson:"name"`
	Headline     string `json:"headline"     bson:"headline"`
	ProfileImage string `json:"profileImage" bson:"profile_image"`
}

// Public returns the publicly visible fields of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:           u.ID,
		Username:     u.Username,
		Name:         u.Name,
		Headline:     u.Headline,
		ProfileImage: u.ProfileImage,
	}
}

// NormalizeAnswer canonicalises a security answer before hashing or
// comparing, so "  Fluffy" and "fluffy" are the same answer.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
