package model

import "time"

// RatingTypeProjectCompletion is the only rating type: a teammate review
// left after a project is completed.
const RatingTypeProjectCompletion = "project_completion"

// Rating is a one-way review from Reviewer to Reviewee for one project.
type Rating struct {
	ID         string    `json:"id"         bson:"_id"`
	ProjectID  string    `json:"projectId"  bson:"project_id"`
	ReviewerID string    `json:"reviewerId" bson:"reviewer_id"`
	RevieweeID string    `json:"revieweeId" bson:"reviewee_id"`
	Type       string    `json:"type"       bson:"type"`
	Value      int       `json:"rating"     bson:"value"`
	Feedback   string    `json:"feedback"   bson:"feedback"`
	CreatedAt  time.Time `json:"createdAt"  bson:"created_at"`
}

// RatingSummary aggregates every rating a user has received.
// Average is 0 when Count is 0.
type RatingSummary struct {
	UserID  string  `json:"userId"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}
