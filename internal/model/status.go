package model

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a project.
//
// It is a closed set: every value that reaches storage went through
// ParseStatus or one of the constants below, so handlers never compare raw
// strings.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

// statusAliases maps every accepted request literal (lower-cased) to its
// canonical status. Older clients send "in_progress" and "cancelled".
var statusAliases = map[string]Status{
	"open":        StatusOpen,
	"in progress": StatusInProgress,
	"in_progress": StatusInProgress,
	"inprogress":  StatusInProgress,
	"completed":   StatusCompleted,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
}

// transitions lists the allowed target states for each source state.
// Completed -> Completed is allowed so a repeated completion request can
// re-run the notification fan-out without changing the project.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusCompleted},
	StatusCancelled:  nil,
}

// ParseStatus converts a request literal into a Status.
func ParseStatus(s string) (Status, error) {
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown project status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether a project in state s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further work happens on a project in state s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
