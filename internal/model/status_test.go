package model

import "testing"

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "Completed", want: StatusCompleted},
		{in: "completed", want: StatusCompleted},
		{in: "in_progress", want: StatusInProgress},
		{in: "In Progress", want: StatusInProgress},
		{in: "cancelled", want: StatusCancelled},
		{in: "  Open ", want: StatusOpen},
		{in: "archived", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseStatus(%q) expected error, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusInProgress, true},
		{StatusOpen, StatusCompleted, true},
		{StatusOpen, StatusCancelled, true},
		{StatusOpen, StatusOpen, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusOpen, false},
		{StatusCompleted, StatusCompleted, true},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusOpen, false},
		{StatusCancelled, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%q.CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCanonicalTechnology(t *testing.T) {
	got, ok := CanonicalTechnology("  react ")
	if !ok || got != "React" {
		t.Errorf("CanonicalTechnology(react) = %q, %v; want React, true", got, ok)
	}
	if _, ok := CanonicalTechnology("COBOL"); ok {
		t.Error("CanonicalTechnology(COBOL) should not be allowed")
	}
}

func TestParseSortOrder(t *testing.T) {
	cases := map[string]SortOrder{
		"":                  SortRecent,
		"recent":            SortRecent,
		"oldest":            SortOldest,
		"applicants":        SortApplicants,
		"applicants.length": SortApplicants,
		"bogus":             SortRecent,
	}
	for in, want := range cases {
		if got := ParseSortOrder(in); got != want {
			t.Errorf("ParseSortOrder(%q) = %q, want %q", in, got, want)
		}
	}
}
