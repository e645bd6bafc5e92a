package models

import "time"

// ReviewChecklist records the boolean checks a reviewer performs.
type ReviewChecklist struct {
	// CodeQuality indicates the code meets quality expectations.
	CodeQuality bool `json:"code_quality"`
	// TestCoverage indicates the change is adequately tested.
	TestCoverage bool `json:"test_coverage"`
	// AcceptanceCriteria indicates the ticket's criteria are met.
	AcceptanceCriteria bool `json:"acceptance_criteria"`
}

// ReviewResult is a reviewer's decision for one review round. It is
// immutable once written; a new round replaces the prior result on the
// same grandchild after a revision_required cycle.
type ReviewResult struct {
	// ReviewerID identifies the reviewer.
	ReviewerID string `json:"reviewer_id"`
	// Approved is the decision.
	Approved bool `json:"approved"`
	// Feedback carries the reviewer's comments, required on rejection.
	Feedback string `json:"feedback,omitempty"`
	// Checklist records the individual checks.
	Checklist ReviewChecklist `json:"checklist"`
	// ReviewedAt is when the decision was made.
	ReviewedAt time.Time `json:"reviewed_at"`
}
