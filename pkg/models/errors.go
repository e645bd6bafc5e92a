package models

import "fmt"

// ValidationError indicates malformed input. Never retried.
type ValidationError struct {
	// Field is the offending input field.
	Field string
	// Reason describes what is wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError indicates a referenced ticket or entity does not exist.
type NotFoundError struct {
	// Kind names the entity type, e.g. "parent ticket".
	Kind string
	// ID is the identifier that failed to resolve.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidTransitionError indicates an illegal state machine move.
// It signals a caller bug and is never retried.
type InvalidTransitionError struct {
	// TicketID is the ticket whose transition was rejected.
	TicketID string
	// From is the current status.
	From TicketStatus
	// To is the requested status.
	To TicketStatus
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ticket %s: invalid transition %s -> %s", e.TicketID, e.From, e.To)
}

// InvalidStateError indicates an operation was attempted on a ticket
// that is not in a state permitting it, e.g. requesting review on a
// grandchild without artifacts.
type InvalidStateError struct {
	// TicketID is the affected ticket.
	TicketID string
	// Reason explains why the operation is not permitted.
	Reason string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("ticket %s: %s", e.TicketID, e.Reason)
}

// DuplicateReviewError indicates a second review decision was submitted
// for a round that already has one. The caller must open a new round
// via a fresh review request.
type DuplicateReviewError struct {
	// TicketID is the grandchild ticket with the open round.
	TicketID string
	// Round is the round number that already has a decision.
	Round int
}

// Error implements the error interface.
func (e *DuplicateReviewError) Error() string {
	return fmt.Sprintf("ticket %s: review round %d already has a decision", e.TicketID, e.Round)
}

// MergeConflictError indicates a merge reported conflicts. It is
// escalated, never retried.
type MergeConflictError struct {
	// Branch is the branch that failed to merge.
	Branch string
	// ConflictFiles lists the files with conflicts.
	ConflictFiles []string
}

// Error implements the error interface.
func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge of %s conflicts in %d file(s): %v", e.Branch, len(e.ConflictFiles), e.ConflictFiles)
}

// GitHostError indicates the pull-request hosting API failed. Retried
// with backoff before surfacing.
type GitHostError struct {
	// Op is the hosting operation that failed.
	Op string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *GitHostError) Error() string {
	return fmt.Sprintf("git host %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *GitHostError) Unwrap() error { return e.Err }

// TransportError indicates the agent bus transport failed. Retried;
// delivery is at-least-once so consumers must deduplicate by message id.
type TransportError struct {
	// Op is the bus operation that failed.
	Op string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }
