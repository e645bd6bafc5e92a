// Package models defines the shared ticket, review, and message types
// used across the orchestration core.
package models

import "time"

// TicketStatus represents the current state of a ticket at any level
// of the hierarchy. The vocabulary is shared across parent, child, and
// grandchild tickets; not every state is reachable at every level.
type TicketStatus string

const (
	// StatusPending indicates the ticket has not started.
	StatusPending TicketStatus = "pending"
	// StatusDecomposing indicates the ticket is being broken into subtickets.
	StatusDecomposing TicketStatus = "decomposing"
	// StatusInProgress indicates a worker is actively on the ticket.
	StatusInProgress TicketStatus = "in_progress"
	// StatusReviewRequested indicates the deliverable is awaiting review.
	StatusReviewRequested TicketStatus = "review_requested"
	// StatusRevisionRequired indicates a reviewer rejected the deliverable.
	StatusRevisionRequired TicketStatus = "revision_required"
	// StatusCompleted indicates the ticket finished successfully.
	StatusCompleted TicketStatus = "completed"
	// StatusFailed indicates the ticket terminally failed.
	StatusFailed TicketStatus = "failed"
	// StatusPRCreated indicates a pull request was opened for the ticket.
	// Only a parent ticket reaches this state, and only from completed.
	StatusPRCreated TicketStatus = "pr_created"
)

// Valid returns true if the status is a known value.
func (s TicketStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDecomposing, StatusInProgress, StatusReviewRequested,
		StatusRevisionRequired, StatusCompleted, StatusFailed, StatusPRCreated:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from s.
func (s TicketStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusPRCreated:
		return true
	default:
		return false
	}
}

// Active returns true if the ticket is still being worked on, meaning
// it is neither completed nor in a terminal state.
func (s TicketStatus) Active() bool {
	return !s.Terminal() && s != StatusCompleted
}

// transitions is the legal state machine. Failed is reachable from any
// non-terminal state and is handled in CanTransition rather than here.
var transitions = map[TicketStatus][]TicketStatus{
	StatusPending:          {StatusDecomposing, StatusInProgress},
	StatusDecomposing:      {StatusInProgress},
	StatusInProgress:       {StatusReviewRequested, StatusCompleted},
	StatusReviewRequested:  {StatusRevisionRequired, StatusCompleted},
	StatusRevisionRequired: {StatusInProgress},
	StatusCompleted:        {StatusPRCreated},
	StatusFailed:           {},
	StatusPRCreated:        {},
}

// CanTransition reports whether moving from s to next is a legal
// state machine transition. revision_required -> in_progress is the
// only cycle; completed and pr_created never move backwards.
func (s TicketStatus) CanTransition(next TicketStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return false
	}
	if next == StatusFailed {
		return !s.Terminal() && s != StatusCompleted
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Priority indicates the urgency of a parent ticket.
type Priority string

const (
	// PriorityLow is for tickets that can wait.
	PriorityLow Priority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityHigh is for tickets that should preempt other work.
	PriorityHigh Priority = "high"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// TicketMetadata carries intake attributes of a parent ticket.
type TicketMetadata struct {
	// Priority is the urgency assigned at intake.
	Priority Priority `json:"priority"`
	// Deadline is an optional due date.
	Deadline *time.Time `json:"deadline,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
}

// TicketNode is the common surface of all three ticket levels. Status
// accessors are shared so transition and propagation logic is written
// once instead of per level.
type TicketNode interface {
	// TicketID returns the stable unique id.
	TicketID() string
	// TicketStatus returns the current status.
	TicketStatus() TicketStatus
	// SetTicketStatus mutates the status and touches UpdatedAt.
	SetTicketStatus(s TicketStatus, now time.Time)
}

// ParentTicket represents one top-level instruction and exclusively
// owns its child tickets. Once children exist its status is derived
// from theirs and is never set independently.
type ParentTicket struct {
	// ID is the unique identifier.
	ID string `json:"id"`
	// ProjectID identifies the owning project.
	ProjectID string `json:"project_id"`
	// Instruction is the free-text intake instruction.
	Instruction string `json:"instruction"`
	// Status is the current state.
	Status TicketStatus `json:"status"`
	// Metadata carries priority, deadline, and tags.
	Metadata TicketMetadata `json:"metadata"`
	// Children are the functional slices, in creation order.
	Children []*ChildTicket `json:"children,omitempty"`
	// CreatedAt is when the ticket was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the ticket last changed. Non-decreasing.
	UpdatedAt time.Time `json:"updated_at"`
}

// TicketID returns the parent's id.
func (p *ParentTicket) TicketID() string { return p.ID }

// TicketStatus returns the parent's status.
func (p *ParentTicket) TicketStatus() TicketStatus { return p.Status }

// SetTicketStatus sets the status and touches UpdatedAt.
func (p *ParentTicket) SetTicketStatus(s TicketStatus, now time.Time) {
	p.Status = s
	p.touch(now)
}

func (p *ParentTicket) touch(now time.Time) {
	if now.After(p.UpdatedAt) {
		p.UpdatedAt = now
	}
}

// ChildTicket is one functional slice of a parent instruction,
// assigned to exactly one worker type.
type ChildTicket struct {
	// ID is the unique identifier.
	ID string `json:"id"`
	// ParentID is a back-reference to the owning parent ticket.
	ParentID string `json:"parent_id"`
	// Title is a short description of the slice.
	Title string `json:"title"`
	// Description provides detail for the assigned worker.
	Description string `json:"description,omitempty"`
	// WorkerType is the role assigned to this slice.
	WorkerType WorkerType `json:"worker_type"`
	// Status is the current state.
	Status TicketStatus `json:"status"`
	// Grandchildren are the atomic units of work, in creation order.
	Grandchildren []*GrandchildTicket `json:"grandchildren,omitempty"`
	// CreatedAt is when the ticket was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the ticket last changed. Non-decreasing.
	UpdatedAt time.Time `json:"updated_at"`
}

// TicketID returns the child's id.
func (c *ChildTicket) TicketID() string { return c.ID }

// TicketStatus returns the child's status.
func (c *ChildTicket) TicketStatus() TicketStatus { return c.Status }

// SetTicketStatus sets the status and touches UpdatedAt.
func (c *ChildTicket) SetTicketStatus(s TicketStatus, now time.Time) {
	c.Status = s
	c.touch(now)
}

func (c *ChildTicket) touch(now time.Time) {
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

// GrandchildTicket is the atomic, reviewable unit of work. It is the
// only entity that enters review_requested/revision_required and the
// only entity a ReviewResult attaches to.
type GrandchildTicket struct {
	// ID is the unique identifier.
	ID string `json:"id"`
	// ParentID is the id of the owning child ticket.
	ParentID string `json:"parent_id"`
	// Title is a short description of the unit of work.
	Title string `json:"title"`
	// Description provides detail for the assignee.
	Description string `json:"description,omitempty"`
	// AcceptanceCriteria lists the conditions for approval.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	// Status is the current state.
	Status TicketStatus `json:"status"`
	// Assignee is the worker currently holding the ticket.
	Assignee string `json:"assignee,omitempty"`
	// GitBranch is the task branch holding the deliverable.
	GitBranch string `json:"git_branch,omitempty"`
	// Artifacts lists file paths or diff references produced so far.
	Artifacts []string `json:"artifacts,omitempty"`
	// ReviewResult is the decision for the current review round.
	// A new round replaces it after a revision_required cycle.
	ReviewResult *ReviewResult `json:"review_result,omitempty"`
	// ReviewRound counts opened review rounds, starting at zero.
	ReviewRound int `json:"review_round,omitempty"`
	// Error holds the terminal failure reason, if any.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the ticket was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the ticket last changed. Non-decreasing.
	UpdatedAt time.Time `json:"updated_at"`
}

// TicketID returns the grandchild's id.
func (g *GrandchildTicket) TicketID() string { return g.ID }

// TicketStatus returns the grandchild's status.
func (g *GrandchildTicket) TicketStatus() TicketStatus { return g.Status }

// SetTicketStatus sets the status and touches UpdatedAt.
func (g *GrandchildTicket) SetTicketStatus(s TicketStatus, now time.Time) {
	g.Status = s
	g.touch(now)
}

func (g *GrandchildTicket) touch(now time.Time) {
	if now.After(g.UpdatedAt) {
		g.UpdatedAt = now
	}
}

// DeriveStatus computes the status a ticket with the given children
// should carry. A node is completed iff every child is completed; it is
// failed if any child failed and none are still active; otherwise it
// stays at the most advanced state its children have in common.
// Returns StatusPending for an empty slice.
func DeriveStatus(children []TicketStatus) TicketStatus {
	if len(children) == 0 {
		return StatusPending
	}

	allCompleted := true
	anyFailed := false
	anyActive := false
	for _, s := range children {
		if s != StatusCompleted {
			allCompleted = false
		}
		if s == StatusFailed {
			anyFailed = true
		}
		if s.Active() {
			anyActive = true
		}
	}

	if allCompleted {
		return StatusCompleted
	}
	if anyFailed && !anyActive {
		return StatusFailed
	}

	// Most advanced common state: a hierarchy with any in-flight or
	// finished work is in_progress; one still being broken down is
	// decomposing; one where nothing has started stays pending.
	anyStarted := false
	anyDecomposing := false
	for _, s := range children {
		switch s {
		case StatusInProgress, StatusReviewRequested, StatusRevisionRequired,
			StatusCompleted, StatusFailed:
			anyStarted = true
		case StatusDecomposing:
			anyDecomposing = true
		}
	}
	if anyStarted {
		return StatusInProgress
	}
	if anyDecomposing {
		return StatusDecomposing
	}
	return StatusPending
}
