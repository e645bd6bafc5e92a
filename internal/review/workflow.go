// Package review implements the review gate on grandchild tickets:
// no unit of work completes without an approved review.
package review

import (
	"fmt"
	"time"

	"github.com/agentco/agentco/internal/bus"
	"github.com/agentco/agentco/internal/config"
	"github.com/agentco/agentco/internal/ticket"
	"github.com/agentco/agentco/pkg/models"
)

// Workflow drives review rounds over the ticket manager and the bus.
type Workflow struct {
	tickets   *ticket.Manager
	bus       *bus.Bus
	maxRounds int
	now       func() time.Time
}

// NewWorkflow creates a review workflow. MaxRounds from the config
// bounds revision cycles per grandchild; zero means unbounded.
func NewWorkflow(tickets *ticket.Manager, b *bus.Bus, cfg config.ReviewConfig) *Workflow {
	return &Workflow{tickets: tickets, bus: b, maxRounds: cfg.MaxRounds, now: time.Now}
}

// RequestReview opens a review round for a grandchild ticket. The
// deliverable must carry at least one artifact; review of nothing is
// rejected up front. On success the ticket is review_requested, the
// round counter advances, and one review_request message goes to the
// reviewer.
func (w *Workflow) RequestReview(ticketID, reviewerID, workflowID string) error {
	if reviewerID == "" {
		return &models.ValidationError{Field: "reviewerId", Reason: "must not be empty"}
	}

	var round int
	var artifacts []string
	err := w.tickets.UpdateGrandchild(ticketID, func(g *models.GrandchildTicket) error {
		if len(g.Artifacts) == 0 {
			return &models.InvalidStateError{TicketID: ticketID, Reason: "cannot request review without artifacts"}
		}
		if !g.Status.CanTransition(models.StatusReviewRequested) {
			return &models.InvalidStateError{TicketID: ticketID, Reason: fmt.Sprintf("cannot request review from %s", g.Status)}
		}
		g.Status = models.StatusReviewRequested
		g.ReviewRound++
		g.ReviewResult = nil
		round = g.ReviewRound
		artifacts = g.Artifacts
		return nil
	})
	if err != nil {
		return err
	}

	msg, err := bus.NewReviewRequestMessage("review", reviewerID, workflowID, models.ReviewRequestPayload{
		TicketID:  ticketID,
		Round:     round,
		Artifacts: artifacts,
	})
	if err != nil {
		return err
	}
	return w.bus.Send(msg)
}

// SubmitReview records a reviewer's decision for the open round.
// Approval completes the ticket and propagates upward; rejection
// requires feedback and sends the ticket back for revision. A second
// decision for the same round is a DuplicateReviewError. When a
// rejection lands on the final permitted round the ticket fails and an
// escalation goes out instead of another cycle.
func (w *Workflow) SubmitReview(ticketID, workflowID string, result models.ReviewResult) error {
	if result.ReviewerID == "" {
		return &models.ValidationError{Field: "reviewerId", Reason: "must not be empty"}
	}
	if !result.Approved && result.Feedback == "" {
		return &models.ValidationError{Field: "feedback", Reason: "required on rejection"}
	}
	if result.ReviewedAt.IsZero() {
		result.ReviewedAt = w.now()
	}

	var owner string
	var exhausted bool
	err := w.tickets.UpdateGrandchild(ticketID, func(g *models.GrandchildTicket) error {
		if g.Status != models.StatusReviewRequested {
			if g.ReviewResult != nil {
				return &models.DuplicateReviewError{TicketID: ticketID, Round: g.ReviewRound}
			}
			return &models.InvalidStateError{TicketID: ticketID, Reason: fmt.Sprintf("no open review round (status %s)", g.Status)}
		}

		g.ReviewResult = &result
		owner = g.Assignee

		switch {
		case result.Approved:
			g.Status = models.StatusCompleted
		case w.maxRounds > 0 && g.ReviewRound >= w.maxRounds:
			exhausted = true
			g.Status = models.StatusFailed
			g.Error = fmt.Sprintf("review rejected after %d rounds: %s", g.ReviewRound, result.Feedback)
		default:
			g.Status = models.StatusRevisionRequired
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.tickets.PropagateStatusToParent(ticketID); err != nil {
		return err
	}

	if owner == "" {
		owner = "orchestrator"
	}
	msg, err := bus.NewReviewResponseMessage(result.ReviewerID, owner, workflowID, models.ReviewResponsePayload{
		TicketID: ticketID,
		Result:   result,
	})
	if err != nil {
		return err
	}
	if err := w.bus.Send(msg); err != nil {
		return err
	}

	if exhausted {
		esc, err := bus.NewEscalateMessage("review", "orchestrator", workflowID, models.EscalatePayload{
			TicketID: ticketID,
			Reason:   fmt.Sprintf("review rounds exhausted (%d)", w.maxRounds),
		})
		if err != nil {
			return err
		}
		return w.bus.Send(esc)
	}
	return nil
}

// Status is the review-facing view of a grandchild ticket.
type Status struct {
	// TicketID is the grandchild ticket.
	TicketID string `json:"ticket_id"`
	// State is the ticket's current status.
	State models.TicketStatus `json:"state"`
	// Round is the number of review rounds opened so far.
	Round int `json:"round"`
	// Result is the decision for the current round, if one was made.
	Result *models.ReviewResult `json:"result,omitempty"`
}

// GetReviewStatus returns the review state of a grandchild ticket.
func (w *Workflow) GetReviewStatus(ticketID string) (Status, error) {
	g, err := w.tickets.GetGrandchild(ticketID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		TicketID: g.ID,
		State:    g.Status,
		Round:    g.ReviewRound,
		Result:   g.ReviewResult,
	}, nil
}
