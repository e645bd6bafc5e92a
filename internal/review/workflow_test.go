package review

import (
	"errors"
	"testing"

	"github.com/agentco/agentco/internal/bus"
	"github.com/agentco/agentco/internal/config"
	"github.com/agentco/agentco/internal/ticket"
	"github.com/agentco/agentco/pkg/models"
)

func newTestWorkflow(t *testing.T, maxRounds int) (*Workflow, *ticket.Manager, *bus.Bus, string) {
	t.Helper()
	store, err := ticket.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	tickets := ticket.NewManager(store, nil)

	b, err := bus.New(t.TempDir())
	if err != nil {
		t.Fatalf("bus.New() error = %v", err)
	}

	w := NewWorkflow(tickets, b, config.ReviewConfig{MaxRounds: maxRounds})

	parent, _ := tickets.CreateParentTicket("proj-1", "Add login page", models.TicketMetadata{})
	child, _ := tickets.CreateChildTicket(parent.ID, "Implement form", "", models.WorkerDeveloper)
	g, err := tickets.CreateGrandchildTicket(child.ID, "Form markup", "", []string{"renders"})
	if err != nil {
		t.Fatalf("CreateGrandchildTicket() error = %v", err)
	}

	// The worker picks up the ticket and produces a deliverable.
	if err := tickets.UpdateTicketStatus(g.ID, models.StatusInProgress, "worker-1"); err != nil {
		t.Fatalf("UpdateTicketStatus() error = %v", err)
	}
	err = tickets.UpdateGrandchild(g.ID, func(gt *models.GrandchildTicket) error {
		gt.Assignee = "worker-1"
		gt.Artifacts = []string{"internal/login/form.go"}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateGrandchild() error = %v", err)
	}
	return w, tickets, b, g.ID
}

func approval(reviewer string) models.ReviewResult {
	return models.ReviewResult{
		ReviewerID: reviewer,
		Approved:   true,
		Checklist: models.ReviewChecklist{
			CodeQuality:        true,
			TestCoverage:       true,
			AcceptanceCriteria: true,
		},
	}
}

func rejection(reviewer, feedback string) models.ReviewResult {
	return models.ReviewResult{ReviewerID: reviewer, Approved: false, Feedback: feedback}
}

func TestRequestReview_RequiresArtifacts(t *testing.T) {
	w, tickets, _, gID := newTestWorkflow(t, 3)
	err := tickets.UpdateGrandchild(gID, func(g *models.GrandchildTicket) error {
		g.Artifacts = nil
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateGrandchild() error = %v", err)
	}

	err = w.RequestReview(gID, "reviewer-1", "wf-1")
	var ise *models.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("error = %v, want InvalidStateError for missing artifacts", err)
	}
}

func TestRequestReview_OpensRoundAndNotifies(t *testing.T) {
	w, tickets, b, gID := newTestWorkflow(t, 3)

	if err := w.RequestReview(gID, "reviewer-1", "wf-1"); err != nil {
		t.Fatalf("RequestReview() error = %v", err)
	}

	g, _ := tickets.GetGrandchild(gID)
	if g.Status != models.StatusReviewRequested {
		t.Errorf("status = %q, want review_requested", g.Status)
	}
	if g.ReviewRound != 1 {
		t.Errorf("ReviewRound = %d, want 1", g.ReviewRound)
	}

	batch, err := b.Receive("reviewer-1")
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(batch.Messages) != 1 || batch.Messages[0].Type != models.MessageReviewRequest {
		t.Fatalf("messages = %+v, want one review_request", batch.Messages)
	}
}

func TestSubmitReview_ApprovalCompletesAndPropagates(t *testing.T) {
	w, tickets, _, gID := newTestWorkflow(t, 3)
	if err := w.RequestReview(gID, "reviewer-1", "wf-1"); err != nil {
		t.Fatalf("RequestReview() error = %v", err)
	}

	if err := w.SubmitReview(gID, "wf-1", approval("reviewer-1")); err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}

	g, _ := tickets.GetGrandchild(gID)
	if g.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", g.Status)
	}
	if g.ReviewResult == nil || !g.ReviewResult.Approved {
		t.Error("approval not recorded on ticket")
	}

	// The only grandchild completed, so the chain above completes too.
	parents, _ := tickets.LoadTickets("proj-1")
	if got := parents[0].Children[0].Status; got != models.StatusCompleted {
		t.Errorf("child status = %q, want completed after propagation", got)
	}
}

func TestSubmitReview_RejectionCyclesToRevision(t *testing.T) {
	w, tickets, b, gID := newTestWorkflow(t, 3)
	if err := w.RequestReview(gID, "reviewer-1", "wf-1"); err != nil {
		t.Fatalf("RequestReview() error = %v", err)
	}

	if err := w.SubmitReview(gID, "wf-1", rejection("reviewer-1", "missing validation")); err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}

	g, _ := tickets.GetGrandchild(gID)
	if g.Status != models.StatusRevisionRequired {
		t.Errorf("status = %q, want revision_required", g.Status)
	}

	// The owner gets the feedback.
	batch, _ := b.Receive("worker-1")
	if len(batch.Messages) != 1 || batch.Messages[0].Type != models.MessageReviewResponse {
		t.Fatalf("owner messages = %+v, want one review_response", batch.Messages)
	}

	// Revision cycle: back to in_progress and into a fresh round.
	if err := tickets.UpdateTicketStatus(gID, models.StatusInProgress, "worker-1"); err != nil {
		t.Fatalf("UpdateTicketStatus() error = %v", err)
	}
	if err := w.RequestReview(gID, "reviewer-1", "wf-1"); err != nil {
		t.Fatalf("second RequestReview() error = %v", err)
	}
	g, _ = tickets.GetGrandchild(gID)
	if g.ReviewRound != 2 {
		t.Errorf("ReviewRound = %d, want 2", g.ReviewRound)
	}
	if g.ReviewResult != nil {
		t.Error("stale result not cleared when the new round opened")
	}

	if err := w.SubmitReview(gID, "wf-1", approval("reviewer-1")); err != nil {
		t.Fatalf("SubmitReview() after revision error = %v", err)
	}
	g, _ = tickets.GetGrandchild(gID)
	if g.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed after approved revision", g.Status)
	}
}

func TestSubmitReview_RejectsFeedbacklessRejection(t *testing.T) {
	w, _, _, gID := newTestWorkflow(t, 3)
	if err := w.RequestReview(gID, "reviewer-1", "wf-1"); err != nil {
		t.Fatalf("RequestReview() error = %v", err)
	}

	err := w.SubmitReview(gID, "wf-1", rejection("reviewer-1", ""))
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError for empty feedback", err)
	}
}

func TestSubmitReview_DuplicateDecision(t *testing.T) {
	w, _, _, gID := newTestWorkflow(t, 3)
	if err := w.RequestReview(gID, "reviewer-1", "wf-1"); err != nil {
		t.Fatalf("RequestReview() error = %v", err)
	}
	if err := w.SubmitReview(gID, "wf-1", approval("reviewer-1")); err != nil {
		t.Fatalf("first SubmitReview() error = %v", err)
	}

	err := w.SubmitReview(gID, "wf-1", rejection("reviewer-2", "changed my mind"))
	var dup *models.DuplicateReviewError
	if !errors.As(err, &dup) {
		t.Fatalf("error = %v, want DuplicateReviewError", err)
	}
	if dup.Round != 1 {
		t.Errorf("Round = %d, want 1", dup.Round)
	}
}

func TestSubmitReview_NoOpenRound(t *testing.T) {
	w, _, _, gID := newTestWorkflow(t, 3)

	err := w.SubmitReview(gID, "wf-1", approval("reviewer-1"))
	var ise *models.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("error = %v, want InvalidStateError without an open round", err)
	}
}

func TestSubmitReview_ExhaustedRoundsEscalates(t *testing.T) {
	w, tickets, b, gID := newTestWorkflow(t, 2)

	for round := 1; round <= 2; round++ {
		if err := w.RequestReview(gID, "reviewer-1", "wf-1"); err != nil {
			t.Fatalf("RequestReview() round %d error = %v", round, err)
		}
		if err := w.SubmitReview(gID, "wf-1", rejection("reviewer-1", "still wrong")); err != nil {
			t.Fatalf("SubmitReview() round %d error = %v", round, err)
		}
		if round < 2 {
			if err := tickets.UpdateTicketStatus(gID, models.StatusInProgress, "worker-1"); err != nil {
				t.Fatalf("UpdateTicketStatus() error = %v", err)
			}
		}
	}

	g, _ := tickets.GetGrandchild(gID)
	if g.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed after exhausting rounds", g.Status)
	}
	if g.Error == "" {
		t.Error("failure reason not recorded")
	}

	batch, _ := b.Receive("orchestrator")
	var escalations int
	for _, msg := range batch.Messages {
		if msg.Type == models.MessageEscalate {
			escalations++
		}
	}
	if escalations != 1 {
		t.Errorf("escalate messages = %d, want exactly 1", escalations)
	}
}

func TestGetReviewStatus(t *testing.T) {
	w, _, _, gID := newTestWorkflow(t, 3)
	if err := w.RequestReview(gID, "reviewer-1", "wf-1"); err != nil {
		t.Fatalf("RequestReview() error = %v", err)
	}

	st, err := w.GetReviewStatus(gID)
	if err != nil {
		t.Fatalf("GetReviewStatus() error = %v", err)
	}
	if st.State != models.StatusReviewRequested || st.Round != 1 || st.Result != nil {
		t.Errorf("status = %+v, want open round 1 with no result", st)
	}
}
