package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentco/agentco/pkg/models"
)

// envelope wraps a typed payload in a ready-to-send BusMessage.
func envelope(typ models.MessageType, sender, recipient, workflowID string, payload any) (models.BusMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.BusMessage{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return models.BusMessage{
		ID:         uuid.New().String(),
		Type:       typ,
		Payload:    body,
		Sender:     sender,
		Recipient:  recipient,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}, nil
}

// NewReviewRequestMessage builds the message asking reviewerID to
// review a grandchild ticket's deliverable. It constructs only; the
// caller decides whether to send it.
func NewReviewRequestMessage(sender, reviewerID, workflowID string, p models.ReviewRequestPayload) (models.BusMessage, error) {
	if p.TicketID == "" {
		return models.BusMessage{}, &models.ValidationError{Field: "ticket_id", Reason: "must not be empty"}
	}
	if reviewerID == "" {
		return models.BusMessage{}, &models.ValidationError{Field: "reviewer_id", Reason: "must not be empty"}
	}
	p.ReviewerID = reviewerID
	return envelope(models.MessageReviewRequest, sender, reviewerID, workflowID, p)
}

// NewReviewResponseMessage builds the message carrying a reviewer's
// decision back to the ticket owner.
func NewReviewResponseMessage(sender, ownerID, workflowID string, p models.ReviewResponsePayload) (models.BusMessage, error) {
	if p.TicketID == "" {
		return models.BusMessage{}, &models.ValidationError{Field: "ticket_id", Reason: "must not be empty"}
	}
	return envelope(models.MessageReviewResponse, sender, ownerID, workflowID, p)
}

// NewConflictEscalateMessage builds the message reporting a merge
// conflict that needs human or supervisor intervention.
func NewConflictEscalateMessage(sender, recipient, workflowID string, p models.ConflictEscalatePayload) (models.BusMessage, error) {
	if p.TicketID == "" {
		return models.BusMessage{}, &models.ValidationError{Field: "ticket_id", Reason: "must not be empty"}
	}
	return envelope(models.MessageConflictEscalate, sender, recipient, workflowID, p)
}

// NewEscalateMessage builds a generic escalation message.
func NewEscalateMessage(sender, recipient, workflowID string, p models.EscalatePayload) (models.BusMessage, error) {
	if p.TicketID == "" {
		return models.BusMessage{}, &models.ValidationError{Field: "ticket_id", Reason: "must not be empty"}
	}
	return envelope(models.MessageEscalate, sender, recipient, workflowID, p)
}

// NewTaskMessage builds a task lifecycle message (assign, complete,
// failed) addressed to a worker or the orchestrator.
func NewTaskMessage(typ models.MessageType, sender, recipient, workflowID string, p models.TaskPayload) (models.BusMessage, error) {
	switch typ {
	case models.MessageTaskAssign, models.MessageTaskComplete, models.MessageTaskFailed:
	default:
		return models.BusMessage{}, &models.ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a task message type", typ)}
	}
	if p.TicketID == "" {
		return models.BusMessage{}, &models.ValidationError{Field: "ticket_id", Reason: "must not be empty"}
	}
	return envelope(typ, sender, recipient, workflowID, p)
}
