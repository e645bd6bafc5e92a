package models

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of bus message.
type MessageType string

const (
	// MessageReviewRequest asks a reviewer to review a grandchild ticket.
	MessageReviewRequest MessageType = "review_request"
	// MessageReviewResponse carries a reviewer's decision back.
	MessageReviewResponse MessageType = "review_response"
	// MessageConflictEscalate reports a merge conflict needing intervention.
	MessageConflictEscalate MessageType = "conflict_escalate"
	// MessageTaskAssign hands a grandchild ticket to a worker.
	MessageTaskAssign MessageType = "task_assign"
	// MessageTaskComplete reports a worker finished a grandchild ticket.
	MessageTaskComplete MessageType = "task_complete"
	// MessageTaskFailed reports a worker could not complete a ticket.
	MessageTaskFailed MessageType = "task_failed"
	// MessageEscalate surfaces a blocking condition to the orchestrator.
	MessageEscalate MessageType = "escalate"
)

// Valid returns true if the message type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageReviewRequest, MessageReviewResponse, MessageConflictEscalate,
		MessageTaskAssign, MessageTaskComplete, MessageTaskFailed, MessageEscalate:
		return true
	default:
		return false
	}
}

// BusMessage is the envelope exchanged between agents. Messages are
// append-only and immutable once delivered. Delivery is at-least-once;
// consumers must treat ID as an idempotency key.
type BusMessage struct {
	// ID is the unique message id, used for consumer-side deduplication.
	ID string `json:"id"`
	// Type is the kind of message.
	Type MessageType `json:"type"`
	// Payload is the message body, shaped per type.
	Payload json.RawMessage `json:"payload"`
	// Sender identifies the emitting agent or component.
	Sender string `json:"sender"`
	// Recipient identifies the consuming agent or component.
	Recipient string `json:"recipient"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
	// WorkflowID groups messages into one FIFO-ordered log.
	WorkflowID string `json:"workflow_id,omitempty"`
}

// ReviewRequestPayload is the body of a review_request message.
type ReviewRequestPayload struct {
	// TicketID is the grandchild ticket to review.
	TicketID string `json:"ticket_id"`
	// ReviewerID is the reviewer the request is addressed to.
	ReviewerID string `json:"reviewer_id"`
	// Round is the review round being opened.
	Round int `json:"round"`
	// Artifacts lists the deliverable's file paths or diff references.
	Artifacts []string `json:"artifacts,omitempty"`
}

// ReviewResponsePayload is the body of a review_response message.
type ReviewResponsePayload struct {
	// TicketID is the reviewed grandchild ticket.
	TicketID string `json:"ticket_id"`
	// Result is the reviewer's decision.
	Result ReviewResult `json:"result"`
}

// ConflictEscalatePayload is the body of a conflict_escalate message.
type ConflictEscalatePayload struct {
	// TicketID is the grandchild ticket blocked by the conflict.
	TicketID string `json:"ticket_id"`
	// Branch is the task branch that failed to merge.
	Branch string `json:"branch"`
	// ConflictFiles lists the files with conflicts.
	ConflictFiles []string `json:"conflict_files"`
}

// TaskPayload is the body of the task lifecycle messages.
type TaskPayload struct {
	// TicketID is the grandchild ticket the task corresponds to.
	TicketID string `json:"ticket_id"`
	// WorkerType is the worker role the task is assigned to.
	WorkerType WorkerType `json:"worker_type,omitempty"`
	// Reason carries the failure cause on task_failed messages.
	Reason string `json:"reason,omitempty"`
}

// EscalatePayload is the body of an escalate message.
type EscalatePayload struct {
	// TicketID is the ticket needing intervention.
	TicketID string `json:"ticket_id"`
	// Reason explains what blocked the workflow.
	Reason string `json:"reason"`
}
