// Package orchestrator coordinates the ticket workflow: decomposing
// intake instructions, reacting to bus messages, and firing the pull
// request creator when a hierarchy completes.
package orchestrator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTicketCreated indicates a parent ticket entered the system.
	EventTicketCreated EventType = "ticket_created"
	// EventDecomposed indicates a parent was broken into subtickets.
	EventDecomposed EventType = "decomposed"
	// EventTaskCompleted indicates a grandchild ticket completed.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a grandchild ticket failed.
	EventTaskFailed EventType = "task_failed"
	// EventConflictEscalated indicates a merge conflict was escalated.
	EventConflictEscalated EventType = "conflict_escalated"
	// EventEscalated indicates a blocking condition was escalated.
	EventEscalated EventType = "escalated"
	// EventPRCreated indicates a pull request was opened for a parent.
	EventPRCreated EventType = "pr_created"
)

// Event is emitted by the orchestrator for dashboards and logs.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TicketID is the related ticket, if applicable.
	TicketID string
	// Message provides additional context.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter provides a thread-safe channel of orchestrator events.
// Emission never blocks the workflow; when the buffer stays full past a
// short grace period the event is dropped and counted.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, dropping it if no subscriber drains in time.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[orchestrator] event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the number of dropped events.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only event channel for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Call once the orchestrator stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
