package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agentco/agentco/internal/bus"
	"github.com/agentco/agentco/internal/config"
	"github.com/agentco/agentco/internal/pr"
	"github.com/agentco/agentco/internal/ticket"
	"github.com/agentco/agentco/internal/workertype"
	"github.com/agentco/agentco/pkg/models"
)

// recipient is the bus address the orchestrator consumes.
const recipient = "orchestrator"

// Orchestrator drives the workflow around the ticket manager: intake
// and decomposition on the way in, bus message routing while work is
// in flight, and the pull request creator once a hierarchy completes.
type Orchestrator struct {
	tickets   *ticket.Manager
	bus       *bus.Bus
	creator   *pr.Creator
	templates *TemplateSet
	selector  *workertype.Selector
	emitter   *EventEmitter
	dedupe    *bus.Deduper
	poll      time.Duration
	debug     *DebugLogger
}

// New creates an orchestrator. The creator is optional; without one a
// completed parent simply stays completed until a pull request is
// requested explicitly.
func New(tickets *ticket.Manager, b *bus.Bus, creator *pr.Creator, templates *TemplateSet, cfg config.BusConfig) *Orchestrator {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Orchestrator{
		tickets:   tickets,
		bus:       b,
		creator:   creator,
		templates: templates,
		selector:  workertype.NewSelector(),
		emitter:   NewEventEmitter(64),
		dedupe:    bus.NewDeduper(),
		poll:      cfg.PollInterval,
		debug:     NopLogger(),
	}
}

// SetDebugLogger attaches a debug logger. Call before Run.
func (o *Orchestrator) SetDebugLogger(l *DebugLogger) {
	if l != nil {
		o.debug = l
	}
}

// Events returns the orchestrator's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Intake creates a parent ticket from an instruction and decomposes it
// into the full hierarchy in one step.
func (o *Orchestrator) Intake(projectID, instruction string, meta models.TicketMetadata) (*models.ParentTicket, error) {
	parent, err := o.tickets.CreateParentTicket(projectID, instruction, meta)
	if err != nil {
		return nil, err
	}
	o.emitter.Emit(Event{Type: EventTicketCreated, TicketID: parent.ID, Message: instruction})

	if err := o.Decompose(parent.ID); err != nil {
		return nil, err
	}
	return o.tickets.GetParent(parent.ID)
}

// Decompose applies the matching template to a parent ticket, creating
// its children and grandchildren. Children declaring no worker type
// get one assigned from their description.
func (o *Orchestrator) Decompose(parentID string) error {
	parent, err := o.tickets.GetParent(parentID)
	if err != nil {
		return err
	}

	tpl := o.templates.Select(parent.Instruction)
	if tpl == nil {
		return fmt.Errorf("no decomposition template matches %q", parent.Instruction)
	}

	for _, ct := range tpl.Children {
		title := expand(ct.Title, parent.Instruction)
		description := expand(ct.Description, parent.Instruction)

		wt := models.WorkerType(ct.WorkerType)
		if wt == "" {
			wt = o.selector.Select(title + " " + description)
		}

		child, err := o.tickets.CreateChildTicket(parentID, title, description, wt)
		if err != nil {
			return err
		}
		for _, gt := range ct.Grandchildren {
			_, err := o.tickets.CreateGrandchildTicket(
				child.ID,
				expand(gt.Title, parent.Instruction),
				expand(gt.Description, parent.Instruction),
				gt.AcceptanceCriteria,
			)
			if err != nil {
				return err
			}
		}
	}

	o.emitter.Emit(Event{
		Type:     EventDecomposed,
		TicketID: parentID,
		Message:  fmt.Sprintf("template %s: %d children", tpl.Name, len(tpl.Children)),
	})
	return nil
}

// Run consumes the orchestrator's bus messages until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	err := o.bus.Subscribe(ctx, recipient, o.poll, o.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handle routes one bus message. Delivery is at-least-once, so
// successfully processed ids are marked and redeliveries skipped; a
// failed handler leaves the id unmarked for the redelivery to retry.
func (o *Orchestrator) handle(ctx context.Context, msg models.BusMessage) error {
	if o.dedupe.Processed(msg.ID) {
		o.debug.Log("skipping already-processed message %s (%s)", msg.ID, msg.Type)
		return nil
	}
	o.debug.Log("handling %s from %s (workflow %s)", msg.Type, msg.Sender, msg.WorkflowID)
	if err := o.route(ctx, msg); err != nil {
		return err
	}
	o.dedupe.Mark(msg.ID)
	return nil
}

// route dispatches one message by type.
func (o *Orchestrator) route(ctx context.Context, msg models.BusMessage) error {
	switch msg.Type {
	case models.MessageTaskComplete:
		var p models.TaskPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode task_complete payload: %w", err)
		}
		o.emitter.Emit(Event{Type: EventTaskCompleted, TicketID: p.TicketID})
		if err := o.tickets.PropagateStatusToParent(p.TicketID); err != nil {
			return err
		}
		return o.maybeCreatePR(ctx, p.TicketID)

	case models.MessageTaskFailed:
		var p models.TaskPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode task_failed payload: %w", err)
		}
		o.emitter.Emit(Event{Type: EventTaskFailed, TicketID: p.TicketID, Message: p.Reason})
		return o.tickets.PropagateStatusToParent(p.TicketID)

	case models.MessageConflictEscalate:
		var p models.ConflictEscalatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode conflict_escalate payload: %w", err)
		}
		o.emitter.Emit(Event{
			Type:     EventConflictEscalated,
			TicketID: p.TicketID,
			Message:  fmt.Sprintf("branch %s: %d conflicted file(s)", p.Branch, len(p.ConflictFiles)),
		})
		return o.tickets.PropagateStatusToParent(p.TicketID)

	case models.MessageEscalate:
		var p models.EscalatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode escalate payload: %w", err)
		}
		o.emitter.Emit(Event{Type: EventEscalated, TicketID: p.TicketID, Message: p.Reason})
		return o.tickets.PropagateStatusToParent(p.TicketID)

	default:
		log.Printf("[orchestrator] ignoring message type %s from %s", msg.Type, msg.Sender)
		return nil
	}
}

// maybeCreatePR opens a pull request when the completed unit of work
// was the last one holding its parent back.
func (o *Orchestrator) maybeCreatePR(ctx context.Context, ticketID string) error {
	if o.creator == nil {
		return nil
	}

	parentID, _, err := o.tickets.Ancestors(ticketID)
	if err != nil {
		return err
	}
	parent, err := o.tickets.GetParent(parentID)
	if err != nil {
		return err
	}
	if parent.Status != models.StatusCompleted {
		return nil
	}

	o.debug.Log("parent %s completed, opening pull request", parentID)
	info, err := o.creator.Create(ctx, parentID)
	if err != nil {
		o.emitter.Emit(Event{Type: EventEscalated, TicketID: parentID, Message: "pull request creation failed", Error: err})
		return err
	}
	o.emitter.Emit(Event{
		Type:     EventPRCreated,
		TicketID: parentID,
		Message:  fmt.Sprintf("pull request #%d: %s", info.Number, info.URL),
	})
	return nil
}
