// Package httpapi exposes the orchestration core over HTTP for the
// CLI and dashboards.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/agentco/agentco/internal/bus"
	"github.com/agentco/agentco/internal/orchestrator"
	"github.com/agentco/agentco/internal/review"
	"github.com/agentco/agentco/internal/ticket"
	"github.com/agentco/agentco/pkg/models"
)

// Config wires the API handler's dependencies.
type Config struct {
	// Tickets is the ticket manager. Required.
	Tickets *ticket.Manager
	// Review is the review workflow. Required.
	Review *review.Workflow
	// Bus serves workflow activity history. Optional.
	Bus *bus.Bus
	// Orchestrator decomposes intake tickets. Optional; without it
	// intake creates the parent ticket only.
	Orchestrator *orchestrator.Orchestrator
	// BasePath prefixes all routes. Defaults to /v1.
	BasePath string
}

// CreateTicketRequest is the intake payload.
type CreateTicketRequest struct {
	Instruction string          `json:"instruction" doc:"Free-text intake instruction"`
	Priority    models.Priority `json:"priority,omitempty" doc:"low, medium, or high"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Decompose   bool            `json:"decompose,omitempty" doc:"Break the ticket into subtickets on creation"`
}

// UpdateStatusRequest moves a ticket through the state machine.
type UpdateStatusRequest struct {
	Status models.TicketStatus `json:"status"`
	Actor  string              `json:"actor,omitempty"`
}

// ReviewRequestRequest opens a review round.
type ReviewRequestRequest struct {
	ReviewerID string `json:"reviewer_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// SubmitReviewRequest records a reviewer decision.
type SubmitReviewRequest struct {
	WorkflowID string              `json:"workflow_id,omitempty"`
	Result     models.ReviewResult `json:"result"`
}

// TransitionResponse is one audit log entry.
type TransitionResponse struct {
	TicketID string              `json:"ticket_id"`
	From     models.TicketStatus `json:"from,omitempty"`
	To       models.TicketStatus `json:"to"`
	Actor    string              `json:"actor,omitempty"`
	At       time.Time           `json:"at"`
}

// New returns the HTTP handler exposing the agentco API.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("agentco API", "0.1.0"))
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTickets(group, cfg)
	registerReview(group, cfg)
	registerActivity(group, cfg)

	return router
}

// handleError maps domain errors onto HTTP status codes.
func handleError(err error) error {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return huma.Error400BadRequest(err.Error())
	}
	var nf *models.NotFoundError
	if errors.As(err, &nf) {
		return huma.Error404NotFound(err.Error())
	}
	var ite *models.InvalidTransitionError
	if errors.As(err, &ite) {
		return huma.Error409Conflict(err.Error())
	}
	var ise *models.InvalidStateError
	if errors.As(err, &ise) {
		return huma.Error409Conflict(err.Error())
	}
	var dup *models.DuplicateReviewError
	if errors.As(err, &dup) {
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error500InternalServerError("internal error", err)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTickets(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket",
		Method:        http.MethodPost,
		Path:          "/projects/{projectID}/tickets",
		Summary:       "Create a parent ticket",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"projectID"`
		Body      CreateTicketRequest `json:"body"`
	}) (*struct {
		Body *models.ParentTicket `json:"body"`
	}, error) {
		meta := models.TicketMetadata{
			Priority: input.Body.Priority,
			Deadline: input.Body.Deadline,
			Tags:     input.Body.Tags,
		}

		var parent *models.ParentTicket
		var err error
		if input.Body.Decompose && cfg.Orchestrator != nil {
			parent, err = cfg.Orchestrator.Intake(input.ProjectID, input.Body.Instruction, meta)
		} else {
			parent, err = cfg.Tickets.CreateParentTicket(input.ProjectID, input.Body.Instruction, meta)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *models.ParentTicket `json:"body"`
		}{Body: parent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/projects/{projectID}/tickets",
		Summary:     "List a project's ticket hierarchy",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"projectID"`
	}) (*struct {
		Body []*models.ParentTicket `json:"body"`
	}, error) {
		parents, err := cfg.Tickets.LoadTickets(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*models.ParentTicket `json:"body"`
		}{Body: parents}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticketID}",
		Summary:     "Get a ticket at any level of the hierarchy",
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticketID"`
	}) (*struct {
		Body models.TicketNode `json:"body"`
	}, error) {
		node, err := cfg.Tickets.GetTicket(input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body models.TicketNode `json:"body"`
		}{Body: node}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket-status",
		Method:      http.MethodPatch,
		Path:        "/tickets/{ticketID}/status",
		Summary:     "Apply a status transition",
	}, func(ctx context.Context, input *struct {
		TicketID string              `path:"ticketID"`
		Body     UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		actor := input.Body.Actor
		if actor == "" {
			actor = "api"
		}
		if err := cfg.Tickets.UpdateTicketStatus(input.TicketID, input.Body.Status, actor); err != nil {
			return nil, handleError(err)
		}
		if err := cfg.Tickets.PropagateStatusToParent(input.TicketID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": string(input.Body.Status)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ticket-history",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticketID}/history",
		Summary:     "List a ticket's recorded status transitions",
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticketID"`
	}) (*struct {
		Body []TransitionResponse `json:"body"`
	}, error) {
		history, err := cfg.Tickets.History(input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TransitionResponse, 0, len(history))
		for _, tr := range history {
			out = append(out, TransitionResponse{
				TicketID: tr.TicketID,
				From:     tr.From,
				To:       tr.To,
				Actor:    tr.Actor,
				At:       tr.At,
			})
		}
		return &struct {
			Body []TransitionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerReview(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-review",
		Method:        http.MethodPost,
		Path:          "/tickets/{ticketID}/review-requests",
		Summary:       "Open a review round for a grandchild ticket",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *struct {
		TicketID string               `path:"ticketID"`
		Body     ReviewRequestRequest `json:"body"`
	}) (*struct {
		Body review.Status `json:"body"`
	}, error) {
		if err := cfg.Review.RequestReview(input.TicketID, input.Body.ReviewerID, input.Body.WorkflowID); err != nil {
			return nil, handleError(err)
		}
		st, err := cfg.Review.GetReviewStatus(input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body review.Status `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-review",
		Method:      http.MethodPost,
		Path:        "/tickets/{ticketID}/reviews",
		Summary:     "Submit a reviewer decision",
	}, func(ctx context.Context, input *struct {
		TicketID string              `path:"ticketID"`
		Body     SubmitReviewRequest `json:"body"`
	}) (*struct {
		Body review.Status `json:"body"`
	}, error) {
		if err := cfg.Review.SubmitReview(input.TicketID, input.Body.WorkflowID, input.Body.Result); err != nil {
			return nil, handleError(err)
		}
		st, err := cfg.Review.GetReviewStatus(input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body review.Status `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-status",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticketID}/review",
		Summary:     "Get a grandchild ticket's review state",
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticketID"`
	}) (*struct {
		Body review.Status `json:"body"`
	}, error) {
		st, err := cfg.Review.GetReviewStatus(input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body review.Status `json:"body"`
		}{Body: st}, nil
	})
}

func registerActivity(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "workflow-activity",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflowID}/activity",
		Summary:     "List a workflow's bus messages in send order",
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflowID"`
	}) (*struct {
		Body []models.BusMessage `json:"body"`
	}, error) {
		if cfg.Bus == nil {
			return nil, huma.Error404NotFound("activity log not configured")
		}
		msgs, err := cfg.Bus.History(input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		if msgs == nil {
			msgs = []models.BusMessage{}
		}
		return &struct {
			Body []models.BusMessage `json:"body"`
		}{Body: msgs}, nil
	})
}
