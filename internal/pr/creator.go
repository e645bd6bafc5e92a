package pr

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentco/agentco/internal/config"
	"github.com/agentco/agentco/internal/gitops"
	"github.com/agentco/agentco/internal/retry"
	"github.com/agentco/agentco/internal/ticket"
	"github.com/agentco/agentco/pkg/models"
)

// Creator opens pull requests for completed parent tickets.
type Creator struct {
	tickets *ticket.Manager
	host    Host
	git     config.GitConfig
	policy  retry.Policy
}

// NewCreator creates a pull request creator. Host calls are retried
// under the given policy; only host failures are retried, validation
// and state errors surface immediately.
func NewCreator(tickets *ticket.Manager, host Host, git config.GitConfig, policy retry.Policy) *Creator {
	policy.Retryable = func(err error) bool {
		var hostErr *models.GitHostError
		return errors.As(err, &hostErr)
	}
	return &Creator{tickets: tickets, host: host, git: git, policy: policy}
}

// Create opens a pull request for a completed parent ticket, merging
// the project's agent branch into the base branch. The ticket moves to
// pr_created only after the host confirms the pull request exists; a
// failed host call leaves the ticket completed so the operation can be
// retried safely.
func (c *Creator) Create(ctx context.Context, parentID string) (Info, error) {
	parent, err := c.tickets.GetParent(parentID)
	if err != nil {
		return Info{}, err
	}
	if parent.Status != models.StatusCompleted {
		return Info{}, &models.InvalidStateError{
			TicketID: parentID,
			Reason:   fmt.Sprintf("pull request requires a completed ticket, status is %s", parent.Status),
		}
	}

	req := Request{
		Title: GenerateTitle(parent),
		Body:  GenerateBody(parent),
		Head:  gitops.AgentBranch(c.git, parent.ProjectID),
		Base:  c.git.BaseBranch,
	}

	info, err := retry.Do(ctx, c.policy, "create pull request", func(ctx context.Context) (Info, error) {
		return c.host.CreatePullRequest(ctx, req)
	})
	if err != nil {
		return Info{}, err
	}

	if err := c.tickets.UpdateTicketStatus(parentID, models.StatusPRCreated, "pr"); err != nil {
		return info, fmt.Errorf("pull request #%d opened but ticket not updated: %w", info.Number, err)
	}
	return info, nil
}
