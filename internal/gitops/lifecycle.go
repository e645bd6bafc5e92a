package gitops

import (
	"context"
	"fmt"

	"github.com/agentco/agentco/internal/bus"
	"github.com/agentco/agentco/internal/config"
	"github.com/agentco/agentco/internal/ticket"
	"github.com/agentco/agentco/pkg/models"
)

// MergeResult reports the outcome of merging a task branch into the
// agent branch.
type MergeResult struct {
	// Success is true when the merge committed cleanly.
	Success bool
	// Branch is the task branch that was merged.
	Branch string
	// ConflictFiles lists the conflicted files when Success is false.
	ConflictFiles []string
}

// Lifecycle drives the branch workflow around ticket execution. It
// creates task branches off the agent branch, stamps commits with the
// ticket id, merges finished work back, and escalates conflicts over
// the bus instead of resolving them.
type Lifecycle struct {
	runner  Runner
	tickets *ticket.Manager
	bus     *bus.Bus
	cfg     config.GitConfig
}

// NewLifecycle creates a lifecycle manager. The bus is optional; a nil
// bus disables conflict escalation messages (used by read-only tools).
func NewLifecycle(runner Runner, tickets *ticket.Manager, b *bus.Bus, cfg config.GitConfig) *Lifecycle {
	return &Lifecycle{runner: runner, tickets: tickets, bus: b, cfg: cfg}
}

// AgentBranch returns the integration branch name for a project.
func AgentBranch(cfg config.GitConfig, projectID string) string {
	return cfg.AgentBranchPrefix + "/" + projectID
}

// TaskBranch returns the deterministic task branch name for a ticket.
// Deriving the name from the ticket id makes branch creation idempotent
// across retries.
func TaskBranch(cfg config.GitConfig, ticketID string) string {
	return cfg.TaskBranchPrefix + "/" + ticketID
}

// AgentBranch returns the integration branch name for a project.
func (l *Lifecycle) AgentBranch(projectID string) string {
	return AgentBranch(l.cfg, projectID)
}

// TaskBranch returns the task branch name for a ticket.
func (l *Lifecycle) TaskBranch(ticketID string) string {
	return TaskBranch(l.cfg, ticketID)
}

// EnsureAgentBranch creates the project's agent branch off the base
// branch if it does not exist, and leaves it checked out.
func (l *Lifecycle) EnsureAgentBranch(ctx context.Context, projectID string) error {
	branch := l.AgentBranch(projectID)
	exists, err := l.runner.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	if exists {
		return l.runner.CheckoutBranch(ctx, branch)
	}
	if err := l.runner.CheckoutBranch(ctx, l.cfg.BaseBranch); err != nil {
		return err
	}
	return l.runner.CreateAndCheckoutBranch(ctx, branch)
}

// StartTask creates and checks out the task branch for a grandchild
// ticket, branching off the project's agent branch, and records the
// branch name on the ticket. Calling it again for the same ticket
// checks out the existing branch.
func (l *Lifecycle) StartTask(ctx context.Context, projectID, ticketID string) (string, error) {
	branch := l.TaskBranch(ticketID)
	exists, err := l.runner.BranchExists(ctx, branch)
	if err != nil {
		return "", err
	}
	if exists {
		if err := l.runner.CheckoutBranch(ctx, branch); err != nil {
			return "", err
		}
		return branch, nil
	}

	if err := l.EnsureAgentBranch(ctx, projectID); err != nil {
		return "", err
	}
	if err := l.runner.CreateAndCheckoutBranch(ctx, branch); err != nil {
		return "", err
	}

	err = l.tickets.UpdateGrandchild(ticketID, func(g *models.GrandchildTicket) error {
		g.GitBranch = branch
		return nil
	})
	if err != nil {
		return "", err
	}
	return branch, nil
}

// CommitWork stages every change and commits it with the ticket id in
// a trailer, so history can be traced back to the ticket that produced
// it. Committing with a clean worktree is a no-op.
func (l *Lifecycle) CommitWork(ctx context.Context, ticketID, message string) error {
	dirty, err := l.runner.HasChanges(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	if err := l.runner.AddAll(ctx); err != nil {
		return err
	}
	return l.runner.Commit(ctx, fmt.Sprintf("%s\n\nTicket-ID: %s", message, ticketID))
}

// MergeTask merges a ticket's task branch into the project's agent
// branch. On conflict the merge is aborted, the conflicted files are
// reported, and the worktree is left clean; nothing is ever resolved
// automatically. A conflicted merge is not an error return, it is a
// result the caller escalates.
func (l *Lifecycle) MergeTask(ctx context.Context, projectID, ticketID string) (MergeResult, error) {
	branch := l.TaskBranch(ticketID)
	res := MergeResult{Branch: branch}

	exists, err := l.runner.BranchExists(ctx, branch)
	if err != nil {
		return res, err
	}
	if !exists {
		return res, &models.NotFoundError{Kind: "task branch", ID: branch}
	}

	if err := l.EnsureAgentBranch(ctx, projectID); err != nil {
		return res, err
	}

	if err := l.runner.Merge(ctx, branch); err != nil {
		files, ferr := l.runner.ConflictedFiles(ctx)
		if ferr != nil {
			return res, fmt.Errorf("inspect conflicts after failed merge: %w", ferr)
		}
		if len(files) == 0 {
			// Merge failed for a non-conflict reason.
			return res, err
		}
		if aerr := l.runner.MergeAbort(ctx); aerr != nil {
			return res, fmt.Errorf("abort conflicted merge: %w", aerr)
		}
		res.ConflictFiles = files
		return res, nil
	}

	res.Success = true
	return res, nil
}

// FinishTask deletes a ticket's task branch after a successful merge.
func (l *Lifecycle) FinishTask(ctx context.Context, ticketID string) error {
	return l.runner.DeleteBranch(ctx, l.TaskBranch(ticketID))
}

// EscalateConflict reports a conflicted merge: exactly one
// conflict_escalate message goes out on the bus and the ticket is
// marked failed with the conflict as the reason. Human or supervisor
// intervention takes it from there.
func (l *Lifecycle) EscalateConflict(ticketID, workflowID string, res MergeResult) error {
	if res.Success {
		return &models.ValidationError{Field: "result", Reason: "cannot escalate a successful merge"}
	}

	if l.bus != nil {
		msg, err := bus.NewConflictEscalateMessage("gitops", "orchestrator", workflowID, models.ConflictEscalatePayload{
			TicketID:      ticketID,
			Branch:        res.Branch,
			ConflictFiles: res.ConflictFiles,
		})
		if err != nil {
			return err
		}
		if err := l.bus.Send(msg); err != nil {
			return err
		}
	}

	conflict := &models.MergeConflictError{Branch: res.Branch, ConflictFiles: res.ConflictFiles}
	return l.tickets.MarkFailed(ticketID, conflict.Error(), "gitops")
}
