// Package gitops manages the git branch lifecycle behind ticket
// execution: per-worker agent branches, per-ticket task branches,
// ticket-stamped commits, and merges back to the agent branch.
// Conflicts are never resolved automatically; they are reported so the
// orchestrator can escalate.
package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// BranchOperations defines the branch commands the lifecycle needs.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// CreateAndCheckoutBranch creates and switches to a new branch.
	CreateAndCheckoutBranch(ctx context.Context, name string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(ctx context.Context, name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(ctx context.Context, name string) error
}

// CommitOperations defines the staging and commit commands.
type CommitOperations interface {
	// AddAll stages every change in the worktree.
	AddAll(ctx context.Context) error
	// Commit creates a new commit with the given message.
	Commit(ctx context.Context, message string) error
	// HasChanges returns true if there are uncommitted changes.
	HasChanges(ctx context.Context) (bool, error)
}

// MergeOperations defines the merge commands.
type MergeOperations interface {
	// Merge merges the specified branch into the current branch.
	Merge(ctx context.Context, branch string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort(ctx context.Context) error
	// ConflictedFiles returns the files with unmerged changes.
	ConflictedFiles(ctx context.Context) ([]string, error)
}

// Runner is the complete git surface the lifecycle manager uses.
// Tests substitute a fake.
type Runner interface {
	BranchOperations
	CommitOperations
	MergeOperations
}

// ExecRunner implements Runner by shelling out to git. Every command
// runs under a deadline so a hung git process cannot stall a worker.
type ExecRunner struct {
	repoPath string
	timeout  time.Duration
}

// NewRunner creates a runner for the repository at the given path.
// A non-positive timeout defaults to two minutes per command.
func NewRunner(repoPath string, timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ExecRunner{repoPath: repoPath, timeout: timeout}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and discards its output.
func (r *ExecRunner) runSilent(ctx context.Context, args ...string) error {
	_, err := r.run(ctx, args...)
	return err
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CreateAndCheckoutBranch creates and switches to a new branch.
func (r *ExecRunner) CreateAndCheckoutBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "checkout", "-b", name)
}

// CheckoutBranch switches to the specified branch.
func (r *ExecRunner) CheckoutBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "checkout", name)
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means the branch doesn't exist (not an error)
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch force-deletes the specified branch.
func (r *ExecRunner) DeleteBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "branch", "-D", name)
}

// AddAll stages every change in the worktree.
func (r *ExecRunner) AddAll(ctx context.Context) error {
	return r.runSilent(ctx, "add", "-A")
}

// Commit creates a new commit with the given message.
func (r *ExecRunner) Commit(ctx context.Context, message string) error {
	return r.runSilent(ctx, "commit", "-m", message)
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(out) > 0, nil
}

// Merge merges the specified branch into the current branch.
func (r *ExecRunner) Merge(ctx context.Context, branch string) error {
	return r.runSilent(ctx, "merge", branch)
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort(ctx context.Context) error {
	return r.runSilent(ctx, "merge", "--abort")
}

// ConflictedFiles returns the files with unmerged changes.
func (r *ExecRunner) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
