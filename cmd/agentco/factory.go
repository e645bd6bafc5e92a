package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentco/agentco/internal/bus"
	"github.com/agentco/agentco/internal/config"
	"github.com/agentco/agentco/internal/orchestrator"
	"github.com/agentco/agentco/internal/pr"
	"github.com/agentco/agentco/internal/retry"
	"github.com/agentco/agentco/internal/review"
	"github.com/agentco/agentco/internal/ticket"
)

// app bundles the wired components behind every command.
type app struct {
	cfg     *config.Config
	tickets *ticket.Manager
	bus     *bus.Bus
	review  *review.Workflow
	orch    *orchestrator.Orchestrator
	audit   *ticket.AuditLog
	debug   *orchestrator.DebugLogger
}

// newApp loads configuration and wires the orchestration core.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := ticket.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open ticket store: %w", err)
	}
	audit, err := ticket.OpenAuditLog(ticket.AuditDBPath(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	tickets := ticket.NewManager(store, audit)

	b, err := bus.New(cfg.DataDir)
	if err != nil {
		audit.Close()
		return nil, fmt.Errorf("open bus: %w", err)
	}

	var creator *pr.Creator
	if cfg.PR.Owner != "" && cfg.PR.Repo != "" {
		host := pr.NewGitHubHost(cfg.PR.Owner, cfg.PR.Repo, cfg.PR.Token, cfg.PR.BaseURL, cfg.Git.HostTimeout)
		creator = pr.NewCreator(tickets, host, cfg.Git, retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Multiplier:  cfg.Retry.Multiplier,
		})
	}

	var templates *orchestrator.TemplateSet
	if path := templatesPath(cfg.DataDir); path != "" {
		templates, err = orchestrator.LoadTemplates(path)
		if err != nil {
			audit.Close()
			return nil, err
		}
	}

	orch := orchestrator.New(tickets, b, creator, templates, cfg.Bus)
	debug := orchestrator.NewDebugLoggerForData(cfg.DataDir)
	orch.SetDebugLogger(debug)

	return &app{
		cfg:     cfg,
		tickets: tickets,
		bus:     b,
		review:  review.NewWorkflow(tickets, b, cfg.Review),
		orch:    orch,
		audit:   audit,
		debug:   debug,
	}, nil
}

// templatesPath returns the decomposition template file under the
// data directory, or empty when none exists (built-ins apply).
func templatesPath(dataDir string) string {
	path := filepath.Join(dataDir, "templates.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.audit != nil {
		a.audit.Close()
	}
	a.debug.Close()
}
