package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentco/agentco/internal/bus"
	"github.com/agentco/agentco/internal/config"
	"github.com/agentco/agentco/internal/pr"
	"github.com/agentco/agentco/internal/retry"
	"github.com/agentco/agentco/internal/ticket"
	"github.com/agentco/agentco/pkg/models"
)

// countingHost records pull requests opened against it.
type countingHost struct {
	calls int
	last  pr.Request
}

func (h *countingHost) CreatePullRequest(_ context.Context, req pr.Request) (pr.Info, error) {
	h.calls++
	h.last = req
	return pr.Info{Number: h.calls, URL: "https://example.test/pull/1"}, nil
}

func newTestOrchestrator(t *testing.T, templates *TemplateSet) (*Orchestrator, *ticket.Manager, *bus.Bus, *countingHost) {
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

	host := &countingHost{}
	creator := pr.NewCreator(tickets, host, config.Default().Git, retry.Policy{
		MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1.0,
	})
	o := New(tickets, b, creator, templates, config.BusConfig{PollInterval: 20 * time.Millisecond})
	return o, tickets, b, host
}

func TestIntake_DecomposesWithDefaultTemplate(t *testing.T) {
	o, tickets, _, _ := newTestOrchestrator(t, nil)

	parent, err := o.Intake("proj-1", "Add login page", models.TicketMetadata{})
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}
	if parent.Status != models.StatusDecomposing {
		t.Errorf("parent status = %q, want decomposing", parent.Status)
	}
	if len(parent.Children) != 3 {
		t.Fatalf("children = %d, want 3 from the default template", len(parent.Children))
	}

	wantTypes := []models.WorkerType{models.WorkerDesign, models.WorkerDeveloper, models.WorkerTest}
	for i, child := range parent.Children {
		if child.WorkerType != wantTypes[i] {
			t.Errorf("child %d worker type = %q, want %q", i, child.WorkerType, wantTypes[i])
		}
		if len(child.Grandchildren) != 1 {
			t.Errorf("child %d grandchildren = %d, want 1", i, len(child.Grandchildren))
		}
	}

	// Placeholder substitution reached the grandchildren.
	g := parent.Children[1].Grandchildren[0]
	if g.Title != "Implement: Add login page" {
		t.Errorf("grandchild title = %q, want instruction substituted", g.Title)
	}
	_ = tickets
}

func TestLoadTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `templates:
  - name: docs
    match: ["documentation", "readme"]
    children:
      - title: "Write docs for {instruction}"
        grandchildren:
          - title: "Draft content"
            acceptance_criteria: ["covers the feature"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write templates: %v", err)
	}

	ts, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	if got := ts.Select("Update the README"); got == nil || got.Name != "docs" {
		t.Errorf("Select() = %v, want docs template", got)
	}
	if got := ts.Select("Build a parser"); got != nil {
		t.Errorf("Select() with no match = %v, want nil (no keywordless fallback)", got)
	}
}

func TestLoadTemplates_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "templates:\n  - children:\n      - title: x\n        grandchildren:\n          - title: y\n"},
		{"no grandchildren", "templates:\n  - name: t\n    children:\n      - title: x\n        grandchildren: []\n"},
		{"bad worker type", "templates:\n  - name: t\n    children:\n      - title: x\n        worker_type: wizard\n        grandchildren:\n          - title: y\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "templates.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write templates: %v", err)
			}
			if _, err := LoadTemplates(path); err == nil {
				t.Error("LoadTemplates() error = nil, want validation failure")
			}
		})
	}
}

func TestDecompose_SelectorAssignsMissingWorkerType(t *testing.T) {
	templates := &TemplateSet{Templates: []Template{
		{
			Name: "untyped",
			Children: []ChildTemplate{
				{
					Title:         "Write regression tests for {instruction}",
					Grandchildren: []GrandchildTemplate{{Title: "Cover the happy path"}},
				},
			},
		},
	}}
	o, tickets, _, _ := newTestOrchestrator(t, templates)

	parent, err := o.Intake("proj-1", "checkout flow", models.TicketMetadata{})
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}
	if got := parent.Children[0].WorkerType; got != models.WorkerTest {
		t.Errorf("worker type = %q, want test from keyword selection", got)
	}
	_ = tickets
}

// completeHierarchy drives every grandchild of a parent to completed.
func completeHierarchy(t *testing.T, tickets *ticket.Manager, parentID string) string {
	t.Helper()
	parent, err := tickets.GetParent(parentID)
	if err != nil {
		t.Fatalf("GetParent() error = %v", err)
	}
	var last string
	for _, child := range parent.Children {
		for _, g := range child.Grandchildren {
			for _, s := range []models.TicketStatus{models.StatusInProgress, models.StatusCompleted} {
				if err := tickets.UpdateTicketStatus(g.ID, s, "worker"); err != nil {
					t.Fatalf("UpdateTicketStatus(%s, %s) error = %v", g.ID, s, err)
				}
			}
			if err := tickets.PropagateStatusToParent(g.ID); err != nil {
				t.Fatalf("PropagateStatusToParent() error = %v", err)
			}
			last = g.ID
		}
	}
	return last
}

func TestRun_TaskCompleteTriggersPR(t *testing.T) {
	o, tickets, b, host := newTestOrchestrator(t, nil)

	parent, err := o.Intake("proj-1", "Add login page", models.TicketMetadata{})
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}
	lastID := completeHierarchy(t, tickets, parent.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	msg, err := bus.NewTaskMessage(models.MessageTaskComplete, "worker", "orchestrator", "wf-1", models.TaskPayload{TicketID: lastID})
	if err != nil {
		t.Fatalf("NewTaskMessage() error = %v", err)
	}
	if err := b.Send(msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var sawPR bool
	for !sawPR {
		select {
		case ev := <-o.Events():
			if ev.Type == EventPRCreated {
				sawPR = true
			}
		case <-ctx.Done():
			t.Fatal("no pr_created event before timeout")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if host.calls != 1 {
		t.Errorf("host calls = %d, want exactly 1", host.calls)
	}
	got, _ := tickets.GetParent(parent.ID)
	if got.Status != models.StatusPRCreated {
		t.Errorf("parent status = %q, want pr_created", got.Status)
	}
}

func TestHandle_DeduplicatesRedelivery(t *testing.T) {
	o, tickets, _, host := newTestOrchestrator(t, nil)

	parent, err := o.Intake("proj-1", "Add login page", models.TicketMetadata{})
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}
	lastID := completeHierarchy(t, tickets, parent.ID)

	msg, err := bus.NewTaskMessage(models.MessageTaskComplete, "worker", "orchestrator", "wf-1", models.TaskPayload{TicketID: lastID})
	if err != nil {
		t.Fatalf("NewTaskMessage() error = %v", err)
	}

	ctx := context.Background()
	if err := o.handle(ctx, msg); err != nil {
		t.Fatalf("first handle() error = %v", err)
	}
	if err := o.handle(ctx, msg); err != nil {
		t.Fatalf("redelivered handle() error = %v", err)
	}
	if host.calls != 1 {
		t.Errorf("host calls = %d, want 1 despite redelivery", host.calls)
	}
}

func TestHandle_ConflictEscalationEmitsEvent(t *testing.T) {
	o, tickets, _, _ := newTestOrchestrator(t, nil)
	parent, err := o.Intake("proj-1", "Add login page", models.TicketMetadata{})
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}
	gID := parent.Children[0].Grandchildren[0].ID

	msg, err := bus.NewConflictEscalateMessage("gitops", "orchestrator", "wf-1", models.ConflictEscalatePayload{
		TicketID:      gID,
		Branch:        "agent/" + gID,
		ConflictFiles: []string{"main.go"},
	})
	if err != nil {
		t.Fatalf("NewConflictEscalateMessage() error = %v", err)
	}
	if err := o.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle() error = %v", err)
	}

	// Intake emitted events of its own; scan for the escalation.
	var found bool
	for !found {
		select {
		case ev := <-o.Events():
			if ev.Type == EventConflictEscalated && ev.TicketID == gID {
				found = true
			}
		default:
			t.Fatal("no conflict_escalated event emitted")
		}
	}
	_ = tickets
}
