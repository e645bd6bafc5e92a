package ticket

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentco/agentco/pkg/models"
)

// saveRetries bounds reload-and-reapply cycles on version conflicts
// with an external writer.
const saveRetries = 5

// Manager owns ticket creation, status mutation, and upward status
// propagation. Every mutator persists before returning, so readers
// never observe a state that was not durably written. Mutations within
// one project hierarchy are serialized by a per-project mutex; the
// store's version stamp guards against writers in other processes.
type Manager struct {
	store *Store
	audit *AuditLog

	mu          sync.Mutex
	hierarchies map[string]*sync.Mutex
	index       map[string]string // ticket id -> project id

	now func() time.Time
}

// NewManager creates a ticket manager over the given store. The audit
// log is optional; a nil log disables transition recording.
func NewManager(store *Store, audit *AuditLog) *Manager {
	return &Manager{
		store:       store,
		audit:       audit,
		hierarchies: make(map[string]*sync.Mutex),
		index:       make(map[string]string),
		now:         time.Now,
	}
}

// hierarchyLock returns the mutex serializing one project's hierarchy.
func (m *Manager) hierarchyLock(projectID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.hierarchies[projectID]
	if !ok {
		lock = &sync.Mutex{}
		m.hierarchies[projectID] = lock
	}
	return lock
}

// mutate loads a project's snapshot, applies fn, and saves if fn
// reports a change. On a version conflict with an external writer the
// load-apply-save cycle is retried, so fn must be a pure function of
// the snapshot it receives. Transitions returned by fn are recorded in
// the audit log only after a successful save.
func (m *Manager) mutate(projectID string, fn func(*Snapshot) (bool, []Transition, error)) error {
	lock := m.hierarchyLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < saveRetries; attempt++ {
		snap, err := m.store.Load(projectID)
		if err != nil {
			return err
		}

		changed, transitions, err := fn(snap)
		if err != nil {
			return err
		}
		if !changed {
			m.reindex(snap)
			return nil
		}

		err = m.store.Save(snap)
		if err == nil {
			m.reindex(snap)
			m.record(transitions)
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("project %s: version conflict persisted after %d retries", projectID, saveRetries)
}

// record appends transitions to the audit log, if one is configured.
func (m *Manager) record(transitions []Transition) {
	if m.audit == nil {
		return
	}
	for _, tr := range transitions {
		if err := m.audit.Record(tr); err != nil {
			// Audit failure must not fail the mutation that already
			// persisted; the snapshot remains the source of truth.
			continue
		}
	}
}

// reindex refreshes the ticket-id index from a snapshot.
func (m *Manager) reindex(snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range snap.ParentTickets {
		m.index[p.ID] = snap.ProjectID
		for _, c := range p.Children {
			m.index[c.ID] = snap.ProjectID
			for _, g := range c.Grandchildren {
				m.index[g.ID] = snap.ProjectID
			}
		}
	}
}

// projectFor resolves the project owning a ticket id, scanning
// persisted snapshots when the in-memory index misses.
func (m *Manager) projectFor(ticketID string) (string, error) {
	m.mu.Lock()
	projectID, ok := m.index[ticketID]
	m.mu.Unlock()
	if ok {
		return projectID, nil
	}

	projects, err := m.store.ListProjects()
	if err != nil {
		return "", err
	}
	for _, pid := range projects {
		snap, err := m.store.Load(pid)
		if err != nil {
			return "", err
		}
		m.reindex(snap)
	}

	m.mu.Lock()
	projectID, ok = m.index[ticketID]
	m.mu.Unlock()
	if !ok {
		return "", &models.NotFoundError{Kind: "ticket", ID: ticketID}
	}
	return projectID, nil
}

// CreateParentTicket creates a top-level ticket from an intake
// instruction. The instruction must be non-empty.
func (m *Manager) CreateParentTicket(projectID, instruction string, meta models.TicketMetadata) (*models.ParentTicket, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, &models.ValidationError{Field: "instruction", Reason: "must not be empty"}
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, &models.ValidationError{Field: "projectId", Reason: "must not be empty"}
	}
	if meta.Priority == "" {
		meta.Priority = models.PriorityMedium
	}
	if !meta.Priority.Valid() {
		return nil, &models.ValidationError{Field: "metadata.priority", Reason: fmt.Sprintf("unknown priority %q", meta.Priority)}
	}

	now := m.now()
	parent := &models.ParentTicket{
		ID:          "pt-" + uuid.NewString(),
		ProjectID:   projectID,
		Instruction: instruction,
		Status:      models.StatusPending,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := m.mutate(projectID, func(snap *Snapshot) (bool, []Transition, error) {
		snap.ParentTickets = append(snap.ParentTickets, parent)
		return true, []Transition{{TicketID: parent.ID, To: models.StatusPending, Actor: "intake", At: now}}, nil
	})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// CreateChildTicket adds a functional slice under a parent ticket and
// assigns it a worker type. The parent moves to decomposing if it was
// still pending.
func (m *Manager) CreateChildTicket(parentID, title, description string, workerType models.WorkerType) (*models.ChildTicket, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &models.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !workerType.Valid() {
		return nil, &models.ValidationError{Field: "workerType", Reason: fmt.Sprintf("unknown worker type %q", workerType)}
	}

	projectID, err := m.projectFor(parentID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var child *models.ChildTicket
	err = m.mutate(projectID, func(snap *Snapshot) (bool, []Transition, error) {
		parent := findParent(snap, parentID)
		if parent == nil {
			return false, nil, &models.NotFoundError{Kind: "parent ticket", ID: parentID}
		}
		if parent.Status.Terminal() || parent.Status == models.StatusCompleted {
			return false, nil, &models.InvalidStateError{TicketID: parentID, Reason: "cannot decompose a finished ticket"}
		}

		child = &models.ChildTicket{
			ID:          "ct-" + uuid.NewString(),
			ParentID:    parentID,
			Title:       title,
			Description: description,
			WorkerType:  workerType,
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		parent.Children = append(parent.Children, child)

		transitions := []Transition{{TicketID: child.ID, To: models.StatusPending, Actor: "decompose", At: now}}
		if parent.Status == models.StatusPending {
			parent.SetTicketStatus(models.StatusDecomposing, now)
			transitions = append(transitions, Transition{
				TicketID: parent.ID, From: models.StatusPending, To: models.StatusDecomposing, Actor: "decompose", At: now,
			})
		}
		return true, transitions, nil
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// CreateGrandchildTicket adds an atomic, reviewable unit of work under
// a child ticket.
func (m *Manager) CreateGrandchildTicket(childID, title, description string, acceptanceCriteria []string) (*models.GrandchildTicket, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &models.ValidationError{Field: "title", Reason: "must not be empty"}
	}

	projectID, err := m.projectFor(childID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var grandchild *models.GrandchildTicket
	err = m.mutate(projectID, func(snap *Snapshot) (bool, []Transition, error) {
		child, _ := findChild(snap, childID)
		if child == nil {
			return false, nil, &models.NotFoundError{Kind: "child ticket", ID: childID}
		}
		if child.Status.Terminal() || child.Status == models.StatusCompleted {
			return false, nil, &models.InvalidStateError{TicketID: childID, Reason: "cannot decompose a finished ticket"}
		}

		grandchild = &models.GrandchildTicket{
			ID:                 "gt-" + uuid.NewString(),
			ParentID:           childID,
			Title:              title,
			Description:        description,
			AcceptanceCriteria: acceptanceCriteria,
			Status:             models.StatusPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		child.Grandchildren = append(child.Grandchildren, grandchild)

		transitions := []Transition{{TicketID: grandchild.ID, To: models.StatusPending, Actor: "decompose", At: now}}
		if child.Status == models.StatusPending {
			child.SetTicketStatus(models.StatusDecomposing, now)
			transitions = append(transitions, Transition{
				TicketID: child.ID, From: models.StatusPending, To: models.StatusDecomposing, Actor: "decompose", At: now,
			})
		}
		return true, transitions, nil
	})
	if err != nil {
		return nil, err
	}
	return grandchild, nil
}

// UpdateTicketStatus validates and applies a status transition. A
// parent or child whose status is derived from its children rejects
// direct mutation, with one exception: a parent moves completed ->
// pr_created when the PR creator confirms the pull request.
func (m *Manager) UpdateTicketStatus(ticketID string, next models.TicketStatus, actor string) error {
	if !next.Valid() {
		return &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", next)}
	}

	projectID, err := m.projectFor(ticketID)
	if err != nil {
		return err
	}

	now := m.now()
	return m.mutate(projectID, func(snap *Snapshot) (bool, []Transition, error) {
		node, hasChildren := locate(snap, ticketID)
		if node == nil {
			return false, nil, &models.NotFoundError{Kind: "ticket", ID: ticketID}
		}

		current := node.TicketStatus()
		if hasChildren && !(current == models.StatusCompleted && next == models.StatusPRCreated) {
			return false, nil, &models.InvalidStateError{TicketID: ticketID, Reason: "status is derived from children"}
		}
		if next == models.StatusPRCreated {
			if _, isParent := node.(*models.ParentTicket); !isParent {
				return false, nil, &models.InvalidStateError{TicketID: ticketID, Reason: "only a parent ticket can reach pr_created"}
			}
		}
		if !current.CanTransition(next) {
			return false, nil, &models.InvalidTransitionError{TicketID: ticketID, From: current, To: next}
		}

		node.SetTicketStatus(next, now)
		return true, []Transition{{TicketID: ticketID, From: current, To: next, Actor: actor, At: now}}, nil
	})
}

// MarkFailed transitions a ticket to failed and records the reason.
// Like any other status, failure on a parent or child with children is
// derived bottom-up, never set directly.
func (m *Manager) MarkFailed(ticketID, reason, actor string) error {
	projectID, err := m.projectFor(ticketID)
	if err != nil {
		return err
	}

	now := m.now()
	return m.mutate(projectID, func(snap *Snapshot) (bool, []Transition, error) {
		node, hasChildren := locate(snap, ticketID)
		if node == nil {
			return false, nil, &models.NotFoundError{Kind: "ticket", ID: ticketID}
		}
		if hasChildren {
			return false, nil, &models.InvalidStateError{TicketID: ticketID, Reason: "status is derived from children"}
		}
		current := node.TicketStatus()
		if !current.CanTransition(models.StatusFailed) {
			return false, nil, &models.InvalidTransitionError{TicketID: ticketID, From: current, To: models.StatusFailed}
		}

		node.SetTicketStatus(models.StatusFailed, now)
		if g, ok := node.(*models.GrandchildTicket); ok {
			g.Error = reason
		}
		return true, []Transition{{TicketID: ticketID, From: current, To: models.StatusFailed, Actor: actor, At: now}}, nil
	})
}

// UpdateGrandchild applies fn to a grandchild ticket and persists the
// result. Review workflow and the git lifecycle manager use this to
// attach artifacts, branches, and review results without owning
// persistence themselves.
func (m *Manager) UpdateGrandchild(ticketID string, fn func(*models.GrandchildTicket) error) error {
	projectID, err := m.projectFor(ticketID)
	if err != nil {
		return err
	}

	now := m.now()
	return m.mutate(projectID, func(snap *Snapshot) (bool, []Transition, error) {
		g, _ := findGrandchild(snap, ticketID)
		if g == nil {
			return false, nil, &models.NotFoundError{Kind: "grandchild ticket", ID: ticketID}
		}
		before := g.Status
		if err := fn(g); err != nil {
			return false, nil, err
		}
		if g.Status != before && !before.CanTransition(g.Status) {
			return false, nil, &models.InvalidTransitionError{TicketID: ticketID, From: before, To: g.Status}
		}
		g.SetTicketStatus(g.Status, now)

		var transitions []Transition
		if g.Status != before {
			transitions = append(transitions, Transition{
				TicketID: ticketID, From: before, To: g.Status, Actor: "workflow", At: now,
			})
		}
		return true, transitions, nil
	})
}

// PropagateStatusToParent recomputes the derived status of the given
// ticket's ancestors, bottom-up, persisting only when something
// changed. Calling it twice with no intervening mutation produces no
// further writes.
func (m *Manager) PropagateStatusToParent(ticketID string) error {
	projectID, err := m.projectFor(ticketID)
	if err != nil {
		return err
	}

	now := m.now()
	return m.mutate(projectID, func(snap *Snapshot) (bool, []Transition, error) {
		parent, child, g := chain(snap, ticketID)
		if parent == nil && child == nil && g == nil {
			return false, nil, &models.NotFoundError{Kind: "ticket", ID: ticketID}
		}

		var transitions []Transition
		changed := false

		if child != nil && len(child.Grandchildren) > 0 {
			if tr, ok := recomputeChild(child, now); ok {
				transitions = append(transitions, tr)
				changed = true
			}
		}
		if parent != nil && len(parent.Children) > 0 {
			if tr, ok := recomputeParent(parent, now); ok {
				transitions = append(transitions, tr)
				changed = true
			}
		}
		return changed, transitions, nil
	})
}

// recomputeChild recomputes a child's derived status from its
// grandchildren. Returns the transition and true if it changed.
func recomputeChild(child *models.ChildTicket, now time.Time) (Transition, bool) {
	statuses := make([]models.TicketStatus, 0, len(child.Grandchildren))
	for _, g := range child.Grandchildren {
		statuses = append(statuses, g.Status)
	}
	derived := models.DeriveStatus(statuses)
	// Decomposition in flight never regresses to pending.
	if derived == models.StatusPending && child.Status == models.StatusDecomposing {
		return Transition{}, false
	}
	if derived == child.Status {
		return Transition{}, false
	}
	tr := Transition{TicketID: child.ID, From: child.Status, To: derived, Actor: "propagation", At: now}
	child.SetTicketStatus(derived, now)
	return tr, true
}

// recomputeParent recomputes a parent's derived status from its
// children. Returns the transition and true if it changed.
func recomputeParent(parent *models.ParentTicket, now time.Time) (Transition, bool) {
	// pr_created is terminal and set by the PR creator, never derived.
	if parent.Status == models.StatusPRCreated {
		return Transition{}, false
	}
	statuses := make([]models.TicketStatus, 0, len(parent.Children))
	for _, c := range parent.Children {
		statuses = append(statuses, c.Status)
	}
	derived := models.DeriveStatus(statuses)
	if derived == models.StatusPending && parent.Status == models.StatusDecomposing {
		return Transition{}, false
	}
	if derived == parent.Status {
		return Transition{}, false
	}
	tr := Transition{TicketID: parent.ID, From: parent.Status, To: derived, Actor: "propagation", At: now}
	parent.SetTicketStatus(derived, now)
	return tr, true
}

// SaveTickets re-persists the current snapshot for a project. Mutators
// already save before returning; this exists for callers that need an
// explicit durability point.
func (m *Manager) SaveTickets(projectID string) error {
	return m.mutate(projectID, func(snap *Snapshot) (bool, []Transition, error) {
		return true, nil, nil
	})
}

// LoadTickets returns the persisted parent tickets for a project.
func (m *Manager) LoadTickets(projectID string) ([]*models.ParentTicket, error) {
	snap, err := m.store.Load(projectID)
	if err != nil {
		return nil, err
	}
	m.reindex(snap)
	return snap.ParentTickets, nil
}

// GetParent returns a parent ticket by id.
func (m *Manager) GetParent(ticketID string) (*models.ParentTicket, error) {
	projectID, err := m.projectFor(ticketID)
	if err != nil {
		return nil, err
	}
	snap, err := m.store.Load(projectID)
	if err != nil {
		return nil, err
	}
	p := findParent(snap, ticketID)
	if p == nil {
		return nil, &models.NotFoundError{Kind: "parent ticket", ID: ticketID}
	}
	return p, nil
}

// GetGrandchild returns a grandchild ticket by id.
func (m *Manager) GetGrandchild(ticketID string) (*models.GrandchildTicket, error) {
	projectID, err := m.projectFor(ticketID)
	if err != nil {
		return nil, err
	}
	snap, err := m.store.Load(projectID)
	if err != nil {
		return nil, err
	}
	g, _ := findGrandchild(snap, ticketID)
	if g == nil {
		return nil, &models.NotFoundError{Kind: "grandchild ticket", ID: ticketID}
	}
	return g, nil
}

// GetTicket returns a ticket at any level of the hierarchy by id.
func (m *Manager) GetTicket(ticketID string) (models.TicketNode, error) {
	projectID, err := m.projectFor(ticketID)
	if err != nil {
		return nil, err
	}
	snap, err := m.store.Load(projectID)
	if err != nil {
		return nil, err
	}
	node, _ := locate(snap, ticketID)
	if node == nil {
		return nil, &models.NotFoundError{Kind: "ticket", ID: ticketID}
	}
	return node, nil
}

// Ancestors resolves the parent and child ids above a ticket. For a
// parent id both returns are the parent itself and empty; for a child,
// (parent, child); for a grandchild, (parent, child).
func (m *Manager) Ancestors(ticketID string) (parentID, childID string, err error) {
	projectID, err := m.projectFor(ticketID)
	if err != nil {
		return "", "", err
	}
	snap, err := m.store.Load(projectID)
	if err != nil {
		return "", "", err
	}
	p, c, _ := chain(snap, ticketID)
	if p == nil {
		return "", "", &models.NotFoundError{Kind: "ticket", ID: ticketID}
	}
	if c != nil {
		return p.ID, c.ID, nil
	}
	return p.ID, "", nil
}

// History returns the recorded transitions for a ticket. Returns nil
// when no audit log is configured.
func (m *Manager) History(ticketID string) ([]Transition, error) {
	if m.audit == nil {
		return nil, nil
	}
	return m.audit.History(ticketID)
}

// findParent locates a parent ticket in a snapshot.
func findParent(snap *Snapshot, id string) *models.ParentTicket {
	for _, p := range snap.ParentTickets {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// findChild locates a child ticket and its parent.
func findChild(snap *Snapshot, id string) (*models.ChildTicket, *models.ParentTicket) {
	for _, p := range snap.ParentTickets {
		for _, c := range p.Children {
			if c.ID == id {
				return c, p
			}
		}
	}
	return nil, nil
}

// findGrandchild locates a grandchild ticket and its owning child.
func findGrandchild(snap *Snapshot, id string) (*models.GrandchildTicket, *models.ChildTicket) {
	for _, p := range snap.ParentTickets {
		for _, c := range p.Children {
			for _, g := range c.Grandchildren {
				if g.ID == id {
					return g, c
				}
			}
		}
	}
	return nil, nil
}

// locate finds any ticket node by id and reports whether its status is
// derived from children.
func locate(snap *Snapshot, id string) (models.TicketNode, bool) {
	if p := findParent(snap, id); p != nil {
		return p, len(p.Children) > 0
	}
	if c, _ := findChild(snap, id); c != nil {
		return c, len(c.Grandchildren) > 0
	}
	if g, _ := findGrandchild(snap, id); g != nil {
		return g, false
	}
	return nil, false
}

// chain resolves the ancestor chain for a ticket id. For a grandchild
// it returns (parent, child, grandchild); for a child (parent, child,
// nil); for a parent (parent, nil, nil).
func chain(snap *Snapshot, id string) (*models.ParentTicket, *models.ChildTicket, *models.GrandchildTicket) {
	if g, c := findGrandchild(snap, id); g != nil {
		_, p := findChild(snap, c.ID)
		return p, c, g
	}
	if c, p := findChild(snap, id); c != nil {
		return p, c, nil
	}
	if p := findParent(snap, id); p != nil {
		return p, nil, nil
	}
	return nil, nil, nil
}
