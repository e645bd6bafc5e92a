// Package ticket owns the ticket hierarchy's lifecycle: creation,
// status mutation, and upward propagation. It is the only component
// permitted to persist ticket state.
package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentco/agentco/pkg/models"
)

// ErrVersionConflict indicates the snapshot on disk advanced past the
// version a writer loaded. The writer must reload and reapply.
var ErrVersionConflict = errors.New("snapshot version conflict")

// Snapshot is the persisted ticket state for one project. It is the
// CLI/GUI boundary: the dashboard only ever reads this document.
type Snapshot struct {
	// ProjectID identifies the project.
	ProjectID string `json:"project_id"`
	// Version is the optimistic-concurrency stamp, incremented on
	// every successful save.
	Version int64 `json:"version"`
	// ParentTickets is the full hierarchy, in creation order.
	ParentTickets []*models.ParentTicket `json:"parent_tickets"`
	// LastUpdated is when the snapshot was last written.
	LastUpdated time.Time `json:"last_updated"`
}

// Store persists one JSON snapshot per project under a data directory.
// Writers must present the version they loaded; a mismatch with the
// version on disk fails with ErrVersionConflict instead of silently
// applying last-write-wins.
type Store struct {
	dir string
}

// NewStore creates a snapshot store rooted at dir. The directory is
// created if it does not exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// path returns the snapshot file for a project.
func (s *Store) path(projectID string) string {
	return filepath.Join(s.dir, "tickets-"+sanitize(projectID)+".json")
}

// sanitize keeps project ids filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// Load reads the snapshot for a project. A missing file yields an
// empty snapshot at version zero, so a fresh project needs no setup.
func (s *Store) Load(projectID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{ProjectID: projectID}, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for project %s: %w", projectID, err)
	}
	return snap, nil
}

// Save writes the snapshot if and only if the version on disk still
// matches snap.Version. On success the snapshot's version is
// incremented and LastUpdated set. The write is atomic (temp file and
// rename) so readers never observe a partial document.
func (s *Store) Save(snap *Snapshot) error {
	current, err := s.Load(snap.ProjectID)
	if err != nil {
		return err
	}
	if current.Version != snap.Version {
		return fmt.Errorf("project %s: disk at v%d, writer at v%d: %w",
			snap.ProjectID, current.Version, snap.Version, ErrVersionConflict)
	}

	snap.Version++
	snap.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		snap.Version--
		return fmt.Errorf("encode snapshot: %w", err)
	}

	path := s.path(snap.ProjectID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		snap.Version--
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		snap.Version--
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ListProjects returns the project ids that have a persisted snapshot.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "tickets-") && strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "tickets-"), ".json"))
		}
	}
	return ids, nil
}
