package ticket

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentco/agentco/pkg/models"
)

// Transition is one recorded status change.
type Transition struct {
	// TicketID is the ticket that changed.
	TicketID string
	// From is the status before the change. Empty for creation.
	From models.TicketStatus
	// To is the status after the change.
	To models.TicketStatus
	// Actor identifies who drove the change (worker id, "reviewer",
	// "system").
	Actor string
	// At is when the change was recorded.
	At time.Time
}

// AuditLog records every ticket status transition in SQLite. Rows are
// append-only; together with never-deleted ticket records this gives
// the system an event-log-equivalent audit trail.
type AuditLog struct {
	conn *sql.DB
	mu   sync.Mutex
}

// AuditDBPath returns the audit database path under a data directory.
func AuditDBPath(dataDir string) string {
	return filepath.Join(dataDir, "audit.db")
}

// OpenAuditLog opens (and migrates) the audit database at the given
// path, creating parent directories as needed. WAL mode is enabled for
// concurrent reads.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	a := &AuditLog{conn: conn}
	if err := a.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// migrate applies the schema.
func (a *AuditLog) migrate() error {
	_, err := a.conn.Exec(`
		CREATE TABLE IF NOT EXISTS transitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_ticket_id ON transitions(ticket_id);
	`)
	if err != nil {
		return fmt.Errorf("create transitions table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn.Close()
}

// Record appends a transition. Safe for concurrent use.
func (a *AuditLog) Record(tr Transition) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.conn.Exec(`
		INSERT INTO transitions (ticket_id, from_status, to_status, actor, at)
		VALUES (?, ?, ?, ?, ?)
	`, tr.TicketID, string(tr.From), string(tr.To), tr.Actor, tr.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// History returns all transitions for a ticket in recorded order.
func (a *AuditLog) History(ticketID string) ([]Transition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.conn.Query(`
		SELECT ticket_id, from_status, to_status, actor, at
		FROM transitions WHERE ticket_id = ? ORDER BY seq
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []Transition
	for rows.Next() {
		var tr Transition
		var from, to, at string
		if err := rows.Scan(&tr.TicketID, &from, &to, &tr.Actor, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = models.TicketStatus(from)
		tr.To = models.TicketStatus(to)
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			tr.At = t
		}
		history = append(history, tr)
	}
	return history, rows.Err()
}
