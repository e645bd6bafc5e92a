// Package bus provides the durable asynchronous message channel
// connecting ticket owners, reviewers, and the orchestrator.
//
// Messages are appended to one JSONL log per workflow id, so delivery
// order within a workflow is FIFO and no ordering exists across
// workflows. Delivery is at-least-once: consumers track their own
// per-workflow offsets and must deduplicate by message id.
package bus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agentco/agentco/pkg/models"
)

// defaultWorkflow groups messages sent without a workflow id.
const defaultWorkflow = "global"

// Bus is a file-backed message bus rooted at a data directory.
type Bus struct {
	dir string
	mu  sync.Mutex
}

// New creates a bus storing logs under dir/bus.
func New(dataDir string) (*Bus, error) {
	dir := filepath.Join(dataDir, "bus")
	if err := os.MkdirAll(filepath.Join(dir, "offsets"), 0755); err != nil {
		return nil, &models.TransportError{Op: "init", Err: err}
	}
	return &Bus{dir: dir}, nil
}

// logPath returns the append-only log file for a workflow.
func (b *Bus) logPath(workflowID string) string {
	if workflowID == "" {
		workflowID = defaultWorkflow
	}
	return filepath.Join(b.dir, sanitize(workflowID)+".jsonl")
}

// offsetPath returns the offset file for a recipient.
func (b *Bus) offsetPath(recipient string) string {
	return filepath.Join(b.dir, "offsets", sanitize(recipient)+".json")
}

// sanitize keeps ids filesystem-safe.
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

// Send appends a message to its workflow log. The write is flushed
// before returning, so a confirmed send survives a crash. Transport
// failures are reported as TransportError so callers can retry.
func (b *Bus) Send(msg models.BusMessage) error {
	if msg.ID == "" {
		return &models.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !msg.Type.Valid() {
		return &models.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
	if msg.Recipient == "" {
		return &models.ValidationError{Field: "recipient", Reason: "must not be empty"}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return &models.TransportError{Op: "encode", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.logPath(msg.WorkflowID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &models.TransportError{Op: "open log", Err: err}
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return &models.TransportError{Op: "append", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &models.TransportError{Op: "sync", Err: err}
	}
	return nil
}

// offsets is a recipient's last-seen position per workflow log.
type offsets map[string]int

// loadOffsets reads a recipient's offsets, defaulting to empty.
func (b *Bus) loadOffsets(recipient string) (offsets, error) {
	data, err := os.ReadFile(b.offsetPath(recipient))
	if err != nil {
		if os.IsNotExist(err) {
			return offsets{}, nil
		}
		return nil, &models.TransportError{Op: "read offsets", Err: err}
	}
	o := offsets{}
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, &models.TransportError{Op: "decode offsets", Err: err}
	}
	return o, nil
}

// saveOffsets persists a recipient's offsets.
func (b *Bus) saveOffsets(recipient string, o offsets) error {
	data, err := json.Marshal(o)
	if err != nil {
		return &models.TransportError{Op: "encode offsets", Err: err}
	}
	if err := os.WriteFile(b.offsetPath(recipient), data, 0644); err != nil {
		return &models.TransportError{Op: "write offsets", Err: err}
	}
	return nil
}

// readLog decodes every message in one workflow log, in append order.
func (b *Bus) readLog(path string) ([]models.BusMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.TransportError{Op: "open log", Err: err}
	}
	defer f.Close()

	var msgs []models.BusMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg models.BusMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// A torn trailing line from a crashed writer is skipped;
			// the sender never got a confirmation for it.
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, &models.TransportError{Op: "scan log", Err: err}
	}
	return msgs, nil
}

// workflows lists the workflow ids with an existing log.
func (b *Bus) workflows() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, &models.TransportError{Op: "list logs", Err: err}
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".jsonl") {
			ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Batch is an undelivered set of messages plus the log positions that
// acknowledging it advances to. Acking a batch never skips messages
// appended after the batch was read.
type Batch struct {
	// Messages are the undelivered messages, FIFO within each workflow.
	Messages []models.BusMessage

	next offsets
}

// Receive returns the messages addressed to recipient that it has not
// acknowledged yet, FIFO within each workflow. It does not advance the
// recipient's offsets; call Ack with the batch after processing. A
// consumer that crashes between the two sees the same messages again,
// which is the at-least-once contract.
func (b *Bus) Receive(recipient string) (Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.loadOffsets(recipient)
	if err != nil {
		return Batch{}, err
	}

	workflows, err := b.workflows()
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{next: offsets{}}
	for _, wf := range workflows {
		msgs, err := b.readLog(filepath.Join(b.dir, wf+".jsonl"))
		if err != nil {
			return Batch{}, err
		}
		for i := o[wf]; i < len(msgs); i++ {
			if msgs[i].Recipient == recipient {
				batch.Messages = append(batch.Messages, msgs[i])
			}
		}
		batch.next[wf] = len(msgs)
	}
	return batch, nil
}

// Ack marks a batch returned by Receive as processed, advancing the
// recipient's offsets to the positions captured when the batch was
// read.
func (b *Bus) Ack(recipient string, batch Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.loadOffsets(recipient)
	if err != nil {
		return err
	}
	for wf, n := range batch.next {
		if n > o[wf] {
			o[wf] = n
		}
	}
	return b.saveOffsets(recipient, o)
}

// deadLetterPath returns the dead-letter log for a recipient.
func (b *Bus) deadLetterPath(recipient string) string {
	return filepath.Join(b.dir, "deadletter", sanitize(recipient)+".jsonl")
}

// DeadLetter parks a message that a recipient's handler cannot process,
// so delivery can move past it. Parked messages are kept durably for
// operator inspection and are never redelivered.
func (b *Bus) DeadLetter(recipient string, msg models.BusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return &models.TransportError{Op: "encode", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(b.dir, "deadletter"), 0755); err != nil {
		return &models.TransportError{Op: "init deadletter", Err: err}
	}
	f, err := os.OpenFile(b.deadLetterPath(recipient), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &models.TransportError{Op: "open deadletter", Err: err}
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return &models.TransportError{Op: "append deadletter", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &models.TransportError{Op: "sync deadletter", Err: err}
	}
	return nil
}

// DeadLetters returns the messages parked for a recipient, in the
// order they were parked.
func (b *Bus) DeadLetters(recipient string) ([]models.BusMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLog(b.deadLetterPath(recipient))
}

// History returns every message in a workflow's log in send order,
// regardless of recipient. The dashboard's activity stream reads this.
func (b *Bus) History(workflowID string) ([]models.BusMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLog(b.logPath(workflowID))
}

// Deduper tracks processed message ids so redelivered messages are
// handled at most once by an idempotent consumer.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewDeduper creates an empty deduplicator.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]bool)}
}

// Seen records the id and reports whether it was already processed.
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return true
	}
	d.seen[id] = true
	return false
}

// Processed reports whether the id was marked, without marking it.
// Use with Mark when processing can fail and the message must stay
// eligible for redelivery.
func (d *Deduper) Processed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

// Mark records the id as processed.
func (d *Deduper) Mark(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = true
}
