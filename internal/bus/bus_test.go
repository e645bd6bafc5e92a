package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentco/agentco/pkg/models"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func sendReviewRequest(t *testing.T, b *Bus, ticketID, reviewer, workflow string) models.BusMessage {
	t.Helper()
	msg, err := NewReviewRequestMessage("owner-1", reviewer, workflow, models.ReviewRequestPayload{
		TicketID: ticketID,
		Round:    1,
	})
	if err != nil {
		t.Fatalf("NewReviewRequestMessage() error = %v", err)
	}
	if err := b.Send(msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	return msg
}

func TestSend_RejectsInvalidMessage(t *testing.T) {
	b := newTestBus(t)

	tests := []struct {
		name string
		msg  models.BusMessage
	}{
		{"missing id", models.BusMessage{Type: models.MessageEscalate, Recipient: "r"}},
		{"unknown type", models.BusMessage{ID: "m1", Type: "chitchat", Recipient: "r"}},
		{"missing recipient", models.BusMessage{ID: "m1", Type: models.MessageEscalate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Send(tt.msg)
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Send() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestReceive_FIFOWithinWorkflow(t *testing.T) {
	b := newTestBus(t)

	var sent []string
	for _, ticket := range []string{"gt-1", "gt-2", "gt-3"} {
		msg := sendReviewRequest(t, b, ticket, "reviewer-1", "wf-1")
		sent = append(sent, msg.ID)
	}

	batch, err := b.Receive("reviewer-1")
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(batch.Messages) != 3 {
		t.Fatalf("Receive() = %d messages, want 3", len(batch.Messages))
	}
	for i, msg := range batch.Messages {
		if msg.ID != sent[i] {
			t.Errorf("message %d = %s, want %s (send order)", i, msg.ID, sent[i])
		}
	}
}

func TestReceive_FiltersByRecipient(t *testing.T) {
	b := newTestBus(t)
	sendReviewRequest(t, b, "gt-1", "reviewer-1", "wf-1")
	sendReviewRequest(t, b, "gt-2", "reviewer-2", "wf-1")

	batch, err := b.Receive("reviewer-2")
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(batch.Messages) != 1 {
		t.Fatalf("Receive() = %d messages, want 1", len(batch.Messages))
	}
	var p models.ReviewRequestPayload
	if err := json.Unmarshal(batch.Messages[0].Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.TicketID != "gt-2" {
		t.Errorf("TicketID = %q, want gt-2", p.TicketID)
	}
}

func TestAck_AdvancesOffsets(t *testing.T) {
	b := newTestBus(t)
	sendReviewRequest(t, b, "gt-1", "reviewer-1", "wf-1")

	batch, _ := b.Receive("reviewer-1")
	if len(batch.Messages) != 1 {
		t.Fatalf("first Receive() = %d messages, want 1", len(batch.Messages))
	}
	if err := b.Ack("reviewer-1", batch); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}

	again, _ := b.Receive("reviewer-1")
	if len(again.Messages) != 0 {
		t.Errorf("Receive() after Ack = %d messages, want 0", len(again.Messages))
	}
}

func TestReceive_UnackedRedelivery(t *testing.T) {
	b := newTestBus(t)
	msg := sendReviewRequest(t, b, "gt-1", "reviewer-1", "wf-1")

	// Crash between Receive and Ack: the message must come back.
	if _, err := b.Receive("reviewer-1"); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	again, err := b.Receive("reviewer-1")
	if err != nil {
		t.Fatalf("second Receive() error = %v", err)
	}
	if len(again.Messages) != 1 || again.Messages[0].ID != msg.ID {
		t.Errorf("redelivery = %+v, want the unacked message back", again.Messages)
	}
}

func TestAck_DoesNotSkipLaterMessages(t *testing.T) {
	b := newTestBus(t)
	sendReviewRequest(t, b, "gt-1", "reviewer-1", "wf-1")

	batch, _ := b.Receive("reviewer-1")

	// A message lands after the batch was read but before the ack.
	late := sendReviewRequest(t, b, "gt-2", "reviewer-1", "wf-1")

	if err := b.Ack("reviewer-1", batch); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	next, _ := b.Receive("reviewer-1")
	if len(next.Messages) != 1 || next.Messages[0].ID != late.ID {
		t.Errorf("post-ack Receive() = %+v, want only the late message", next.Messages)
	}
}

func TestBus_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	b1, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	msg := sendReviewRequest(t, b1, "gt-1", "reviewer-1", "wf-1")

	// A fresh bus over the same directory sees everything.
	b2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen New() error = %v", err)
	}
	batch, err := b2.Receive("reviewer-1")
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(batch.Messages) != 1 || batch.Messages[0].ID != msg.ID {
		t.Errorf("reopened bus lost the message: %+v", batch.Messages)
	}
}

func TestHistory_AllRecipients(t *testing.T) {
	b := newTestBus(t)
	sendReviewRequest(t, b, "gt-1", "reviewer-1", "wf-1")
	sendReviewRequest(t, b, "gt-2", "reviewer-2", "wf-1")
	sendReviewRequest(t, b, "gt-3", "reviewer-1", "wf-2")

	history, err := b.History("wf-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Errorf("History(wf-1) = %d messages, want 2", len(history))
	}
}

func TestDeduper(t *testing.T) {
	d := NewDeduper()
	if d.Seen("m1") {
		t.Error("first Seen(m1) = true, want false")
	}
	if !d.Seen("m1") {
		t.Error("second Seen(m1) = false, want true")
	}
	if d.Seen("m2") {
		t.Error("Seen(m2) = true, want false")
	}
}

func TestSubscribe_DeliversNewMessages(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	go func() {
		_ = b.Subscribe(ctx, "reviewer-1", 50*time.Millisecond, func(_ context.Context, msg models.BusMessage) error {
			mu.Lock()
			got = append(got, msg.ID)
			if len(got) == 2 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	m1 := sendReviewRequest(t, b, "gt-1", "reviewer-1", "wf-1")
	m2 := sendReviewRequest(t, b, "gt-2", "reviewer-1", "wf-1")

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("subscription never delivered both messages")
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if got[0] != m1.ID || got[1] != m2.ID {
		t.Errorf("delivered order = %v, want [%s %s]", got, m1.ID, m2.ID)
	}
}

func TestSubscribe_DeadLettersPoisonMessage(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poison := sendReviewRequest(t, b, "gt-bad", "reviewer-1", "wf-1")
	healthy := sendReviewRequest(t, b, "gt-ok", "reviewer-1", "wf-1")

	delivered := make(chan string, 1)
	go func() {
		_ = b.Subscribe(ctx, "reviewer-1", 10*time.Millisecond, func(_ context.Context, msg models.BusMessage) error {
			if msg.ID == poison.ID {
				return errors.New("cannot process")
			}
			select {
			case delivered <- msg.ID:
			default:
			}
			return nil
		})
	}()

	// The poison message must not block the one queued behind it.
	select {
	case id := <-delivered:
		if id != healthy.ID {
			t.Errorf("delivered %s, want %s", id, healthy.ID)
		}
	case <-ctx.Done():
		t.Fatal("message behind the failing one was never delivered")
	}
	cancel()

	parked, err := b.DeadLetters("reviewer-1")
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(parked) != 1 || parked[0].ID != poison.ID {
		t.Errorf("dead letters = %v, want exactly the failing message %s", parked, poison.ID)
	}
}
