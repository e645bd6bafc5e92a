package bus

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentco/agentco/pkg/models"
)

// Handler processes one delivered message. Returning an error leaves
// the whole batch unacknowledged, so it is redelivered on the next
// drain; handlers must be idempotent (Deduper helps). A message whose
// handler keeps failing is parked in the dead-letter log after
// maxDeliveries attempts so it cannot block later messages forever.
type Handler func(ctx context.Context, msg models.BusMessage) error

// maxDeliveries bounds handler attempts per message within one
// subscription before the message is dead-lettered.
const maxDeliveries = 5

// Subscribe delivers messages addressed to recipient as they arrive.
// Arrival is detected by a filesystem watch on the log directory with
// a polling fallback, so delivery works across processes. Subscribe
// blocks until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, recipient string, pollInterval time.Duration, handler Handler) error {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &models.TransportError{Op: "watch", Err: err}
	}
	defer watcher.Close()
	if err := watcher.Add(b.dir); err != nil {
		return &models.TransportError{Op: "watch dir", Err: err}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Handler failures per message id, for the dead-letter bound.
	failures := make(map[string]int)

	// Drain once up front so messages sent before the subscription are
	// not stuck until the first event.
	if err := b.drain(ctx, recipient, handler, failures); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := b.drain(ctx, recipient, handler, failures); err != nil {
				return err
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[bus] watch error for %s: %v", recipient, werr)
		case <-ticker.C:
			if err := b.drain(ctx, recipient, handler, failures); err != nil {
				return err
			}
		}
	}
}

// drain delivers all pending messages for recipient and acknowledges
// the batch once every handler call succeeded. A message that fails
// maxDeliveries times is parked in the dead-letter log and treated as
// delivered, so it stops blocking the messages behind it.
func (b *Bus) drain(ctx context.Context, recipient string, handler Handler, failures map[string]int) error {
	batch, err := b.Receive(recipient)
	if err != nil {
		return err
	}
	if len(batch.Messages) == 0 {
		return nil
	}
	for _, msg := range batch.Messages {
		err := handler(ctx, msg)
		if err == nil {
			delete(failures, msg.ID)
			continue
		}

		failures[msg.ID]++
		if failures[msg.ID] < maxDeliveries {
			log.Printf("[bus] handler for %s failed on %s (attempt %d/%d): %v",
				recipient, msg.ID, failures[msg.ID], maxDeliveries, err)
			return nil // leave batch unacked for redelivery
		}

		if dlErr := b.DeadLetter(recipient, msg); dlErr != nil {
			log.Printf("[bus] dead-lettering %s for %s failed: %v", msg.ID, recipient, dlErr)
			return nil // retry on the next drain
		}
		delete(failures, msg.ID)
		log.Printf("[bus] parked %s for %s after %d failed deliveries: %v",
			msg.ID, recipient, maxDeliveries, err)
	}
	return b.Ack(recipient, batch)
}
