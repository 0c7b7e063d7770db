/*
events.go - Notification dispatch for downstream listeners

PURPOSE:
  Status changes are announced to an activity-log sink (audit trail, webhooks,
  whatever is listening). Delivery is asynchronous and at-least-once, and is
  deliberately decoupled from the financial transaction: a sink failure must
  never roll back a committed balance change.

DELIVERY MODEL:
  Emit enqueues onto a buffered channel after the store transaction commits.
  A single worker drains the channel and retries each notification a few
  times before giving up and logging the loss. Listeners must tolerate
  duplicates.

SEE ALSO:
  - store/sqlite: ActivitySink persisting events to the activity_log table
*/
package invoicing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventInvoiceCreated       EventType = "invoice_created"
	EventInvoiceUpdated       EventType = "invoice_updated"
	EventInvoiceSent          EventType = "invoice_sent"
	EventInvoiceCancelled     EventType = "invoice_cancelled"
	EventCancellationReversed EventType = "invoice_cancellation_reversed"
)

type Event struct {
	Type      EventType
	InvoiceID ledger.InvoiceID
	ClientID  ledger.ClientID
	UserID    string
	CompanyID string
	At        time.Time
}

// Sink receives events. Implementations may be slow or flaky; the dispatcher
// absorbs both.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// =============================================================================
// DISPATCHER - Async, at-least-once delivery
// =============================================================================

const (
	dispatchBuffer   = 256
	dispatchAttempts = 3
	dispatchBackoff  = 100 * time.Millisecond
)

type Dispatcher struct {
	sink   Sink
	events chan Event
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		events: make(chan Event, dispatchBuffer),
		log:    log,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Emit queues an event for delivery. Call only after the enclosing store
// transaction has committed. Never returns an error: delivery problems are
// the dispatcher's to handle, not the caller's.
func (d *Dispatcher) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	d.events <- ev
}

// Close drains pending events and stops the worker. Emit must not be called
// after Close.
func (d *Dispatcher) Close() {
	close(d.events)
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.events {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	var err error
	for attempt := 1; attempt <= dispatchAttempts; attempt++ {
		err = d.sink.Notify(context.Background(), ev)
		if err == nil {
			return
		}
		time.Sleep(dispatchBackoff * time.Duration(attempt))
	}
	d.log.Error().
		Err(err).
		Str("event", string(ev.Type)).
		Str("invoice_id", string(ev.InvoiceID)).
		Msg("dropping event after delivery retries")
}

// =============================================================================
// MEMORY SINK - For tests and single-process setups
// =============================================================================

type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Notify(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
