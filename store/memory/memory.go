// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/billing-engine/invoicing"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of invoicing.TxStore
// =============================================================================

type Store struct {
	mu          sync.RWMutex
	entries     map[ledger.InvoiceID][]ledger.LedgerEntry
	idempotency map[string]bool
	invoices    map[ledger.InvoiceID]*invoicing.Invoice
	clients     map[ledger.ClientID]*invoicing.Client
}

func New() *Store {
	return &Store{
		entries:     make(map[ledger.InvoiceID][]ledger.LedgerEntry),
		idempotency: make(map[string]bool),
		invoices:    make(map[ledger.InvoiceID]*invoicing.Invoice),
		clients:     make(map[ledger.ClientID]*invoicing.Client),
	}
}

// =============================================================================
// LEDGER ENTRIES - Append-only
// =============================================================================

func (m *Store) Append(_ context.Context, e ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Store) appendLocked(e ledger.LedgerEntry) error {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}

	entries := m.entries[e.InvoiceID]

	// Binary search for the insertion point to keep chronological order.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].CreatedAt.After(e.CreatedAt)
	})
	entries = append(entries, ledger.LedgerEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.InvoiceID] = entries

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Store) Entries(_ context.Context, invoiceID ledger.InvoiceID) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(invoiceID), nil
}

func (m *Store) entriesLocked(invoiceID ledger.InvoiceID) []ledger.LedgerEntry {
	result := make([]ledger.LedgerEntry, len(m.entries[invoiceID]))
	copy(result, m.entries[invoiceID])
	return result
}

func (m *Store) EntriesInRange(_ context.Context, invoiceID ledger.InvoiceID, from, to time.Time) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.LedgerEntry
	for _, e := range m.entries[invoiceID] {
		if !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Store) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// INVOICES - Versioned records
// =============================================================================

func (m *Store) GetInvoice(_ context.Context, id ledger.InvoiceID) (*invoicing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvoiceLocked(id)
}

func (m *Store) getInvoiceLocked(id ledger.InvoiceID) (*invoicing.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ledger.ErrInvoiceNotFound
	}
	return cloneInvoice(inv), nil
}

func (m *Store) PutInvoice(_ context.Context, inv *invoicing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putInvoiceLocked(inv)
}

func (m *Store) putInvoiceLocked(inv *invoicing.Invoice) error {
	stored, exists := m.invoices[inv.ID]
	if inv.Version == 0 {
		if exists {
			return ledger.ErrConcurrentModification
		}
	} else {
		if !exists {
			return ledger.ErrInvoiceNotFound
		}
		if stored.Version != inv.Version {
			return ledger.ErrConcurrentModification
		}
	}

	inv.Version++
	m.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (m *Store) InvoicesByClient(_ context.Context, clientID ledger.ClientID) ([]*invoicing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.invoicesByClientLocked(clientID), nil
}

func (m *Store) invoicesByClientLocked(clientID ledger.ClientID) []*invoicing.Invoice {
	var result []*invoicing.Invoice
	for _, inv := range m.invoices {
		if inv.ClientID == clientID {
			result = append(result, cloneInvoice(inv))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// =============================================================================
// CLIENTS - Versioned records
// =============================================================================

func (m *Store) GetClient(_ context.Context, id ledger.ClientID) (*invoicing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClientLocked(id)
}

func (m *Store) getClientLocked(id ledger.ClientID) (*invoicing.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, ledger.ErrClientNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *Store) PutClient(_ context.Context, c *invoicing.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putClientLocked(c)
}

func (m *Store) putClientLocked(c *invoicing.Client) error {
	stored, exists := m.clients[c.ID]
	if c.Version == 0 {
		if exists {
			return ledger.ErrConcurrentModification
		}
	} else {
		if !exists {
			return ledger.ErrClientNotFound
		}
		if stored.Version != c.Version {
			return ledger.ErrConcurrentModification
		}
	}

	c.Version++
	clone := *c
	m.clients[c.ID] = &clone
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (m *Store) WithTx(_ context.Context, fn func(invoicing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{parent: m}

	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type storeSnapshot struct {
	entries     map[ledger.InvoiceID][]ledger.LedgerEntry
	idempotency map[string]bool
	invoices    map[ledger.InvoiceID]*invoicing.Invoice
	clients     map[ledger.ClientID]*invoicing.Client
}

func (m *Store) snapshot() storeSnapshot {
	entries := make(map[ledger.InvoiceID][]ledger.LedgerEntry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]ledger.LedgerEntry{}, v...)
	}
	idempotency := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idempotency[k] = v
	}
	invoices := make(map[ledger.InvoiceID]*invoicing.Invoice, len(m.invoices))
	for k, v := range m.invoices {
		invoices[k] = cloneInvoice(v)
	}
	clients := make(map[ledger.ClientID]*invoicing.Client, len(m.clients))
	for k, v := range m.clients {
		clone := *v
		clients[k] = &clone
	}
	return storeSnapshot{entries: entries, idempotency: idempotency, invoices: invoices, clients: clients}
}

func (m *Store) restore(s storeSnapshot) {
	m.entries = s.entries
	m.idempotency = s.idempotency
	m.invoices = s.invoices
	m.clients = s.clients
}

// txView routes calls to the parent's locked internals. The parent's mutex is
// held for the whole transaction, so concurrent operations serialize.
type txView struct {
	parent *Store
}

func (tv *txView) Append(_ context.Context, e ledger.LedgerEntry) error {
	return tv.parent.appendLocked(e)
}

func (tv *txView) Entries(_ context.Context, invoiceID ledger.InvoiceID) ([]ledger.LedgerEntry, error) {
	return tv.parent.entriesLocked(invoiceID), nil
}

func (tv *txView) EntriesInRange(_ context.Context, invoiceID ledger.InvoiceID, from, to time.Time) ([]ledger.LedgerEntry, error) {
	var result []ledger.LedgerEntry
	for _, e := range tv.parent.entries[invoiceID] {
		if !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (tv *txView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}

func (tv *txView) GetInvoice(_ context.Context, id ledger.InvoiceID) (*invoicing.Invoice, error) {
	return tv.parent.getInvoiceLocked(id)
}

func (tv *txView) PutInvoice(_ context.Context, inv *invoicing.Invoice) error {
	return tv.parent.putInvoiceLocked(inv)
}

func (tv *txView) InvoicesByClient(_ context.Context, clientID ledger.ClientID) ([]*invoicing.Invoice, error) {
	return tv.parent.invoicesByClientLocked(clientID), nil
}

func (tv *txView) GetClient(_ context.Context, id ledger.ClientID) (*invoicing.Client, error) {
	return tv.parent.getClientLocked(id)
}

func (tv *txView) PutClient(_ context.Context, c *invoicing.Client) error {
	return tv.parent.putClientLocked(c)
}

// =============================================================================
// CLONING - Stored records never alias caller memory
// =============================================================================

func cloneInvoice(inv *invoicing.Invoice) *invoicing.Invoice {
	clone := *inv
	clone.LineItems = append([]invoicing.LineItem{}, inv.LineItems...)
	clone.Invitations = make([]invoicing.Invitation, len(inv.Invitations))
	for i, invitation := range inv.Invitations {
		clone.Invitations[i] = invitation
		if invitation.SentAt != nil {
			sentAt := *invitation.SentAt
			clone.Invitations[i].SentAt = &sentAt
		}
	}
	if inv.Backup != nil {
		backup := *inv.Backup
		if inv.Backup.Cancellation != nil {
			record := *inv.Backup.Cancellation
			backup.Cancellation = &record
		}
		clone.Backup = &backup
	}
	return &clone
}
