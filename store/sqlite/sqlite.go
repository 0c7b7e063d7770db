/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements invoicing.TxStore (ledger entries, invoices, clients) and the
  activity-log sink using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger_entries table is append-only:
  - No UPDATE statements on ledger_entries
  - No DELETE statements on ledger_entries
  - Corrections via reversal entries only

KEY TABLES:
  ledger_entries: Immutable ledger of all balance changes
  invoices:       Invoice records, versioned for optimistic concurrency
  clients:        Client records with the aggregate balance projection
  activity_log:   Append-only record of emitted events

CONCURRENCY:
  Invoice and client rows carry a version column. Writes succeed only
  against the version they read; a stale write returns
  ErrConcurrentModification and the enclosing transaction rolls back.
  A store-level mutex serializes WithTx scopes, which is sufficient for
  SQLite's single-writer model.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Entry persistence interface
  - invoicing/store.go: Invoice/client persistence interface
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/invoicing"
	"github.com/warp/billing-engine/ledger"
)

// Store implements invoicing.TxStore and invoicing.Sink using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// querier is satisfied by both *sql.DB and *sql.Tx so every method can run
// inside or outside an explicit transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; a single pooled connection also keeps
	// ":memory:" databases from fragmenting across connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		delta TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Balance reconstruction (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_invoice_created
		ON ledger_entries(invoice_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_idempotency
		ON ledger_entries(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Invoices (versioned for optimistic concurrency)
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		number TEXT,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		line_items_json TEXT,
		invitations_json TEXT,
		backup_json TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_client ON invoices(client_id);

	-- Clients (versioned for optimistic concurrency)
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT,
		balance TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Activity log (append-only event record)
	CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		invoice_id TEXT,
		client_id TEXT,
		user_id TEXT,
		company_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER ENTRIES (ledger.Store interface)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e ledger.LedgerEntry) error {
	return s.append(ctx, s.db, e)
}

func (s *Store) append(ctx context.Context, q querier, e ledger.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, invoice_id, client_id, delta, kind, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.InvoiceID,
		e.ClientID,
		e.Delta.String(),
		e.Kind,
		e.Reason,
		nullString(e.IdempotencyKey),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return &ledger.PersistenceError{Op: "append entry", Err: err}
	}
	return nil
}

// Entries returns all entries for an invoice, chronologically.
func (s *Store) Entries(ctx context.Context, invoiceID ledger.InvoiceID) ([]ledger.LedgerEntry, error) {
	return s.entries(ctx, s.db, invoiceID)
}

func (s *Store) entries(ctx context.Context, q querier, invoiceID ledger.InvoiceID) ([]ledger.LedgerEntry, error) {
	query := `
		SELECT id, invoice_id, client_id, delta, kind, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE invoice_id = ?
		ORDER BY created_at ASC, id ASC
	`
	return queryEntries(ctx, q, query, invoiceID)
}

// EntriesInRange returns entries recorded in [from, to].
func (s *Store) EntriesInRange(ctx context.Context, invoiceID ledger.InvoiceID, from, to time.Time) ([]ledger.LedgerEntry, error) {
	return s.entriesInRange(ctx, s.db, invoiceID, from, to)
}

func (s *Store) entriesInRange(ctx context.Context, q querier, invoiceID ledger.InvoiceID, from, to time.Time) ([]ledger.LedgerEntry, error) {
	query := `
		SELECT id, invoice_id, client_id, delta, kind, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE invoice_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC
	`
	return queryEntries(ctx, q, query, invoiceID,
		from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano))
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return s.exists(ctx, s.db, idempotencyKey)
}

func (s *Store) exists(ctx context.Context, q querier, idempotencyKey string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]ledger.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "query entries", Err: err}
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.LedgerEntry, error) {
	var (
		e              ledger.LedgerEntry
		delta          string
		reason         sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(&e.ID, &e.InvoiceID, &e.ClientID, &delta, &e.Kind,
		&reason, &idempotencyKey, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Delta, err = decimal.NewFromString(delta)
	if err != nil {
		return e, fmt.Errorf("failed to parse entry delta: %w", err)
	}
	e.Reason = reason.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// =============================================================================
// INVOICES (invoicing.Store interface)
// =============================================================================

func (s *Store) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*invoicing.Invoice, error) {
	return s.getInvoice(ctx, s.db, id)
}

func (s *Store) getInvoice(ctx context.Context, q querier, id ledger.InvoiceID) (*invoicing.Invoice, error) {
	query := `
		SELECT id, client_id, number, status, amount, balance,
		       line_items_json, invitations_json, backup_json,
		       version, created_at, updated_at
		FROM invoices WHERE id = ?
	`
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "get invoice", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &ledger.PersistenceError{Op: "get invoice", Err: err}
		}
		return nil, ledger.ErrInvoiceNotFound
	}
	return scanInvoice(rows)
}

// PutInvoice inserts (Version 0) or updates the invoice. Updates are
// version-checked: a stale version returns ErrConcurrentModification.
// On success the caller's Version is bumped to the stored one.
func (s *Store) PutInvoice(ctx context.Context, inv *invoicing.Invoice) error {
	return s.putInvoice(ctx, s.db, inv)
}

func (s *Store) putInvoice(ctx context.Context, q querier, inv *invoicing.Invoice) error {
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}
	invitations, err := json.Marshal(inv.Invitations)
	if err != nil {
		return fmt.Errorf("failed to marshal invitations: %w", err)
	}
	var backup []byte
	if inv.Backup != nil {
		backup, err = json.Marshal(inv.Backup)
		if err != nil {
			return fmt.Errorf("failed to marshal backup: %w", err)
		}
	}

	if inv.Version == 0 {
		query := `
			INSERT INTO invoices
			(id, client_id, number, status, amount, balance,
			 line_items_json, invitations_json, backup_json, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`
		_, err := q.ExecContext(ctx, query,
			inv.ID, inv.ClientID, inv.Number, inv.Status,
			inv.Amount.String(), inv.Balance.String(),
			string(lineItems), string(invitations), nullBytes(backup),
			inv.CreatedAt.Format(time.RFC3339Nano),
			inv.UpdatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return &ledger.PersistenceError{Op: "insert invoice", Err: err}
		}
		inv.Version = 1
		return nil
	}

	query := `
		UPDATE invoices
		SET client_id = ?, number = ?, status = ?, amount = ?, balance = ?,
		    line_items_json = ?, invitations_json = ?, backup_json = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, query,
		inv.ClientID, inv.Number, inv.Status,
		inv.Amount.String(), inv.Balance.String(),
		string(lineItems), string(invitations), nullBytes(backup),
		inv.UpdatedAt.Format(time.RFC3339Nano),
		inv.ID, inv.Version,
	)
	if err != nil {
		return &ledger.PersistenceError{Op: "update invoice", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &ledger.PersistenceError{Op: "update invoice", Err: err}
	}
	if affected == 0 {
		var count int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoices WHERE id = ?", inv.ID).Scan(&count); err != nil {
			return &ledger.PersistenceError{Op: "update invoice", Err: err}
		}
		if count == 0 {
			return ledger.ErrInvoiceNotFound
		}
		return ledger.ErrConcurrentModification
	}
	inv.Version++
	return nil
}

func (s *Store) InvoicesByClient(ctx context.Context, clientID ledger.ClientID) ([]*invoicing.Invoice, error) {
	return s.invoicesByClient(ctx, s.db, clientID)
}

func (s *Store) invoicesByClient(ctx context.Context, q querier, clientID ledger.ClientID) ([]*invoicing.Invoice, error) {
	query := `
		SELECT id, client_id, number, status, amount, balance,
		       line_items_json, invitations_json, backup_json,
		       version, created_at, updated_at
		FROM invoices WHERE client_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := q.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "invoices by client", Err: err}
	}
	defer rows.Close()

	var invoices []*invoicing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(rows *sql.Rows) (*invoicing.Invoice, error) {
	var (
		inv         invoicing.Invoice
		amount      string
		balance     string
		lineItems   sql.NullString
		invitations sql.NullString
		backup      sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := rows.Scan(&inv.ID, &inv.ClientID, &inv.Number, &inv.Status,
		&amount, &balance, &lineItems, &invitations, &backup,
		&inv.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse invoice amount: %w", err)
	}
	inv.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse invoice balance: %w", err)
	}
	if lineItems.Valid && lineItems.String != "" {
		if err := json.Unmarshal([]byte(lineItems.String), &inv.LineItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal line items: %w", err)
		}
	}
	if invitations.Valid && invitations.String != "" {
		if err := json.Unmarshal([]byte(invitations.String), &inv.Invitations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invitations: %w", err)
		}
	}
	if backup.Valid && backup.String != "" {
		if err := json.Unmarshal([]byte(backup.String), &inv.Backup); err != nil {
			return nil, fmt.Errorf("failed to unmarshal backup: %w", err)
		}
	}
	inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	inv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &inv, nil
}

// =============================================================================
// CLIENTS (invoicing.Store interface)
// =============================================================================

func (s *Store) GetClient(ctx context.Context, id ledger.ClientID) (*invoicing.Client, error) {
	return s.getClient(ctx, s.db, id)
}

func (s *Store) getClient(ctx context.Context, q querier, id ledger.ClientID) (*invoicing.Client, error) {
	var (
		c         invoicing.Client
		balance   string
		createdAt string
		updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, balance, version, created_at, updated_at FROM clients WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Name, &balance, &c.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrClientNotFound
	}
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "get client", Err: err}
	}

	c.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client balance: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

// PutClient inserts (Version 0) or updates the client with the same
// optimistic version semantics as PutInvoice.
func (s *Store) PutClient(ctx context.Context, c *invoicing.Client) error {
	return s.putClient(ctx, s.db, c)
}

func (s *Store) putClient(ctx context.Context, q querier, c *invoicing.Client) error {
	if c.Version == 0 {
		_, err := q.ExecContext(ctx,
			"INSERT INTO clients (id, name, balance, version, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)",
			c.ID, c.Name, c.Balance.String(),
			c.CreatedAt.Format(time.RFC3339Nano),
			c.UpdatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return &ledger.PersistenceError{Op: "insert client", Err: err}
		}
		c.Version = 1
		return nil
	}

	res, err := q.ExecContext(ctx,
		"UPDATE clients SET name = ?, balance = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?",
		c.Name, c.Balance.String(),
		c.UpdatedAt.Format(time.RFC3339Nano),
		c.ID, c.Version,
	)
	if err != nil {
		return &ledger.PersistenceError{Op: "update client", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &ledger.PersistenceError{Op: "update client", Err: err}
	}
	if affected == 0 {
		var count int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM clients WHERE id = ?", c.ID).Scan(&count); err != nil {
			return &ledger.PersistenceError{Op: "update client", Err: err}
		}
		if count == 0 {
			return ledger.ErrClientNotFound
		}
		return ledger.ErrConcurrentModification
	}
	c.Version++
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (invoicing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(invoicing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &ledger.PersistenceError{Op: "begin transaction", Err: err}
	}
	defer sqlTx.Rollback()

	view := &txStore{tx: sqlTx, parent: s}
	if err := fn(view); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &ledger.PersistenceError{Op: "commit transaction", Err: err}
	}
	return nil
}

// txStore routes every call through the open *sql.Tx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Append(ctx context.Context, e ledger.LedgerEntry) error {
	return ts.parent.append(ctx, ts.tx, e)
}

func (ts *txStore) Entries(ctx context.Context, invoiceID ledger.InvoiceID) ([]ledger.LedgerEntry, error) {
	return ts.parent.entries(ctx, ts.tx, invoiceID)
}

func (ts *txStore) EntriesInRange(ctx context.Context, invoiceID ledger.InvoiceID, from, to time.Time) ([]ledger.LedgerEntry, error) {
	return ts.parent.entriesInRange(ctx, ts.tx, invoiceID, from, to)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return ts.parent.exists(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*invoicing.Invoice, error) {
	return ts.parent.getInvoice(ctx, ts.tx, id)
}

func (ts *txStore) PutInvoice(ctx context.Context, inv *invoicing.Invoice) error {
	return ts.parent.putInvoice(ctx, ts.tx, inv)
}

func (ts *txStore) InvoicesByClient(ctx context.Context, clientID ledger.ClientID) ([]*invoicing.Invoice, error) {
	return ts.parent.invoicesByClient(ctx, ts.tx, clientID)
}

func (ts *txStore) GetClient(ctx context.Context, id ledger.ClientID) (*invoicing.Client, error) {
	return ts.parent.getClient(ctx, ts.tx, id)
}

func (ts *txStore) PutClient(ctx context.Context, c *invoicing.Client) error {
	return ts.parent.putClient(ctx, ts.tx, c)
}

// =============================================================================
// ACTIVITY LOG (invoicing.Sink interface)
// =============================================================================

// Notify persists an event into the activity log. Append-only.
func (s *Store) Notify(ctx context.Context, ev invoicing.Event) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO activity_log (id, event_type, invoice_id, client_id, user_id, company_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		uuid.NewString(), ev.Type, ev.InvoiceID, ev.ClientID, ev.UserID, ev.CompanyID,
		ev.At.Format(time.RFC3339Nano),
	)
	if err != nil {
		return &ledger.PersistenceError{Op: "append activity", Err: err}
	}
	return nil
}

// Activity returns the most recent events, newest first.
func (s *Store) Activity(ctx context.Context, limit int) ([]invoicing.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT event_type, invoice_id, client_id, user_id, company_id, created_at FROM activity_log ORDER BY created_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "query activity", Err: err}
	}
	defer rows.Close()

	var events []invoicing.Event
	for rows.Next() {
		var (
			ev        invoicing.Event
			createdAt string
		)
		if err := rows.Scan(&ev.Type, &ev.InvoiceID, &ev.ClientID, &ev.UserID, &ev.CompanyID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
