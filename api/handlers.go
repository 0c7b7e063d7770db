/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the invoicing core via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Clients:
    POST   /api/clients                     Create client
    GET    /api/clients/{id}                Get client with aggregate balance
    GET    /api/clients/{id}/consistency    Projection vs recomputed sum

  Invoices:
    POST   /api/invoices                    Create invoice (Draft)
    GET    /api/invoices/{id}               Get invoice
    PUT    /api/invoices/{id}               Save (recalculates amount)
    POST   /api/invoices/{id}/mark-sent     Draft -> Sent
    POST   /api/invoices/{id}/cancel        Cancel (reversible)
    POST   /api/invoices/{id}/reverse       Reverse a cancellation
    GET    /api/invoices/{id}/ledger        Ledger entry history

  Activity:
    GET    /api/activity                    Recent activity-log events

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid reversal
  - 404: Invoice or client not found
  - 409: Concurrent modification conflict
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/invoicing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Lifecycle     *invoicing.Lifecycle
	Cancellations *invoicing.CancellationManager
	Clients       *invoicing.ClientSync
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *sqlite.Store, lifecycle *invoicing.Lifecycle, cancellations *invoicing.CancellationManager) *Handler {
	return &Handler{
		Store:         store,
		Lifecycle:     lifecycle,
		Cancellations: cancellations,
		Clients:       invoicing.NewClientSync(),
	}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// CreateClient creates a new client with a zero balance.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	client := &invoicing.Client{
		ID:      ledger.ClientID(req.ID),
		Name:    req.Name,
		Balance: decimal.Zero,
	}
	if err := h.Store.PutClient(r.Context(), client); err != nil {
		writeDomainError(w, "Failed to create client", err)
		return
	}

	writeJSON(w, http.StatusCreated, ClientDTO{
		ID:      string(client.ID),
		Name:    client.Name,
		Balance: client.Balance.String(),
	})
}

// GetClient returns a client with its aggregate balance.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))

	client, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}

	writeJSON(w, http.StatusOK, ClientDTO{
		ID:      string(client.ID),
		Name:    client.Name,
		Balance: client.Balance.String(),
	})
}

// GetClientConsistency compares the incrementally-maintained balance against
// a from-scratch sum over the client's invoices. Read-only audit endpoint.
func (h *Handler) GetClientConsistency(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))
	ctx := r.Context()

	client, err := h.Store.GetClient(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}
	recomputed, err := h.Clients.RecomputeBalance(ctx, h.Store, id)
	if err != nil {
		writeDomainError(w, "Failed to recompute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, ConsistencyDTO{
		ClientID:   string(id),
		Projected:  client.Balance.String(),
		Recomputed: recomputed.String(),
		Consistent: client.Balance.Equal(recomputed),
	})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// CreateInvoice creates a Draft invoice for a client.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required", nil)
		return
	}

	lineItems, err := parseLineItems(req.LineItems)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line items", err)
		return
	}

	inv := &invoicing.Invoice{
		ClientID:  ledger.ClientID(req.ClientID),
		Number:    req.Number,
		LineItems: lineItems,
	}
	for _, d := range req.Invitations {
		invitation := invoicing.Invitation{ID: d.ID, ContactID: d.ContactID}
		if invitation.ID == "" {
			invitation.ID = uuid.NewString()
		}
		inv.Invitations = append(inv.Invitations, invitation)
	}

	created, err := h.Lifecycle.Create(r.Context(), inv)
	if err != nil {
		writeDomainError(w, "Failed to create invoice", err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvoiceDTO(created))
}

// GetInvoice returns a single invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Store.GetInvoice(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get invoice", err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// SaveInvoice applies field updates and recalculates the invoice amount.
func (h *Handler) SaveInvoice(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvoiceID(chi.URLParam(r, "id"))

	var req SaveInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	data := invoicing.SaveData{Number: req.Number}
	if req.LineItems != nil {
		lineItems, err := parseLineItems(req.LineItems)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid line items", err)
			return
		}
		data.LineItems = lineItems
	}

	saved, err := h.Lifecycle.Save(r.Context(), data, &invoicing.Invoice{ID: id})
	if err != nil {
		writeDomainError(w, "Failed to save invoice", err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceDTO(saved))
}

// MarkSent transitions a Draft invoice to Sent. No-op on any other status.
func (h *Handler) MarkSent(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Lifecycle.MarkSent(r.Context(), &invoicing.Invoice{ID: id})
	if err != nil {
		writeDomainError(w, "Failed to mark invoice sent", err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// CancelInvoice cancels an invoice, driving its balance to zero.
// Not-cancellable invoices are returned unchanged.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Cancellations.Cancel(r.Context(), &invoicing.Invoice{ID: id})
	if err != nil {
		writeDomainError(w, "Failed to cancel invoice", err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// ReverseCancellation restores an invoice to its pre-cancellation state.
func (h *Handler) ReverseCancellation(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Cancellations.Reverse(r.Context(), &invoicing.Invoice{ID: id})
	if err != nil {
		writeDomainError(w, "Failed to reverse cancellation", err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// GetInvoiceLedger returns the invoice's full ledger entry history.
func (h *Handler) GetInvoiceLedger(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvoiceID(chi.URLParam(r, "id"))

	entries, err := h.Store.Entries(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load ledger entries", err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// ACTIVITY HANDLERS
// =============================================================================

// GetActivity returns the most recent activity-log events.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.Activity(r.Context(), 100)
	if err != nil {
		writeDomainError(w, "Failed to load activity", err)
		return
	}

	dtos := make([]ActivityDTO, len(events))
	for i, ev := range events {
		dtos[i] = ActivityDTO{
			Type:      string(ev.Type),
			InvoiceID: string(ev.InvoiceID),
			ClientID:  string(ev.ClientID),
			At:        ev.At.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseLineItems(dtos []LineItemDTO) ([]invoicing.LineItem, error) {
	items := make([]invoicing.LineItem, len(dtos))
	for i, d := range dtos {
		quantity, err := decimal.NewFromString(d.Quantity)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid quantity %q", i, d.Quantity)
		}
		unitPrice, err := decimal.NewFromString(d.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid unit_price %q", i, d.UnitPrice)
		}
		discountRate, err := parseOptionalDecimal(d.DiscountRate)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid discount_rate %q", i, d.DiscountRate)
		}
		taxRate, err := parseOptionalDecimal(d.TaxRate)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid tax_rate %q", i, d.TaxRate)
		}
		items[i] = invoicing.LineItem{
			Description:  d.Description,
			Quantity:     quantity,
			UnitPrice:    unitPrice,
			DiscountRate: discountRate,
			TaxRate:      taxRate,
		}
	}
	return items, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
