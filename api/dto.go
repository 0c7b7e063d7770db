/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY REPRESENTATION:
  All monetary values cross the wire as decimal strings ("100.00"), never
  floats. Parsing happens in handlers via decimal.NewFromString.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/billing-engine/invoicing"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateClientRequest is the request to create a client.
type CreateClientRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LineItemDTO represents one invoice line.
type LineItemDTO struct {
	Description  string `json:"description"`
	Quantity     string `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	DiscountRate string `json:"discount_rate,omitempty"`
	TaxRate      string `json:"tax_rate,omitempty"`
	Total        string `json:"total,omitempty"`
}

// InvitationDTO represents a recipient invitation.
type InvitationDTO struct {
	ID        string  `json:"id"`
	ContactID string  `json:"contact_id"`
	SentAt    *string `json:"sent_at,omitempty"`
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID          string          `json:"id"`
	ClientID    string          `json:"client_id"`
	Number      string          `json:"number,omitempty"`
	Status      string          `json:"status"`
	Amount      string          `json:"amount"`
	Balance     string          `json:"balance"`
	LineItems   []LineItemDTO   `json:"line_items"`
	Invitations []InvitationDTO `json:"invitations,omitempty"`
	HasBackup   bool            `json:"has_cancellation_backup"`
	CreatedAt   string          `json:"created_at,omitempty"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
}

// CreateInvoiceRequest is the request to create an invoice.
type CreateInvoiceRequest struct {
	ClientID    string          `json:"client_id"`
	Number      string          `json:"number"`
	LineItems   []LineItemDTO   `json:"line_items"`
	Invitations []InvitationDTO `json:"invitations"`
}

// SaveInvoiceRequest is the request to update an invoice. Omitted fields
// leave the invoice unchanged.
type SaveInvoiceRequest struct {
	Number    *string       `json:"number,omitempty"`
	LineItems []LineItemDTO `json:"line_items,omitempty"`
}

// LedgerEntryDTO represents one ledger entry.
type LedgerEntryDTO struct {
	ID        string `json:"id"`
	InvoiceID string `json:"invoice_id"`
	Delta     string `json:"delta"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ConsistencyDTO reports the client balance projection against the
// authoritative from-scratch sum.
type ConsistencyDTO struct {
	ClientID   string `json:"client_id"`
	Projected  string `json:"projected_balance"`
	Recomputed string `json:"recomputed_balance"`
	Consistent bool   `json:"consistent"`
}

// ActivityDTO represents one activity-log event.
type ActivityDTO struct {
	Type      string `json:"type"`
	InvoiceID string `json:"invoice_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	At        string `json:"at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toInvoiceDTO(inv *invoicing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:        string(inv.ID),
		ClientID:  string(inv.ClientID),
		Number:    inv.Number,
		Status:    string(inv.Status),
		Amount:    inv.Amount.String(),
		Balance:   inv.Balance.String(),
		HasBackup: inv.Backup != nil && inv.Backup.Cancellation != nil,
		CreatedAt: inv.CreatedAt.Format(time.RFC3339),
		UpdatedAt: inv.UpdatedAt.Format(time.RFC3339),
	}

	dto.LineItems = make([]LineItemDTO, len(inv.LineItems))
	for i, item := range inv.LineItems {
		dto.LineItems[i] = LineItemDTO{
			Description:  item.Description,
			Quantity:     item.Quantity.String(),
			UnitPrice:    item.UnitPrice.String(),
			DiscountRate: item.DiscountRate.String(),
			TaxRate:      item.TaxRate.String(),
			Total:        item.Total.String(),
		}
	}
	for _, invitation := range inv.Invitations {
		d := InvitationDTO{ID: invitation.ID, ContactID: invitation.ContactID}
		if invitation.SentAt != nil {
			sentAt := invitation.SentAt.Format(time.RFC3339)
			d.SentAt = &sentAt
		}
		dto.Invitations = append(dto.Invitations, d)
	}
	return dto
}

func toEntryDTOs(entries []ledger.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			ID:        string(e.ID),
			InvoiceID: string(e.InvoiceID),
			Delta:     e.Delta.String(),
			Kind:      string(e.Kind),
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}
