/*
calculator.go - Invoice total recalculation collaborator

PURPOSE:
  The BalanceCalculator recomputes an invoice's total amount from its line
  items and settings. The lifecycle consumes it as a black box: input
  invoice + settings, output invoice with recomputed Amount and line totals.
  Treated as pure and deterministic for a given input.

DEFAULT IMPLEMENTATION:
  LineItemCalculator: per line, total = qty x unit x (1 - discount) x (1 + tax),
  summed into Amount. Rounded to 2 decimal places per line. Tax jurisdiction
  logic and multi-currency are resolved before amounts reach this package.

SEE ALSO:
  - lifecycle.go: Invokes the calculator on every save
*/
package invoicing

import (
	"github.com/shopspring/decimal"
)

// Settings carries the calculation options the calculator honors.
type Settings struct {
	// InclusiveTax means line unit prices already contain tax, so no tax is
	// added on top during recalculation.
	InclusiveTax bool
}

// BalanceCalculator recomputes an invoice's Amount and derived line totals.
// Implementations must not mutate the input; they return a copy.
type BalanceCalculator interface {
	Build(inv *Invoice, settings Settings) *Invoice
}

// =============================================================================
// LINE ITEM CALCULATOR - Default implementation
// =============================================================================

type LineItemCalculator struct{}

func NewLineItemCalculator() *LineItemCalculator {
	return &LineItemCalculator{}
}

func (c *LineItemCalculator) Build(inv *Invoice, settings Settings) *Invoice {
	out := *inv
	out.LineItems = make([]LineItem, len(inv.LineItems))
	copy(out.LineItems, inv.LineItems)

	one := decimal.NewFromInt(1)
	amount := decimal.Zero
	for i := range out.LineItems {
		item := &out.LineItems[i]

		total := item.Quantity.Mul(item.UnitPrice)
		if !item.DiscountRate.IsZero() {
			total = total.Mul(one.Sub(item.DiscountRate))
		}
		if !settings.InclusiveTax && !item.TaxRate.IsZero() {
			total = total.Mul(one.Add(item.TaxRate))
		}

		item.Total = total.Round(2)
		amount = amount.Add(item.Total)
	}

	out.Amount = amount
	return &out
}
