// Package cart normalizes protocol-agnostic line items into cart totals.
//
// Both wire protocols hand the gateway the same line-item shape; this
// package derives the aggregates (subtotal, total, quantity, currency)
// that are persisted with the cart snapshot and echoed in order messages.
// Totals are purely derived and never mutated independently.
package cart

import (
	"fmt"
	"math"

	"github.com/sirosfoundation/go-punchout/internal/storage"
)

// DefaultCurrency is used when no line carries a currency.
const DefaultCurrency = "USD"

// ComputeTotals derives cart aggregates from line items.
//
// Subtotal is the sum of unitPrice x quantity across lines, rounded to two
// decimal places with standard half-away-from-zero rounding. Total equals
// subtotal (no tax modeling). Currency is the first line's currency, or
// USD when absent. Quantities below one count as one, matching the
// defensive defaulting applied when order messages are built.
func ComputeTotals(lines []storage.LineItem) storage.Totals {
	var subtotal float64
	var totalQuantity int

	for _, line := range lines {
		qty := NormalizeQuantity(line.Quantity)
		subtotal += line.UnitPrice * float64(qty)
		totalQuantity += qty
	}

	currency := DefaultCurrency
	if len(lines) > 0 && lines[0].Currency != "" {
		currency = lines[0].Currency
	}

	rounded := FormatMoney(subtotal)
	return storage.Totals{
		Subtotal:      rounded,
		Tax:           "0.00",
		Total:         rounded,
		Currency:      currency,
		ItemCount:     len(lines),
		TotalQuantity: totalQuantity,
	}
}

// NormalizeQuantity clamps a quantity to at least one.
func NormalizeQuantity(qty int) int {
	if qty < 1 {
		return 1
	}
	return qty
}

// FormatMoney renders a monetary amount with exactly two decimal places,
// rounding half away from zero rather than truncating.
func FormatMoney(amount float64) string {
	return fmt.Sprintf("%.2f", math.Round(amount*100)/100)
}
