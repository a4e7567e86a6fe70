package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sirosfoundation/go-punchout/internal/storage"
)

func TestComputeTotals(t *testing.T) {
	lines := []storage.LineItem{
		{SKU: "X1", UnitPrice: 10.00, Quantity: 3, Currency: "USD"},
		{SKU: "X2", UnitPrice: 2.50, Quantity: 2, Currency: "USD"},
	}

	totals := ComputeTotals(lines)
	assert.Equal(t, "35.00", totals.Subtotal)
	assert.Equal(t, "35.00", totals.Total)
	assert.Equal(t, "0.00", totals.Tax)
	assert.Equal(t, "USD", totals.Currency)
	assert.Equal(t, 2, totals.ItemCount)
	assert.Equal(t, 5, totals.TotalQuantity)
}

func TestComputeTotalsEmpty(t *testing.T) {
	totals := ComputeTotals(nil)
	assert.Equal(t, "0.00", totals.Subtotal)
	assert.Equal(t, "0.00", totals.Total)
	assert.Equal(t, "USD", totals.Currency)
	assert.Equal(t, 0, totals.ItemCount)
	assert.Equal(t, 0, totals.TotalQuantity)
}

func TestComputeTotalsRounding(t *testing.T) {
	// 3 x 0.335 = 1.005, rounds up, not truncates to 1.00
	lines := []storage.LineItem{
		{SKU: "R1", UnitPrice: 0.335, Quantity: 3},
	}
	totals := ComputeTotals(lines)
	assert.Equal(t, "1.01", totals.Subtotal)
}

func TestComputeTotalsQuantityDefaulting(t *testing.T) {
	// Zero and negative quantities count as one
	lines := []storage.LineItem{
		{SKU: "Q0", UnitPrice: 4.00, Quantity: 0},
		{SKU: "QN", UnitPrice: 6.00, Quantity: -2},
	}
	totals := ComputeTotals(lines)
	assert.Equal(t, "10.00", totals.Subtotal)
	assert.Equal(t, 2, totals.TotalQuantity)
}

func TestComputeTotalsCurrencyFromFirstLine(t *testing.T) {
	lines := []storage.LineItem{
		{SKU: "E1", UnitPrice: 1.00, Quantity: 1, Currency: "EUR"},
		{SKU: "E2", UnitPrice: 1.00, Quantity: 1, Currency: "GBP"},
	}
	totals := ComputeTotals(lines)
	assert.Equal(t, "EUR", totals.Currency)
}
