package services

import (
	"github.com/shopspring/decimal"

	"github.com/nmoreau/billing-core/internal/models"
)

// Totals is the monetary summary of a document. Line totals keep full
// precision; the boundary amounts are rounded to cents.
type Totals struct {
	Lines    []decimal.Decimal
	Subtotal decimal.Decimal
	TaxTotal decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals applies the document money contract: line total is
// quantity*unit_price - discount at full precision, rounding happens
// half-up at the subtotal and tax boundaries only, and the grand total
// is the exact sum of the two rounded parts.
func ComputeTotals(lines []models.LineItem, taxRate decimal.Decimal) Totals {
	t := Totals{Lines: make([]decimal.Decimal, 0, len(lines))}
	sum := decimal.Zero
	for i := range lines {
		lt := lines[i].Total()
		t.Lines = append(t.Lines, lt)
		sum = sum.Add(lt)
	}
	t.Subtotal = sum.Round(2)
	t.TaxTotal = t.Subtotal.Mul(taxRate).Round(2)
	t.Total = t.Subtotal.Add(t.TaxTotal)
	return t
}
