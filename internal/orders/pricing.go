package orders

import "github.com/qwerty-development/makielli-internal-sub000/internal/shared"

// Totals is the price breakdown of an order.
type Totals struct {
	Subtotal  float64
	VATAmount float64
	Total     float64
}

// effectiveDiscount clamps a per-product absolute discount into
// [0, unit price] so a discounted line never prices below zero.
func effectiveDiscount(discount, unitPrice float64) float64 {
	if discount < 0 {
		return 0
	}
	if discount > unitPrice {
		return unitPrice
	}
	return discount
}

// ComputeTotals prices the lines with per-product discounts, an optional
// flat VAT on the discounted subtotal, and the shipping fee.
func ComputeTotals(lines []Line, discounts map[int64]float64, vatEnabled bool, vatRate, shippingFee float64) Totals {
	var subtotal float64
	for _, line := range lines {
		discount := effectiveDiscount(discounts[line.ProductID], line.UnitPrice)
		subtotal += float64(line.Quantity) * (line.UnitPrice - discount)
	}
	subtotal = shared.Round2(subtotal)

	var vat float64
	if vatEnabled {
		vat = shared.Round2(subtotal * vatRate)
	}
	return Totals{
		Subtotal:  subtotal,
		VATAmount: vat,
		Total:     shared.Round2(subtotal + vat + shippingFee),
	}
}
