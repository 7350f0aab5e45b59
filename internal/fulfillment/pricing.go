package fulfillment

import "github.com/shopspring/decimal"

// Pricing derives tax, shipping and total from an order's lines. Rate and fee
// come from configuration; nothing here is a per-call-site literal.
type Pricing struct {
	TaxRate       decimal.Decimal
	ShippingCents int64
}

func NewPricing(taxRate decimal.Decimal, shippingCents int64) Pricing {
	return Pricing{TaxRate: taxRate, ShippingCents: shippingCents}
}

// Quote computes subtotal/tax/shipping/total in minor units. Tax is rounded
// to the nearest cent, half away from zero.
func (p Pricing) Quote(lines []OrderLine) (subtotal, tax, shipping, total int64) {
	for _, l := range lines {
		subtotal += l.TotalCents()
	}
	tax = decimal.NewFromInt(subtotal).Mul(p.TaxRate).Round(0).IntPart()
	shipping = p.ShippingCents
	total = subtotal + tax + shipping
	return subtotal, tax, shipping, total
}

// Apply fills the derived amount fields on the order from its lines.
func (p Pricing) Apply(o *Order) {
	o.SubtotalCents, o.TaxCents, o.ShippingCents, o.TotalCents = p.Quote(o.Lines)
}
