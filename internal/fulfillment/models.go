package fulfillment

import (
	"fmt"
	"time"
)

// SKU is the catalog's unit of inventory tracking. Prices and money amounts
// are minor units (cents). Reservation and commit are merged in this engine:
// stock is decremented once, at order placement, so Reserved stays zero in
// the synchronous flow but is kept for the available-quantity invariant
// available = OnHand - Reserved >= 0.
type SKU struct {
	ID         string
	Name       string
	PriceCents int64
	OnHand     int64
	Reserved   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s SKU) Available() int64 { return s.OnHand - s.Reserved }

// LineQty is the (sku, quantity) pair the ledger operates on.
type LineQty struct {
	SKUID string `json:"sku_id"`
	Qty   int64  `json:"qty"`
}

// OrderLine snapshots the unit price at order time. Later catalog price
// changes never affect an existing order.
type OrderLine struct {
	SKUID      string `json:"sku_id"`
	Qty        int64  `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

func (l OrderLine) TotalCents() int64 { return l.Qty * l.PriceCents }

type Order struct {
	ID            string      `json:"id"`
	ExternalID    string      `json:"external_id,omitempty"`
	CustomerID    string      `json:"customer_id"`
	Lines         []OrderLine `json:"lines"`
	Status        Status      `json:"status"`
	SubtotalCents int64       `json:"subtotal_cents"`
	TaxCents      int64       `json:"tax_cents"`
	ShippingCents int64       `json:"shipping_cents"`
	TotalCents    int64       `json:"total_cents"`
	ShipTo        string      `json:"ship_to,omitempty"`
	Note          string      `json:"note,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// LineQtys projects the order's lines for ledger calls.
func (o *Order) LineQtys() []LineQty {
	out := make([]LineQty, 0, len(o.Lines))
	for _, l := range o.Lines {
		out = append(out, LineQty{SKUID: l.SKUID, Qty: l.Qty})
	}
	return out
}

// VerifyTotals checks the derived-amount invariants:
// subtotal = sum of line totals and total = subtotal + tax + shipping.
func (o *Order) VerifyTotals() error {
	var sum int64
	for _, l := range o.Lines {
		sum += l.TotalCents()
	}
	if o.SubtotalCents != sum {
		return fmt.Errorf("order %s: subtotal %d != line sum %d", o.ID, o.SubtotalCents, sum)
	}
	if o.TotalCents != o.SubtotalCents+o.TaxCents+o.ShippingCents {
		return fmt.Errorf("order %s: total %d != subtotal %d + tax %d + shipping %d",
			o.ID, o.TotalCents, o.SubtotalCents, o.TaxCents, o.ShippingCents)
	}
	return nil
}

// StatusChange is one entry of an order's audit trail. Prev is empty for the
// creation entry.
type StatusChange struct {
	OrderID    string    `json:"order_id"`
	Prev       string    `json:"prev"`
	Next       string    `json:"next"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Clone deep-copies the order so stored state cannot be aliased by callers.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = make([]OrderLine, len(o.Lines))
	copy(c.Lines, o.Lines)
	return &c
}
