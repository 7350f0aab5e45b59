package fulfillment

import (
	"context"
	"time"
)

// Ledger is the only authority allowed to move on-hand stock. Both
// operations act on the whole line set: ReserveAndDecrement is all-or-nothing
// and Restore is the caller's exactly-once compensation for a prior decrement
// (the ledger itself does not guard against double-restore).
type Ledger interface {
	ReserveAndDecrement(ctx context.Context, lines []LineQty) error
	Restore(ctx context.Context, lines []LineQty) error
	Available(ctx context.Context, skuID string) (int64, error)
}

// Catalog resolves and manages SKUs. Resolve returns only the SKUs it knows;
// the caller decides whether a missing entry is an error.
type Catalog interface {
	Resolve(ctx context.Context, skuIDs []string) (map[string]SKU, error)
	CreateSKU(ctx context.Context, sku SKU) (SKU, error)
	DeleteSKU(ctx context.Context, skuID string) error
	GetSKU(ctx context.Context, skuID string) (SKU, error)
	ListSKUs(ctx context.Context) ([]SKU, error)
}

// OrderStore persists the order aggregate. UpdateStatus and Delete are
// compare-and-swap style: they apply only if the stored status still matches
// and report whether they did, so exactly one caller wins a race.
type OrderStore interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
	Delete(ctx context.Context, id string, onlyStatus Status) (bool, error)
	SKUReferenced(ctx context.Context, skuID string) (bool, error)
}
