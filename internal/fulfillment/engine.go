package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Engine is the order fulfillment workflow core: it validates and commits
// new orders, drives the status state machine, and keeps the inventory
// ledger and the order aggregate in agreement. Every multi-step mutation is
// all-or-nothing: either via a backend transaction or via the compensating
// calls below.
type Engine struct {
	ledger  Ledger
	catalog Catalog
	orders  OrderStore
	pricing Pricing
}

func NewEngine(ledger Ledger, catalog Catalog, orders OrderStore, pricing Pricing) *Engine {
	return &Engine{ledger: ledger, catalog: catalog, orders: orders, pricing: pricing}
}

type CreateOrderInput struct {
	CustomerID string    `json:"customer_id"`
	ExternalID string    `json:"external_id,omitempty"`
	Items      []LineQty `json:"items"`
	ShipTo     string    `json:"ship_to,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// CreateOrder validates the input against the catalog, snapshots prices,
// decrements stock for all lines as one set, and persists the order. If
// persistence fails after the decrement succeeded the decrement is rolled
// back, so committed stock changes and committed orders always agree 1:1.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, &EmptyOrderError{}
	}
	if in.CustomerID == "" {
		return nil, fmt.Errorf("%w: missing customer id", ErrInvalidInput)
	}
	for _, it := range in.Items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: qty %d for sku %s", ErrInvalidInput, it.Qty, it.SKUID)
		}
	}

	// collapse duplicate SKU lines so the ledger checks each SKU's full
	// requested quantity as one figure
	items := make([]LineQty, 0, len(in.Items))
	seen := make(map[string]int, len(in.Items))
	for _, it := range in.Items {
		if j, ok := seen[it.SKUID]; ok {
			items[j].Qty += it.Qty
			continue
		}
		seen[it.SKUID] = len(items)
		items = append(items, it)
	}

	// resubmits with the same external id return the original order
	if in.ExternalID != "" {
		if existing, err := e.orders.GetByExternalID(ctx, in.ExternalID); err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.SKUID)
	}
	skus, err := e.catalog.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lines := make([]OrderLine, 0, len(items))
	for _, it := range items {
		s, ok := skus[it.SKUID]
		if !ok {
			return nil, &UnknownSKUError{SKUID: it.SKUID}
		}
		lines = append(lines, OrderLine{SKUID: s.ID, Qty: it.Qty, PriceCents: s.PriceCents})
	}

	o := &Order{
		ID:         uuid.NewString(),
		ExternalID: in.ExternalID,
		CustomerID: in.CustomerID,
		Lines:      lines,
		Status:     StatusPending,
		ShipTo:     in.ShipTo,
		Note:       in.Note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	e.pricing.Apply(o)
	if err := o.VerifyTotals(); err != nil {
		return nil, err
	}

	if err := e.ledger.ReserveAndDecrement(ctx, items); err != nil {
		return nil, err
	}
	if err := e.orders.Insert(ctx, o); err != nil {
		// compensate the decrement; context may already be dead, so use a
		// detached one for the rollback
		if rerr := e.ledger.Restore(context.WithoutCancel(ctx), items); rerr != nil {
			return nil, errors.Join(err, fmt.Errorf("restore after failed insert: %w", rerr))
		}
		if errors.Is(err, ErrExternalIDTaken) && in.ExternalID != "" {
			// lost a same-external-id race; the winner's order is the answer
			if existing, gerr := e.orders.GetByExternalID(ctx, in.ExternalID); gerr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	return o, nil
}

// Transition moves an order to the requested status, enforcing the state
// machine. Moving into CANCELLED restores the order's stock exactly once:
// the compare-and-swap on the previous status guarantees a single winner
// even under concurrent cancel attempts.
func (e *Engine) Transition(ctx context.Context, orderID string, to Status) (*Order, Status, error) {
	if !ValidStatus(to) {
		return nil, "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	from := o.Status
	if !CanTransition(from, to) {
		return nil, from, &InvalidTransitionError{From: from, To: to}
	}

	now := time.Now().UTC()
	ok, err := e.orders.UpdateStatus(ctx, orderID, from, to, now)
	if err != nil {
		return nil, from, err
	}
	if !ok {
		// lost the race; report against the status that actually won
		cur, gerr := e.orders.Get(ctx, orderID)
		if gerr != nil {
			return nil, from, gerr
		}
		return nil, cur.Status, &InvalidTransitionError{From: cur.Status, To: to}
	}

	if to == StatusCancelled {
		if rerr := e.ledger.Restore(context.WithoutCancel(ctx), o.LineQtys()); rerr != nil {
			// undo the transition so cancellation and restore stay coupled
			if _, uerr := e.orders.UpdateStatus(context.WithoutCancel(ctx), orderID, to, from, now); uerr != nil {
				return nil, from, errors.Join(rerr, fmt.Errorf("revert cancel: %w", uerr))
			}
			return nil, from, rerr
		}
	}

	o.Status = to
	o.UpdatedAt = now
	return o, from, nil
}

// DeleteOrder removes a PENDING order and restores its stock. Anything past
// PENDING must go through cancellation instead.
func (e *Engine) DeleteOrder(ctx context.Context, orderID string) error {
	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		return &IllegalDeleteError{Status: o.Status}
	}
	// restore first: if the delete side then fails, the restore is taken
	// back, so stock and the order row always move together
	if err := e.ledger.Restore(ctx, o.LineQtys()); err != nil {
		return err
	}
	ok, err := e.orders.Delete(ctx, orderID, StatusPending)
	if err != nil || !ok {
		if rerr := e.ledger.ReserveAndDecrement(context.WithoutCancel(ctx), o.LineQtys()); rerr != nil {
			err = errors.Join(err, fmt.Errorf("re-decrement after failed delete: %w", rerr))
		}
		if err != nil {
			return err
		}
		cur, gerr := e.orders.Get(ctx, orderID)
		if gerr != nil {
			return gerr
		}
		return &IllegalDeleteError{Status: cur.Status}
	}
	return nil
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return e.orders.Get(ctx, orderID)
}

func (e *Engine) Available(ctx context.Context, skuID string) (int64, error) {
	return e.ledger.Available(ctx, skuID)
}

func (e *Engine) CreateSKU(ctx context.Context, sku SKU) (SKU, error) {
	if sku.PriceCents < 0 || sku.OnHand < 0 {
		return SKU{}, fmt.Errorf("%w: negative price or stock for sku %s", ErrInvalidInput, sku.ID)
	}
	return e.catalog.CreateSKU(ctx, sku)
}

// DeleteSKU enforces referential integrity: a SKU that still appears on any
// order line cannot be removed.
func (e *Engine) DeleteSKU(ctx context.Context, skuID string) error {
	referenced, err := e.orders.SKUReferenced(ctx, skuID)
	if err != nil {
		return err
	}
	if referenced {
		return &SKUReferencedError{SKUID: skuID}
	}
	return e.catalog.DeleteSKU(ctx, skuID)
}

func (e *Engine) GetSKU(ctx context.Context, skuID string) (SKU, error) {
	return e.catalog.GetSKU(ctx, skuID)
}

func (e *Engine) ListSKUs(ctx context.Context) ([]SKU, error) {
	return e.catalog.ListSKUs(ctx)
}
