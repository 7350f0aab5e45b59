package fulfillment

import (
	"errors"
	"fmt"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

var ErrInvalidInput = errors.New("invalid input")

var ErrSKUNotFound = errors.New("sku not found")

// ErrExternalIDTaken: a different order already claimed this external id.
var ErrExternalIDTaken = errors.New("external id already used")

// UnknownSKUError: an order references a SKU the catalog does not know.
type UnknownSKUError struct {
	SKUID string
}

func (e *UnknownSKUError) Error() string {
	return fmt.Sprintf("unknown sku: %s", e.SKUID)
}

// EmptyOrderError: an order must carry at least one line.
type EmptyOrderError struct{}

func (e *EmptyOrderError) Error() string {
	return "order has no lines"
}

// InsufficientStockError names the first SKU in line order that could not
// cover the requested quantity. No decrement happened for any line.
type InsufficientStockError struct {
	SKUID     string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d",
		e.SKUID, e.Requested, e.Available)
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// IllegalDeleteError: orders may only be deleted while still PENDING.
type IllegalDeleteError struct {
	Status Status
}

func (e *IllegalDeleteError) Error() string {
	return fmt.Sprintf("cannot delete order in status %s", e.Status)
}

// ConcurrencyTimeoutError: the bounded wait for ledger/aggregate
// serialization expired before the operation could run.
type ConcurrencyTimeoutError struct {
	Wait time.Duration
}

func (e *ConcurrencyTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for inventory serialization", e.Wait)
}

// SKUReferencedError: a SKU that appears on any order line cannot be deleted.
type SKUReferencedError struct {
	SKUID string
}

func (e *SKUReferencedError) Error() string {
	return fmt.Sprintf("sku %s is referenced by existing order lines", e.SKUID)
}
