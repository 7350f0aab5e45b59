package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *Memory) {
	t.Helper()
	m := seedMemory(t,
		SKU{ID: "X", Name: "widget", PriceCents: 1000, OnHand: 5},
		SKU{ID: "Y", Name: "gadget", PriceCents: 2000, OnHand: 10},
	)
	e := NewEngine(m, m, m, NewPricing(decimal.RequireFromString("0.10"), 1000))
	return e, m
}

func TestCreateOrder(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 2}, {SKUID: "Y", Qty: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, int64(4000), o.SubtotalCents)
	assert.Equal(t, int64(400), o.TaxCents)
	assert.Equal(t, int64(1000), o.ShippingCents)
	assert.Equal(t, int64(5400), o.TotalCents)
	require.NoError(t, o.VerifyTotals())

	x, _ := m.Available(ctx, "X")
	y, _ := m.Available(ctx, "Y")
	assert.Equal(t, int64(3), x)
	assert.Equal(t, int64(9), y)

	got, err := e.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Len(t, got.Lines, 2)
}

func TestCreateOrderEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CreateOrder(context.Background(), CreateOrderInput{CustomerID: "c1"})
	var eoe *EmptyOrderError
	assert.ErrorAs(t, err, &eoe)
}

func TestCreateOrderUnknownSKU(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 1}, {SKUID: "GHOST", Qty: 1}},
	})
	var use *UnknownSKUError
	require.ErrorAs(t, err, &use)
	assert.Equal(t, "GHOST", use.SKUID)

	// nothing decremented
	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(5), x)
}

func TestCreateOrderInsufficientLeavesAllUnchanged(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "Y", Qty: 2}, {SKUID: "X", Qty: 6}},
	})
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "X", ise.SKUID)

	x, _ := m.Available(ctx, "X")
	y, _ := m.Available(ctx, "Y")
	assert.Equal(t, int64(5), x)
	assert.Equal(t, int64(10), y)
}

func TestCreateOrderRejectsBadQty(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 0}},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateOrderIdempotentExternalID(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	in := CreateOrderInput{
		CustomerID: "c1",
		ExternalID: "ext-42",
		Items:      []LineQty{{SKUID: "X", Qty: 2}},
	}
	first, err := e.CreateOrder(ctx, in)
	require.NoError(t, err)
	second, err := e.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// stock decremented once, not twice
	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(3), x)
}

// Items that name the same SKU twice are merged before the ledger is asked,
// so on_hand can never go negative through repeated lines.
func TestCreateOrderMergesDuplicateSKUItems(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 3}, {SKUID: "X", Qty: 3}},
	})
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "X", ise.SKUID)
	assert.Equal(t, int64(6), ise.Requested)

	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(5), x)
	assert.GreaterOrEqual(t, x, int64(0))

	// within stock the duplicates collapse into one priced line
	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 2}, {SKUID: "X", Qty: 2}},
	})
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, int64(4), o.Lines[0].Qty)
	assert.Equal(t, int64(4000), o.SubtotalCents)
	require.NoError(t, o.VerifyTotals())

	x, _ = m.Available(ctx, "X")
	assert.Equal(t, int64(1), x)
}

func TestCreateOrderSnapshotsPrice(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), o.Lines[0].PriceCents)

	// reprice the SKU after the fact
	_, err = e.CreateSKU(ctx, SKU{ID: "X", Name: "widget", PriceCents: 9999, OnHand: 4})
	require.NoError(t, err)

	got, err := e.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Lines[0].PriceCents)
	assert.Equal(t, o.TotalCents, got.TotalCents)
}

func TestConcurrentOrdersExactlyOneWins(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.CreateOrder(ctx, CreateOrderInput{
				CustomerID: "c1",
				Items:      []LineQty{{SKUID: "X", Qty: 3}},
			})
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			var ise *InsufficientStockError
			require.ErrorAs(t, err, &ise)
			short++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)

	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(2), x)
}

func TestLifecycleHappyPath(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 1}},
	})
	require.NoError(t, err)

	for _, next := range []Status{StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered} {
		var from Status
		o, from, err = e.Transition(ctx, o.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, o.Status)
		require.NoError(t, o.VerifyTotals())
		assert.True(t, CanTransition(from, next))
	}
}

func TestTransitionRejectsSkippingStates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 1}},
	})
	require.NoError(t, err)

	_, _, err = e.Transition(ctx, o.ID, StatusShipped)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusPending, ite.From)
	assert.Equal(t, StatusShipped, ite.To)
}

func TestCancelRestoresStockExactlyOnce(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 3}, {SKUID: "Y", Qty: 2}},
	})
	require.NoError(t, err)

	_, _, err = e.Transition(ctx, o.ID, StatusConfirmed)
	require.NoError(t, err)

	_, _, err = e.Transition(ctx, o.ID, StatusCancelled)
	require.NoError(t, err)

	x, _ := m.Available(ctx, "X")
	y, _ := m.Available(ctx, "Y")
	assert.Equal(t, int64(5), x)
	assert.Equal(t, int64(10), y)

	// cancelling again is rejected, not silently repeated
	_, _, err = e.Transition(ctx, o.ID, StatusCancelled)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusCancelled, ite.From)

	x, _ = m.Available(ctx, "X")
	assert.Equal(t, int64(5), x)
}

func TestConcurrentCancelSingleRestore(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 4}},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = e.Transition(ctx, o.ID, StatusCancelled)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok, "exactly one cancel may win")

	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(5), x, "stock restored exactly once")
}

func TestDeleteOrder(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 2}},
	})
	require.NoError(t, err)

	require.NoError(t, e.DeleteOrder(ctx, o.ID))

	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(5), x)

	_, err = e.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestDeleteRejectedPastPending(t *testing.T) {
	e, m := newTestEngine(t)
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 2}},
	})
	require.NoError(t, err)
	_, _, err = e.Transition(ctx, o.ID, StatusConfirmed)
	require.NoError(t, err)
	_, _, err = e.Transition(ctx, o.ID, StatusProcessing)
	require.NoError(t, err)

	err = e.DeleteOrder(ctx, o.ID)
	var ide *IllegalDeleteError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, StatusProcessing, ide.Status)

	// stock untouched by the failed delete
	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(3), x)
}

func TestDeleteSKUReferentialIntegrity(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 1}},
	})
	require.NoError(t, err)

	err = e.DeleteSKU(ctx, "X")
	var sre *SKUReferencedError
	require.ErrorAs(t, err, &sre)
	assert.Equal(t, "X", sre.SKUID)

	// Y is on no order and may go
	require.NoError(t, e.DeleteSKU(ctx, "Y"))
	_, err = e.GetSKU(ctx, "Y")
	assert.ErrorIs(t, err, ErrSKUNotFound)
}

func TestTransitionUnknownOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	_, _, err := e.Transition(context.Background(), "nope", StatusConfirmed)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestTransitionUnknownStatus(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 1}},
	})
	require.NoError(t, err)
	_, _, err = e.Transition(ctx, o.ID, Status("PAID"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// insertFailStore wraps Memory and fails the first Insert, proving the
// ledger decrement is compensated when order persistence fails.
type insertFailStore struct {
	*Memory
	failed bool
}

func (s *insertFailStore) Insert(ctx context.Context, o *Order) error {
	if !s.failed {
		s.failed = true
		return assert.AnError
	}
	return s.Memory.Insert(ctx, o)
}

func TestCreateOrderCompensatesFailedInsert(t *testing.T) {
	m := seedMemory(t, SKU{ID: "X", PriceCents: 1000, OnHand: 5})
	store := &insertFailStore{Memory: m}
	e := NewEngine(m, m, store, NewPricing(decimal.RequireFromString("0.10"), 1000))
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 3}},
	})
	require.ErrorIs(t, err, assert.AnError)

	// the decrement was rolled back
	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(5), x)

	// and a retry goes through cleanly
	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	x, _ = m.Available(ctx, "X")
	assert.Equal(t, int64(2), x)
}

// deleteFailStore wraps Memory and fails the first Delete, proving the
// restore is taken back when the order row cannot be removed.
type deleteFailStore struct {
	*Memory
	failed bool
}

func (s *deleteFailStore) Delete(ctx context.Context, id string, onlyStatus Status) (bool, error) {
	if !s.failed {
		s.failed = true
		return false, assert.AnError
	}
	return s.Memory.Delete(ctx, id, onlyStatus)
}

func TestDeleteOrderCompensatesFailedDelete(t *testing.T) {
	m := seedMemory(t, SKU{ID: "X", PriceCents: 1000, OnHand: 5})
	store := &deleteFailStore{Memory: m}
	e := NewEngine(m, m, store, NewPricing(decimal.RequireFromString("0.10"), 1000))
	ctx := context.Background()

	o, err := e.CreateOrder(ctx, CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 2}},
	})
	require.NoError(t, err)

	err = e.DeleteOrder(ctx, o.ID)
	require.ErrorIs(t, err, assert.AnError)

	// the interim restore was re-decremented and the order survived
	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(3), x)
	got, gerr := e.GetOrder(ctx, o.ID)
	require.NoError(t, gerr)
	assert.Equal(t, StatusPending, got.Status)

	// a retry deletes and restores for good
	require.NoError(t, e.DeleteOrder(ctx, o.ID))
	x, _ = m.Available(ctx, "X")
	assert.Equal(t, int64(5), x)
	_, err = e.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// blindStore wraps Memory and misses the first external-id lookup, forcing
// two creates with the same external id down the insert path at once.
type blindStore struct {
	*Memory
	missed bool
}

func (s *blindStore) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	if !s.missed {
		s.missed = true
		return nil, ErrOrderNotFound
	}
	return s.Memory.GetByExternalID(ctx, externalID)
}

func TestCreateOrderExternalIDRaceDecrementsOnce(t *testing.T) {
	m := seedMemory(t, SKU{ID: "X", PriceCents: 1000, OnHand: 5})
	store := &blindStore{Memory: m}
	e := NewEngine(m, m, store, NewPricing(decimal.RequireFromString("0.10"), 1000))
	ctx := context.Background()

	in := CreateOrderInput{
		CustomerID: "c1",
		ExternalID: "ext-9",
		Items:      []LineQty{{SKUID: "X", Qty: 2}},
	}
	first, err := e.CreateOrder(ctx, in)
	require.NoError(t, err)

	// the store pretends the first lookup saw nothing: the insert collides
	// on the external id, the decrement is compensated, and the winner's
	// order comes back
	store.missed = false
	second, err := e.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	x, _ := m.Available(ctx, "X")
	assert.Equal(t, int64(3), x)
}

func TestEngineBoundedWaitSurfacesTimeout(t *testing.T) {
	m := NewMemory(15 * time.Millisecond)
	_, err := m.CreateSKU(context.Background(), SKU{ID: "X", PriceCents: 100, OnHand: 5})
	require.NoError(t, err)
	e := NewEngine(m, m, m, NewPricing(decimal.Zero, 0))

	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	_, err = e.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: "c1",
		Items:      []LineQty{{SKUID: "X", Qty: 1}},
	})
	var cte *ConcurrencyTimeoutError
	assert.ErrorAs(t, err, &cte)
}
