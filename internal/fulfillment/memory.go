package fulfillment

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Memory implements Ledger, Catalog and OrderStore over process memory.
// All operations serialize through a single semaphore with a bounded timed
// acquire, so the check-and-decrement over a whole line set is one aggregate
// critical section: no per-SKU lock ordering exists to deadlock on, and two
// concurrent orders can never jointly overdraw a SKU.
type Memory struct {
	sem  chan struct{}
	wait time.Duration

	skus       map[string]*SKU
	orders     map[string]*Order
	byExternal map[string]string
}

func NewMemory(wait time.Duration) *Memory {
	return &Memory{
		sem:        make(chan struct{}, 1),
		wait:       wait,
		skus:       make(map[string]*SKU),
		orders:     make(map[string]*Order),
		byExternal: make(map[string]string),
	}
}

func (m *Memory) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	default:
	}
	t := time.NewTimer(m.wait)
	defer t.Stop()
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return &ConcurrencyTimeoutError{Wait: m.wait}
	}
}

func (m *Memory) release() { <-m.sem }

// --- Ledger ---

func (m *Memory) ReserveAndDecrement(ctx context.Context, lines []LineQty) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	// check the whole set before touching anything; quantities accumulate
	// per SKU so a set that names one SKU twice is judged by its sum
	need := make(map[string]int64, len(lines))
	for _, l := range lines {
		s, ok := m.skus[l.SKUID]
		if !ok {
			return &UnknownSKUError{SKUID: l.SKUID}
		}
		need[l.SKUID] += l.Qty
		if s.Available() < need[l.SKUID] {
			return &InsufficientStockError{SKUID: l.SKUID, Requested: need[l.SKUID], Available: s.Available()}
		}
	}
	now := time.Now().UTC()
	for _, l := range lines {
		s := m.skus[l.SKUID]
		s.OnHand -= l.Qty
		s.UpdatedAt = now
	}
	return nil
}

func (m *Memory) Restore(ctx context.Context, lines []LineQty) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	now := time.Now().UTC()
	for _, l := range lines {
		if s, ok := m.skus[l.SKUID]; ok {
			s.OnHand += l.Qty
			s.UpdatedAt = now
		}
	}
	return nil
}

func (m *Memory) Available(ctx context.Context, skuID string) (int64, error) {
	if err := m.acquire(ctx); err != nil {
		return 0, err
	}
	defer m.release()

	s, ok := m.skus[skuID]
	if !ok {
		return 0, ErrSKUNotFound
	}
	return s.Available(), nil
}

// --- Catalog ---

func (m *Memory) Resolve(ctx context.Context, skuIDs []string) (map[string]SKU, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	out := make(map[string]SKU, len(skuIDs))
	for _, id := range skuIDs {
		if s, ok := m.skus[id]; ok {
			out[id] = *s
		}
	}
	return out, nil
}

func (m *Memory) CreateSKU(ctx context.Context, sku SKU) (SKU, error) {
	if err := m.acquire(ctx); err != nil {
		return SKU{}, err
	}
	defer m.release()

	if sku.ID == "" {
		sku.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sku.CreatedAt = now
	sku.UpdatedAt = now
	s := sku
	m.skus[s.ID] = &s
	return s, nil
}

func (m *Memory) DeleteSKU(ctx context.Context, skuID string) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if _, ok := m.skus[skuID]; !ok {
		return ErrSKUNotFound
	}
	delete(m.skus, skuID)
	return nil
}

func (m *Memory) GetSKU(ctx context.Context, skuID string) (SKU, error) {
	if err := m.acquire(ctx); err != nil {
		return SKU{}, err
	}
	defer m.release()

	s, ok := m.skus[skuID]
	if !ok {
		return SKU{}, ErrSKUNotFound
	}
	return *s, nil
}

func (m *Memory) ListSKUs(ctx context.Context) ([]SKU, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	out := make([]SKU, 0, len(m.skus))
	for _, s := range m.skus {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- OrderStore ---

func (m *Memory) Insert(ctx context.Context, o *Order) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if err := o.VerifyTotals(); err != nil {
		return err
	}
	if o.ExternalID != "" {
		if _, taken := m.byExternal[o.ExternalID]; taken {
			return ErrExternalIDTaken
		}
	}
	m.orders[o.ID] = o.Clone()
	if o.ExternalID != "" {
		m.byExternal[o.ExternalID] = o.ID
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Order, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	id, ok := m.byExternal[externalID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return m.orders[id].Clone(), nil
}

func (m *Memory) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error) {
	if err := m.acquire(ctx); err != nil {
		return false, err
	}
	defer m.release()

	o, ok := m.orders[id]
	if !ok {
		return false, ErrOrderNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, id string, onlyStatus Status) (bool, error) {
	if err := m.acquire(ctx); err != nil {
		return false, err
	}
	defer m.release()

	o, ok := m.orders[id]
	if !ok {
		return false, ErrOrderNotFound
	}
	if o.Status != onlyStatus {
		return false, nil
	}
	delete(m.orders, id)
	if o.ExternalID != "" {
		delete(m.byExternal, o.ExternalID)
	}
	return true, nil
}

func (m *Memory) SKUReferenced(ctx context.Context, skuID string) (bool, error) {
	if err := m.acquire(ctx); err != nil {
		return false, err
	}
	defer m.release()

	for _, o := range m.orders {
		for _, l := range o.Lines {
			if l.SKUID == skuID {
				return true, nil
			}
		}
	}
	return false, nil
}
