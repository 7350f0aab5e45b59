package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cataloghq/fulfillment/internal/fulfillment"
)

// Repo implements the fulfillment Ledger, Catalog and OrderStore against
// Postgres. Each mutation runs as one transaction, so the all-or-nothing
// guarantees come from the database rather than compensating code.
type Repo struct {
	DB *pgxpool.Pool

	// Wait bounds how long a ledger operation may block on row locks.
	Wait time.Duration
}

func New(db *pgxpool.Pool, wait time.Duration) *Repo {
	return &Repo{DB: db, Wait: wait}
}

const schema = `
CREATE TABLE IF NOT EXISTS skus(
  id          text PRIMARY KEY,
  name        text NOT NULL,
  price_cents bigint NOT NULL CHECK (price_cents >= 0),
  on_hand     bigint NOT NULL CHECK (on_hand >= 0),
  reserved    bigint NOT NULL DEFAULT 0 CHECK (reserved >= 0 AND reserved <= on_hand),
  created_at  timestamptz NOT NULL DEFAULT now(),
  updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders(
  id             text PRIMARY KEY,
  external_id    text UNIQUE,
  customer_id    text NOT NULL,
  status         text NOT NULL,
  subtotal_cents bigint NOT NULL,
  tax_cents      bigint NOT NULL,
  shipping_cents bigint NOT NULL,
  total_cents    bigint NOT NULL,
  ship_to        text NOT NULL DEFAULT '',
  note           text NOT NULL DEFAULT '',
  created_at     timestamptz NOT NULL,
  updated_at     timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS order_lines(
  order_id    text NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  sku_id      text NOT NULL REFERENCES skus(id),
  pos         int NOT NULL,
  qty         bigint NOT NULL CHECK (qty > 0),
  price_cents bigint NOT NULL,
  PRIMARY KEY(order_id, sku_id)
);

CREATE TABLE IF NOT EXISTS order_status_log(
  id          bigserial PRIMARY KEY,
  order_id    text NOT NULL,
  prev_status text NOT NULL,
  next_status text NOT NULL,
  occurred_at timestamptz NOT NULL,
  event_id    text NOT NULL UNIQUE
);
`

func (r *Repo) Migrate(ctx context.Context) error {
	_, err := r.DB.Exec(ctx, schema)
	return err
}

// withDeadline bounds ledger waits; an expired deadline surfaces as the
// domain's concurrency timeout instead of a raw context error.
func (r *Repo) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Wait <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.Wait)
}

func (r *Repo) mapTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &fulfillment.ConcurrencyTimeoutError{Wait: r.Wait}
	}
	return err
}
