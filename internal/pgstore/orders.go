package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cataloghq/fulfillment/internal/fulfillment"
)

// Insert persists the order header and its lines in one transaction.
func (r *Repo) Insert(ctx context.Context, o *fulfillment.Order) error {
	if err := o.VerifyTotals(); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, status, subtotal_cents,
		                   tax_cents, shipping_cents, total_cents, ship_to, note,
		                   created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, nullIfEmpty(o.ExternalID), o.CustomerID, string(o.Status),
		o.SubtotalCents, o.TaxCents, o.ShippingCents, o.TotalCents,
		o.ShipTo, o.Note, o.CreatedAt, o.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_external_id_key" {
			return fulfillment.ErrExternalIDTaken
		}
		return err
	}
	for i, l := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, sku_id, pos, qty, price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, l.SKUID, i, l.Qty, l.PriceCents); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (*fulfillment.Order, error) {
	return r.getBy(ctx, `id=$1`, id)
}

func (r *Repo) GetByExternalID(ctx context.Context, externalID string) (*fulfillment.Order, error) {
	return r.getBy(ctx, `external_id=$1`, externalID)
}

func (r *Repo) getBy(ctx context.Context, where string, arg any) (*fulfillment.Order, error) {
	var o fulfillment.Order
	var ext sql.NullString
	err := r.DB.QueryRow(ctx, `
		SELECT id, external_id, customer_id, status, subtotal_cents, tax_cents,
		       shipping_cents, total_cents, ship_to, note, created_at, updated_at
		FROM orders WHERE `+where, arg).
		Scan(&o.ID, &ext, &o.CustomerID, &o.Status, &o.SubtotalCents, &o.TaxCents,
			&o.ShippingCents, &o.TotalCents, &o.ShipTo, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fulfillment.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.ExternalID = ext.String

	rows, err := r.DB.Query(ctx, `
		SELECT sku_id, qty, price_cents FROM order_lines
		WHERE order_id=$1 ORDER BY pos`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l fulfillment.OrderLine
		if err := rows.Scan(&l.SKUID, &l.Qty, &l.PriceCents); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	return &o, rows.Err()
}

// UpdateStatus applies the transition only if the stored status still equals
// from; the affected-row count tells the caller whether it won the race.
func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to fulfillment.Status, at time.Time) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Delete removes the order (lines cascade) only while its status matches.
func (r *Repo) Delete(ctx context.Context, id string, onlyStatus fulfillment.Status) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		DELETE FROM orders WHERE id=$1 AND status=$2`, id, string(onlyStatus))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) SKUReferenced(ctx context.Context, skuID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM order_lines WHERE sku_id=$1)`, skuID).Scan(&exists)
	return exists, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
