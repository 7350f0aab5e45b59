package pgstore

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/cataloghq/fulfillment/internal/fulfillment"
)

// ReserveAndDecrement locks the SKU rows for the whole set, checks every
// line, then decrements. Any shortfall rolls the transaction back, so no
// partial decrement is ever committed. Rows are locked in sorted SKU order;
// two overlapping orders always take the same locks in the same sequence.
func (r *Repo) ReserveAndDecrement(ctx context.Context, lines []fulfillment.LineQty) error {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	sorted := make([]fulfillment.LineQty, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SKUID < sorted[j].SKUID })

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return r.mapTimeout(ctx, err)
	}
	defer tx.Rollback(ctx)

	for _, l := range sorted {
		var onHand, reserved int64
		err := tx.QueryRow(ctx,
			`SELECT on_hand, reserved FROM skus WHERE id=$1 FOR UPDATE`, l.SKUID).
			Scan(&onHand, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return &fulfillment.UnknownSKUError{SKUID: l.SKUID}
		}
		if err != nil {
			return r.mapTimeout(ctx, err)
		}
		if onHand-reserved < l.Qty {
			return &fulfillment.InsufficientStockError{
				SKUID: l.SKUID, Requested: l.Qty, Available: onHand - reserved,
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE skus SET on_hand = on_hand - $2, updated_at = now() WHERE id=$1`,
			l.SKUID, l.Qty); err != nil {
			return r.mapTimeout(ctx, err)
		}
	}
	return r.mapTimeout(ctx, tx.Commit(ctx))
}

func (r *Repo) Restore(ctx context.Context, lines []fulfillment.LineQty) error {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return r.mapTimeout(ctx, err)
	}
	defer tx.Rollback(ctx)

	for _, l := range lines {
		if _, err := tx.Exec(ctx,
			`UPDATE skus SET on_hand = on_hand + $2, updated_at = now() WHERE id=$1`,
			l.SKUID, l.Qty); err != nil {
			return r.mapTimeout(ctx, err)
		}
	}
	return r.mapTimeout(ctx, tx.Commit(ctx))
}

func (r *Repo) Available(ctx context.Context, skuID string) (int64, error) {
	var onHand, reserved int64
	err := r.DB.QueryRow(ctx,
		`SELECT on_hand, reserved FROM skus WHERE id=$1`, skuID).Scan(&onHand, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fulfillment.ErrSKUNotFound
	}
	if err != nil {
		return 0, err
	}
	return onHand - reserved, nil
}
