package pgstore

import (
	"context"
	"time"

	"github.com/cataloghq/fulfillment/internal/fulfillment"
)

// InsertStatusLog records one status change. The unique event id makes the
// insert a no-op on redelivery, so the audit trail stays exactly-once even
// when the consumer sees a message twice.
func (r *Repo) InsertStatusLog(ctx context.Context, eventID, orderID string, prev, next string, at time.Time) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_status_log(order_id, prev_status, next_status, occurred_at, event_id)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (event_id) DO NOTHING`,
		orderID, prev, next, at, eventID)
	return err
}

func (r *Repo) StatusLog(ctx context.Context, orderID string) ([]fulfillment.StatusChange, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, prev_status, next_status, occurred_at
		FROM order_status_log WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fulfillment.StatusChange
	for rows.Next() {
		var e fulfillment.StatusChange
		if err := rows.Scan(&e.OrderID, &e.Prev, &e.Next, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
