package pgstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cataloghq/fulfillment/internal/fulfillment"
)

func (r *Repo) Resolve(ctx context.Context, skuIDs []string) (map[string]fulfillment.SKU, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price_cents, on_hand, reserved, created_at, updated_at
		FROM skus WHERE id = ANY($1)`, skuIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]fulfillment.SKU, len(skuIDs))
	for rows.Next() {
		var s fulfillment.SKU
		if err := rows.Scan(&s.ID, &s.Name, &s.PriceCents, &s.OnHand, &s.Reserved,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

func (r *Repo) CreateSKU(ctx context.Context, sku fulfillment.SKU) (fulfillment.SKU, error) {
	if sku.ID == "" {
		sku.ID = uuid.NewString()
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO skus(id, name, price_cents, on_hand, reserved)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		sku.ID, sku.Name, sku.PriceCents, sku.OnHand, sku.Reserved).
		Scan(&sku.CreatedAt, &sku.UpdatedAt)
	if err != nil {
		return fulfillment.SKU{}, err
	}
	return sku, nil
}

func (r *Repo) DeleteSKU(ctx context.Context, skuID string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM skus WHERE id=$1`, skuID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fulfillment.ErrSKUNotFound
	}
	return nil
}

func (r *Repo) GetSKU(ctx context.Context, skuID string) (fulfillment.SKU, error) {
	var s fulfillment.SKU
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, price_cents, on_hand, reserved, created_at, updated_at
		FROM skus WHERE id=$1`, skuID).
		Scan(&s.ID, &s.Name, &s.PriceCents, &s.OnHand, &s.Reserved, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fulfillment.SKU{}, fulfillment.ErrSKUNotFound
	}
	if err != nil {
		return fulfillment.SKU{}, err
	}
	return s, nil
}

func (r *Repo) ListSKUs(ctx context.Context) ([]fulfillment.SKU, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price_cents, on_hand, reserved, created_at, updated_at
		FROM skus ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fulfillment.SKU
	for rows.Next() {
		var s fulfillment.SKU
		if err := rows.Scan(&s.ID, &s.Name, &s.PriceCents, &s.OnHand, &s.Reserved,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
