// Package postgres reads catalog snapshots from the shared menu schema.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tableserve/fulfillment/internal/catalog/domain"
)

type Reader struct {
	pool *pgxpool.Pool
}

func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// Product assembles a full snapshot: header, recipe, price windows and
// modifiers.
func (r *Reader) Product(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	var snap domain.ProductSnapshot

	err := r.pool.QueryRow(ctx,
		`SELECT id, name FROM products WHERE id = $1`, productID,
	).Scan(&snap.ID, &snap.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProductSnapshot{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("load product %s: %w", productID, err)
	}

	if snap.Recipe, err = r.recipe(ctx, productID); err != nil {
		return domain.ProductSnapshot{}, err
	}
	if snap.Prices, err = r.prices(ctx, productID); err != nil {
		return domain.ProductSnapshot{}, err
	}
	if snap.Modifiers, err = r.modifiers(ctx, productID); err != nil {
		return domain.ProductSnapshot{}, err
	}
	return snap, nil
}

func (r *Reader) recipe(ctx context.Context, productID string) ([]domain.RecipeLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ingredient_id, quantity
		 FROM product_recipe WHERE product_id = $1 ORDER BY ingredient_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("load recipe %s: %w", productID, err)
	}
	defer rows.Close()

	var lines []domain.RecipeLine
	for rows.Next() {
		var l domain.RecipeLine
		if err := rows.Scan(&l.IngredientID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *Reader) prices(ctx context.Context, productID string) ([]domain.Price, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT price_cents, effective_from, effective_to
		 FROM product_prices WHERE product_id = $1 ORDER BY effective_from`, productID)
	if err != nil {
		return nil, fmt.Errorf("load prices %s: %w", productID, err)
	}
	defer rows.Close()

	var prices []domain.Price
	for rows.Next() {
		var p domain.Price
		if err := rows.Scan(&p.Cents, &p.EffectiveFrom, &p.EffectiveTo); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

func (r *Reader) modifiers(ctx context.Context, productID string) ([]domain.Modifier, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, kind, COALESCE(target_ingredient_id, ''), factor, price_delta_cents
		 FROM modifiers WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("load modifiers %s: %w", productID, err)
	}
	defer rows.Close()

	var mods []domain.Modifier
	for rows.Next() {
		var m domain.Modifier
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Kind, &m.TargetIngredientID, &m.Factor, &m.PriceDeltaCents); err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	return mods, rows.Err()
}
