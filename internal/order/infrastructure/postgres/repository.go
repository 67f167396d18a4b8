// Package postgres persists the order and inventory ledgers. A single
// pgx transaction backs each application.Tx, so the order mutation, the
// stock movement and the outbox row commit or roll back as one unit.
package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	inventory "github.com/tableserve/fulfillment/internal/inventory/domain"
	"github.com/tableserve/fulfillment/internal/order/application"
	"github.com/tableserve/fulfillment/internal/order/domain"
	"github.com/tableserve/fulfillment/pkg/outbox"
)

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx application.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var o domain.Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, table_id, status, total_cents, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.CustomerID, &o.TableID, &o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_cents, line_total_cents, modifier_ids
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents, &it.LineTotalCents, &it.ModifierIDs); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

type Tx struct {
	tx pgx.Tx
}

func (t *Tx) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, table_id, status, total_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.ID, o.CustomerID, o.TableID, o.Status, o.TotalCents, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *Tx) OrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	var o domain.Order
	err := t.tx.QueryRow(ctx, `
		SELECT id, customer_id, table_id, status, total_cents, created_at, updated_at
		FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&o.ID, &o.CustomerID, &o.TableID, &o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, err
}

func (t *Tx) UpdateOrder(ctx context.Context, o domain.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, total_cents=$3, updated_at=$4 WHERE id=$1`,
		o.ID, o.Status, o.TotalCents, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (t *Tx) InsertItem(ctx context.Context, item domain.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price_cents, line_total_cents, modifier_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPriceCents, item.LineTotalCents, item.ModifierIDs)
	return err
}

func (t *Tx) UpdateItem(ctx context.Context, item domain.OrderItem) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE order_items SET quantity=$3, line_total_cents=$4 WHERE id=$1 AND order_id=$2`,
		item.ID, item.OrderID, item.Quantity, item.LineTotalCents)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (t *Tx) DeleteItem(ctx context.Context, orderID, itemID string) error {
	// order_item_consumption goes with it via ON DELETE CASCADE
	ct, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE id=$1 AND order_id=$2`, itemID, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (t *Tx) Item(ctx context.Context, orderID, itemID string) (domain.OrderItem, error) {
	var it domain.OrderItem
	err := t.tx.QueryRow(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_cents, line_total_cents, modifier_ids
		FROM order_items WHERE id=$1 AND order_id=$2`, itemID, orderID).
		Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents, &it.LineTotalCents, &it.ModifierIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OrderItem{}, domain.ErrItemNotFound
	}
	return it, err
}

func (t *Tx) Items(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_cents, line_total_cents, modifier_ids
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents, &it.LineTotalCents, &it.ModifierIDs); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *Tx) InsertConsumption(ctx context.Context, itemID string, lines []domain.ConsumptionLine) error {
	batch := &pgx.Batch{}
	for _, ln := range lines {
		batch.Queue(`
			INSERT INTO order_item_consumption (item_id, ingredient_id, per_unit)
			VALUES ($1,$2,$3)`, itemID, ln.IngredientID, ln.PerUnit)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *Tx) Consumption(ctx context.Context, itemID string) ([]domain.ConsumptionLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT ingredient_id, per_unit FROM order_item_consumption
		WHERE item_id=$1 ORDER BY ingredient_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.ConsumptionLine
	for rows.Next() {
		var ln domain.ConsumptionLine
		if err := rows.Scan(&ln.IngredientID, &ln.PerUnit); err != nil {
			return nil, err
		}
		lines = append(lines, ln)
	}
	return lines, rows.Err()
}

// Reserve is a single conditional decrement: the row only changes when
// enough stock remains, so concurrent reservations cannot jointly drive
// the quantity negative.
func (t *Tx) Reserve(ctx context.Context, ingredientID string, qty float64) (inventory.Level, error) {
	var level inventory.Level
	err := t.tx.QueryRow(ctx, `
		UPDATE ingredients SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2
		RETURNING quantity, min_threshold`, ingredientID, qty).
		Scan(&level.Remaining, &level.MinThreshold)
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return inventory.Level{}, err
	}

	// Condition failed: missing row or not enough stock.
	var available float64
	err = t.tx.QueryRow(ctx, `SELECT quantity FROM ingredients WHERE id=$1 FOR UPDATE`, ingredientID).
		Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Level{}, inventory.ErrIngredientNotFound
	}
	if err != nil {
		return inventory.Level{}, err
	}
	return inventory.Level{}, &inventory.InsufficientStockError{
		IngredientID: ingredientID,
		Available:    available,
		Required:     qty,
	}
}

func (t *Tx) Release(ctx context.Context, ingredientID string, qty float64) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE ingredients SET quantity = quantity + $2, updated_at = now() WHERE id = $1`,
		ingredientID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrIngredientNotFound
	}
	return nil
}

func (t *Tx) AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		aggregateType, aggregateID, eventType, payload,
		map[string]string{"source": "fulfillment-service"}, carrier.Get("traceparent"))
	return err
}

// OutboxStore feeds the relay. Rows are claimed with a lease so several
// relay replicas can share the table without double-sending.
type OutboxStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + $2::interval
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status='pending' OR (status='in_progress' AND lease_until < now())
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at`,
		relayID, lease.String(), batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type, &ev.Payload, &ev.Headers, &ev.Traceparent, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status='sent' WHERE id = ANY($1)`, ids)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status='failed', last_error=$2, retry_count=retry_count+1 WHERE id=$1`,
		id, errMsg)
	return err
}

func (s *OutboxStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET lease_until=now() + $1::interval WHERE id = ANY($2) AND relay_id=$3`,
		lease.String(), ids, relayID)
	return err
}
