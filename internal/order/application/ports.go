package application

import (
	"context"

	catalog "github.com/tableserve/fulfillment/internal/catalog/domain"
	inventory "github.com/tableserve/fulfillment/internal/inventory/domain"
	"github.com/tableserve/fulfillment/internal/order/domain"
)

// CatalogReader supplies point-in-time product snapshots from the menu
// subsystem.
type CatalogReader interface {
	Product(ctx context.Context, productID string) (catalog.ProductSnapshot, error)
}

// Store opens transactional scopes over the order and inventory ledgers.
// Everything done through the Tx commits or rolls back as one unit,
// including application-level failures such as insufficient stock.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// Tx is one unit of work touching both ledgers plus the outbox.
type Tx interface {
	InsertOrder(ctx context.Context, o domain.Order) error
	// OrderForUpdate loads the order header with an exclusive lock.
	OrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	UpdateOrder(ctx context.Context, o domain.Order) error

	InsertItem(ctx context.Context, item domain.OrderItem) error
	UpdateItem(ctx context.Context, item domain.OrderItem) error
	// DeleteItem removes the item and its stored consumption lines.
	DeleteItem(ctx context.Context, orderID, itemID string) error
	Item(ctx context.Context, orderID, itemID string) (domain.OrderItem, error)
	Items(ctx context.Context, orderID string) ([]domain.OrderItem, error)

	InsertConsumption(ctx context.Context, itemID string, lines []domain.ConsumptionLine) error
	Consumption(ctx context.Context, itemID string) ([]domain.ConsumptionLine, error)

	// Reserve atomically checks stock >= qty and decrements; on failure it
	// returns inventory.InsufficientStockError and mutates nothing.
	Reserve(ctx context.Context, ingredientID string, qty float64) (inventory.Level, error)
	// Release atomically returns a prior reservation to stock.
	Release(ctx context.Context, ingredientID string, qty float64) error

	AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) error
}
