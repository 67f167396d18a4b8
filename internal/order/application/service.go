// Package application implements the order ledger operations. Each
// operation runs inside one Store.WithinTx scope so the order mutation,
// the stock reservation and the outbox event commit or roll back together.
package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	inventory "github.com/tableserve/fulfillment/internal/inventory/domain"
	"github.com/tableserve/fulfillment/internal/order/domain"
)

type Service struct {
	log     *slog.Logger
	catalog CatalogReader
	store   Store
	now     func() time.Time
	newID   func() string
}

func NewService(log *slog.Logger, catalog CatalogReader, store Store) *Service {
	return &Service{
		log:     log,
		catalog: catalog,
		store:   store,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

type ItemInput struct {
	ProductID   string
	Quantity    int
	ModifierIDs []string
}

type CreateOrderInput struct {
	CustomerID string
	TableID    string
	Items      []ItemInput
}

// CreateOrder opens an order and applies the initial items, if any, in one
// transaction. A failing item aborts the whole creation.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	o := domain.NewOrder(s.newID(), in.CustomerID, in.TableID, s.now().UTC())

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		for _, item := range in.Items {
			added, err := s.addItemTx(ctx, tx, &o, item)
			if err != nil {
				return err
			}
			o.Items = append(o.Items, added)
		}
		return appendEvent(ctx, tx, "order", o.ID, "OrderCreated", domain.OrderCreated{
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			TableID:    o.TableID,
			TotalCents: o.TotalCents,
			Items:      o.Items,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.log.Info("order created", "order_id", o.ID, "items", len(o.Items), "total_cents", o.TotalCents)
	return o, nil
}

// AddItem resolves price and consumption, reserves stock and persists the
// line item, keeping the order total in sync.
func (s *Service) AddItem(ctx context.Context, orderID string, in ItemInput) (domain.OrderItem, error) {
	var added domain.OrderItem

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Open() {
			return domain.ErrOrderNotOpen
		}
		added, err = s.addItemTx(ctx, tx, &o, in)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, "order", o.ID, "OrderItemAdded", domain.OrderItemAdded{
			OrderID:         o.ID,
			Item:            added,
			OrderTotalCents: o.TotalCents,
		})
	})
	if err != nil {
		return domain.OrderItem{}, err
	}

	s.log.Info("item added", "order_id", orderID, "item_id", added.ID, "product_id", added.ProductID, "quantity", added.Quantity)
	return added, nil
}

// UpdateItemQuantity applies only the stock delta implied by the quantity
// change and recomputes the line total from the item's fixed unit price.
// A non-positive quantity behaves as RemoveItem.
func (s *Service) UpdateItemQuantity(ctx context.Context, orderID, itemID string, quantity int) (domain.OrderItem, error) {
	if quantity <= 0 {
		return domain.OrderItem{}, s.RemoveItem(ctx, orderID, itemID)
	}

	var updated domain.OrderItem

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Open() {
			return domain.ErrOrderNotOpen
		}
		item, err := tx.Item(ctx, orderID, itemID)
		if err != nil {
			return err
		}
		if item.Quantity == quantity {
			updated = item
			return nil
		}

		lines, err := tx.Consumption(ctx, item.ID)
		if err != nil {
			return err
		}
		delta := quantity - item.Quantity
		for _, ln := range lines {
			if delta > 0 {
				if err := s.reserve(ctx, tx, ln.IngredientID, ln.PerUnit*float64(delta)); err != nil {
					return err
				}
			} else if err := tx.Release(ctx, ln.IngredientID, ln.PerUnit*float64(-delta)); err != nil {
				return err
			}
		}

		oldLine := item.LineTotalCents
		item.Quantity = quantity
		item.LineTotalCents = item.UnitPriceCents * int64(quantity)
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}

		o.TotalCents += item.LineTotalCents - oldLine
		o.UpdatedAt = s.now().UTC()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		updated = item
		return appendEvent(ctx, tx, "order", o.ID, "OrderItemUpdated", domain.OrderItemUpdated{
			OrderID:         o.ID,
			ItemID:          item.ID,
			Quantity:        item.Quantity,
			LineTotalCents:  item.LineTotalCents,
			OrderTotalCents: o.TotalCents,
		})
	})
	if err != nil {
		return domain.OrderItem{}, err
	}

	s.log.Info("item quantity updated", "order_id", orderID, "item_id", itemID, "quantity", quantity)
	return updated, nil
}

// RemoveItem releases every ingredient quantity originally reserved for
// the item, deletes it and decrements the order total.
func (s *Service) RemoveItem(ctx context.Context, orderID, itemID string) error {
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Open() {
			return domain.ErrOrderNotOpen
		}
		item, err := tx.Item(ctx, orderID, itemID)
		if err != nil {
			return err
		}
		if err := s.releaseItem(ctx, tx, item); err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, orderID, itemID); err != nil {
			return err
		}

		o.TotalCents -= item.LineTotalCents
		o.UpdatedAt = s.now().UTC()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return appendEvent(ctx, tx, "order", o.ID, "OrderItemRemoved", domain.OrderItemRemoved{
			OrderID:         o.ID,
			ItemID:          itemID,
			OrderTotalCents: o.TotalCents,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("item removed", "order_id", orderID, "item_id", itemID)
	return nil
}

// CloseOrder marks an open order as paid-for and closed. Stock stays
// consumed. Driven by the payment subsystem.
func (s *Service) CloseOrder(ctx context.Context, orderID string) error {
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := o.Transition(domain.StatusClosed, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return appendEvent(ctx, tx, "order", o.ID, "OrderClosed", domain.OrderClosed{
			OrderID:    o.ID,
			TotalCents: o.TotalCents,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("order closed", "order_id", orderID)
	return nil
}

// CancelOrder cancels an open order and releases the stock reserved for
// every item; nothing was prepared, so the deductions are reversed.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) error {
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := o.Transition(domain.StatusCancelled, s.now().UTC()); err != nil {
			return err
		}
		items, err := tx.Items(ctx, orderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := s.releaseItem(ctx, tx, item); err != nil {
				return err
			}
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return appendEvent(ctx, tx, "order", o.ID, "OrderCancelled", domain.OrderCancelled{
			OrderID: o.ID,
			Reason:  reason,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("order cancelled", "order_id", orderID, "reason", reason)
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// addItemTx is the shared add path; CreateOrder calls it per initial item
// inside its own outer transaction.
func (s *Service) addItemTx(ctx context.Context, tx Tx, o *domain.Order, in ItemInput) (domain.OrderItem, error) {
	if in.Quantity <= 0 {
		return domain.OrderItem{}, domain.ErrInvalidQuantity
	}

	snap, err := s.catalog.Product(ctx, in.ProductID)
	if err != nil {
		return domain.OrderItem{}, err
	}

	quote := domain.ResolveQuote(snap, in.Quantity, in.ModifierIDs, s.now().UTC())
	lines := domain.ConsumptionPerUnit(snap, in.ModifierIDs)

	for _, ln := range lines {
		if err := s.reserve(ctx, tx, ln.IngredientID, ln.PerUnit*float64(in.Quantity)); err != nil {
			return domain.OrderItem{}, err
		}
	}

	item := domain.OrderItem{
		ID:             s.newID(),
		OrderID:        o.ID,
		ProductID:      in.ProductID,
		Quantity:       in.Quantity,
		UnitPriceCents: quote.UnitPriceCents,
		LineTotalCents: quote.LineTotalCents,
		ModifierIDs:    in.ModifierIDs,
	}
	if err := tx.InsertItem(ctx, item); err != nil {
		return domain.OrderItem{}, err
	}
	if err := tx.InsertConsumption(ctx, item.ID, lines); err != nil {
		return domain.OrderItem{}, err
	}

	o.TotalCents += quote.LineTotalCents
	o.UpdatedAt = s.now().UTC()
	if err := tx.UpdateOrder(ctx, *o); err != nil {
		return domain.OrderItem{}, err
	}
	return item, nil
}

// reserve wraps Tx.Reserve with low-stock signaling.
func (s *Service) reserve(ctx context.Context, tx Tx, ingredientID string, qty float64) error {
	level, err := tx.Reserve(ctx, ingredientID, qty)
	if err != nil {
		return err
	}
	if level.Low() {
		s.log.Warn("ingredient low on stock", "ingredient_id", ingredientID, "remaining", level.Remaining)
		return appendEvent(ctx, tx, "ingredient", ingredientID, "IngredientLowStock", inventory.LowStock{
			IngredientID: ingredientID,
			Remaining:    level.Remaining,
			MinThreshold: level.MinThreshold,
		})
	}
	return nil
}

func (s *Service) releaseItem(ctx context.Context, tx Tx, item domain.OrderItem) error {
	lines, err := tx.Consumption(ctx, item.ID)
	if err != nil {
		return err
	}
	for _, ln := range lines {
		if err := tx.Release(ctx, ln.IngredientID, ln.PerUnit*float64(item.Quantity)); err != nil {
			return err
		}
	}
	return nil
}

func appendEvent(ctx context.Context, tx Tx, aggregateType, aggregateID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, aggregateType, aggregateID, eventType, raw)
}
