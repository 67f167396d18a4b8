// Package memory is a mutex-guarded in-memory implementation of the order
// application's Store port. It backs unit tests and local development; the
// whole ledger serializes on one lock, which is within the concurrency
// contract (reservations only need to serialize per ingredient).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	inventory "github.com/tableserve/fulfillment/internal/inventory/domain"
	"github.com/tableserve/fulfillment/internal/order/application"
	"github.com/tableserve/fulfillment/internal/order/domain"
)

// Event is an outbox row captured for inspection.
type Event struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
}

type state struct {
	orders      map[string]domain.Order
	items       map[string]map[string]domain.OrderItem // orderID -> itemID -> item
	consumption map[string][]domain.ConsumptionLine    // itemID -> lines
	ingredients map[string]inventory.Ingredient
	events      []Event
}

func (s state) clone() state {
	out := state{
		orders:      make(map[string]domain.Order, len(s.orders)),
		items:       make(map[string]map[string]domain.OrderItem, len(s.items)),
		consumption: make(map[string][]domain.ConsumptionLine, len(s.consumption)),
		ingredients: make(map[string]inventory.Ingredient, len(s.ingredients)),
		events:      append([]Event(nil), s.events...),
	}
	for id, o := range s.orders {
		out.orders[id] = o
	}
	for orderID, items := range s.items {
		m := make(map[string]domain.OrderItem, len(items))
		for id, it := range items {
			m[id] = it
		}
		out.items[orderID] = m
	}
	for itemID, lines := range s.consumption {
		out.consumption[itemID] = append([]domain.ConsumptionLine(nil), lines...)
	}
	for id, ing := range s.ingredients {
		out.ingredients[id] = ing
	}
	return out
}

type Store struct {
	mu sync.Mutex
	st state
}

func NewStore() *Store {
	return &Store{st: state{
		orders:      map[string]domain.Order{},
		items:       map[string]map[string]domain.OrderItem{},
		consumption: map[string][]domain.ConsumptionLine{},
		ingredients: map[string]inventory.Ingredient{},
	}}
}

// SeedIngredient loads stock outside any transaction.
func (s *Store) SeedIngredient(ing inventory.Ingredient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ingredients[ing.ID] = ing
}

// Ingredient reads current stock for assertions.
func (s *Store) Ingredient(id string) (inventory.Ingredient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ing, ok := s.st.ingredients[id]
	return ing, ok
}

// Events returns the captured outbox rows.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.st.events...)
}

// WithinTx runs fn against a working copy of the state; an error discards
// the copy, success swaps it in. The lock spans the whole scope, making the
// check-and-decrement linearizable.
func (s *Store) WithinTx(_ context.Context, fn func(tx application.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&Tx{st: &work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.st.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	o.Items = sortedItems(s.st.items[orderID])
	return o, nil
}

type Tx struct {
	st *state
}

func (t *Tx) InsertOrder(_ context.Context, o domain.Order) error {
	if _, exists := t.st.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	o.Items = nil
	t.st.orders[o.ID] = o
	t.st.items[o.ID] = map[string]domain.OrderItem{}
	return nil
}

func (t *Tx) OrderForUpdate(_ context.Context, orderID string) (domain.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (t *Tx) UpdateOrder(_ context.Context, o domain.Order) error {
	if _, ok := t.st.orders[o.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	o.Items = nil
	t.st.orders[o.ID] = o
	return nil
}

func (t *Tx) InsertItem(_ context.Context, item domain.OrderItem) error {
	items, ok := t.st.items[item.OrderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	items[item.ID] = item
	return nil
}

func (t *Tx) UpdateItem(_ context.Context, item domain.OrderItem) error {
	items, ok := t.st.items[item.OrderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if _, ok := items[item.ID]; !ok {
		return domain.ErrItemNotFound
	}
	items[item.ID] = item
	return nil
}

func (t *Tx) DeleteItem(_ context.Context, orderID, itemID string) error {
	items, ok := t.st.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if _, ok := items[itemID]; !ok {
		return domain.ErrItemNotFound
	}
	delete(items, itemID)
	delete(t.st.consumption, itemID)
	return nil
}

func (t *Tx) Item(_ context.Context, orderID, itemID string) (domain.OrderItem, error) {
	items, ok := t.st.items[orderID]
	if !ok {
		return domain.OrderItem{}, domain.ErrOrderNotFound
	}
	item, ok := items[itemID]
	if !ok {
		return domain.OrderItem{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (t *Tx) Items(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	items, ok := t.st.items[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return sortedItems(items), nil
}

func (t *Tx) InsertConsumption(_ context.Context, itemID string, lines []domain.ConsumptionLine) error {
	t.st.consumption[itemID] = append([]domain.ConsumptionLine(nil), lines...)
	return nil
}

func (t *Tx) Consumption(_ context.Context, itemID string) ([]domain.ConsumptionLine, error) {
	return append([]domain.ConsumptionLine(nil), t.st.consumption[itemID]...), nil
}

func (t *Tx) Reserve(_ context.Context, ingredientID string, qty float64) (inventory.Level, error) {
	ing, ok := t.st.ingredients[ingredientID]
	if !ok {
		return inventory.Level{}, fmt.Errorf("%w: %s", inventory.ErrIngredientNotFound, ingredientID)
	}
	if ing.Quantity < qty {
		return inventory.Level{}, &inventory.InsufficientStockError{
			IngredientID: ingredientID,
			Available:    ing.Quantity,
			Required:     qty,
		}
	}
	ing.Quantity -= qty
	t.st.ingredients[ingredientID] = ing
	return inventory.Level{Remaining: ing.Quantity, MinThreshold: ing.MinThreshold}, nil
}

func (t *Tx) Release(_ context.Context, ingredientID string, qty float64) error {
	ing, ok := t.st.ingredients[ingredientID]
	if !ok {
		return fmt.Errorf("%w: %s", inventory.ErrIngredientNotFound, ingredientID)
	}
	ing.Quantity += qty
	t.st.ingredients[ingredientID] = ing
	return nil
}

func (t *Tx) AppendEvent(_ context.Context, aggregateType, aggregateID, eventType string, payload []byte) error {
	t.st.events = append(t.st.events, Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
	})
	return nil
}

func sortedItems(m map[string]domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(m))
	for _, it := range m {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
