// Package domain holds the order ledger aggregate: orders, their line
// items, the status state machine, and the pure pricing/consumption logic.
package domain

import (
	"errors"
	"time"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrItemNotFound    = errors.New("order item not found")
	ErrOrderNotOpen    = errors.New("order is not open")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// transitions is the explicit state table; closed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusOpen: {StatusClosed, StatusCancelled},
}

type Order struct {
	ID         string
	CustomerID string
	TableID    string
	Status     Status
	TotalCents int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Items      []OrderItem
}

// OrderItem fixes unit price and line total at the time it was added; the
// catalog changing later does not reprice existing items.
type OrderItem struct {
	ID             string
	OrderID        string
	ProductID      string
	Quantity       int
	UnitPriceCents int64
	LineTotalCents int64
	ModifierIDs    []string
}

// ConsumptionLine is the per-unit ingredient draw fixed at add time, kept
// alongside the item so reversal releases exactly what was reserved.
type ConsumptionLine struct {
	IngredientID string
	PerUnit      float64
}

func NewOrder(id, customerID, tableID string, at time.Time) Order {
	return Order{
		ID:         id,
		CustomerID: customerID,
		TableID:    tableID,
		Status:     StatusOpen,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// Open reports whether item mutations are permitted.
func (o Order) Open() bool {
	return o.Status == StatusOpen
}

// Transition moves the order to a new status, rejecting anything the state
// table does not allow.
func (o *Order) Transition(to Status, at time.Time) error {
	for _, allowed := range transitions[o.Status] {
		if allowed == to {
			o.Status = to
			o.UpdatedAt = at
			return nil
		}
	}
	return ErrOrderNotOpen
}

// SumLineTotals recomputes the order total from its items; persisted
// total_amount must always equal this.
func SumLineTotals(items []OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.LineTotalCents
	}
	return total
}
