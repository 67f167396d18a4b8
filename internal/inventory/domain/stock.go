// Package domain models the per-ingredient stock ledger.
package domain

import (
	"errors"
	"fmt"
)

var ErrIngredientNotFound = errors.New("ingredient not found")

// Ingredient carries available stock and the low-stock threshold. Stock may
// sit at or below MinThreshold; zero is the only hard floor.
type Ingredient struct {
	ID           string
	Name         string
	Unit         string
	Quantity     float64
	MinThreshold float64
}

// Level is the ledger state right after a reservation.
type Level struct {
	Remaining    float64
	MinThreshold float64
}

// Low reports whether the remaining stock warrants a low-stock signal.
func (l Level) Low() bool {
	return l.Remaining <= l.MinThreshold
}

// InsufficientStockError is the expected, user-facing reservation failure.
type InsufficientStockError struct {
	IngredientID string
	Available    float64
	Required     float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for ingredient %s: available %.3f, required %.3f",
		e.IngredientID, e.Available, e.Required)
}

// LowStock is emitted through the outbox when a reservation leaves an
// ingredient at or below its threshold.
type LowStock struct {
	IngredientID string
	Remaining    float64
	MinThreshold float64
}
