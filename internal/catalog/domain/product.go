// Package domain holds the read-only catalog view the fulfillment engine
// consumes. Products, recipes, prices and modifiers are owned by the menu
// subsystem; this package only snapshots them.
package domain

import (
	"errors"
	"time"
)

var ErrProductNotFound = errors.New("product not found")

type ModifierKind string

const (
	ModifierAdd        ModifierKind = "add"
	ModifierRemove     ModifierKind = "remove"
	ModifierSubstitute ModifierKind = "substitute"
)

// RecipeLine is one ingredient of a product and the quantity consumed per
// unit ordered.
type RecipeLine struct {
	IngredientID string  `json:"ingredient_id"`
	Quantity     float64 `json:"quantity"`
}

// Price is a time-bounded price window. EffectiveTo nil means open-ended.
type Price struct {
	Cents         int64      `json:"cents"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// Covers reports whether t falls inside the window.
func (p Price) Covers(t time.Time) bool {
	if t.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || t.Before(*p.EffectiveTo)
}

// Modifier is a per-item customization. Factor is the ingredient quantity
// affected per unit ordered; PriceDeltaCents is signed.
type Modifier struct {
	ID                 string       `json:"id"`
	ProductID          string       `json:"product_id"`
	Kind               ModifierKind `json:"kind"`
	TargetIngredientID string       `json:"target_ingredient_id,omitempty"`
	Factor             float64      `json:"factor"`
	PriceDeltaCents    int64        `json:"price_delta_cents"`
}

// ProductSnapshot is the point-in-time catalog state an order operation
// resolves against.
type ProductSnapshot struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Recipe    []RecipeLine `json:"recipe"`
	Prices    []Price      `json:"prices"`
	Modifiers []Modifier   `json:"modifiers"`
}

// PriceAt returns the currently effective price: the covering window with
// the most recent EffectiveFrom. Zero when no window covers t, mirroring
// the legacy fallback instead of failing the request.
func (s ProductSnapshot) PriceAt(t time.Time) int64 {
	var (
		cents int64
		found bool
		from  time.Time
	)
	for _, p := range s.Prices {
		if !p.Covers(t) {
			continue
		}
		if !found || p.EffectiveFrom.After(from) {
			cents = p.Cents
			from = p.EffectiveFrom
			found = true
		}
	}
	return cents
}

// Modifier looks up one of the product's modifiers by id.
func (s ProductSnapshot) Modifier(id string) (Modifier, bool) {
	for _, m := range s.Modifiers {
		if m.ID == id {
			return m, true
		}
	}
	return Modifier{}, false
}
