package domain

import (
	"sort"

	catalog "github.com/tableserve/fulfillment/internal/catalog/domain"
)

// ConsumptionPerUnit computes the net ingredient draw for one unit of the
// product with the given modifiers applied.
//
// ADD contributes factor on its target even when the ingredient is not in
// the base recipe. REMOVE subtracts, floored at zero per ingredient.
// SUBSTITUTE affects price only; its quantity semantics are undefined in
// the product model. Entries that end up at or below zero are dropped.
//
// Lines come back sorted by ingredient id so reservations always lock
// ingredient rows in the same order.
func ConsumptionPerUnit(snap catalog.ProductSnapshot, modifierIDs []string) []ConsumptionLine {
	required := make(map[string]float64, len(snap.Recipe))
	for _, line := range snap.Recipe {
		required[line.IngredientID] += line.Quantity
	}

	for _, id := range uniqueIDs(modifierIDs) {
		m, ok := snap.Modifier(id)
		if !ok || m.TargetIngredientID == "" {
			continue
		}
		switch m.Kind {
		case catalog.ModifierAdd:
			required[m.TargetIngredientID] += m.Factor
		case catalog.ModifierRemove:
			required[m.TargetIngredientID] -= m.Factor
		case catalog.ModifierSubstitute:
			// price-only until the ingredient swap semantics are defined
		}
	}

	lines := make([]ConsumptionLine, 0, len(required))
	for id, qty := range required {
		if qty <= 0 {
			continue
		}
		lines = append(lines, ConsumptionLine{IngredientID: id, PerUnit: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].IngredientID < lines[j].IngredientID })
	return lines
}
