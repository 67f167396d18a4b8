package domain

import (
	"time"

	catalog "github.com/tableserve/fulfillment/internal/catalog/domain"
)

// Quote is the resolved price for one line item.
type Quote struct {
	UnitPriceCents int64
	LineTotalCents int64
}

// ResolveQuote computes base price + selected modifier deltas, times
// quantity. Modifier ids that do not belong to the product are ignored,
// matching the tolerant legacy behavior. Pure; no side effects.
func ResolveQuote(snap catalog.ProductSnapshot, quantity int, modifierIDs []string, at time.Time) Quote {
	unit := snap.PriceAt(at)
	for _, id := range uniqueIDs(modifierIDs) {
		m, ok := snap.Modifier(id)
		if !ok {
			continue
		}
		unit += m.PriceDeltaCents
	}
	return Quote{
		UnitPriceCents: unit,
		LineTotalCents: unit * int64(quantity),
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
