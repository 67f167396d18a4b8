package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	catalog "github.com/tableserve/fulfillment/internal/catalog/domain"
	inventory "github.com/tableserve/fulfillment/internal/inventory/domain"
	"github.com/tableserve/fulfillment/internal/order/application"
	"github.com/tableserve/fulfillment/internal/order/domain"
	"github.com/tableserve/fulfillment/internal/order/infrastructure/memory"
)

type stubCatalog struct {
	mu       sync.Mutex
	products map[string]catalog.ProductSnapshot
}

func (c *stubCatalog) Product(_ context.Context, id string) (catalog.ProductSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.products[id]
	if !ok {
		return catalog.ProductSnapshot{}, catalog.ErrProductNotFound
	}
	return snap, nil
}

func (c *stubCatalog) put(snap catalog.ProductSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[snap.ID] = snap
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cake: 4 flour per unit, 1200 cents, with an extra-cheese ADD modifier.
func fixture(t *testing.T) (*application.Service, *stubCatalog, *memory.Store) {
	t.Helper()

	cat := &stubCatalog{products: map[string]catalog.ProductSnapshot{}}
	cat.put(catalog.ProductSnapshot{
		ID:   "cake",
		Name: "Cake",
		Recipe: []catalog.RecipeLine{
			{IngredientID: "flour", Quantity: 4},
		},
		Prices: []catalog.Price{
			{Cents: 1200, EffectiveFrom: time.Now().Add(-time.Hour)},
		},
		Modifiers: []catalog.Modifier{
			{ID: "extra-cheese", Kind: catalog.ModifierAdd, TargetIngredientID: "cheese", Factor: 1, PriceDeltaCents: 150},
		},
	})

	store := memory.NewStore()
	store.SeedIngredient(inventory.Ingredient{ID: "flour", Name: "Flour", Quantity: 10, MinThreshold: 1})
	store.SeedIngredient(inventory.Ingredient{ID: "cheese", Name: "Cheese", Quantity: 5})

	return application.NewService(testLogger(), cat, store), cat, store
}

func stock(t *testing.T, store *memory.Store, id string) float64 {
	t.Helper()
	ing, ok := store.Ingredient(id)
	if !ok {
		t.Fatalf("ingredient %s missing", id)
	}
	return ing.Quantity
}

func checkTotalInvariant(t *testing.T, svc *application.Service, orderID string) {
	t.Helper()
	o, err := svc.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.TotalCents != domain.SumLineTotals(o.Items) {
		t.Fatalf("total %d != sum of line totals %d", o.TotalCents, domain.SumLineTotals(o.Items))
	}
}

func TestCreateOrderWithInitialItems(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, application.CreateOrderInput{
		CustomerID: "cust-1",
		TableID:    "table-7",
		Items: []application.ItemInput{
			{ProductID: "cake", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o.TotalCents != 2400 {
		t.Fatalf("total = %d, want 2400", o.TotalCents)
	}
	if got := stock(t, store, "flour"); got != 2 {
		t.Fatalf("flour = %v, want 2", got)
	}
	checkTotalInvariant(t, svc, o.ID)

	var created bool
	for _, ev := range store.Events() {
		if ev.Type == "OrderCreated" && ev.AggregateID == o.ID {
			created = true
		}
	}
	if !created {
		t.Fatal("expected an OrderCreated outbox event")
	}
}

func TestCreateOrderFailingItemPersistsNothing(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, application.CreateOrderInput{
		Items: []application.ItemInput{
			{ProductID: "cake", Quantity: 2}, // consumes 8 flour
			{ProductID: "cake", Quantity: 1}, // needs 4 more, only 2 left
		},
	})
	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if o.ID != "" {
		t.Fatalf("expected zero order on failure, got %+v", o)
	}
	if got := stock(t, store, "flour"); got != 10 {
		t.Fatalf("flour = %v, want untouched 10", got)
	}
	if len(store.Events()) != 0 {
		t.Fatalf("no events should be committed, got %d", len(store.Events()))
	}
}

func TestAddItemFlourScenario(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, application.CreateOrderInput{})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	item, err := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 2})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if item.LineTotalCents != item.UnitPriceCents*2 {
		t.Fatalf("line total %d != unit %d * 2", item.LineTotalCents, item.UnitPriceCents)
	}
	if got := stock(t, store, "flour"); got != 2 {
		t.Fatalf("flour = %v, want 2", got)
	}

	_, err = svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 1})
	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.IngredientID != "flour" || insufficient.Available != 2 || insufficient.Required != 4 {
		t.Fatalf("error detail = %+v", insufficient)
	}
	if got := stock(t, store, "flour"); got != 2 {
		t.Fatalf("flour after failed add = %v, want 2", got)
	}
	checkTotalInvariant(t, svc, o.ID)
}

func TestAddItemModifierConsumesNewIngredient(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	item, err := svc.AddItem(ctx, o.ID, application.ItemInput{
		ProductID:   "cake",
		Quantity:    3,
		ModifierIDs: []string{"extra-cheese"},
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if got := stock(t, store, "cheese"); got != 2 {
		t.Fatalf("cheese = %v, want 2", got)
	}
	if item.UnitPriceCents != 1350 {
		t.Fatalf("unit price = %d, want 1350", item.UnitPriceCents)
	}
}

func TestAddItemAtomicAcrossIngredients(t *testing.T) {
	svc, cat, store := fixture(t)
	ctx := context.Background()

	// Needs 2 flour and 20 cheese per unit; cheese cannot satisfy it.
	cat.put(catalog.ProductSnapshot{
		ID: "fondue",
		Recipe: []catalog.RecipeLine{
			{IngredientID: "cheese", Quantity: 20},
			{IngredientID: "flour", Quantity: 2},
		},
		Prices: []catalog.Price{{Cents: 2000, EffectiveFrom: time.Now().Add(-time.Hour)}},
	})

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	_, err := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "fondue", Quantity: 1})
	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if got := stock(t, store, "flour"); got != 10 {
		t.Fatalf("flour = %v, want 10 (no partial reservation)", got)
	}
	if got := stock(t, store, "cheese"); got != 5 {
		t.Fatalf("cheese = %v, want 5", got)
	}

	got, err := svc.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(got.Items) != 0 || got.TotalCents != 0 {
		t.Fatalf("order mutated by failed add: %+v", got)
	}
}

func TestUpdateItemQuantityInsufficientLeavesStateUnchanged(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	item, err := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 2})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	// 2 -> 5 needs 12 more flour; only 2 remain.
	_, err = svc.UpdateItemQuantity(ctx, o.ID, item.ID, 5)
	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	got, _ := svc.GetOrder(ctx, o.ID)
	if got.Items[0].Quantity != 2 {
		t.Fatalf("quantity = %d, want 2", got.Items[0].Quantity)
	}
	if got.TotalCents != 2400 {
		t.Fatalf("total = %d, want unchanged 2400", got.TotalCents)
	}
	if s := stock(t, store, "flour"); s != 2 {
		t.Fatalf("flour = %v, want 2", s)
	}
}

func TestUpdateItemQuantityDecreaseReleasesStock(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	item, _ := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 2})

	updated, err := svc.UpdateItemQuantity(ctx, o.ID, item.ID, 1)
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if updated.LineTotalCents != updated.UnitPriceCents {
		t.Fatalf("line total %d != unit price %d", updated.LineTotalCents, updated.UnitPriceCents)
	}
	if s := stock(t, store, "flour"); s != 6 {
		t.Fatalf("flour = %v, want 6", s)
	}
	checkTotalInvariant(t, svc, o.ID)
}

func TestUpdateItemQuantityZeroBehavesAsRemove(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	item, _ := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 2})

	if _, err := svc.UpdateItemQuantity(ctx, o.ID, item.ID, 0); err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	got, _ := svc.GetOrder(ctx, o.ID)
	if len(got.Items) != 0 {
		t.Fatalf("item should be removed, got %d items", len(got.Items))
	}
	if s := stock(t, store, "flour"); s != 10 {
		t.Fatalf("flour = %v, want restored 10", s)
	}
}

func TestAddThenRemoveRestoresExactly(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	before := stock(t, store, "flour")
	beforeCheese := stock(t, store, "cheese")

	item, err := svc.AddItem(ctx, o.ID, application.ItemInput{
		ProductID:   "cake",
		Quantity:    2,
		ModifierIDs: []string{"extra-cheese"},
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := svc.RemoveItem(ctx, o.ID, item.ID); err != nil {
		t.Fatalf("remove item: %v", err)
	}

	if s := stock(t, store, "flour"); s != before {
		t.Fatalf("flour = %v, want %v", s, before)
	}
	if s := stock(t, store, "cheese"); s != beforeCheese {
		t.Fatalf("cheese = %v, want %v", s, beforeCheese)
	}
	got, _ := svc.GetOrder(ctx, o.ID)
	if got.TotalCents != 0 || len(got.Items) != 0 {
		t.Fatalf("order not restored: total=%d items=%d", got.TotalCents, len(got.Items))
	}
}

func TestRemovalReleasesAddTimeQuantitiesAfterRecipeChange(t *testing.T) {
	svc, cat, store := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	item, _ := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 2})

	// Recipe doubles afterwards; removal must still release 8, not 16.
	cat.put(catalog.ProductSnapshot{
		ID:     "cake",
		Recipe: []catalog.RecipeLine{{IngredientID: "flour", Quantity: 8}},
		Prices: []catalog.Price{{Cents: 1200, EffectiveFrom: time.Now().Add(-time.Hour)}},
	})

	if err := svc.RemoveItem(ctx, o.ID, item.ID); err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if s := stock(t, store, "flour"); s != 10 {
		t.Fatalf("flour = %v, want exactly 10", s)
	}
}

func TestPriceFixedAtAddTime(t *testing.T) {
	svc, cat, _ := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	item, _ := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 1})

	cat.put(catalog.ProductSnapshot{
		ID:     "cake",
		Recipe: []catalog.RecipeLine{{IngredientID: "flour", Quantity: 4}},
		Prices: []catalog.Price{{Cents: 9900, EffectiveFrom: time.Now().Add(-time.Minute)}},
	})

	updated, err := svc.UpdateItemQuantity(ctx, o.ID, item.ID, 2)
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if updated.UnitPriceCents != 1200 {
		t.Fatalf("unit price repriced to %d, want fixed 1200", updated.UnitPriceCents)
	}
	if updated.LineTotalCents != 2400 {
		t.Fatalf("line total = %d, want 2400", updated.LineTotalCents)
	}
}

func TestMutationsRejectedWhenNotOpen(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	item, _ := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 1})
	if err := svc.CloseOrder(ctx, o.ID); err != nil {
		t.Fatalf("close order: %v", err)
	}

	if _, err := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 1}); !errors.Is(err, domain.ErrOrderNotOpen) {
		t.Fatalf("add on closed order: %v", err)
	}
	if _, err := svc.UpdateItemQuantity(ctx, o.ID, item.ID, 2); !errors.Is(err, domain.ErrOrderNotOpen) {
		t.Fatalf("update on closed order: %v", err)
	}
	if err := svc.RemoveItem(ctx, o.ID, item.ID); !errors.Is(err, domain.ErrOrderNotOpen) {
		t.Fatalf("remove on closed order: %v", err)
	}
	if err := svc.CancelOrder(ctx, o.ID, "too late"); !errors.Is(err, domain.ErrOrderNotOpen) {
		t.Fatalf("cancel closed order: %v", err)
	}
}

func TestCancelOrderReleasesAllStock(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{
		Items: []application.ItemInput{
			{ProductID: "cake", Quantity: 1},
			{ProductID: "cake", Quantity: 1, ModifierIDs: []string{"extra-cheese"}},
		},
	})
	if err := svc.CancelOrder(ctx, o.ID, "customer left"); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	if s := stock(t, store, "flour"); s != 10 {
		t.Fatalf("flour = %v, want 10", s)
	}
	if s := stock(t, store, "cheese"); s != 5 {
		t.Fatalf("cheese = %v, want 5", s)
	}
	got, _ := svc.GetOrder(ctx, o.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestConcurrentAddsOnlyOneWins(t *testing.T) {
	svc, cat, store := fixture(t)
	ctx := context.Background()

	// 6 flour: each add needs 4, jointly 8.
	store.SeedIngredient(inventory.Ingredient{ID: "flour", Name: "Flour", Quantity: 6})
	cat.put(catalog.ProductSnapshot{
		ID:     "loaf",
		Recipe: []catalog.RecipeLine{{IngredientID: "flour", Quantity: 4}},
		Prices: []catalog.Price{{Cents: 500, EffectiveFrom: time.Now().Add(-time.Hour)}},
	})

	o1, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	o2, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, orderID := range []string{o1.ID, o2.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.AddItem(ctx, id, application.ItemInput{ProductID: "loaf", Quantity: 1})
			errs <- err
		}(orderID)
	}
	wg.Wait()
	close(errs)

	var ok, failed int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		var insufficient *inventory.InsufficientStockError
		if !errors.As(err, &insufficient) {
			t.Fatalf("unexpected error: %v", err)
		}
		failed++
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("ok=%d failed=%d, want exactly one of each", ok, failed)
	}
	if s := stock(t, store, "flour"); s != 2 {
		t.Fatalf("flour = %v, want 2 (never negative)", s)
	}
}

func TestLowStockEventEmitted(t *testing.T) {
	svc, _, store := fixture(t)
	ctx := context.Background()

	// Flour threshold is 1; 10 -> 2 stays above, 2 -> ... take 9 of 10.
	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	_, err := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 2}) // 10 -> 2
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	store.SeedIngredient(inventory.Ingredient{ID: "flour", Name: "Flour", Quantity: 4.5, MinThreshold: 1})
	if _, err := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 1}); err != nil { // 4.5 -> 0.5
		t.Fatalf("add item: %v", err)
	}

	var low bool
	for _, ev := range store.Events() {
		if ev.Type == "IngredientLowStock" && ev.AggregateID == "flour" {
			low = true
		}
	}
	if !low {
		t.Fatal("expected IngredientLowStock event")
	}
}

func TestAddItemUnknownProduct(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	_, err := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "nope", Quantity: 1})
	if !errors.Is(err, catalog.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestAddItemInvalidQuantity(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	o, _ := svc.CreateOrder(ctx, application.CreateOrderInput{})
	if _, err := svc.AddItem(ctx, o.ID, application.ItemInput{ProductID: "cake", Quantity: 0}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestUnknownOrder(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, "missing", application.ItemInput{ProductID: "cake", Quantity: 1}); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := svc.GetOrder(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
