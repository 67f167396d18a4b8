package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	inventory "github.com/tableserve/fulfillment/internal/inventory/domain"
	"github.com/tableserve/fulfillment/internal/order/application"
	"github.com/tableserve/fulfillment/internal/order/domain"
)

func TestWithinTxRollbackRestoresState(t *testing.T) {
	store := NewStore()
	store.SeedIngredient(inventory.Ingredient{ID: "milk", Quantity: 10})

	boom := errors.New("boom")
	err := store.WithinTx(context.Background(), func(tx application.Tx) error {
		if err := tx.InsertOrder(context.Background(), domain.NewOrder("o1", "c", "", time.Now())); err != nil {
			return err
		}
		if _, err := tx.Reserve(context.Background(), "milk", 4); err != nil {
			return err
		}
		if err := tx.AppendEvent(context.Background(), "order", "o1", "OrderCreated", []byte(`{}`)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	if _, err := store.GetOrder(context.Background(), "o1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("order survived rollback: %v", err)
	}
	if ing, _ := store.Ingredient("milk"); ing.Quantity != 10 {
		t.Errorf("milk = %v, want 10", ing.Quantity)
	}
	if got := len(store.Events()); got != 0 {
		t.Errorf("events survived rollback: %d", got)
	}
}

func TestWithinTxCommitSwapsState(t *testing.T) {
	store := NewStore()
	store.SeedIngredient(inventory.Ingredient{ID: "milk", Quantity: 10, MinThreshold: 8})

	err := store.WithinTx(context.Background(), func(tx application.Tx) error {
		if err := tx.InsertOrder(context.Background(), domain.NewOrder("o1", "c", "", time.Now())); err != nil {
			return err
		}
		level, err := tx.Reserve(context.Background(), "milk", 4)
		if err != nil {
			return err
		}
		if level.Remaining != 6 || !level.Low() {
			t.Errorf("level = %+v, want remaining 6 below threshold", level)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	if _, err := store.GetOrder(context.Background(), "o1"); err != nil {
		t.Errorf("committed order missing: %v", err)
	}
	if ing, _ := store.Ingredient("milk"); ing.Quantity != 6 {
		t.Errorf("milk = %v, want 6", ing.Quantity)
	}
}

func TestReserveInsufficientDetail(t *testing.T) {
	store := NewStore()
	store.SeedIngredient(inventory.Ingredient{ID: "milk", Quantity: 3})

	err := store.WithinTx(context.Background(), func(tx application.Tx) error {
		_, err := tx.Reserve(context.Background(), "milk", 5)
		return err
	})
	var stockErr *inventory.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if stockErr.Available != 3 || stockErr.Required != 5 {
		t.Errorf("detail = %+v", stockErr)
	}
}
