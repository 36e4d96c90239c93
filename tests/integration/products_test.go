package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/go-cart-engine/internal/database"
	"github.com/safar/go-cart-engine/internal/store"
)

func TestUpdateStockOptimistic(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product := createTestProduct(t, db, 100000, 50)

	if err := store.UpdateStockOptimistic(ctx, db, product.ID, 40, product.Version); err != nil {
		t.Fatalf("First update should succeed: %v", err)
	}

	// Same version again: someone else bumped it, the write must be refused.
	err := store.UpdateStockOptimistic(ctx, db, product.ID, 30, product.Version)
	if !errors.Is(err, database.ErrOptimisticLockFailed) {
		t.Errorf("Expected optimistic lock failure, got: %v", err)
	}

	final, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if final.Stock != 40 {
		t.Errorf("Expected stock 40 from the first update, got %d", final.Stock)
	}
	if final.Version != product.Version+1 {
		t.Errorf("Expected version %d, got %d", product.Version+1, final.Version)
	}
}

func TestLockProductNoWait(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product := createTestProduct(t, db, 100000, 20)

	tx1, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx1: %v", err)
	}

	if _, err := store.LockProduct(ctx, tx1, product.ID); err != nil {
		t.Fatalf("Lock product in tx1: %v", err)
	}

	tx2, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx2: %v", err)
	}
	defer func() { _ = tx2.Rollback() }()

	_, err = store.LockProductNoWait(ctx, tx2, product.ID)
	if !errors.Is(err, database.ErrLockTimeout) {
		t.Errorf("Expected lock timeout while tx1 holds the row, got: %v", err)
	}

	if err := tx1.Rollback(); err != nil {
		t.Fatalf("Rollback tx1: %v", err)
	}

	tx3, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx3: %v", err)
	}
	defer func() { _ = tx3.Rollback() }()

	locked, err := store.LockProductNoWait(ctx, tx3, product.ID)
	if err != nil {
		t.Fatalf("Expected lock to succeed after tx1 released it: %v", err)
	}
	if locked.ID != product.ID {
		t.Errorf("Expected product %d, got %d", product.ID, locked.ID)
	}
}
