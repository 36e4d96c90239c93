package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/go-cart-engine/internal/database"
	"github.com/safar/go-cart-engine/internal/store"
)

func TestGetUser(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db)

	got, err := store.GetUser(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	if got.Email != user.Email || got.Name != user.Name {
		t.Errorf("Expected %s/%s, got %s/%s", user.Email, user.Name, got.Email, got.Name)
	}

	_, err = store.GetUser(ctx, db, 999999)
	if !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected user not found, got: %v", err)
	}
}
