package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/pkg/db/models"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
)

func TestReservePartialOutcome(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productA := uuid.New()
	productB := uuid.New()

	seedInventory(t, db, productA, 5)
	seedInventory(t, db, productB, 1)

	requests := []ReservationRequest{
		{ProductID: productA, Qty: 3},
		{ProductID: productA, Qty: 4},
		{ProductID: productB, Qty: 1},
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		results, terr := Reserve(ctx, tx, requests)
		if terr != nil {
			return terr
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}
		if !results[0].Reserved || results[0].Reason != "" {
			t.Fatalf("expected first reservation to succeed: %+v", results[0])
		}
		if results[1].Reserved || results[1].Reason == "" {
			t.Fatalf("expected second reservation to fail with reason: %+v", results[1])
		}
		if !results[2].Reserved {
			t.Fatalf("expected third reservation to succeed: %+v", results[2])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reserve transaction: %v", err)
	}

	invA := loadInventory(t, db, productA)
	invB := loadInventory(t, db, productB)
	if invA.AvailableQty != 2 || invA.ReservedQty != 3 {
		t.Fatalf("unexpected inventory a state: %+v", invA)
	}
	if invB.AvailableQty != 0 || invB.ReservedQty != 1 {
		t.Fatalf("unexpected inventory b state: %+v", invB)
	}
}

func TestReserveAllRollsBackOnShortage(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	productA := uuid.New()
	productB := uuid.New()

	seedInventory(t, db, productA, 10)
	seedInventory(t, db, productB, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ReserveAll(ctx, tx, []ReservationRequest{
			{ProductID: productA, Qty: 4},
			{ProductID: productB, Qty: 2},
		})
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	// The aborted transaction must leave the successful line untouched too.
	invA := loadInventory(t, db, productA)
	if invA.AvailableQty != 10 || invA.ReservedQty != 0 {
		t.Fatalf("partial reservation leaked: %+v", invA)
	}
}

func TestReleaseReturnsStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	product := uuid.New()
	seedInventory(t, db, product, 5)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ReserveAll(ctx, tx, []ReservationRequest{{ProductID: product, Qty: 5}})
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return Release(ctx, tx, product, 5)
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	inv := loadInventory(t, db, product)
	if inv.AvailableQty != 5 || inv.ReservedQty != 0 {
		t.Fatalf("unexpected inventory state after release: %+v", inv)
	}
}

func TestCheckAvailabilityDoesNotHold(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	product := uuid.New()
	seedInventory(t, db, product, 3)

	results, err := CheckAvailability(ctx, db, []ReservationRequest{
		{ProductID: product, Qty: 2},
		{ProductID: product, Qty: 2},
	})
	if err != nil {
		t.Fatalf("check availability: %v", err)
	}
	if !results[0].Reserved {
		t.Fatalf("expected first check to pass: %+v", results[0])
	}
	if results[1].Reserved {
		t.Fatalf("expected second check to fail against remaining stock: %+v", results[1])
	}

	inv := loadInventory(t, db, product)
	if inv.AvailableQty != 3 || inv.ReservedQty != 0 {
		t.Fatalf("availability check mutated inventory: %+v", inv)
	}
}

func TestReserveInvalidQty(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	product := uuid.New()
	seedInventory(t, db, product, 5)

	_, err := Reserve(ctx, db, []ReservationRequest{{ProductID: product, Qty: 0}})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.InventoryItem{}); err != nil {
		t.Fatalf("migrate inventory: %v", err)
	}
	return db
}

func seedInventory(t *testing.T, db *gorm.DB, productID uuid.UUID, available int) {
	t.Helper()
	if err := db.Create(&models.InventoryItem{ProductID: productID, AvailableQty: available}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
}

func loadInventory(t *testing.T, db *gorm.DB, productID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := db.First(&item, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return item
}
