package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// FixtureFactory builds test rows with sensible defaults
type FixtureFactory struct{}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

// ItemFixture is a seedable item row
type ItemFixture struct {
	ID            string
	Code          string
	Name          string
	Unit          string
	MinStockLevel decimal.Decimal
	IsControlled  bool
	IsActive      bool
}

// Item returns an active item with defaults, customized by opts
func (f *FixtureFactory) Item(opts ...func(*ItemFixture)) *ItemFixture {
	item := &ItemFixture{
		ID:            uuid.New().String(),
		Code:          "MED-" + uuid.New().String()[:8],
		Name:          "Paracetamol 500mg",
		Unit:          "tablet",
		MinStockLevel: decimal.NewFromInt(10),
		IsActive:      true,
	}
	for _, opt := range opts {
		opt(item)
	}
	return item
}

// BatchFixture is a seedable batch row
type BatchFixture struct {
	ID               string
	ItemID           string
	WarehouseID      string
	BatchNumber      string
	ExpiryDate       time.Time
	ReceivedAt       time.Time
	QuantityOnHand   decimal.Decimal
	ReservedQuantity decimal.Decimal
	UnitCost         decimal.Decimal
	Quarantined      bool
	Unspecified      bool
}

// Batch returns a batch with a year of shelf life, customized by opts
func (f *FixtureFactory) Batch(itemID string, opts ...func(*BatchFixture)) *BatchFixture {
	now := time.Now().UTC()
	batch := &BatchFixture{
		ID:             uuid.New().String(),
		ItemID:         itemID,
		WarehouseID:    "main",
		BatchNumber:    "LOT-" + uuid.New().String()[:8],
		ExpiryDate:     now.AddDate(1, 0, 0),
		ReceivedAt:     now,
		QuantityOnHand: decimal.NewFromInt(100),
		UnitCost:       decimal.RequireFromString("1.25"),
	}
	for _, opt := range opts {
		opt(batch)
	}
	return batch
}

// SeedItem inserts an item fixture
func SeedItem(t *testing.T, db *sqlx.DB, item *ItemFixture) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO items (id, code, name, unit, min_stock_level, is_controlled, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.Code, item.Name, item.Unit, item.MinStockLevel, item.IsControlled, item.IsActive)
	if err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}
}

// SeedBatch inserts a batch fixture
func SeedBatch(t *testing.T, db *sqlx.DB, batch *BatchFixture) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO batches (
			id, item_id, warehouse_id, batch_number, expiry_date, received_at,
			quantity_on_hand, reserved_quantity, unit_cost, quarantined, unspecified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, batch.ID, batch.ItemID, batch.WarehouseID, batch.BatchNumber,
		batch.ExpiryDate, batch.ReceivedAt, batch.QuantityOnHand,
		batch.ReservedQuantity, batch.UnitCost, batch.Quarantined, batch.Unspecified)
	if err != nil {
		t.Fatalf("failed to seed batch: %v", err)
	}
}

// SeedLedgerEntry inserts a raw ledger entry, used to set up divergence
// scenarios for reconciliation tests
func SeedLedgerEntry(t *testing.T, db *sqlx.DB, itemID, batchID, kind string, delta decimal.Decimal, refType, refID string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO ledger_entries (id, item_id, batch_id, kind, quantity_delta, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New().String(), itemID, batchID, kind, delta, refType, refID)
	if err != nil {
		t.Fatalf("failed to seed ledger entry: %v", err)
	}
}
