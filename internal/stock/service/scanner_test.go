package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/medstock/medstock-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLowStock_CountsOnlyEligibleQuantities(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()

	// Min level 10; the only non-expired stock is 4 units, so the item is low
	// even though 54 units sit on the shelf.
	item := suite.Fixtures.Item(func(i *testutil.ItemFixture) {
		i.MinStockLevel = decimal.NewFromInt(10)
	})
	testutil.SeedItem(t, suite.RawDB, item)

	testutil.SeedBatch(t, suite.RawDB, suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.ExpiryDate = time.Now().UTC().AddDate(0, 0, -1)
		b.QuantityOnHand = dec(50)
	}))
	testutil.SeedBatch(t, suite.RawDB, suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.QuantityOnHand = dec(4)
	}))

	levels, err := svc.scanner.LowStock(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, item.ID, levels[0].ID)
	assert.True(t, levels[0].TotalEligible.Equal(dec(4)))
}

func TestLowStock_ItemWithNoBatchesAtAll(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	levels, err := svc.scanner.LowStock(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.True(t, levels[0].TotalEligible.IsZero())
}

func TestLowStock_WellStockedItemNotReported(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()

	item, _ := seedItemWithBatches(t, 100)

	levels, err := svc.scanner.LowStock(ctx, time.Now().UTC())
	require.NoError(t, err)
	for _, level := range levels {
		assert.NotEqual(t, item.ID, level.ID)
	}
}

func TestNearExpiry_WithinHorizonOnly(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	soon := suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.ExpiryDate = time.Now().UTC().AddDate(0, 0, 10)
	})
	testutil.SeedBatch(t, suite.RawDB, soon)
	testutil.SeedBatch(t, suite.RawDB, suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.ExpiryDate = time.Now().UTC().AddDate(1, 0, 0)
	}))
	// Already expired is dead stock, not an early warning.
	testutil.SeedBatch(t, suite.RawDB, suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.ExpiryDate = time.Now().UTC().AddDate(0, 0, -3)
	}))

	findings, err := svc.scanner.NearExpiry(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, soon.ID, findings[0].Batch.ID)
	assert.LessOrEqual(t, findings[0].DaysLeft, 10)

	narrow, err := svc.scanner.NearExpiry(ctx, time.Now().UTC(), 5*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, narrow)
}

func TestScanAll_ReturnsBothReports(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()

	item := suite.Fixtures.Item(func(i *testutil.ItemFixture) {
		i.MinStockLevel = decimal.NewFromInt(100)
	})
	testutil.SeedItem(t, suite.RawDB, item)
	testutil.SeedBatch(t, suite.RawDB, suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.ExpiryDate = time.Now().UTC().AddDate(0, 0, 5)
		b.QuantityOnHand = dec(3)
	}))

	report, err := svc.scanner.ScanAll(ctx)
	require.NoError(t, err)
	assert.Len(t, report.LowStock, 1)
	assert.Len(t, report.NearExpiry, 1)
	assert.False(t, report.ScannedAt.IsZero())
}
