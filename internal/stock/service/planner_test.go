package service

import (
	"testing"
	"time"

	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func testBatch(id string, onHand, reserved int64) *repository.Batch {
	return &repository.Batch{
		ID:               id,
		BatchNumber:      "LOT-" + id,
		ExpiryDate:       time.Now().UTC().AddDate(1, 0, 0),
		QuantityOnHand:   dec(onHand),
		ReservedQuantity: dec(reserved),
		UnitCost:         decimal.RequireFromString("2.50"),
	}
}

func TestMergeLines_DeduplicatesPreservingOrder(t *testing.T) {
	merged := mergeLines([]DemandLine{
		{ItemID: "a", Quantity: dec(3)},
		{ItemID: "b", Quantity: dec(5)},
		{ItemID: "a", Quantity: dec(2)},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].ItemID)
	assert.True(t, merged[0].Quantity.Equal(dec(5)))
	assert.Equal(t, "b", merged[1].ItemID)
	assert.True(t, merged[1].Quantity.Equal(dec(5)))
}

func TestMergeLines_KeepsZeroQuantityLines(t *testing.T) {
	merged := mergeLines([]DemandLine{
		{ItemID: "a", Quantity: decimal.Zero},
	})

	require.Len(t, merged, 1)
	assert.True(t, merged[0].Quantity.IsZero())
}

func TestPlanLine_SplitsAcrossBatchesInGivenOrder(t *testing.T) {
	batches := []*repository.Batch{
		testBatch("first", 6, 0),
		testBatch("second", 10, 0),
	}

	result := planLine(DemandLine{ItemID: "a", Quantity: dec(10)}, batches)

	require.Nil(t, result.Shortfall)
	require.Len(t, result.Takes, 2)
	assert.Equal(t, "first", result.Takes[0].BatchID)
	assert.True(t, result.Takes[0].Quantity.Equal(dec(6)))
	assert.Equal(t, "second", result.Takes[1].BatchID)
	assert.True(t, result.Takes[1].Quantity.Equal(dec(4)))
	assert.True(t, result.Allocated.Equal(dec(10)))
}

func TestPlanLine_ReportsShortfallWithTotalAvailable(t *testing.T) {
	batches := []*repository.Batch{
		testBatch("first", 6, 0),
		testBatch("second", 10, 0),
	}

	result := planLine(DemandLine{ItemID: "a", Quantity: dec(20)}, batches)

	require.NotNil(t, result.Shortfall)
	assert.True(t, result.Shortfall.Requested.Equal(dec(20)))
	assert.True(t, result.Shortfall.Available.Equal(dec(16)))
	assert.True(t, result.Allocated.Equal(dec(16)))
}

func TestPlanLine_ReservedQuantityShrinksAvailable(t *testing.T) {
	batches := []*repository.Batch{
		testBatch("held", 10, 8),
		testBatch("free", 10, 0),
	}

	result := planLine(DemandLine{ItemID: "a", Quantity: dec(5)}, batches)

	require.Nil(t, result.Shortfall)
	require.Len(t, result.Takes, 2)
	assert.True(t, result.Takes[0].Quantity.Equal(dec(2)))
	assert.True(t, result.Takes[1].Quantity.Equal(dec(3)))
}

func TestPlanLine_SkipsFullyReservedBatches(t *testing.T) {
	batches := []*repository.Batch{
		testBatch("held", 5, 5),
		testBatch("free", 10, 0),
	}

	result := planLine(DemandLine{ItemID: "a", Quantity: dec(4)}, batches)

	require.Len(t, result.Takes, 1)
	assert.Equal(t, "free", result.Takes[0].BatchID)
}

func TestPlanLine_FractionalQuantities(t *testing.T) {
	batch := testBatch("only", 0, 0)
	batch.QuantityOnHand = decimal.RequireFromString("2.5")

	result := planLine(DemandLine{ItemID: "a", Quantity: decimal.RequireFromString("1.75")}, []*repository.Batch{batch})

	require.Nil(t, result.Shortfall)
	assert.True(t, result.Allocated.Equal(decimal.RequireFromString("1.75")))
}

func TestBuildPlan_ZeroLineIsNoOp(t *testing.T) {
	results := buildPlan(
		[]DemandLine{{ItemID: "a", Quantity: decimal.Zero}},
		map[string][]*repository.Batch{"a": {testBatch("x", 10, 0)}},
	)

	require.Len(t, results, 1)
	assert.Nil(t, results[0].Shortfall)
	assert.Empty(t, results[0].Takes)
	assert.True(t, results[0].Allocated.IsZero())
}

func TestBuildPlan_ItemWithoutBatchesIsFullShortfall(t *testing.T) {
	results := buildPlan(
		[]DemandLine{{ItemID: "missing", Quantity: dec(7)}},
		map[string][]*repository.Batch{},
	)

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Shortfall)
	assert.True(t, results[0].Shortfall.Requested.Equal(dec(7)))
	assert.True(t, results[0].Shortfall.Available.IsZero())
}

func TestAllocationMode_Valid(t *testing.T) {
	assert.True(t, ModeAllOrNothing.Valid())
	assert.True(t, ModeBestEffort.Valid())
	assert.False(t, AllocationMode("partial").Valid())
}
