package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/medstock/medstock-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocationRequest(itemID string, qty int64, mode service.AllocationMode) service.AllocationRequest {
	return service.AllocationRequest{
		Lines:         []service.DemandLine{{ItemID: itemID, Quantity: dec(qty)}},
		Mode:          mode,
		Kind:          repository.KindDispenseOutpatient,
		ReferenceType: "prescription",
		ReferenceID:   uuid.New().String(),
	}
}

func TestAllocate_SplitsFEFOAcrossBatches(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, batches := seedItemWithBatches(t, 10, 10)

	result, err := svc.allocator.Allocate(ctx, allocationRequest(item.ID, 15, service.ModeAllOrNothing))
	require.NoError(t, err)

	assert.True(t, result.Committed)
	assert.False(t, result.Replayed)
	require.Len(t, result.Lines, 1)
	require.Len(t, result.Lines[0].Takes, 2)

	// The earlier-expiring batch empties first.
	assert.Equal(t, batches[0].ID, result.Lines[0].Takes[0].BatchID)
	assert.True(t, result.Lines[0].Takes[0].Quantity.Equal(dec(10)))
	assert.Equal(t, batches[1].ID, result.Lines[0].Takes[1].BatchID)
	assert.True(t, result.Lines[0].Takes[1].Quantity.Equal(dec(5)))

	first, err := svc.batchRepo.GetByID(ctx, batches[0].ID)
	require.NoError(t, err)
	assert.True(t, first.QuantityOnHand.IsZero())

	second, err := svc.batchRepo.GetByID(ctx, batches[1].ID)
	require.NoError(t, err)
	assert.True(t, second.QuantityOnHand.Equal(dec(5)))
}

func TestAllocate_TieOnExpiryFallsBackToReceivedAt(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	expiry := time.Now().UTC().AddDate(0, 6, 0)
	older := suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.ExpiryDate = expiry
		b.ReceivedAt = time.Now().UTC().AddDate(0, 0, -10)
		b.QuantityOnHand = dec(5)
	})
	newer := suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.ExpiryDate = expiry
		b.ReceivedAt = time.Now().UTC()
		b.QuantityOnHand = dec(5)
	})
	// Seed the newer one first so insertion order cannot mask the sort.
	testutil.SeedBatch(t, suite.RawDB, newer)
	testutil.SeedBatch(t, suite.RawDB, older)

	result, err := svc.allocator.Allocate(ctx, allocationRequest(item.ID, 3, service.ModeAllOrNothing))
	require.NoError(t, err)
	require.Len(t, result.Lines[0].Takes, 1)
	assert.Equal(t, older.ID, result.Lines[0].Takes[0].BatchID)
}

func TestAllocate_ExcludesExpiredQuarantinedUnspecified(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	testutil.SeedBatch(t, suite.RawDB, suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.ExpiryDate = time.Now().UTC().AddDate(0, 0, -1)
		b.QuantityOnHand = dec(50)
	}))
	testutil.SeedBatch(t, suite.RawDB, suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.Quarantined = true
		b.QuantityOnHand = dec(50)
	}))
	testutil.SeedBatch(t, suite.RawDB, suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.BatchNumber = repository.UnspecifiedBatchNumber
		b.Unspecified = true
		b.QuantityOnHand = dec(50)
	}))
	fresh := suite.Fixtures.Batch(item.ID, func(b *testutil.BatchFixture) {
		b.QuantityOnHand = dec(5)
	})
	testutil.SeedBatch(t, suite.RawDB, fresh)

	result, err := svc.allocator.Allocate(ctx, allocationRequest(item.ID, 8, service.ModeBestEffort))
	require.NoError(t, err)

	assert.True(t, result.Committed)
	require.Len(t, result.Lines, 1)
	assert.True(t, result.Lines[0].Allocated.Equal(dec(5)))
	require.Len(t, result.Lines[0].Takes, 1)
	assert.Equal(t, fresh.ID, result.Lines[0].Takes[0].BatchID)

	require.NotNil(t, result.Lines[0].Shortfall)
	assert.True(t, result.Lines[0].Shortfall.Requested.Equal(dec(8)))
	assert.True(t, result.Lines[0].Shortfall.Available.Equal(dec(5)))
}

func TestAllocate_AllOrNothingRefusesWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, batches := seedItemWithBatches(t, 6, 4)

	req := allocationRequest(item.ID, 20, service.ModeAllOrNothing)
	result, err := svc.allocator.Allocate(ctx, req)
	require.NoError(t, err)

	assert.False(t, result.Committed)
	assert.True(t, result.HasShortfall())
	assert.Empty(t, result.Lines[0].Takes)
	assert.True(t, result.Lines[0].Allocated.IsZero())
	require.NotNil(t, result.Lines[0].Shortfall)
	assert.True(t, result.Lines[0].Shortfall.Available.Equal(dec(10)))

	// Nothing moved and nothing was written.
	for _, b := range batches {
		got, err := svc.batchRepo.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, got.QuantityOnHand.Equal(b.QuantityOnHand))
	}
	entries, err := svc.ledgerRepo.ListByReference(ctx, req.ReferenceType, req.ReferenceID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAllocate_BestEffortCommitsPartial(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, _ := seedItemWithBatches(t, 6)

	req := allocationRequest(item.ID, 10, service.ModeBestEffort)
	result, err := svc.allocator.Allocate(ctx, req)
	require.NoError(t, err)

	assert.True(t, result.Committed)
	assert.True(t, result.Lines[0].Allocated.Equal(dec(6)))
	require.NotNil(t, result.Lines[0].Shortfall)

	entries, err := svc.ledgerRepo.ListByReference(ctx, req.ReferenceType, req.ReferenceID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].QuantityDelta.Equal(dec(-6)))
}

func TestAllocate_RetrySameReferenceIsReplayedNotReapplied(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, batches := seedItemWithBatches(t, 10)

	req := allocationRequest(item.ID, 4, service.ModeAllOrNothing)

	first, err := svc.allocator.Allocate(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Committed)

	second, err := svc.allocator.Allocate(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Committed)
	assert.True(t, second.Replayed)
	assert.True(t, second.TotalAllocated().Equal(dec(4)))

	// One set of ledger entries, one decrement.
	entries, err := svc.ledgerRepo.ListByReference(ctx, req.ReferenceType, req.ReferenceID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	batch, err := svc.batchRepo.GetByID(ctx, batches[0].ID)
	require.NoError(t, err)
	assert.True(t, batch.QuantityOnHand.Equal(dec(6)))
}

func TestAllocate_ConcurrentRequestsNeverOversell(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, batches := seedItemWithBatches(t, 10)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*service.AllocationResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.allocator.Allocate(ctx, allocationRequest(item.ID, 2, service.ModeAllOrNothing))
		}(i)
	}
	wg.Wait()

	totalAllocated := decimal.Zero
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			// Contention that exhausted its retries is acceptable; overselling
			// is not.
			assert.True(t, errors.Is(errs[i], errors.ErrContention), "unexpected error: %v", errs[i])
			continue
		}
		if results[i].Committed {
			totalAllocated = totalAllocated.Add(results[i].TotalAllocated())
		}
	}

	assert.True(t, totalAllocated.LessThanOrEqual(dec(10)),
		"allocated %s from a batch of 10", totalAllocated)

	// On-hand must equal seed minus everything committed, and the ledger must
	// agree with it.
	batch, err := svc.batchRepo.GetByID(ctx, batches[0].ID)
	require.NoError(t, err)
	assert.True(t, batch.QuantityOnHand.Equal(dec(10).Sub(totalAllocated)))

	sum, err := svc.ledgerRepo.SumByBatch(ctx, batches[0].ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(totalAllocated.Neg()))
}

func TestAllocate_UnknownItemRejected(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	_, err := svc.allocator.Allocate(ctx, allocationRequest(uuid.New().String(), 1, service.ModeAllOrNothing))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidDemand))
}

func TestAllocate_InactiveItemRejected(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item(func(i *testutil.ItemFixture) { i.IsActive = false })
	testutil.SeedItem(t, suite.RawDB, item)

	_, err := svc.allocator.Allocate(ctx, allocationRequest(item.ID, 1, service.ModeAllOrNothing))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidDemand))
}

func TestPreview_ComputesPlanWithoutWriting(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, batches := seedItemWithBatches(t, 10)

	req := allocationRequest(item.ID, 4, service.ModeAllOrNothing)
	result, err := svc.allocator.Preview(ctx, req)
	require.NoError(t, err)

	assert.False(t, result.Committed)
	require.Len(t, result.Lines[0].Takes, 1)
	assert.True(t, result.Lines[0].Allocated.Equal(dec(4)))

	batch, err := svc.batchRepo.GetByID(ctx, batches[0].ID)
	require.NoError(t, err)
	assert.True(t, batch.QuantityOnHand.Equal(dec(10)))

	entries, err := svc.ledgerRepo.ListByReference(ctx, req.ReferenceType, req.ReferenceID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAllocate_MultiItemLocksInStableOrder(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	itemA, _ := seedItemWithBatches(t, 10)
	itemB, _ := seedItemWithBatches(t, 10)

	// Two workers demand the same two items in opposite line order. With a
	// fixed global lock order this cannot deadlock.
	makeReq := func(first, second string) service.AllocationRequest {
		return service.AllocationRequest{
			Lines: []service.DemandLine{
				{ItemID: first, Quantity: dec(3)},
				{ItemID: second, Quantity: dec(3)},
			},
			Mode:          service.ModeAllOrNothing,
			Kind:          repository.KindDispenseWard,
			ReferenceType: "requisition",
			ReferenceID:   uuid.New().String(),
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = svc.allocator.Allocate(ctx, makeReq(itemA.ID, itemB.ID)) }()
	go func() { defer wg.Done(); _, errs[1] = svc.allocator.Allocate(ctx, makeReq(itemB.ID, itemA.ID)) }()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, errors.ErrContention), "unexpected error: %v", err)
		}
	}
}
