package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/medstock/medstock-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedConsistentBatch receives stock through the service so the batch carries
// matching ledger entries
func seedConsistentBatch(t *testing.T, svc *services, qty int64) (*testutil.ItemFixture, *repository.Batch) {
	t.Helper()
	ctx := context.Background()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	batch, err := svc.receiving.Receive(ctx, service.ReceiveRequest{
		ItemID:      item.ID,
		BatchNumber: "LOT-" + uuid.New().String()[:8],
		ExpiryDate:  suite.Fixtures.Batch(item.ID).ExpiryDate,
		Quantity:    dec(qty),
		ReferenceID: uuid.New().String(),
	})
	require.NoError(t, err)
	return item, batch
}

func TestVerifyBatch_ConsistentBatchPasses(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()
	_, batch := seedConsistentBatch(t, svc, 10)

	require.NoError(t, svc.reconciliation.VerifyBatch(ctx, batch.ID))
}

func TestVerifyBatch_DivergentBatchIsQuarantined(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()
	item, batch := seedConsistentBatch(t, svc, 10)

	// Tamper with on-hand behind the ledger's back.
	_, err := suite.RawDB.ExecContext(ctx,
		`UPDATE batches SET quantity_on_hand = 7 WHERE id = $1`, batch.ID)
	require.NoError(t, err)

	err = svc.reconciliation.VerifyBatch(ctx, batch.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrReconciliation))

	got, err := svc.batchRepo.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Quarantined)

	// Quarantined stock is out of the allocation pool.
	result, err := svc.allocator.Allocate(ctx, allocationRequest(item.ID, 1, service.ModeBestEffort))
	require.NoError(t, err)
	assert.True(t, result.Lines[0].Allocated.IsZero())
}

func TestVerifyAll_ReportsEveryDivergence(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()

	_, good := seedConsistentBatch(t, svc, 10)
	_, bad := seedConsistentBatch(t, svc, 10)

	_, err := suite.RawDB.ExecContext(ctx,
		`UPDATE batches SET quantity_on_hand = 99 WHERE id = $1`, bad.ID)
	require.NoError(t, err)

	report, err := svc.reconciliation.VerifyAll(ctx)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, d := range report.Divergences {
		ids[d.BatchID] = true
	}
	assert.True(t, ids[bad.ID])
	assert.False(t, ids[good.ID])
}

func TestVerifyAll_ConcurrentAllocationsNeverFlagHealthyBatches(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()
	item, batch := seedConsistentBatch(t, svc, 200)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_, err := svc.allocator.Allocate(ctx, allocationRequest(item.ID, 1, service.ModeBestEffort))
				if err != nil && !errors.Is(err, errors.ErrContention) {
					t.Errorf("allocate: %v", err)
					return
				}
			}
		}()
	}

	// A healthy batch must never look divergent just because allocations are
	// committing while the sweep runs.
	for i := 0; i < 10; i++ {
		report, err := svc.reconciliation.VerifyAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Divergences)
	}

	close(done)
	wg.Wait()

	got, err := svc.batchRepo.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, got.Quarantined)
}

func TestRebuild_RestoresLedgerTruthAndClearsQuarantine(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t)
	svc := newServices()
	_, batch := seedConsistentBatch(t, svc, 10)

	_, err := suite.RawDB.ExecContext(ctx,
		`UPDATE batches SET quantity_on_hand = 3 WHERE id = $1`, batch.ID)
	require.NoError(t, err)
	_ = svc.reconciliation.VerifyBatch(ctx, batch.ID)

	rebuilt, err := svc.reconciliation.Rebuild(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rebuilt, 1)

	got, err := svc.batchRepo.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityOnHand.Equal(dec(10)))
	assert.False(t, got.Quarantined)
}
