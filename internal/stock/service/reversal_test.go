package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverse_CreditsKnownBatch(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, batches := seedItemWithBatches(t, 10)

	entry, err := svc.reversal.Reverse(ctx, service.ReverseRequest{
		ItemID:        item.ID,
		BatchID:       batches[0].ID,
		Quantity:      dec(3),
		ReferenceType: "return",
		ReferenceID:   uuid.New().String(),
	})
	require.NoError(t, err)

	assert.Equal(t, repository.KindReturn, entry.Kind)
	assert.True(t, entry.QuantityDelta.Equal(dec(3)))

	batch, err := svc.batchRepo.GetByID(ctx, batches[0].ID)
	require.NoError(t, err)
	assert.True(t, batch.QuantityOnHand.Equal(dec(13)))
}

func TestReverse_UnknownBatchGoesToUnspecifiedBucket(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, _ := seedItemWithBatches(t, 10)

	entry, err := svc.reversal.Reverse(ctx, service.ReverseRequest{
		ItemID:        item.ID,
		Quantity:      dec(2),
		ReferenceType: "return",
		ReferenceID:   uuid.New().String(),
	})
	require.NoError(t, err)
	require.NotNil(t, entry.Note)
	assert.Contains(t, *entry.Note, "unspecified")

	bucket, err := svc.batchRepo.GetByID(ctx, entry.BatchID)
	require.NoError(t, err)
	assert.True(t, bucket.Unspecified)
	assert.Equal(t, repository.UnspecifiedBatchNumber, bucket.BatchNumber)
	assert.True(t, bucket.QuantityOnHand.Equal(dec(2)))

	// Bucketed stock is never eligible for allocation.
	result, err := svc.allocator.Allocate(ctx, allocationRequest(item.ID, 12, service.ModeBestEffort))
	require.NoError(t, err)
	assert.True(t, result.Lines[0].Allocated.Equal(dec(10)))
}

func TestReverse_ReusesExistingBucket(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	item, _ := seedItemWithBatches(t, 10)

	first, err := svc.reversal.Reverse(ctx, service.ReverseRequest{
		ItemID: item.ID, Quantity: dec(2),
		ReferenceType: "return", ReferenceID: uuid.New().String(),
	})
	require.NoError(t, err)

	second, err := svc.reversal.Reverse(ctx, service.ReverseRequest{
		ItemID: item.ID, Quantity: dec(3),
		ReferenceType: "return", ReferenceID: uuid.New().String(),
	})
	require.NoError(t, err)

	assert.Equal(t, first.BatchID, second.BatchID)

	bucket, err := svc.batchRepo.GetByID(ctx, first.BatchID)
	require.NoError(t, err)
	assert.True(t, bucket.QuantityOnHand.Equal(dec(5)))
}

func TestReverse_RejectsBatchOfOtherItem(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	itemA, _ := seedItemWithBatches(t, 10)
	_, batchesB := seedItemWithBatches(t, 10)

	_, err := svc.reversal.Reverse(ctx, service.ReverseRequest{
		ItemID:        itemA.ID,
		BatchID:       batchesB[0].ID,
		Quantity:      dec(1),
		ReferenceType: "return",
		ReferenceID:   uuid.New().String(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestTransfer_MovesQuantityBetweenWarehouses(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	_, batches := seedItemWithBatches(t, 10)

	result, err := svc.reversal.Transfer(ctx, service.TransferRequest{
		BatchID:       batches[0].ID,
		ToWarehouseID: "ward-3",
		Quantity:      dec(4),
		ReferenceID:   uuid.New().String(),
	})
	require.NoError(t, err)

	assert.True(t, result.FromBatch.QuantityOnHand.Equal(dec(6)))
	assert.Equal(t, "ward-3", result.ToBatch.WarehouseID)
	assert.Equal(t, batches[0].BatchNumber, result.ToBatch.BatchNumber)

	dest, err := svc.batchRepo.GetByID(ctx, result.ToBatch.ID)
	require.NoError(t, err)
	assert.True(t, dest.QuantityOnHand.Equal(dec(4)))
	assert.True(t, dest.ExpiryDate.Equal(result.FromBatch.ExpiryDate))

	// Two ledger sides, one debit and one credit, same reference.
	require.Len(t, result.Entries, 2)
	assert.True(t, result.Entries[0].QuantityDelta.Equal(dec(-4)))
	assert.True(t, result.Entries[1].QuantityDelta.Equal(dec(4)))
	assert.Equal(t, repository.KindTransfer, result.Entries[0].Kind)
}

func TestTransfer_SecondTransferTopsUpMirrorBatch(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	_, batches := seedItemWithBatches(t, 10)

	first, err := svc.reversal.Transfer(ctx, service.TransferRequest{
		BatchID: batches[0].ID, ToWarehouseID: "icu",
		Quantity: dec(2), ReferenceID: uuid.New().String(),
	})
	require.NoError(t, err)

	second, err := svc.reversal.Transfer(ctx, service.TransferRequest{
		BatchID: batches[0].ID, ToWarehouseID: "icu",
		Quantity: dec(3), ReferenceID: uuid.New().String(),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ToBatch.ID, second.ToBatch.ID)

	dest, err := svc.batchRepo.GetByID(ctx, first.ToBatch.ID)
	require.NoError(t, err)
	assert.True(t, dest.QuantityOnHand.Equal(dec(5)))
}

func TestTransfer_RejectsMoreThanAvailable(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	_, batches := seedItemWithBatches(t, 5)

	_, err := svc.reversal.Transfer(ctx, service.TransferRequest{
		BatchID:       batches[0].ID,
		ToWarehouseID: "ward-1",
		Quantity:      dec(6),
		ReferenceID:   uuid.New().String(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	batch, err := svc.batchRepo.GetByID(ctx, batches[0].ID)
	require.NoError(t, err)
	assert.True(t, batch.QuantityOnHand.Equal(dec(5)))
}

func TestTransfer_RejectsSameWarehouse(t *testing.T) {
	ctx := context.Background()
	svc := newServices()
	_, batches := seedItemWithBatches(t, 5)

	_, err := svc.reversal.Transfer(ctx, service.TransferRequest{
		BatchID:       batches[0].ID,
		ToWarehouseID: "main",
		Quantity:      dec(1),
		ReferenceID:   uuid.New().String(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}
