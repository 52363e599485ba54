package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/medstock/medstock-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveRequest(itemID string, qty int64) service.ReceiveRequest {
	return service.ReceiveRequest{
		ItemID:      itemID,
		BatchNumber: "LOT-" + uuid.New().String()[:8],
		ExpiryDate:  time.Now().UTC().AddDate(1, 0, 0),
		Quantity:    dec(qty),
		UnitCost:    dec(2),
		ReferenceID: uuid.New().String(),
	}
}

func TestReceive_CreatesBatchWithLedgerEntry(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	req := receiveRequest(item.ID, 20)
	batch, err := svc.receiving.Receive(ctx, req)
	require.NoError(t, err)

	assert.True(t, batch.QuantityOnHand.Equal(dec(20)))
	assert.Equal(t, req.BatchNumber, batch.BatchNumber)

	entries, err := svc.ledgerRepo.ListByReference(ctx, "goods_receipt", req.ReferenceID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, repository.KindStockIn, entries[0].Kind)
	assert.True(t, entries[0].QuantityDelta.Equal(dec(20)))
}

func TestReceive_SameLotTopsUpExistingBatch(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	req := receiveRequest(item.ID, 20)
	first, err := svc.receiving.Receive(ctx, req)
	require.NoError(t, err)

	second := req
	second.ReferenceID = uuid.New().String()
	second.Quantity = dec(5)
	topped, err := svc.receiving.Receive(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, first.ID, topped.ID)
	assert.True(t, topped.QuantityOnHand.Equal(dec(25)))
}

func TestReceive_SameLotDifferentExpiryRejected(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	req := receiveRequest(item.ID, 20)
	_, err := svc.receiving.Receive(ctx, req)
	require.NoError(t, err)

	conflicting := req
	conflicting.ReferenceID = uuid.New().String()
	conflicting.ExpiryDate = req.ExpiryDate.AddDate(0, 1, 0)
	_, err = svc.receiving.Receive(ctx, conflicting)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestReceive_RetryWithSameReferenceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	req := receiveRequest(item.ID, 20)
	first, err := svc.receiving.Receive(ctx, req)
	require.NoError(t, err)

	replayed, err := svc.receiving.Receive(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)
	assert.True(t, replayed.QuantityOnHand.Equal(dec(20)))

	entries, err := svc.ledgerRepo.ListByReference(ctx, "goods_receipt", req.ReferenceID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReceive_RejectsUnspecifiedLotCode(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item()
	testutil.SeedItem(t, suite.RawDB, item)

	req := receiveRequest(item.ID, 5)
	req.BatchNumber = repository.UnspecifiedBatchNumber
	_, err := svc.receiving.Receive(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidDemand))
}

func TestReceive_RejectsInactiveItem(t *testing.T) {
	ctx := context.Background()
	svc := newServices()

	item := suite.Fixtures.Item(func(i *testutil.ItemFixture) { i.IsActive = false })
	testutil.SeedItem(t, suite.RawDB, item)

	_, err := svc.receiving.Receive(ctx, receiveRequest(item.ID, 5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}
