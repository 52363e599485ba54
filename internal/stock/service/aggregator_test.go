package service

import (
	"testing"

	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateDocuments_MergesPerItem(t *testing.T) {
	set, err := AggregateDocuments([]DocumentLine{
		{DocumentID: "rx-1", LineID: "1", ItemID: "a", Quantity: dec(4)},
		{DocumentID: "rx-2", LineID: "1", ItemID: "b", Quantity: dec(2)},
		{DocumentID: "rx-3", LineID: "1", ItemID: "a", Quantity: dec(4)},
	})

	require.NoError(t, err)
	require.Len(t, set.Lines, 2)
	assert.Equal(t, "a", set.Lines[0].ItemID)
	assert.True(t, set.Lines[0].Quantity.Equal(dec(8)))
	assert.Equal(t, "b", set.Lines[1].ItemID)
}

func TestAggregateDocuments_DropsZeroRejectsNegative(t *testing.T) {
	set, err := AggregateDocuments([]DocumentLine{
		{DocumentID: "d", LineID: "1", ItemID: "a", Quantity: decimal.Zero},
		{DocumentID: "d", LineID: "2", ItemID: "b", Quantity: dec(1)},
	})
	require.NoError(t, err)
	require.Len(t, set.Lines, 1)
	assert.Equal(t, "b", set.Lines[0].ItemID)

	_, err = AggregateDocuments([]DocumentLine{
		{DocumentID: "d", LineID: "1", ItemID: "a", Quantity: dec(-1)},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidDemand))
}

func TestDistribute_FirstRequestedFirstServed(t *testing.T) {
	// Three ward orders of 4 each; stock covers 10, split over two batches.
	set, err := AggregateDocuments([]DocumentLine{
		{DocumentID: "ord-1", LineID: "1", ItemID: "a", Quantity: dec(4)},
		{DocumentID: "ord-2", LineID: "1", ItemID: "a", Quantity: dec(4)},
		{DocumentID: "ord-3", LineID: "1", ItemID: "a", Quantity: dec(4)},
	})
	require.NoError(t, err)

	result := &AllocationResult{
		Committed: true,
		Lines: []LineResult{{
			ItemID:    "a",
			Requested: dec(12),
			Allocated: dec(10),
			Takes: []BatchTake{
				{BatchID: "early", Quantity: dec(8)},
				{BatchID: "late", Quantity: dec(2)},
			},
			Shortfall: &Shortfall{Requested: dec(12), Available: dec(10)},
		}},
	}

	sources := set.Distribute(result)
	require.Len(t, sources, 3)

	// First two orders are filled entirely from the earlier batch.
	assert.True(t, sources[0].Allocated.Equal(dec(4)))
	require.Len(t, sources[0].Takes, 1)
	assert.Equal(t, "early", sources[0].Takes[0].BatchID)

	assert.True(t, sources[1].Allocated.Equal(dec(4)))
	require.Len(t, sources[1].Takes, 1)

	// The third order straddles the batch boundary and bears the shortfall.
	assert.True(t, sources[2].Allocated.Equal(dec(2)))
	require.Len(t, sources[2].Takes, 1)
	assert.Equal(t, "late", sources[2].Takes[0].BatchID)
	require.NotNil(t, sources[2].Shortfall)
	assert.True(t, sources[2].Shortfall.Available.Equal(dec(2)))
}

func TestDistribute_TakeSpanningTwoSources(t *testing.T) {
	set, err := AggregateDocuments([]DocumentLine{
		{DocumentID: "ord-1", LineID: "1", ItemID: "a", Quantity: dec(3)},
		{DocumentID: "ord-2", LineID: "1", ItemID: "a", Quantity: dec(3)},
	})
	require.NoError(t, err)

	result := &AllocationResult{
		Committed: true,
		Lines: []LineResult{{
			ItemID:    "a",
			Requested: dec(6),
			Allocated: dec(6),
			Takes:     []BatchTake{{BatchID: "single", Quantity: dec(6)}},
		}},
	}

	sources := set.Distribute(result)
	require.Len(t, sources, 2)
	assert.True(t, sources[0].Allocated.Equal(dec(3)))
	assert.True(t, sources[1].Allocated.Equal(dec(3)))
	assert.Equal(t, "single", sources[1].Takes[0].BatchID)
	assert.Nil(t, sources[0].Shortfall)
	assert.Nil(t, sources[1].Shortfall)
}

func TestDistribute_ItemAbsentFromResult(t *testing.T) {
	set, err := AggregateDocuments([]DocumentLine{
		{DocumentID: "ord-1", LineID: "1", ItemID: "ghost", Quantity: dec(2)},
	})
	require.NoError(t, err)

	sources := set.Distribute(&AllocationResult{Committed: true})
	require.Len(t, sources, 1)
	require.NotNil(t, sources[0].Shortfall)
	assert.True(t, sources[0].Allocated.IsZero())
}
