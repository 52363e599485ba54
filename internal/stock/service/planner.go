package service

import (
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/shopspring/decimal"
)

// mergeLines collapses duplicate item lines into one, summing quantities and
// preserving first-seen order. Walking one batch list twice for the same item
// within a request would make the takes depend on line order; merging first
// removes that hazard. Zero-quantity lines survive as no-ops so the caller
// still sees them in the result.
func mergeLines(lines []DemandLine) []DemandLine {
	merged := make([]DemandLine, 0, len(lines))
	index := make(map[string]int, len(lines))

	for _, line := range lines {
		if i, ok := index[line.ItemID]; ok {
			merged[i].Quantity = merged[i].Quantity.Add(line.Quantity)
			continue
		}
		index[line.ItemID] = len(merged)
		merged = append(merged, DemandLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}

	return merged
}

// planLine walks FEFO/FIFO-ordered batches, taking min(remaining, available)
// from each until the demand is exhausted or the batches run out. It never
// reorders the batches it is given; the batch store owns the ordering.
func planLine(line DemandLine, batches []*repository.Batch) LineResult {
	result := LineResult{
		ItemID:    line.ItemID,
		Requested: line.Quantity,
		Allocated: decimal.Zero,
	}

	remaining := line.Quantity
	available := decimal.Zero

	for _, batch := range batches {
		batchAvailable := batch.Available()
		if !batchAvailable.IsPositive() {
			continue
		}
		available = available.Add(batchAvailable)

		if !remaining.IsPositive() {
			continue
		}

		take := decimal.Min(remaining, batchAvailable)
		result.Takes = append(result.Takes, BatchTake{
			BatchID:     batch.ID,
			BatchNumber: batch.BatchNumber,
			Quantity:    take,
			UnitCost:    batch.UnitCost,
		})
		result.Allocated = result.Allocated.Add(take)
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		result.Shortfall = &Shortfall{
			Requested: line.Quantity,
			Available: available,
		}
	}

	return result
}

// buildPlan evaluates every merged demand line against the eligible batches.
// An item with no eligible batches is a full shortfall, not an error.
func buildPlan(lines []DemandLine, eligible map[string][]*repository.Batch) []LineResult {
	results := make([]LineResult, 0, len(lines))
	for _, line := range lines {
		if line.Quantity.IsZero() {
			// No-op line: recorded in the result, touches nothing.
			results = append(results, LineResult{
				ItemID:    line.ItemID,
				Requested: decimal.Zero,
				Allocated: decimal.Zero,
			})
			continue
		}
		results = append(results, planLine(line, eligible[line.ItemID]))
	}
	return results
}
