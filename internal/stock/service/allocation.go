package service

import (
	"time"

	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/shopspring/decimal"
)

// AllocationMode decides what happens when demand exceeds eligible stock.
type AllocationMode string

const (
	// ModeAllOrNothing discards every tentative take if any line falls short;
	// the caller gets the full shortfall report and no side effects.
	// Outpatient dispensing uses this: a prescription is filled completely or
	// not at all.
	ModeAllOrNothing AllocationMode = "all_or_nothing"
	// ModeBestEffort commits whatever could be satisfied and reports
	// shortfalls alongside. Ward requisitions and material draws use this.
	ModeBestEffort AllocationMode = "best_effort"
)

// Valid reports whether the mode is one of the closed set
func (m AllocationMode) Valid() bool {
	return m == ModeAllOrNothing || m == ModeBestEffort
}

// DemandLine is one demanded (item, quantity) pair
type DemandLine struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// AllocationRequest is a full demand list with its commit semantics.
// ReferenceID is the caller-supplied idempotency key (the demand document id):
// retried calls with the same reference never double-decrement.
type AllocationRequest struct {
	Lines         []DemandLine
	Mode          AllocationMode
	Kind          repository.MovementKind
	ReferenceType string
	ReferenceID   string
	WarehouseID   string
	PerformedBy   string
	// AsOf is the eligibility cutoff; zero means now. A batch expiring exactly
	// at AsOf is not eligible.
	AsOf time.Time
}

// BatchTake is a quantity consumed from one specific batch
type BatchTake struct {
	BatchID     string          `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Shortfall is the unsatisfiable portion of a demand line
type Shortfall struct {
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
}

// LineResult is the outcome for one (merged) demand line
type LineResult struct {
	ItemID    string          `json:"item_id"`
	Requested decimal.Decimal `json:"requested"`
	Allocated decimal.Decimal `json:"allocated"`
	Takes     []BatchTake     `json:"takes,omitempty"`
	Shortfall *Shortfall      `json:"shortfall,omitempty"`
}

// AllocationResult is the committed (or refused) outcome of one request
type AllocationResult struct {
	ReferenceType string                  `json:"reference_type"`
	ReferenceID   string                  `json:"reference_id"`
	Mode          AllocationMode          `json:"mode"`
	Kind          repository.MovementKind `json:"kind"`
	// Committed is false when an all-or-nothing request was refused, or for
	// previews. No batch was touched in that case.
	Committed bool `json:"committed"`
	// Replayed is true when the reference had already committed; the result
	// reflects the ledger entries of the original call, not a second decrement.
	Replayed bool         `json:"replayed"`
	Lines    []LineResult `json:"lines"`
}

// HasShortfall reports whether any line could not be fully satisfied
func (r *AllocationResult) HasShortfall() bool {
	for i := range r.Lines {
		if r.Lines[i].Shortfall != nil {
			return true
		}
	}
	return false
}

// TotalAllocated sums the allocated quantity across all lines
func (r *AllocationResult) TotalAllocated() decimal.Decimal {
	total := decimal.Zero
	for i := range r.Lines {
		total = total.Add(r.Lines[i].Allocated)
	}
	return total
}
