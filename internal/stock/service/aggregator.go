package service

import (
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// DocumentLine is one source line before aggregation: a prescription line, a
// requisition line or a material-usage line, identified by its owning document.
type DocumentLine struct {
	DocumentID string          `json:"document_id"`
	LineID     string          `json:"line_id"`
	ItemID     string          `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// DemandSet is an aggregated demand with the mapping back to its sources.
// A ward's daily medicine orders collapse into one demand line per item; after
// allocation Distribute splits the consumed batches back out per source line
// for per-patient audit records.
type DemandSet struct {
	Lines   []DemandLine
	sources map[string][]DocumentLine
}

// AggregateDocuments merges source lines into per-item demand totals,
// preserving first-requested order both across items and among the source
// lines of each item. Zero-quantity lines are dropped; negative quantities
// reject the whole set before allocation.
func AggregateDocuments(lines []DocumentLine) (*DemandSet, error) {
	set := &DemandSet{
		sources: make(map[string][]DocumentLine),
	}
	index := make(map[string]int)

	for _, line := range lines {
		if line.Quantity.IsNegative() {
			return nil, errors.InvalidDemand(map[string]string{
				line.ItemID: "requested quantity must not be negative",
			})
		}
		if line.Quantity.IsZero() {
			continue
		}

		if i, ok := index[line.ItemID]; ok {
			set.Lines[i].Quantity = set.Lines[i].Quantity.Add(line.Quantity)
		} else {
			index[line.ItemID] = len(set.Lines)
			set.Lines = append(set.Lines, DemandLine{ItemID: line.ItemID, Quantity: line.Quantity})
		}
		set.sources[line.ItemID] = append(set.sources[line.ItemID], line)
	}

	return set, nil
}

// SourceAllocation is the per-source-line share of a committed allocation
type SourceAllocation struct {
	DocumentID string          `json:"document_id"`
	LineID     string          `json:"line_id"`
	ItemID     string          `json:"item_id"`
	Requested  decimal.Decimal `json:"requested"`
	Allocated  decimal.Decimal `json:"allocated"`
	Takes      []BatchTake     `json:"takes,omitempty"`
	Shortfall  *Shortfall      `json:"shortfall,omitempty"`
}

// Distribute maps per-batch consumption back to the originating source lines,
// first-requested-first-served: earlier source lines are filled completely
// before later ones see anything, in the same spirit as the FEFO batch walk.
// A take spanning two source lines is split between them.
func (d *DemandSet) Distribute(result *AllocationResult) []SourceAllocation {
	lineResults := make(map[string]*LineResult, len(result.Lines))
	for i := range result.Lines {
		lineResults[result.Lines[i].ItemID] = &result.Lines[i]
	}

	var out []SourceAllocation
	takeCursor := make(map[string]int)
	takeUsed := make(map[string]decimal.Decimal)

	for _, demand := range d.Lines {
		itemID := demand.ItemID
		lr := lineResults[itemID]
		for _, src := range d.sources[itemID] {
			sa := SourceAllocation{
				DocumentID: src.DocumentID,
				LineID:     src.LineID,
				ItemID:     itemID,
				Requested:  src.Quantity,
				Allocated:  decimal.Zero,
			}

			if lr != nil {
				need := src.Quantity
				for need.IsPositive() && takeCursor[itemID] < len(lr.Takes) {
					take := lr.Takes[takeCursor[itemID]]
					used := takeUsed[take.BatchID]
					left := take.Quantity.Sub(used)
					if !left.IsPositive() {
						takeCursor[itemID]++
						continue
					}

					share := decimal.Min(need, left)
					sa.Takes = append(sa.Takes, BatchTake{
						BatchID:     take.BatchID,
						BatchNumber: take.BatchNumber,
						Quantity:    share,
						UnitCost:    take.UnitCost,
					})
					sa.Allocated = sa.Allocated.Add(share)
					need = need.Sub(share)
					takeUsed[take.BatchID] = used.Add(share)

					if takeUsed[take.BatchID].Equal(take.Quantity) {
						takeCursor[itemID]++
					}
				}

				if need.IsPositive() {
					sa.Shortfall = &Shortfall{
						Requested: src.Quantity,
						Available: sa.Allocated,
					}
				}
			} else {
				sa.Shortfall = &Shortfall{Requested: src.Quantity, Available: decimal.Zero}
			}

			out = append(out, sa)
		}
	}

	return out
}
