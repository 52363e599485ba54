package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/medstock/medstock-backend/internal/stock/events"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/pkg/config"
	"github.com/medstock/medstock-backend/pkg/database"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// Allocator converts demand lists into committed batch decrements under the
// FEFO/FIFO policy. Every allocation runs in one transaction: batch rows are
// locked in a fixed global order, the plan is computed against the locked
// quantities, and ledger entries plus decrements commit together. Two
// concurrent allocations for the same item therefore serialize on the rows
// instead of overcommitting a shared snapshot.
type Allocator struct {
	db         *database.DB
	itemRepo   *repository.ItemRepository
	batchRepo  *repository.BatchRepository
	ledgerRepo *repository.LedgerRepository
	publisher  *events.StockEventPublisher
	cfg        config.StockConfig
	logger     *logger.Logger
}

// NewAllocator creates a new allocation engine
func NewAllocator(
	db *database.DB,
	itemRepo *repository.ItemRepository,
	batchRepo *repository.BatchRepository,
	ledgerRepo *repository.LedgerRepository,
	publisher *events.StockEventPublisher,
	cfg config.StockConfig,
	log *logger.Logger,
) *Allocator {
	return &Allocator{
		db:         db,
		itemRepo:   itemRepo,
		batchRepo:  batchRepo,
		ledgerRepo: ledgerRepo,
		publisher:  publisher,
		cfg:        cfg,
		logger:     log.WithComponent("allocator"),
	}
}

// Allocate satisfies a demand list from eligible batches, or refuses cleanly.
// Shortfalls are part of the result, never a bare error. Contention with
// concurrent allocations is retried internally up to the configured limit
// before surfacing as a retryable error.
func (a *Allocator) Allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	merged, err := a.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var result *AllocationResult
	attempts := a.cfg.MaxContentionRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		result, err = a.allocateOnce(ctx, req, merged, asOf)
		if err == nil {
			break
		}
		if !isContention(err) || attempt == attempts-1 {
			return nil, err
		}

		backoff := a.cfg.RetryBackoff * time.Duration(attempt+1)
		a.logger.Warn().
			Str("reference_id", req.ReferenceID).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("allocation contended, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if result.Committed && !result.Replayed {
		a.publisher.PublishAllocated(ctx,
			result.ReferenceType, result.ReferenceID, string(result.Kind),
			len(result.Lines), result.TotalAllocated(), result.HasShortfall())
	}

	return result, nil
}

// Preview computes the plan against a consistent snapshot without locking or
// writing anything. Dispensing UIs use it to show which batches a fill would
// draw from.
func (a *Allocator) Preview(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	merged, err := a.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	itemIDs := itemIDsOf(merged)
	eligible, err := a.batchRepo.Eligible(ctx, itemIDs, req.WarehouseID, asOf)
	if err != nil {
		return nil, err
	}

	return &AllocationResult{
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Mode:          req.Mode,
		Kind:          req.Kind,
		Committed:     false,
		Lines:         buildPlan(merged, eligible),
	}, nil
}

// validate rejects malformed demand before any locking begins and returns the
// merged demand lines.
func (a *Allocator) validate(ctx context.Context, req AllocationRequest) ([]DemandLine, error) {
	details := map[string]string{}

	if !req.Mode.Valid() {
		details["mode"] = "must be all_or_nothing or best_effort"
	}
	switch req.Kind {
	case repository.KindDispenseOutpatient, repository.KindDispenseWard, repository.KindAdjustment:
	default:
		details["kind"] = "must be a consuming movement kind"
	}
	if req.ReferenceType == "" || req.ReferenceID == "" {
		details["reference"] = "reference type and id are required"
	}
	if len(req.Lines) == 0 {
		details["lines"] = "at least one demand line is required"
	}
	for _, line := range req.Lines {
		if line.ItemID == "" {
			details["lines"] = "item id is required on every line"
		}
		if line.Quantity.IsNegative() {
			details[line.ItemID] = "requested quantity must not be negative"
		}
	}
	if len(details) > 0 {
		return nil, errors.InvalidDemand(details)
	}

	merged := mergeLines(req.Lines)

	items, err := a.itemRepo.GetByIDs(ctx, itemIDsOf(merged))
	if err != nil {
		return nil, err
	}
	for _, line := range merged {
		item, ok := items[line.ItemID]
		if !ok {
			details[line.ItemID] = "unknown item"
			continue
		}
		if !item.IsActive {
			details[line.ItemID] = "item is inactive"
		}
	}
	if len(details) > 0 {
		return nil, errors.InvalidDemand(details)
	}

	return merged, nil
}

func (a *Allocator) allocateOnce(ctx context.Context, req AllocationRequest, merged []DemandLine, asOf time.Time) (*AllocationResult, error) {
	var result *AllocationResult

	err := a.db.TransactionWithLockTimeout(ctx, a.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		// Idempotency: a reference that already produced ledger entries is
		// replayed from them, never re-allocated.
		existing, err := a.ledgerRepo.ListByReferenceTx(ctx, tx, req.ReferenceType, req.ReferenceID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			result = a.replay(req, existing)
			return nil
		}

		eligible, err := a.batchRepo.EligibleForUpdate(ctx, tx, itemIDsOf(merged), req.WarehouseID, asOf)
		if err != nil {
			return err
		}

		lines := buildPlan(merged, eligible)
		result = &AllocationResult{
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
			Mode:          req.Mode,
			Kind:          req.Kind,
			Lines:         lines,
		}

		if req.Mode == ModeAllOrNothing && result.HasShortfall() {
			// Refuse the whole request: tentative takes are discarded and the
			// shortfall report goes back with zero side effects.
			result.Committed = false
			clearTakes(result)
			return nil
		}

		for i := range lines {
			for _, take := range lines[i].Takes {
				entry := &repository.LedgerEntry{
					ItemID:        lines[i].ItemID,
					BatchID:       take.BatchID,
					Kind:          req.Kind,
					QuantityDelta: take.Quantity.Neg(),
					ReferenceType: req.ReferenceType,
					ReferenceID:   req.ReferenceID,
				}
				if req.PerformedBy != "" {
					entry.PerformedBy = &req.PerformedBy
				}
				if err := a.ledgerRepo.AppendTx(ctx, tx, entry); err != nil {
					return err
				}
				if err := a.batchRepo.ApplyDeltaTx(ctx, tx, take.BatchID, take.Quantity.Neg()); err != nil {
					return err
				}
			}
		}

		result.Committed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Committed && !result.Replayed {
		a.logger.Info().
			Str("reference_type", req.ReferenceType).
			Str("reference_id", req.ReferenceID).
			Str("kind", string(req.Kind)).
			Int("lines", len(result.Lines)).
			Bool("shortfall", result.HasShortfall()).
			Msg("allocation committed")
	}

	return result, nil
}

// replay reconstructs the outcome of an already-committed reference from its
// ledger entries. Requested quantities equal the consumed quantities here;
// the original shortfall report, if any, is not persisted.
func (a *Allocator) replay(req AllocationRequest, entries []*repository.LedgerEntry) *AllocationResult {
	result := &AllocationResult{
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Mode:          req.Mode,
		Kind:          req.Kind,
		Committed:     true,
		Replayed:      true,
	}

	index := make(map[string]int)
	for _, entry := range entries {
		taken := entry.QuantityDelta.Neg()
		if !taken.IsPositive() {
			continue
		}

		i, ok := index[entry.ItemID]
		if !ok {
			i = len(result.Lines)
			index[entry.ItemID] = i
			result.Lines = append(result.Lines, LineResult{ItemID: entry.ItemID})
		}
		result.Lines[i].Takes = append(result.Lines[i].Takes, BatchTake{
			BatchID:  entry.BatchID,
			Quantity: taken,
		})
		result.Lines[i].Allocated = result.Lines[i].Allocated.Add(taken)
		result.Lines[i].Requested = result.Lines[i].Allocated
	}

	a.logger.Info().
		Str("reference_type", req.ReferenceType).
		Str("reference_id", req.ReferenceID).
		Msg("allocation replayed from ledger")

	return result
}

func itemIDsOf(lines []DemandLine) []string {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ItemID
	}
	return ids
}

func clearTakes(result *AllocationResult) {
	for i := range result.Lines {
		result.Lines[i].Takes = nil
		result.Lines[i].Allocated = decimal.Zero
	}
}

// isContention matches both mapped contention AppErrors and raw pq lock errors
func isContention(err error) bool {
	return errors.Is(err, errors.ErrContention) || database.IsContention(err)
}
