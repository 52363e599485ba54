package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/medstock/medstock-backend/internal/stock/events"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/pkg/config"
	"github.com/medstock/medstock-backend/pkg/database"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// ReversalService re-credits batches for returns and moves stock between
// warehouses. It shares the ledger with the allocation engine but runs in the
// opposite direction, and never inside an allocation transaction.
type ReversalService struct {
	db         *database.DB
	itemRepo   *repository.ItemRepository
	batchRepo  *repository.BatchRepository
	ledgerRepo *repository.LedgerRepository
	publisher  *events.StockEventPublisher
	cfg        config.StockConfig
	logger     *logger.Logger
}

// NewReversalService creates a new reversal service
func NewReversalService(
	db *database.DB,
	itemRepo *repository.ItemRepository,
	batchRepo *repository.BatchRepository,
	ledgerRepo *repository.LedgerRepository,
	publisher *events.StockEventPublisher,
	cfg config.StockConfig,
	log *logger.Logger,
) *ReversalService {
	return &ReversalService{
		db:         db,
		itemRepo:   itemRepo,
		batchRepo:  batchRepo,
		ledgerRepo: ledgerRepo,
		publisher:  publisher,
		cfg:        cfg,
		logger:     log.WithComponent("reversal"),
	}
}

// ReverseRequest re-credits quantity to a batch. BatchID may be empty when the
// return cannot name its lot; the credit then lands in the item's synthetic
// unspecified bucket and is flagged for manual reconciliation.
type ReverseRequest struct {
	ItemID        string
	BatchID       string
	WarehouseID   string
	Quantity      decimal.Decimal
	ReferenceType string
	ReferenceID   string
	PerformedBy   string
	Note          string
}

// Reverse credits stock back to a batch and appends the matching ledger entry
func (s *ReversalService) Reverse(ctx context.Context, req ReverseRequest) (*repository.LedgerEntry, error) {
	if !req.Quantity.IsPositive() {
		return nil, errors.InvalidDemand(map[string]string{"quantity": "returned quantity must be positive"})
	}
	if req.ReferenceType == "" || req.ReferenceID == "" {
		return nil, errors.InvalidDemand(map[string]string{"reference": "reference type and id are required"})
	}

	item, err := s.itemRepo.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}

	if req.WarehouseID == "" {
		req.WarehouseID = "main"
	}

	var entry *repository.LedgerEntry
	unspecified := false

	err = s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		var batch *repository.Batch
		var err error

		if req.BatchID != "" {
			batch, err = s.batchRepo.GetForUpdateTx(ctx, tx, req.BatchID)
			if err != nil {
				return err
			}
			if batch.ItemID != req.ItemID {
				return errors.BadRequest("batch does not belong to the item")
			}
		} else {
			// The engine never fabricates a batch identity for an unknown lot;
			// the credit goes to the per-item bucket instead.
			batch, err = s.batchRepo.GetOrCreateUnspecifiedTx(ctx, tx, req.ItemID, req.WarehouseID)
			if err != nil {
				return err
			}
			unspecified = true
		}

		entry = &repository.LedgerEntry{
			ItemID:        req.ItemID,
			BatchID:       batch.ID,
			Kind:          repository.KindReturn,
			QuantityDelta: req.Quantity,
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
		}
		if req.PerformedBy != "" {
			entry.PerformedBy = &req.PerformedBy
		}
		note := req.Note
		if unspecified {
			if note != "" {
				note += "; "
			}
			note += "credited to unspecified bucket, needs manual reconciliation"
		}
		if note != "" {
			entry.Note = &note
		}

		if err := s.ledgerRepo.AppendTx(ctx, tx, entry); err != nil {
			return err
		}
		return s.batchRepo.ApplyDeltaTx(ctx, tx, batch.ID, req.Quantity)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("item_id", item.ID).
		Str("batch_id", entry.BatchID).
		Bool("unspecified", unspecified).
		Str("quantity", req.Quantity.String()).
		Msg("stock reversed")

	s.publisher.PublishReversed(ctx, entry, unspecified)

	return entry, nil
}

// TransferRequest moves quantity from a batch in one warehouse to the
// equivalent batch record in another
type TransferRequest struct {
	BatchID       string
	ToWarehouseID string
	Quantity      decimal.Decimal
	ReferenceID   string
	PerformedBy   string
}

// TransferResult reports both sides of a committed transfer
type TransferResult struct {
	FromBatch *repository.Batch         `json:"from_batch"`
	ToBatch   *repository.Batch         `json:"to_batch"`
	Entries   []*repository.LedgerEntry `json:"entries"`
}

// Transfer debits the source batch and credits a mirror batch (same lot code,
// expiry, received timestamp and cost) in the destination warehouse. Both
// sides commit atomically or not at all.
func (s *ReversalService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if !req.Quantity.IsPositive() {
		return nil, errors.InvalidDemand(map[string]string{"quantity": "transfer quantity must be positive"})
	}
	if req.ToWarehouseID == "" {
		return nil, errors.InvalidDemand(map[string]string{"to_warehouse_id": "destination warehouse is required"})
	}
	if req.ReferenceID == "" {
		return nil, errors.InvalidDemand(map[string]string{"reference": "reference id is required"})
	}

	var result *TransferResult

	err := s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		source, err := s.batchRepo.GetForUpdateTx(ctx, tx, req.BatchID)
		if err != nil {
			return err
		}
		if source.WarehouseID == req.ToWarehouseID {
			return errors.BadRequest("source and destination warehouse are the same")
		}
		if source.Available().LessThan(req.Quantity) {
			return errors.Conflict("transfer exceeds available quantity in source batch")
		}

		dest, err := s.batchRepo.GetByNumberTx(ctx, tx, source.ItemID, req.ToWarehouseID, source.BatchNumber)
		if errors.Is(err, errors.ErrNotFound) {
			dest = &repository.Batch{
				ItemID:      source.ItemID,
				WarehouseID: req.ToWarehouseID,
				BatchNumber: source.BatchNumber,
				ExpiryDate:  source.ExpiryDate,
				ReceivedAt:  source.ReceivedAt,
				UnitCost:    source.UnitCost,
			}
			if err := s.batchRepo.CreateTx(ctx, tx, dest); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		debit := &repository.LedgerEntry{
			ItemID:        source.ItemID,
			BatchID:       source.ID,
			Kind:          repository.KindTransfer,
			QuantityDelta: req.Quantity.Neg(),
			ReferenceType: "transfer",
			ReferenceID:   req.ReferenceID,
		}
		credit := &repository.LedgerEntry{
			ItemID:        source.ItemID,
			BatchID:       dest.ID,
			Kind:          repository.KindTransfer,
			QuantityDelta: req.Quantity,
			ReferenceType: "transfer",
			ReferenceID:   req.ReferenceID,
		}
		if req.PerformedBy != "" {
			debit.PerformedBy = &req.PerformedBy
			credit.PerformedBy = &req.PerformedBy
		}

		if err := s.ledgerRepo.AppendTx(ctx, tx, debit); err != nil {
			return err
		}
		if err := s.batchRepo.ApplyDeltaTx(ctx, tx, source.ID, req.Quantity.Neg()); err != nil {
			return err
		}
		if err := s.ledgerRepo.AppendTx(ctx, tx, credit); err != nil {
			return err
		}
		if err := s.batchRepo.ApplyDeltaTx(ctx, tx, dest.ID, req.Quantity); err != nil {
			return err
		}

		result = &TransferResult{
			FromBatch: source,
			ToBatch:   dest,
			Entries:   []*repository.LedgerEntry{debit, credit},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("from_batch", result.FromBatch.ID).
		Str("to_batch", result.ToBatch.ID).
		Str("to_warehouse", req.ToWarehouseID).
		Str("quantity", req.Quantity.String()).
		Msg("stock transferred")

	s.publisher.PublishTransferred(ctx, result.FromBatch, result.ToBatch, req.Quantity, req.ReferenceID)

	return result, nil
}
