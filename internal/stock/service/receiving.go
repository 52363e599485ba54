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

// ReceivingService credits stock from goods receipts. A receipt for a known
// (item, warehouse, batch number) tops up the existing batch record; anything
// else creates the batch.
type ReceivingService struct {
	db         *database.DB
	itemRepo   *repository.ItemRepository
	batchRepo  *repository.BatchRepository
	ledgerRepo *repository.LedgerRepository
	publisher  *events.StockEventPublisher
	cfg        config.StockConfig
	logger     *logger.Logger
}

// NewReceivingService creates a new receiving service
func NewReceivingService(
	db *database.DB,
	itemRepo *repository.ItemRepository,
	batchRepo *repository.BatchRepository,
	ledgerRepo *repository.LedgerRepository,
	publisher *events.StockEventPublisher,
	cfg config.StockConfig,
	log *logger.Logger,
) *ReceivingService {
	return &ReceivingService{
		db:         db,
		itemRepo:   itemRepo,
		batchRepo:  batchRepo,
		ledgerRepo: ledgerRepo,
		publisher:  publisher,
		cfg:        cfg,
		logger:     log.WithComponent("receiving"),
	}
}

// ReceiveRequest is one goods receipt line
type ReceiveRequest struct {
	ItemID      string
	WarehouseID string
	BatchNumber string
	ExpiryDate  time.Time
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	ReferenceID string
	PerformedBy string
}

// Receive credits a batch and appends the stock_in ledger entry. Retried
// receipts with the same reference are replayed from the ledger, not
// re-credited.
func (s *ReceivingService) Receive(ctx context.Context, req ReceiveRequest) (*repository.Batch, error) {
	details := map[string]string{}
	if !req.Quantity.IsPositive() {
		details["quantity"] = "received quantity must be positive"
	}
	if req.BatchNumber == "" || req.BatchNumber == repository.UnspecifiedBatchNumber {
		details["batch_number"] = "a real batch number is required"
	}
	if req.ExpiryDate.IsZero() {
		details["expiry_date"] = "expiry date is required"
	}
	if req.ReferenceID == "" {
		details["reference"] = "reference id is required"
	}
	if req.UnitCost.IsNegative() {
		details["unit_cost"] = "unit cost must not be negative"
	}
	if len(details) > 0 {
		return nil, errors.InvalidDemand(details)
	}

	item, err := s.itemRepo.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if !item.IsActive {
		return nil, errors.BadRequest("cannot receive stock for an inactive item")
	}

	if req.WarehouseID == "" {
		req.WarehouseID = "main"
	}

	var batch *repository.Batch
	replayed := false

	err = s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		existing, err := s.ledgerRepo.ListByReferenceTx(ctx, tx, "goods_receipt", req.ReferenceID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			replayed = true
			batch, err = s.batchRepo.GetByID(ctx, existing[0].BatchID)
			return err
		}

		batch, err = s.batchRepo.GetByNumberTx(ctx, tx, req.ItemID, req.WarehouseID, req.BatchNumber)
		if errors.Is(err, errors.ErrNotFound) {
			batch = &repository.Batch{
				ItemID:      req.ItemID,
				WarehouseID: req.WarehouseID,
				BatchNumber: req.BatchNumber,
				ExpiryDate:  req.ExpiryDate,
				ReceivedAt:  time.Now().UTC(),
				UnitCost:    req.UnitCost,
			}
			if err := s.batchRepo.CreateTx(ctx, tx, batch); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else if !batch.ExpiryDate.Equal(req.ExpiryDate) {
			// Same lot number with a different expiry is a data entry error, not
			// a top-up.
			return errors.Conflict("batch number already exists with a different expiry date")
		}

		entry := &repository.LedgerEntry{
			ItemID:        req.ItemID,
			BatchID:       batch.ID,
			Kind:          repository.KindStockIn,
			QuantityDelta: req.Quantity,
			ReferenceType: "goods_receipt",
			ReferenceID:   req.ReferenceID,
		}
		if req.PerformedBy != "" {
			entry.PerformedBy = &req.PerformedBy
		}

		if err := s.ledgerRepo.AppendTx(ctx, tx, entry); err != nil {
			return err
		}
		if err := s.batchRepo.ApplyDeltaTx(ctx, tx, batch.ID, req.Quantity); err != nil {
			return err
		}
		batch.QuantityOnHand = batch.QuantityOnHand.Add(req.Quantity)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !replayed {
		s.logger.Info().
			Str("item_id", req.ItemID).
			Str("batch_id", batch.ID).
			Str("batch_number", req.BatchNumber).
			Str("quantity", req.Quantity.String()).
			Msg("stock received")

		s.publisher.PublishReceived(ctx, batch, req.Quantity)
	}

	return batch, nil
}
