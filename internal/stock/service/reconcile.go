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

// ReconciliationService checks the derived on-hand quantities against the
// ledger, which is the source of truth. A divergent batch is quarantined out
// of allocation until a rebuild restores the invariant.
type ReconciliationService struct {
	db         *database.DB
	batchRepo  *repository.BatchRepository
	ledgerRepo *repository.LedgerRepository
	publisher  *events.StockEventPublisher
	cfg        config.StockConfig
	logger     *logger.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	db *database.DB,
	batchRepo *repository.BatchRepository,
	ledgerRepo *repository.LedgerRepository,
	publisher *events.StockEventPublisher,
	cfg config.StockConfig,
	log *logger.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		db:         db,
		batchRepo:  batchRepo,
		ledgerRepo: ledgerRepo,
		publisher:  publisher,
		cfg:        cfg,
		logger:     log.WithComponent("reconciliation"),
	}
}

// Divergence describes one batch whose on-hand quantity disagrees with its
// ledger sum
type Divergence struct {
	BatchID   string          `json:"batch_id"`
	ItemID    string          `json:"item_id"`
	OnHand    decimal.Decimal `json:"on_hand"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
}

// VerifyReport is the outcome of a full verification pass
type VerifyReport struct {
	CheckedAt   time.Time     `json:"checked_at"`
	Checked     int           `json:"checked"`
	Divergences []*Divergence `json:"divergences"`
}

// VerifyBatch compares one batch's on-hand quantity with its ledger sum. On
// divergence the batch is quarantined, the event is published and a
// reconciliation error comes back; a matching batch returns nil.
//
// Both reads happen under one row lock so an allocation committing between
// them cannot make a healthy batch look divergent. Quarantining after the
// lock is released is safe: every movement shifts on-hand and ledger sum
// together, so a real divergence persists.
func (s *ReconciliationService) VerifyBatch(ctx context.Context, batchID string) error {
	var batch *repository.Batch
	var sum decimal.Decimal

	err := s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		var err error
		batch, err = s.batchRepo.GetForUpdateTx(ctx, tx, batchID)
		if err != nil {
			return err
		}
		sum, err = s.ledgerRepo.SumByBatchTx(ctx, tx, batchID)
		return err
	})
	if err != nil {
		return err
	}

	if batch.QuantityOnHand.Equal(sum) {
		return nil
	}

	return s.quarantine(ctx, batch, sum)
}

// VerifyAll checks every batch and quarantines each divergent one. The report
// lists what was found; divergences are findings here, not errors, so one bad
// batch does not stop the sweep.
func (s *ReconciliationService) VerifyAll(ctx context.Context) (*VerifyReport, error) {
	var batches []*repository.Batch
	sums := make(map[string]decimal.Decimal)

	// Batch rows and ledger sums come from the same transaction, with the
	// rows share-locked so no allocation commits between the two reads.
	err := s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		var err error
		batches, err = s.batchRepo.ListAllForShareTx(ctx, tx)
		if err != nil {
			return err
		}
		batchSums, err := s.ledgerRepo.SumsByBatchTx(ctx, tx)
		if err != nil {
			return err
		}
		for _, bs := range batchSums {
			sums[bs.BatchID] = bs.Total
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{CheckedAt: time.Now().UTC(), Checked: len(batches)}

	for _, batch := range batches {
		sum := sums[batch.ID] // a batch with no entries must hold zero
		if batch.QuantityOnHand.Equal(sum) {
			continue
		}

		if err := s.quarantine(ctx, batch, sum); err != nil && !errors.Is(err, errors.ErrReconciliation) {
			return nil, err
		}
		report.Divergences = append(report.Divergences, &Divergence{
			BatchID:   batch.ID,
			ItemID:    batch.ItemID,
			OnHand:    batch.QuantityOnHand,
			LedgerSum: sum,
		})
	}

	s.logger.Info().
		Int("checked", report.Checked).
		Int("divergent", len(report.Divergences)).
		Msg("reconciliation sweep completed")

	return report, nil
}

// Rebuild recomputes every batch's on-hand quantity from the ledger inside one
// transaction, clearing quarantine flags as it goes. This is the recovery path
// after divergence: the ledger wins.
func (s *ReconciliationService) Rebuild(ctx context.Context) (int, error) {
	rebuilt := 0

	err := s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		// Exclusive locks: the sums written below must still be current when
		// the updates land, so allocations wait out the rebuild.
		batches, err := s.batchRepo.ListAllForUpdateTx(ctx, tx)
		if err != nil {
			return err
		}
		batchSums, err := s.ledgerRepo.SumsByBatchTx(ctx, tx)
		if err != nil {
			return err
		}

		sums := make(map[string]decimal.Decimal, len(batchSums))
		for _, bs := range batchSums {
			sums[bs.BatchID] = bs.Total
		}

		for _, batch := range batches {
			sum := sums[batch.ID]
			if batch.QuantityOnHand.Equal(sum) && !batch.Quarantined {
				continue
			}
			if err := s.batchRepo.SetQuantityTx(ctx, tx, batch.ID, sum); err != nil {
				return err
			}
			rebuilt++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info().Int("rebuilt", rebuilt).Msg("batch quantities rebuilt from ledger")
	return rebuilt, nil
}

func (s *ReconciliationService) quarantine(ctx context.Context, batch *repository.Batch, sum decimal.Decimal) error {
	if err := s.batchRepo.Quarantine(ctx, batch.ID); err != nil {
		return err
	}

	s.logger.Error().
		Str("batch_id", batch.ID).
		Str("item_id", batch.ItemID).
		Str("on_hand", batch.QuantityOnHand.String()).
		Str("ledger_sum", sum.String()).
		Msg("batch quarantined, on-hand diverges from ledger")

	s.publisher.PublishQuarantined(ctx, batch, sum)

	return errors.Reconciliation(batch.ID, "on-hand quantity diverges from ledger sum")
}
