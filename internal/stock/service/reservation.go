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
	"github.com/medstock/medstock-backend/pkg/messaging"
	"github.com/shopspring/decimal"
)

// ReservationService holds eligible stock ahead of dispensing. A hold raises
// reserved quantities so concurrent allocations cannot take the units, without
// touching on-hand or the ledger; confirming converts the hold into real
// consumption, releasing or expiring gives the units back.
type ReservationService struct {
	db         *database.DB
	itemRepo   *repository.ItemRepository
	batchRepo  *repository.BatchRepository
	ledgerRepo *repository.LedgerRepository
	resRepo    *repository.ReservationRepository
	publisher  *events.StockEventPublisher
	cfg        config.StockConfig
	logger     *logger.Logger
}

// NewReservationService creates a new reservation service
func NewReservationService(
	db *database.DB,
	itemRepo *repository.ItemRepository,
	batchRepo *repository.BatchRepository,
	ledgerRepo *repository.LedgerRepository,
	resRepo *repository.ReservationRepository,
	publisher *events.StockEventPublisher,
	cfg config.StockConfig,
	log *logger.Logger,
) *ReservationService {
	return &ReservationService{
		db:         db,
		itemRepo:   itemRepo,
		batchRepo:  batchRepo,
		ledgerRepo: ledgerRepo,
		resRepo:    resRepo,
		publisher:  publisher,
		cfg:        cfg,
		logger:     log.WithComponent("reservation"),
	}
}

// HoldRequest asks for a time-boxed hold on eligible stock
type HoldRequest struct {
	ItemID        string
	Quantity      decimal.Decimal
	WarehouseID   string
	ReferenceType string
	ReferenceID   string
	// TTL overrides the configured reservation lifetime when positive
	TTL time.Duration
}

// Hold reserves quantity for an item, spread over eligible batches in FEFO
// order. The hold is all-or-nothing: if eligible stock cannot cover the
// quantity, nothing is reserved and the shortfall comes back in the error
// details. A reference that already holds an active reservation is replayed.
func (s *ReservationService) Hold(ctx context.Context, req HoldRequest) ([]*repository.Reservation, error) {
	details := map[string]string{}
	if !req.Quantity.IsPositive() {
		details["quantity"] = "held quantity must be positive"
	}
	if req.ReferenceType == "" || req.ReferenceID == "" {
		details["reference"] = "reference type and id are required"
	}
	if len(details) > 0 {
		return nil, errors.InvalidDemand(details)
	}

	item, err := s.itemRepo.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if !item.IsActive {
		return nil, errors.BadRequest("cannot reserve stock for an inactive item")
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.cfg.ReservationTTL
	}
	now := time.Now().UTC()

	var held []*repository.Reservation
	replayed := false

	err = s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		existing, err := s.resRepo.ActiveByReferenceTx(ctx, tx, req.ReferenceType, req.ReferenceID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			held = existing
			replayed = true
			return nil
		}

		eligible, err := s.batchRepo.EligibleForUpdate(ctx, tx, []string{req.ItemID}, req.WarehouseID, now)
		if err != nil {
			return err
		}

		plan := planLine(DemandLine{ItemID: req.ItemID, Quantity: req.Quantity}, eligible[req.ItemID])
		if plan.Shortfall != nil {
			return errors.Conflict("insufficient eligible stock to hold the requested quantity")
		}

		for _, take := range plan.Takes {
			res := &repository.Reservation{
				ItemID:        req.ItemID,
				BatchID:       take.BatchID,
				Quantity:      take.Quantity,
				ReferenceType: req.ReferenceType,
				ReferenceID:   req.ReferenceID,
				Status:        repository.ReservationActive,
				ExpiresAt:     now.Add(ttl),
			}
			if err := s.resRepo.CreateTx(ctx, tx, res); err != nil {
				return err
			}
			if err := s.batchRepo.AdjustReservedTx(ctx, tx, take.BatchID, take.Quantity); err != nil {
				return err
			}
			held = append(held, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !replayed {
		s.logger.Info().
			Str("item_id", req.ItemID).
			Str("reference_id", req.ReferenceID).
			Str("quantity", req.Quantity.String()).
			Int("batches", len(held)).
			Msg("stock held")

		for _, res := range held {
			s.publisher.PublishReservation(ctx, messaging.EventReservationHeld, res)
		}
	}

	return held, nil
}

// Confirm converts every active reservation under a reference into committed
// consumption: ledger entries are appended and on-hand plus reserved
// quantities drop together. The movement kind names the consuming workflow.
func (s *ReservationService) Confirm(ctx context.Context, referenceType, referenceID string, kind repository.MovementKind, performedBy string) ([]*repository.LedgerEntry, error) {
	switch kind {
	case repository.KindDispenseOutpatient, repository.KindDispenseWard:
	default:
		return nil, errors.BadRequest("reservations confirm into a dispense movement kind")
	}

	var entries []*repository.LedgerEntry
	var confirmed []*repository.Reservation

	err := s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		reservations, err := s.resRepo.ActiveByReferenceTx(ctx, tx, referenceType, referenceID)
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return errors.NotFound("active reservation")
		}

		for _, res := range reservations {
			entry := &repository.LedgerEntry{
				ItemID:        res.ItemID,
				BatchID:       res.BatchID,
				Kind:          kind,
				QuantityDelta: res.Quantity.Neg(),
				ReferenceType: referenceType,
				ReferenceID:   referenceID,
			}
			if performedBy != "" {
				entry.PerformedBy = &performedBy
			}

			if err := s.ledgerRepo.AppendTx(ctx, tx, entry); err != nil {
				return err
			}
			// Reserved drops before on-hand: the reserved_quantity <=
			// quantity_on_hand constraint is checked per statement, so the
			// opposite order rejects any hold larger than the unreserved
			// remainder.
			if err := s.batchRepo.AdjustReservedTx(ctx, tx, res.BatchID, res.Quantity.Neg()); err != nil {
				return err
			}
			if err := s.batchRepo.ApplyDeltaTx(ctx, tx, res.BatchID, res.Quantity.Neg()); err != nil {
				return err
			}
			if err := s.resRepo.SetStatusTx(ctx, tx, res.ID, repository.ReservationConsumed); err != nil {
				return err
			}
			res.Status = repository.ReservationConsumed
			entries = append(entries, entry)
			confirmed = append(confirmed, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("reference_id", referenceID).
		Int("reservations", len(confirmed)).
		Msg("reservations confirmed")

	for _, res := range confirmed {
		s.publisher.PublishReservation(ctx, messaging.EventReservationConsumed, res)
	}

	return entries, nil
}

// Release gives back every active reservation under a reference
func (s *ReservationService) Release(ctx context.Context, referenceType, referenceID string) error {
	released, err := s.settle(ctx, referenceType, referenceID, repository.ReservationReleased)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("reference_id", referenceID).
		Int("reservations", len(released)).
		Msg("reservations released")

	for _, res := range released {
		s.publisher.PublishReservation(ctx, messaging.EventReservationReleased, res)
	}
	return nil
}

// ExpireStale releases every active reservation past its expiry and returns
// how many were expired. The scheduler calls this periodically.
func (s *ReservationService) ExpireStale(ctx context.Context) (int, error) {
	var expired []*repository.Reservation

	err := s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		stale, err := s.resRepo.StaleActiveTx(ctx, tx, time.Now().UTC())
		if err != nil {
			return err
		}

		for _, res := range stale {
			if err := s.batchRepo.AdjustReservedTx(ctx, tx, res.BatchID, res.Quantity.Neg()); err != nil {
				return err
			}
			if err := s.resRepo.SetStatusTx(ctx, tx, res.ID, repository.ReservationExpired); err != nil {
				return err
			}
			res.Status = repository.ReservationExpired
			expired = append(expired, res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(expired) > 0 {
		s.logger.Info().Int("expired", len(expired)).Msg("stale reservations expired")
		for _, res := range expired {
			s.publisher.PublishReservation(ctx, messaging.EventReservationReleased, res)
		}
	}

	return len(expired), nil
}

func (s *ReservationService) settle(ctx context.Context, referenceType, referenceID string, status repository.ReservationStatus) ([]*repository.Reservation, error) {
	var settled []*repository.Reservation

	err := s.db.TransactionWithLockTimeout(ctx, s.cfg.LockTimeout, func(tx *sqlx.Tx) error {
		reservations, err := s.resRepo.ActiveByReferenceTx(ctx, tx, referenceType, referenceID)
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return errors.NotFound("active reservation")
		}

		for _, res := range reservations {
			if err := s.batchRepo.AdjustReservedTx(ctx, tx, res.BatchID, res.Quantity.Neg()); err != nil {
				return err
			}
			if err := s.resRepo.SetStatusTx(ctx, tx, res.ID, status); err != nil {
				return err
			}
			res.Status = status
			settled = append(settled, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}
