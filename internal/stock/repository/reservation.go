package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medstock/medstock-backend/pkg/database"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// ReservationStatus is the closed lifecycle of a hold. Every reservation ends
// as consumed, released or expired; none stays active forever.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
	ReservationExpired  ReservationStatus = "expired"
)

// Reservation is a time-boxed hold on a batch quantity. It reduces the
// available quantity but not on-hand until confirmed into ledger entries.
type Reservation struct {
	ID            string            `db:"id" json:"id"`
	ItemID        string            `db:"item_id" json:"item_id"`
	BatchID       string            `db:"batch_id" json:"batch_id"`
	Quantity      decimal.Decimal   `db:"quantity" json:"quantity"`
	ReferenceType string            `db:"reference_type" json:"reference_type"`
	ReferenceID   string            `db:"reference_id" json:"reference_id"`
	Status        ReservationStatus `db:"status" json:"status"`
	ExpiresAt     time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// ReservationRepository handles reservation persistence
type ReservationRepository struct {
	db *database.DB
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(db *database.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// CreateTx creates a reservation inside the holding transaction
func (r *ReservationRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, res *Reservation) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.Status == "" {
		res.Status = ReservationActive
	}

	query := `
		INSERT INTO reservations (
			id, item_id, batch_id, quantity, reference_type, reference_id, status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	return tx.QueryRowxContext(ctx, query,
		res.ID, res.ItemID, res.BatchID, res.Quantity,
		res.ReferenceType, res.ReferenceID, res.Status, res.ExpiresAt,
	).Scan(&res.CreatedAt, &res.UpdatedAt)
}

// GetByID gets a reservation by ID
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*Reservation, error) {
	var res Reservation
	query := `SELECT * FROM reservations WHERE id = $1`
	if err := r.db.GetContext(ctx, &res, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("reservation")
		}
		return nil, err
	}
	return &res, nil
}

// ActiveByReferenceTx locks and returns all active reservations for a demand
// document, oldest first
func (r *ReservationRepository) ActiveByReferenceTx(ctx context.Context, tx *sqlx.Tx, referenceType, referenceID string) ([]*Reservation, error) {
	var reservations []*Reservation
	query := `
		SELECT * FROM reservations
		WHERE reference_type = $1 AND reference_id = $2 AND status = 'active'
		ORDER BY id
		FOR UPDATE
	`
	if err := tx.SelectContext(ctx, &reservations, query, referenceType, referenceID); err != nil {
		return nil, err
	}
	return reservations, nil
}

// ListByReference returns all reservations for a demand document
func (r *ReservationRepository) ListByReference(ctx context.Context, referenceType, referenceID string) ([]*Reservation, error) {
	var reservations []*Reservation
	query := `
		SELECT * FROM reservations
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &reservations, query, referenceType, referenceID); err != nil {
		return nil, err
	}
	return reservations, nil
}

// SetStatusTx transitions a reservation out of the active state
func (r *ReservationRepository) SetStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status ReservationStatus) error {
	query := `
		UPDATE reservations
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	result, err := tx.ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("reservation is not active")
	}

	return nil
}

// StaleActiveTx locks and returns active reservations past their expiry
func (r *ReservationRepository) StaleActiveTx(ctx context.Context, tx *sqlx.Tx, asOf time.Time) ([]*Reservation, error) {
	var reservations []*Reservation
	query := `
		SELECT * FROM reservations
		WHERE status = 'active' AND expires_at < $1
		ORDER BY id
		FOR UPDATE
	`
	if err := tx.SelectContext(ctx, &reservations, query, asOf); err != nil {
		return nil, err
	}
	return reservations, nil
}
