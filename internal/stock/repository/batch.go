package repository

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/medstock/medstock-backend/pkg/database"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Batch is one physical lot of an item in one warehouse. Quantities move only
// through ledger-backed credits and debits; a batch is never deleted, it drains
// to zero and stays for audit.
type Batch struct {
	ID               string          `db:"id" json:"id"`
	ItemID           string          `db:"item_id" json:"item_id"`
	WarehouseID      string          `db:"warehouse_id" json:"warehouse_id"`
	BatchNumber      string          `db:"batch_number" json:"batch_number"`
	ExpiryDate       time.Time       `db:"expiry_date" json:"expiry_date"`
	ReceivedAt       time.Time       `db:"received_at" json:"received_at"`
	QuantityOnHand   decimal.Decimal `db:"quantity_on_hand" json:"quantity_on_hand"`
	ReservedQuantity decimal.Decimal `db:"reserved_quantity" json:"reserved_quantity"`
	UnitCost         decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	Quarantined      bool            `db:"quarantined" json:"quarantined"`
	Unspecified      bool            `db:"unspecified" json:"unspecified"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Available returns the quantity not held by an active reservation.
func (b *Batch) Available() decimal.Decimal {
	return b.QuantityOnHand.Sub(b.ReservedQuantity)
}

// UnspecifiedBatchNumber is the synthetic lot code used when a return cannot
// name the batch it came from. Such stock is excluded from allocation until
// manually reconciled.
const UnspecifiedBatchNumber = "UNSPECIFIED"

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create creates a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	return r.insert(ctx, r.db, batch)
}

// CreateTx creates a new batch inside a transaction
func (r *BatchRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, batch *Batch) error {
	return r.insert(ctx, tx, batch)
}

func (r *BatchRepository) insert(ctx context.Context, q sqlx.QueryerContext, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.WarehouseID == "" {
		batch.WarehouseID = "main"
	}

	query := `
		INSERT INTO batches (
			id, item_id, warehouse_id, batch_number, expiry_date, received_at,
			quantity_on_hand, reserved_quantity, unit_cost, quarantined, unspecified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	return q.QueryRowxContext(ctx, query,
		batch.ID, batch.ItemID, batch.WarehouseID, batch.BatchNumber,
		batch.ExpiryDate, batch.ReceivedAt, batch.QuantityOnHand,
		batch.ReservedQuantity, batch.UnitCost, batch.Quarantined, batch.Unspecified,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// GetForUpdateTx locks a single batch row and returns it
func (r *BatchRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// GetByNumberTx finds a batch by its lot code within an item and warehouse,
// locking the row if found
func (r *BatchRepository) GetByNumberTx(ctx context.Context, tx *sqlx.Tx, itemID, warehouseID, batchNumber string) (*Batch, error) {
	var batch Batch
	query := `
		SELECT * FROM batches
		WHERE item_id = $1 AND warehouse_id = $2 AND batch_number = $3
		FOR UPDATE
	`
	if err := tx.GetContext(ctx, &batch, query, itemID, warehouseID, batchNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListByItem lists all batches for an item, eligible first
func (r *BatchRepository) ListByItem(ctx context.Context, itemID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE item_id = $1
		ORDER BY expiry_date, received_at, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, itemID); err != nil {
		return nil, err
	}
	return batches, nil
}

// eligibilityClause filters batches allocatable as of a point in time:
// stock available beyond reservations, not expired (strictly after asOf),
// not quarantined by reconciliation, not the unspecified-return bucket,
// and belonging to an active item.
const eligibilityClause = `
	b.quantity_on_hand - b.reserved_quantity > 0
	AND b.expiry_date > $2
	AND NOT b.quarantined
	AND NOT b.unspecified
	AND i.is_active
`

// Eligible returns a consistent snapshot of allocatable batches for the given
// items, grouped per item in FEFO/FIFO order. Read-only callers (previews,
// availability, the alert scanner) use this; allocation must go through
// EligibleForUpdate.
func (r *BatchRepository) Eligible(ctx context.Context, itemIDs []string, warehouseID string, asOf time.Time) (map[string][]*Batch, error) {
	if len(itemIDs) == 0 {
		return map[string][]*Batch{}, nil
	}

	var batches []*Batch
	query := `
		SELECT b.* FROM batches b
		JOIN items i ON i.id = b.item_id
		WHERE b.item_id = ANY($1) AND ` + eligibilityClause + `
		AND ($3 = '' OR b.warehouse_id = $3)
		ORDER BY b.expiry_date, b.received_at, b.id
	`
	if err := r.db.SelectContext(ctx, &batches, query, pq.Array(itemIDs), asOf, warehouseID); err != nil {
		return nil, err
	}

	return groupByItem(batches), nil
}

// EligibleForUpdate locks and returns allocatable batches for all demanded
// items in one statement. Rows are locked in ascending batch ID order - a
// fixed global order, so two multi-item allocations touching overlapping
// batches always queue instead of deadlocking. The returned groups are
// re-sorted FEFO/FIFO (expiry, received, ID); callers must consume them in
// that order and may not reorder.
func (r *BatchRepository) EligibleForUpdate(ctx context.Context, tx *sqlx.Tx, itemIDs []string, warehouseID string, asOf time.Time) (map[string][]*Batch, error) {
	if len(itemIDs) == 0 {
		return map[string][]*Batch{}, nil
	}

	var batches []*Batch
	query := `
		SELECT b.* FROM batches b
		JOIN items i ON i.id = b.item_id
		WHERE b.item_id = ANY($1) AND ` + eligibilityClause + `
		AND ($3 = '' OR b.warehouse_id = $3)
		ORDER BY b.id
		FOR UPDATE OF b
	`
	if err := tx.SelectContext(ctx, &batches, query, pq.Array(itemIDs), asOf, warehouseID); err != nil {
		return nil, err
	}

	grouped := groupByItem(batches)
	for _, group := range grouped {
		sortFEFO(group)
	}
	return grouped, nil
}

func groupByItem(batches []*Batch) map[string][]*Batch {
	grouped := make(map[string][]*Batch)
	for _, b := range batches {
		grouped[b.ItemID] = append(grouped[b.ItemID], b)
	}
	return grouped
}

// sortFEFO orders batches by expiry date ascending, then received timestamp,
// then batch ID as the deterministic tie-break.
func sortFEFO(batches []*Batch) {
	sort.Slice(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

// ApplyDeltaTx moves a batch's on-hand quantity by delta (negative for
// allocation, positive for credits). The quantity_on_hand CHECK constraint is
// the final backstop against oversell.
func (r *BatchRepository) ApplyDeltaTx(ctx context.Context, tx *sqlx.Tx, batchID string, delta decimal.Decimal) error {
	query := `
		UPDATE batches
		SET quantity_on_hand = quantity_on_hand + $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query, batchID, delta)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}

	return nil
}

// AdjustReservedTx moves a batch's reserved quantity by delta
func (r *BatchRepository) AdjustReservedTx(ctx context.Context, tx *sqlx.Tx, batchID string, delta decimal.Decimal) error {
	query := `
		UPDATE batches
		SET reserved_quantity = reserved_quantity + $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query, batchID, delta)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}

	return nil
}

// SetQuantityTx overwrites a batch's on-hand quantity. Only the reconciliation
// rebuild uses this; everything else moves quantities through ApplyDeltaTx.
func (r *BatchRepository) SetQuantityTx(ctx context.Context, tx *sqlx.Tx, batchID string, quantity decimal.Decimal) error {
	query := `
		UPDATE batches
		SET quantity_on_hand = $2, quarantined = FALSE, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query, batchID, quantity)
	return err
}

// Quarantine excludes a batch from allocation after a reconciliation failure
func (r *BatchRepository) Quarantine(ctx context.Context, batchID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE batches SET quarantined = TRUE, updated_at = NOW() WHERE id = $1`, batchID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}

	return nil
}

// GetOrCreateUnspecifiedTx returns the synthetic return bucket for an item in
// a warehouse, creating it on first use. The bucket never expires and is never
// eligible for allocation.
func (r *BatchRepository) GetOrCreateUnspecifiedTx(ctx context.Context, tx *sqlx.Tx, itemID, warehouseID string) (*Batch, error) {
	batch, err := r.GetByNumberTx(ctx, tx, itemID, warehouseID, UnspecifiedBatchNumber)
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	bucket := &Batch{
		ItemID:      itemID,
		WarehouseID: warehouseID,
		BatchNumber: UnspecifiedBatchNumber,
		// Far-future expiry keeps the row well-formed without implying shelf life.
		ExpiryDate:  time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
		ReceivedAt:  time.Now().UTC(),
		Unspecified: true,
	}
	if err := r.CreateTx(ctx, tx, bucket); err != nil {
		return nil, err
	}
	return bucket, nil
}

// TotalEligibleStock sums allocatable stock for an item across batches
func (r *BatchRepository) TotalEligibleStock(ctx context.Context, itemID string, asOf time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	query := `
		SELECT SUM(b.quantity_on_hand - b.reserved_quantity) FROM batches b
		JOIN items i ON i.id = b.item_id
		WHERE b.item_id = $1 AND ` + eligibilityClause + `
	`
	if err := r.db.GetContext(ctx, &total, query, itemID, asOf); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// ItemStockLevel pairs an item with its total eligible stock
type ItemStockLevel struct {
	Item
	TotalEligible decimal.Decimal `db:"total_eligible" json:"total_eligible"`
}

// LowStock returns active items whose total eligible stock is at or below
// their minimum stock level, including items with no eligible batches at all.
func (r *BatchRepository) LowStock(ctx context.Context, asOf time.Time) ([]*ItemStockLevel, error) {
	var levels []*ItemStockLevel
	query := `
		SELECT i.*, COALESCE(SUM(b.quantity_on_hand - b.reserved_quantity), 0) AS total_eligible
		FROM items i
		LEFT JOIN batches b ON b.item_id = i.id
			AND b.quantity_on_hand - b.reserved_quantity > 0
			AND b.expiry_date > $1
			AND NOT b.quarantined
			AND NOT b.unspecified
		WHERE i.is_active
		GROUP BY i.id
		HAVING COALESCE(SUM(b.quantity_on_hand - b.reserved_quantity), 0) <= i.min_stock_level
		ORDER BY i.name
	`
	if err := r.db.SelectContext(ctx, &levels, query, asOf); err != nil {
		return nil, err
	}
	return levels, nil
}

// ExpiringWithin returns batches with stock on hand expiring inside the
// horizon, soonest first. Already-expired batches are excluded; the window is
// strictly after asOf up to and including asOf+horizon.
func (r *BatchRepository) ExpiringWithin(ctx context.Context, asOf time.Time, horizon time.Duration) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE quantity_on_hand > 0
		AND NOT unspecified
		AND expiry_date > $1
		AND expiry_date <= $2
		ORDER BY expiry_date, received_at, id
	`
	if err := r.db.SelectContext(ctx, &batches, query, asOf, asOf.Add(horizon)); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListAllForShareTx reads every batch under a shared row lock, in the global
// lock order. The reconciliation verifier uses it so on-hand quantities and
// ledger sums come from one snapshot: concurrent allocations queue behind the
// share lock instead of committing between the two reads.
func (r *BatchRepository) ListAllForShareTx(ctx context.Context, tx *sqlx.Tx) ([]*Batch, error) {
	var batches []*Batch
	query := `SELECT * FROM batches ORDER BY id FOR SHARE`
	if err := tx.SelectContext(ctx, &batches, query); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListAllForUpdateTx locks every batch row for rewrite, in the global lock
// order. Only the reconciliation rebuild uses it.
func (r *BatchRepository) ListAllForUpdateTx(ctx context.Context, tx *sqlx.Tx) ([]*Batch, error) {
	var batches []*Batch
	query := `SELECT * FROM batches ORDER BY id FOR UPDATE`
	if err := tx.SelectContext(ctx, &batches, query); err != nil {
		return nil, err
	}
	return batches, nil
}
