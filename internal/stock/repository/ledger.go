package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medstock/medstock-backend/pkg/database"
	"github.com/shopspring/decimal"
)

// MovementKind classifies a ledger entry. The set is closed: the database
// enforces it with a CHECK constraint and Valid guards the API edge.
type MovementKind string

const (
	KindStockIn            MovementKind = "stock_in"
	KindDispenseOutpatient MovementKind = "dispense_outpatient"
	KindDispenseWard       MovementKind = "dispense_ward"
	KindTransfer           MovementKind = "transfer"
	KindReturn             MovementKind = "return"
	KindAdjustment         MovementKind = "adjustment"
)

// Valid reports whether the kind is one of the closed movement set
func (k MovementKind) Valid() bool {
	switch k {
	case KindStockIn, KindDispenseOutpatient, KindDispenseWard, KindTransfer, KindReturn, KindAdjustment:
		return true
	}
	return false
}

// LedgerEntry is one immutable signed quantity movement against a batch.
// The sum of deltas per batch must equal that batch's on-hand quantity at all
// times; the allocation engine commits entry and decrement in one transaction
// to keep that true.
type LedgerEntry struct {
	ID            string          `db:"id" json:"id"`
	ItemID        string          `db:"item_id" json:"item_id"`
	BatchID       string          `db:"batch_id" json:"batch_id"`
	Kind          MovementKind    `db:"kind" json:"kind"`
	QuantityDelta decimal.Decimal `db:"quantity_delta" json:"quantity_delta"`
	ReferenceType string          `db:"reference_type" json:"reference_type"`
	ReferenceID   string          `db:"reference_id" json:"reference_id"`
	PerformedBy   *string         `db:"performed_by" json:"performed_by,omitempty"`
	Note          *string         `db:"note" json:"note,omitempty"`
	OccurredAt    time.Time       `db:"occurred_at" json:"occurred_at"`
}

// LedgerRepository handles the append-only stock ledger
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// AppendTx appends an entry inside a transaction. There is no update or
// delete; corrections are new entries in the opposite direction.
func (r *LedgerRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, entry *LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO ledger_entries (
			id, item_id, batch_id, kind, quantity_delta,
			reference_type, reference_id, performed_by, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING occurred_at
	`

	err := tx.QueryRowxContext(ctx, query,
		entry.ID, entry.ItemID, entry.BatchID, entry.Kind, entry.QuantityDelta,
		entry.ReferenceType, entry.ReferenceID, entry.PerformedBy, entry.Note,
	).Scan(&entry.OccurredAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// ListByReferenceTx returns all entries tagged with a demand document,
// oldest first. The allocation engine uses this inside its transaction as the
// idempotency probe: a non-empty result means the reference already committed.
func (r *LedgerRepository) ListByReferenceTx(ctx context.Context, tx *sqlx.Tx, referenceType, referenceID string) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	query := `
		SELECT * FROM ledger_entries
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY occurred_at, id
	`
	if err := tx.SelectContext(ctx, &entries, query, referenceType, referenceID); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListByReference is the non-transactional variant for audit queries
func (r *LedgerRepository) ListByReference(ctx context.Context, referenceType, referenceID string) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	query := `
		SELECT * FROM ledger_entries
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY occurred_at, id
	`
	if err := r.db.SelectContext(ctx, &entries, query, referenceType, referenceID); err != nil {
		return nil, err
	}
	return entries, nil
}

// SumByBatch returns the ledger sum for one batch
func (r *LedgerRepository) SumByBatch(ctx context.Context, batchID string) (decimal.Decimal, error) {
	return sumByBatch(ctx, r.db, batchID)
}

// SumByBatchTx returns the ledger sum for one batch inside a transaction.
// The reconciliation verifier pairs it with a locked batch read so both sides
// of the comparison come from the same snapshot.
func (r *LedgerRepository) SumByBatchTx(ctx context.Context, tx *sqlx.Tx, batchID string) (decimal.Decimal, error) {
	return sumByBatch(ctx, tx, batchID)
}

func sumByBatch(ctx context.Context, q sqlx.QueryerContext, batchID string) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	query := `SELECT SUM(quantity_delta) FROM ledger_entries WHERE batch_id = $1`
	if err := sqlx.GetContext(ctx, q, &sum, query, batchID); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// BatchSum pairs a batch with its ledger total
type BatchSum struct {
	BatchID string          `db:"batch_id"`
	Total   decimal.Decimal `db:"total"`
}

// SumsByBatchTx returns ledger sums for every batch that has entries.
// Reconciliation pairs it with a locked batch listing in the same transaction
// so sums and on-hand quantities describe one snapshot.
func (r *LedgerRepository) SumsByBatchTx(ctx context.Context, tx *sqlx.Tx) ([]*BatchSum, error) {
	var sums []*BatchSum
	query := `
		SELECT batch_id, SUM(quantity_delta) AS total
		FROM ledger_entries
		GROUP BY batch_id
	`
	if err := tx.SelectContext(ctx, &sums, query); err != nil {
		return nil, err
	}
	return sums, nil
}

// ListByBatch lists entries for a batch, newest first, paginated
func (r *LedgerRepository) ListByBatch(ctx context.Context, batchID string, page, perPage int) ([]*LedgerEntry, int64, error) {
	return r.listPaged(ctx, `batch_id = $1`, batchID, page, perPage)
}

// ListByItem lists entries for an item, newest first, paginated
func (r *LedgerRepository) ListByItem(ctx context.Context, itemID string, page, perPage int) ([]*LedgerEntry, int64, error) {
	return r.listPaged(ctx, `item_id = $1`, itemID, page, perPage)
}

func (r *LedgerRepository) listPaged(ctx context.Context, where, arg string, page, perPage int) ([]*LedgerEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM ledger_entries WHERE `+where, arg); err != nil {
		return nil, 0, err
	}

	var entries []*LedgerEntry
	query := `
		SELECT * FROM ledger_entries WHERE ` + where + `
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &entries, query, arg, perPage, (page-1)*perPage); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// ListControlled returns movements of controlled substances in a time window,
// the stricter audit trail narcotics regulation requires.
func (r *LedgerRepository) ListControlled(ctx context.Context, from, to time.Time) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	query := `
		SELECT l.* FROM ledger_entries l
		JOIN items i ON i.id = l.item_id
		WHERE i.is_controlled
		AND l.occurred_at >= $1 AND l.occurred_at < $2
		ORDER BY l.occurred_at, l.id
	`
	if err := r.db.SelectContext(ctx, &entries, query, from, to); err != nil {
		return nil, err
	}
	return entries, nil
}
