package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/medstock/medstock-backend/pkg/database"
	"github.com/medstock/medstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Item is catalog reference data: identity, unit of measure and stock policy.
// Items are maintained by the catalog service and consumed read-only here;
// the engine never mutates an item except through catalog events.
type Item struct {
	ID            string          `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	Name          string          `db:"name" json:"name"`
	Unit          string          `db:"unit" json:"unit"`
	MinStockLevel decimal.Decimal `db:"min_stock_level" json:"min_stock_level"`
	IsControlled  bool            `db:"is_controlled" json:"is_controlled"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// ItemRepository handles item persistence
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Upsert creates or updates an item from catalog data
func (r *ItemRepository) Upsert(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO items (id, code, name, unit, min_stock_level, is_controlled, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			unit = EXCLUDED.unit,
			min_stock_level = EXCLUDED.min_stock_level,
			is_controlled = EXCLUDED.is_controlled,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	return r.db.QueryRowxContext(ctx, query,
		item.ID, item.Code, item.Name, item.Unit, item.MinStockLevel,
		item.IsControlled, item.IsActive,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

// Deactivate marks an item inactive. Inactive items have no eligible batches.
func (r *ItemRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE items SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("item")
	}

	return nil
}

// GetByID gets an item by ID
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*Item, error) {
	var item Item
	query := `SELECT * FROM items WHERE id = $1`
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("item")
		}
		return nil, err
	}
	return &item, nil
}

// GetByIDs gets multiple items in one round-trip, keyed by ID.
// Missing IDs are simply absent from the map.
func (r *ItemRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*Item, error) {
	if len(ids) == 0 {
		return map[string]*Item{}, nil
	}

	var items []*Item
	query := `SELECT * FROM items WHERE id = ANY($1)`
	if err := r.db.SelectContext(ctx, &items, query, pq.Array(ids)); err != nil {
		return nil, err
	}

	result := make(map[string]*Item, len(items))
	for _, item := range items {
		result[item.ID] = item
	}
	return result, nil
}

// List lists items with pagination
func (r *ItemRepository) List(ctx context.Context, page, perPage int) ([]*Item, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM items`); err != nil {
		return nil, 0, err
	}

	var items []*Item
	query := `SELECT * FROM items ORDER BY name LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &items, query, perPage, (page-1)*perPage); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}
