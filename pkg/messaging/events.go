package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Stock movement events
	EventStockReceived    = "stock.received"
	EventStockAllocated   = "stock.allocated"
	EventStockReversed    = "stock.reversed"
	EventStockTransferred = "stock.transferred"

	// Reservation events
	EventReservationHeld     = "stock.reservation.held"
	EventReservationConsumed = "stock.reservation.consumed"
	EventReservationReleased = "stock.reservation.released"

	// Alert events
	EventAlertLowStock   = "stock.alert.low_stock"
	EventAlertNearExpiry = "stock.alert.near_expiry"

	// Reconciliation events
	EventBatchQuarantined = "stock.batch.quarantined"

	// Catalog events (consumed from the catalog service)
	EventCatalogItemCreated     = "catalog.item.created"
	EventCatalogItemUpdated     = "catalog.item.updated"
	EventCatalogItemDeactivated = "catalog.item.deactivated"
)

// Exchange names
const (
	ExchangeStockEvents   = "stock.events"
	ExchangeCatalogEvents = "catalog.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Event payloads

// StockReceivedEvent is emitted when a batch is credited by the receiving workflow
type StockReceivedEvent struct {
	ItemID      string          `json:"item_id"`
	BatchID     string          `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	WarehouseID string          `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExpiryDate  time.Time       `json:"expiry_date"`
}

// StockAllocatedEvent is emitted once per committed allocation
type StockAllocatedEvent struct {
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Kind          string          `json:"kind"`
	LineCount     int             `json:"line_count"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	HasShortfall  bool            `json:"has_shortfall"`
}

// StockReversedEvent is emitted when a return or correction re-credits stock
type StockReversedEvent struct {
	ItemID        string          `json:"item_id"`
	BatchID       string          `json:"batch_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unspecified   bool            `json:"unspecified"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
}

// StockTransferredEvent is emitted for a committed warehouse transfer
type StockTransferredEvent struct {
	ItemID          string          `json:"item_id"`
	FromBatchID     string          `json:"from_batch_id"`
	ToBatchID       string          `json:"to_batch_id"`
	FromWarehouseID string          `json:"from_warehouse_id"`
	ToWarehouseID   string          `json:"to_warehouse_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	ReferenceID     string          `json:"reference_id"`
}

// ReservationEvent is emitted on every reservation state change
type ReservationEvent struct {
	ReservationID string          `json:"reservation_id"`
	ItemID        string          `json:"item_id"`
	BatchID       string          `json:"batch_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Status        string          `json:"status"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
}

// LowStockEvent is emitted by the alert scanner for items at or below minimum
type LowStockEvent struct {
	ItemID        string          `json:"item_id"`
	ItemName      string          `json:"item_name"`
	TotalEligible decimal.Decimal `json:"total_eligible"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
	OutOfStock    bool            `json:"out_of_stock"`
}

// NearExpiryEvent is emitted by the alert scanner for batches inside the horizon
type NearExpiryEvent struct {
	ItemID      string          `json:"item_id"`
	BatchID     string          `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExpiryDate  time.Time       `json:"expiry_date"`
	DaysLeft    int             `json:"days_left"`
}

// BatchQuarantinedEvent is emitted when reconciliation finds a divergent batch
type BatchQuarantinedEvent struct {
	BatchID   string          `json:"batch_id"`
	ItemID    string          `json:"item_id"`
	OnHand    decimal.Decimal `json:"on_hand"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
}

// CatalogItemEvent carries item master data from the catalog service
type CatalogItemEvent struct {
	ItemID        string          `json:"item_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
	IsControlled  bool            `json:"is_controlled"`
	IsActive      bool            `json:"is_active"`
}
