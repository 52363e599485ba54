package events

import (
	"context"
	"time"

	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/medstock/medstock-backend/pkg/messaging"
	"github.com/shopspring/decimal"
)

// StockEventPublisher publishes stock movement, reservation and alert events.
// A nil publisher is valid and publishes nothing; services run unchanged when
// the broker is not configured.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishReceived publishes a stock received event
func (p *StockEventPublisher) PublishReceived(ctx context.Context, batch *repository.Batch, quantity decimal.Decimal) {
	if p == nil {
		return
	}

	data := messaging.StockReceivedEvent{
		ItemID:      batch.ItemID,
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		WarehouseID: batch.WarehouseID,
		Quantity:    quantity,
		ExpiryDate:  batch.ExpiryDate,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReceived, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish stock received event")
	}
}

// PublishAllocated publishes a stock allocated event
func (p *StockEventPublisher) PublishAllocated(ctx context.Context, referenceType, referenceID, kind string, lineCount int, total decimal.Decimal, hasShortfall bool) {
	if p == nil {
		return
	}

	data := messaging.StockAllocatedEvent{
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		Kind:          kind,
		LineCount:     lineCount,
		TotalQuantity: total,
		HasShortfall:  hasShortfall,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAllocated, data); err != nil {
		p.logger.Error().Err(err).Str("reference_id", referenceID).Msg("failed to publish stock allocated event")
	}
}

// PublishReversed publishes a stock reversed event
func (p *StockEventPublisher) PublishReversed(ctx context.Context, entry *repository.LedgerEntry, unspecified bool) {
	if p == nil {
		return
	}

	data := messaging.StockReversedEvent{
		ItemID:        entry.ItemID,
		BatchID:       entry.BatchID,
		Quantity:      entry.QuantityDelta,
		Unspecified:   unspecified,
		ReferenceType: entry.ReferenceType,
		ReferenceID:   entry.ReferenceID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReversed, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", entry.BatchID).Msg("failed to publish stock reversed event")
	}
}

// PublishTransferred publishes a stock transferred event
func (p *StockEventPublisher) PublishTransferred(ctx context.Context, from, to *repository.Batch, quantity decimal.Decimal, referenceID string) {
	if p == nil {
		return
	}

	data := messaging.StockTransferredEvent{
		ItemID:          from.ItemID,
		FromBatchID:     from.ID,
		ToBatchID:       to.ID,
		FromWarehouseID: from.WarehouseID,
		ToWarehouseID:   to.WarehouseID,
		Quantity:        quantity,
		ReferenceID:     referenceID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockTransferred, data); err != nil {
		p.logger.Error().Err(err).Str("from_batch", from.ID).Msg("failed to publish stock transferred event")
	}
}

// PublishReservation publishes a reservation lifecycle event. eventType is one
// of EventReservationHeld, EventReservationConsumed or EventReservationReleased.
func (p *StockEventPublisher) PublishReservation(ctx context.Context, eventType string, res *repository.Reservation) {
	if p == nil {
		return
	}

	data := messaging.ReservationEvent{
		ReservationID: res.ID,
		ItemID:        res.ItemID,
		BatchID:       res.BatchID,
		Quantity:      res.Quantity,
		Status:        string(res.Status),
		ReferenceType: res.ReferenceType,
		ReferenceID:   res.ReferenceID,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to publish reservation event")
	}
}

// PublishLowStock publishes a low stock alert event
func (p *StockEventPublisher) PublishLowStock(ctx context.Context, level *repository.ItemStockLevel) {
	if p == nil {
		return
	}

	data := messaging.LowStockEvent{
		ItemID:        level.ID,
		ItemName:      level.Name,
		TotalEligible: level.TotalEligible,
		MinStockLevel: level.MinStockLevel,
		OutOfStock:    level.TotalEligible.IsZero(),
	}

	if err := p.publisher.Publish(ctx, messaging.EventAlertLowStock, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", level.ID).Msg("failed to publish low stock event")
	}
}

// PublishNearExpiry publishes a near expiry alert event
func (p *StockEventPublisher) PublishNearExpiry(ctx context.Context, batch *repository.Batch, asOf time.Time) {
	if p == nil {
		return
	}

	data := messaging.NearExpiryEvent{
		ItemID:      batch.ItemID,
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		Quantity:    batch.QuantityOnHand,
		ExpiryDate:  batch.ExpiryDate,
		DaysLeft:    int(batch.ExpiryDate.Sub(asOf).Hours() / 24),
	}

	if err := p.publisher.Publish(ctx, messaging.EventAlertNearExpiry, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish near expiry event")
	}
}

// PublishQuarantined publishes a batch quarantined event
func (p *StockEventPublisher) PublishQuarantined(ctx context.Context, batch *repository.Batch, ledgerSum decimal.Decimal) {
	if p == nil {
		return
	}

	data := messaging.BatchQuarantinedEvent{
		BatchID:   batch.ID,
		ItemID:    batch.ItemID,
		OnHand:    batch.QuantityOnHand,
		LedgerSum: ledgerSum,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchQuarantined, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch quarantined event")
	}
}
