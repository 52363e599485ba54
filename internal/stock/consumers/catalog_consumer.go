package consumers

import (
	"context"

	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/medstock/medstock-backend/pkg/messaging"
)

// CatalogEventConsumer keeps the local item table in sync with the catalog
// service. The stock engine never edits item master data itself; it mirrors
// what the catalog publishes.
type CatalogEventConsumer struct {
	consumer *messaging.Consumer
	itemRepo *repository.ItemRepository
	logger   *logger.Logger
}

// NewCatalogEventConsumer creates a new catalog event consumer
func NewCatalogEventConsumer(rmq *messaging.RabbitMQ, itemRepo *repository.ItemRepository, log *logger.Logger) (*CatalogEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "stock-service.catalog-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeCatalogEvents, "catalog.item.#"); err != nil {
		return nil, err
	}

	c := &CatalogEventConsumer{
		consumer: consumer,
		itemRepo: itemRepo,
		logger:   log,
	}

	consumer.RegisterHandler(messaging.EventCatalogItemCreated, c.handleItemUpserted)
	consumer.RegisterHandler(messaging.EventCatalogItemUpdated, c.handleItemUpserted)
	consumer.RegisterHandler(messaging.EventCatalogItemDeactivated, c.handleItemDeactivated)

	return c, nil
}

// Start starts consuming messages
func (c *CatalogEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *CatalogEventConsumer) handleItemUpserted(ctx context.Context, event *messaging.Event) error {
	var data messaging.CatalogItemEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("item_id", data.ItemID).
		Str("code", data.Code).
		Msg("received catalog item event")

	return c.itemRepo.Upsert(ctx, &repository.Item{
		ID:            data.ItemID,
		Code:          data.Code,
		Name:          data.Name,
		Unit:          data.Unit,
		MinStockLevel: data.MinStockLevel,
		IsControlled:  data.IsControlled,
		IsActive:      data.IsActive,
	})
}

func (c *CatalogEventConsumer) handleItemDeactivated(ctx context.Context, event *messaging.Event) error {
	var data messaging.CatalogItemEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("item_id", data.ItemID).
		Msg("received catalog item deactivated event")

	return c.itemRepo.Deactivate(ctx, data.ItemID)
}
