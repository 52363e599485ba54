package service

import (
	"context"
	"time"

	"github.com/medstock/medstock-backend/internal/stock/events"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/pkg/config"
	"github.com/medstock/medstock-backend/pkg/logger"
)

// AlertScanner evaluates stock levels and expiry horizons against thresholds.
// It only reads: findings are returned to the caller and published as events,
// never stored, so every scan reflects current stock with nothing to get stale.
type AlertScanner struct {
	batchRepo *repository.BatchRepository
	publisher *events.StockEventPublisher
	cfg       config.StockConfig
	logger    *logger.Logger
}

// NewAlertScanner creates a new alert scanner
func NewAlertScanner(
	batchRepo *repository.BatchRepository,
	publisher *events.StockEventPublisher,
	cfg config.StockConfig,
	log *logger.Logger,
) *AlertScanner {
	return &AlertScanner{
		batchRepo: batchRepo,
		publisher: publisher,
		cfg:       cfg,
		logger:    log.WithComponent("alert-scanner"),
	}
}

// NearExpiryFinding is one batch inside the near-expiry horizon
type NearExpiryFinding struct {
	Batch    *repository.Batch `json:"batch"`
	DaysLeft int               `json:"days_left"`
}

// ScanReport is the outcome of one full scan
type ScanReport struct {
	ScannedAt  time.Time                    `json:"scanned_at"`
	LowStock   []*repository.ItemStockLevel `json:"low_stock"`
	NearExpiry []*NearExpiryFinding         `json:"near_expiry"`
}

// LowStock returns active items whose total eligible stock is at or below
// their minimum stock level. Expired, quarantined and unspecified quantities
// do not count toward the level, so an item whose only stock is expired shows
// up here even with units on the shelf.
func (s *AlertScanner) LowStock(ctx context.Context, asOf time.Time) ([]*repository.ItemStockLevel, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return s.batchRepo.LowStock(ctx, asOf)
}

// NearExpiry returns non-empty batches expiring within the horizon; a
// non-positive horizon falls back to the configured default. Already-expired
// batches are excluded; they are dead stock for the reconciliation workflow,
// not an actionable early warning.
func (s *AlertScanner) NearExpiry(ctx context.Context, asOf time.Time, horizon time.Duration) ([]*NearExpiryFinding, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	if horizon <= 0 {
		horizon = s.cfg.NearExpiryHorizon
	}

	batches, err := s.batchRepo.ExpiringWithin(ctx, asOf, horizon)
	if err != nil {
		return nil, err
	}

	findings := make([]*NearExpiryFinding, 0, len(batches))
	for _, batch := range batches {
		findings = append(findings, &NearExpiryFinding{
			Batch:    batch,
			DaysLeft: int(batch.ExpiryDate.Sub(asOf).Hours() / 24),
		})
	}
	return findings, nil
}

// ScanAll runs both checks and publishes an event per finding
func (s *AlertScanner) ScanAll(ctx context.Context) (*ScanReport, error) {
	asOf := time.Now().UTC()

	lowStock, err := s.LowStock(ctx, asOf)
	if err != nil {
		return nil, err
	}
	nearExpiry, err := s.NearExpiry(ctx, asOf, 0)
	if err != nil {
		return nil, err
	}

	for _, level := range lowStock {
		s.publisher.PublishLowStock(ctx, level)
	}
	for _, finding := range nearExpiry {
		s.publisher.PublishNearExpiry(ctx, finding.Batch, asOf)
	}

	s.logger.Info().
		Int("low_stock", len(lowStock)).
		Int("near_expiry", len(nearExpiry)).
		Msg("alert scan completed")

	return &ScanReport{
		ScannedAt:  asOf,
		LowStock:   lowStock,
		NearExpiry: nearExpiry,
	}, nil
}
