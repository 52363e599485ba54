package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/medstock/medstock-backend/internal/stock/consumers"
	"github.com/medstock/medstock-backend/internal/stock/events"
	"github.com/medstock/medstock-backend/internal/stock/handler"
	"github.com/medstock/medstock-backend/internal/stock/repository"
	"github.com/medstock/medstock-backend/internal/stock/service"
	"github.com/medstock/medstock-backend/pkg/config"
	"github.com/medstock/medstock-backend/pkg/database"
	"github.com/medstock/medstock-backend/pkg/httputil"
	"github.com/medstock/medstock-backend/pkg/logger"
	"github.com/medstock/medstock-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	itemRepo := repository.NewItemRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	resRepo := repository.NewReservationRepository(db)

	// Initialize services
	allocator := service.NewAllocator(db, itemRepo, batchRepo, ledgerRepo, publisher, cfg.Stock, log)
	receiving := service.NewReceivingService(db, itemRepo, batchRepo, ledgerRepo, publisher, cfg.Stock, log)
	reversal := service.NewReversalService(db, itemRepo, batchRepo, ledgerRepo, publisher, cfg.Stock, log)
	reservations := service.NewReservationService(db, itemRepo, batchRepo, ledgerRepo, resRepo, publisher, cfg.Stock, log)
	scanner := service.NewAlertScanner(batchRepo, publisher, cfg.Stock, log)
	reconciliation := service.NewReconciliationService(db, batchRepo, ledgerRepo, publisher, cfg.Stock, log)

	// Initialize handlers
	itemHandler := handler.NewItemHandler(itemRepo, batchRepo, log)
	batchHandler := handler.NewBatchHandler(batchRepo, receiving, reversal, log)
	allocationHandler := handler.NewAllocationHandler(allocator, log)
	reversalHandler := handler.NewReversalHandler(reversal, log)
	reservationHandler := handler.NewReservationHandler(reservations, resRepo, log)
	alertHandler := handler.NewAlertHandler(scanner, log)
	ledgerHandler := handler.NewLedgerHandler(ledgerRepo, log)
	reconcileHandler := handler.NewReconcileHandler(reconciliation, log)

	// Start catalog event consumer
	catalogConsumer, err := consumers.NewCatalogEventConsumer(rmq, itemRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create catalog event consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := catalogConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start catalog event consumer")
	}

	// Start background scheduler (alert scans, stale reservation sweeps)
	scheduler := service.NewScheduler(scanner, reservations, cfg.Stock.ScanInterval, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Actor)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS - the service is exposed directly to the pharmacy frontend
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "stock-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/stock", func(r chi.Router) {
		// Item routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/", itemHandler.List)
			r.Get("/{id}", itemHandler.Get)
			r.Put("/{id}", itemHandler.Upsert)
			r.Delete("/{id}", itemHandler.Deactivate)
			r.Get("/{id}/stock", itemHandler.Stock)
			r.Get("/{id}/ledger", ledgerHandler.ListByItem)
		})

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Get("/{id}", batchHandler.Get)
			r.Post("/{id}/transfer", batchHandler.Transfer)
			r.Get("/{id}/ledger", ledgerHandler.ListByBatch)
			r.Post("/{id}/verify", reconcileHandler.VerifyBatch)
		})

		// Goods receipts
		r.Post("/receipts", batchHandler.Receive)

		// Allocation routes
		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", allocationHandler.Allocate)
			r.Post("/preview", allocationHandler.Preview)
			r.Post("/documents", allocationHandler.AllocateDocuments)
		})

		// Returns and corrections
		r.Post("/reversals", reversalHandler.Reverse)

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", reservationHandler.ListByReference)
			r.Post("/", reservationHandler.Hold)
			r.Post("/confirm", reservationHandler.Confirm)
			r.Post("/release", reservationHandler.Release)
		})

		// Alert routes
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/low-stock", alertHandler.LowStock)
			r.Get("/near-expiry", alertHandler.NearExpiry)
			r.Post("/scan", alertHandler.Scan)
		})

		// Ledger routes
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", ledgerHandler.ListByReference)
			r.Get("/controlled", ledgerHandler.ListControlled)
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/verify", reconcileHandler.VerifyAll)
			r.Post("/rebuild", reconcileHandler.Rebuild)
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop the consumer and scheduler
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
