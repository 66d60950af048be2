// Package server assembles the marketplace: stores, services, webhook
// and websocket fan-out, middleware and routes.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/quadmarket/quadmarket/internal/auth"
	"github.com/quadmarket/quadmarket/internal/commission"
	"github.com/quadmarket/quadmarket/internal/config"
	"github.com/quadmarket/quadmarket/internal/escrow"
	"github.com/quadmarket/quadmarket/internal/listing"
	"github.com/quadmarket/quadmarket/internal/metrics"
	"github.com/quadmarket/quadmarket/internal/notify"
	"github.com/quadmarket/quadmarket/internal/payment"
	"github.com/quadmarket/quadmarket/internal/ratelimit"
	"github.com/quadmarket/quadmarket/internal/realtime"
	"github.com/quadmarket/quadmarket/internal/traces"
)

// Server is the assembled marketplace API.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *gin.Engine
	http   *http.Server

	db          *sql.DB
	limiter     *ratelimit.Limiter
	dispatcher  *notify.Dispatcher
	hub         *realtime.Hub
	stopTracing func(context.Context) error

	startedAt time.Time
}

// New wires the full application from configuration. An empty
// DATABASE_URL selects in-memory demo mode.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.stopTracing = stopTracing

	// Stores.
	var (
		listingStore  listing.Store
		categoryStore listing.CategoryStore
		paymentStore  commission.Store
		escrowStore   escrow.Store
		keyStore      auth.Store
		subStore      notify.SubscriptionStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		s.db = db
		go metrics.StartDBStatsCollector(ctx, db, 15*time.Second)

		listingStore = listing.NewPostgresStore(db)
		categoryStore = listing.NewPostgresCategoryStore(db)
		paymentStore = commission.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		keyStore = auth.NewPostgresStore(db)
		subStore = notify.NewPostgresSubscriptionStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, running in-memory demo mode; data will not persist")
		listingMem := listing.NewMemoryStore()
		listingStore = listingMem
		categoryStore = listing.NewMemoryCategoryStore()
		paymentStore = commission.NewMemoryStore(listingMem)
		escrowStore = escrow.NewMemoryStore()
		keyStore = auth.NewMemoryStore()
		subStore = notify.NewMemorySubscriptionStore()
	}

	// Payment collaborator.
	var processor payment.Processor
	switch cfg.PaymentProvider {
	case config.ProviderStripe:
		processor = payment.NewStripe(cfg.StripeSecretKey, "usd")
	default:
		processor = payment.NewSimulated()
	}

	// Event fan-out.
	s.dispatcher = notify.NewDispatcher(subStore, 4, 256)
	s.hub = realtime.NewHub()
	go s.hub.Run()
	emitter := notify.NewEmitter(s.dispatcher, s.hub)

	// Services.
	calc, err := commission.NewCalculator(cfg.CommissionRate)
	if err != nil {
		return nil, err
	}
	listingSvc := listing.NewService(listingStore, categoryStore).WithEvents(emitter)
	escrowSvc := escrow.NewService(escrowStore, listingSvc).WithEvents(emitter)
	listingSvc.WithEscrowChecker(escrowSvc)
	commissionSvc := commission.NewService(paymentStore, listingSvc, calc, processor, cfg.PaymentTimeout).
		WithEvents(emitter)
	authManager := auth.NewManager(keyStore)

	s.limiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RateLimitRPM})

	s.engine = s.buildRouter(listingSvc, commissionSvc, escrowSvc, authManager, subStore)
	s.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("server listening", "port", s.cfg.Port, "env", s.cfg.Env)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and stops background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	s.limiter.Stop()
	s.hub.Close()
	s.dispatcher.Close()

	if s.stopTracing != nil {
		if terr := s.stopTracing(ctx); terr != nil && err == nil {
			err = terr
		}
	}
	if s.db != nil {
		if derr := s.db.Close(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}
