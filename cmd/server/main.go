package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/raffle-tickets/internal/applogger"
	"github.com/iliyamo/raffle-tickets/internal/catalog"
	"github.com/iliyamo/raffle-tickets/internal/clock"
	"github.com/iliyamo/raffle-tickets/internal/config"
	"github.com/iliyamo/raffle-tickets/internal/database"
	"github.com/iliyamo/raffle-tickets/internal/engine"
	"github.com/iliyamo/raffle-tickets/internal/gateway/paypal"
	"github.com/iliyamo/raffle-tickets/internal/handler"
	"github.com/iliyamo/raffle-tickets/internal/middleware"
	"github.com/iliyamo/raffle-tickets/internal/queue"
	"github.com/iliyamo/raffle-tickets/internal/repository"
	"github.com/iliyamo/raffle-tickets/internal/router"
	"github.com/iliyamo/raffle-tickets/internal/utils"
)

func main() {
	cfg := config.Load()
	logger := applogger.New(cfg.LogLevel, cfg.IsProd())
	if err := utils.CheckPasswordHash(cfg.AdminPasswordHash); err != nil {
		logger.WithError(err).Fatal("invalid ADMIN_PASSWORD_HASH")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.WithError(err).Fatal("open database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logger.WithError(err).Fatal("migrate database")
	}

	lots, err := catalog.Load(cfg.LotsFile)
	if err != nil {
		logger.WithError(err).Fatal("load lot catalog")
	}

	ledger := repository.NewLedgerRepo(db)
	journal := repository.NewReconciliationRepo(db)
	gateway := paypal.NewClient(cfg.PayPal.BaseURL, cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.Timeout, logger)
	publisher := queue.NewPublisher(cfg.RabbitURL, cfg.NotifyQueue, logger)

	eng := engine.New(engine.Property{
		Logger:           logger,
		Catalog:          lots,
		Ledger:           ledger,
		States:           journal,
		Gateway:          gateway,
		Notifier:         publisher,
		IDs:              engine.UUIDGenerator{},
		Clock:            clock.NewSystem(),
		Currency:         cfg.PayPal.Currency,
		NotifyTimeout:    cfg.NotifyTimeout,
		MaxQuantity:      cfg.MaxTicketsPerOrder,
		ReconcileTimeout: cfg.ReconcileTimeout,
	})

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		logger.Warn("redis unreachable: response cache disabled, rate limiting is per instance")
	} else {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.CORSOrigins}))
	e.Use(echomw.BodyLimit("64K"))

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	router.RegisterRoutes(e, &handler.HealthHandler{DB: db})
	router.RegisterPublic(e, &handler.LotsHandler{Lots: lots, Inventory: eng}, cache)
	router.RegisterPurchase(e, &handler.PurchaseHandler{Engine: eng}, limiter)
	router.RegisterAdmin(e, &handler.AdminHandler{
		PasswordHash: cfg.AdminPasswordHash,
		JWTSecret:    cfg.JWTSecret,
		AccessTTLMin: cfg.AccessTTLMin,
		Lots:         lots,
		Tickets:      ledger,
		Journal:      journal,
	}, cfg.JWTSecret, limiter)

	go func() {
		err := queue.StartTicketsConsumer(ctx, cfg.RabbitURL, cfg.NotifyQueue, cfg.TicketLogDir, logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("tickets consumer stopped")
		}
	}()

	go func() {
		addr := ":" + cfg.Port
		logger.WithField("env", cfg.Env).Infof("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	eng.Wait()
}
