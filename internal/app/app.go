// Package app boots the wallet ledger service.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/metergate/walletledger/internal/cache"
	"github.com/metergate/walletledger/internal/config"
	"github.com/metergate/walletledger/internal/db"
	ledgerhttp "github.com/metergate/walletledger/internal/http"
	"github.com/metergate/walletledger/internal/logging"
	"github.com/metergate/walletledger/internal/pricing"
	"github.com/metergate/walletledger/internal/store"
	"github.com/metergate/walletledger/internal/wallet"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the HTTP server with database-backed components and
// blocks until ctx is cancelled or the server fails.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	statusCache := cache.NewStatusCache(cfg.Redis)
	if statusCache != nil {
		defer func() { _ = statusCache.Close() }()
	}

	pricer := pricing.NewPricer(cfg.Billing.Prices, cfg.Billing.Margin)
	ledger := wallet.NewLedger(store.NewGormKeyStore(conn), pricer)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), ledgerhttp.RequestLogMiddleware())
	ledgerhttp.RegisterRoutes(engine, conn, ledger, statusCache, cfg.Admin.Token)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("app: server shutdown")
		}
	}()

	log.Infof("wallet ledger listening on %s", cfg.Server.Listen)
	if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errServe
	}
	return nil
}
