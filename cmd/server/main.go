/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the financing ledger service: configuration,
  logger, SQLite store, ledger engine, HTTP router, cron scheduler, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (override env config)
  2. Load env config (.env supported for local dev)
  3. Open SQLite store (":memory:" supported)
  4. Build ledger + HTTP handler + router
  5. Start the accrual cron and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, drain active requests
  (30s timeout), stop the scheduler, close the database.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terralot/financing-engine/api"
	"github.com/terralot/financing-engine/config"
	"github.com/terralot/financing-engine/financing"
	"github.com/terralot/financing-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	ledger := financing.NewLedger(store, store, logger)
	ledger.PenaltyUnit = cfg.PenaltyUnit
	ledger.GracePeriod = cfg.GracePeriod()

	handler := api.NewHandler(ledger, logger)
	router := api.NewRouter(handler)

	scheduler := api.NewAccrualScheduler(ledger, cfg.AccrualCron, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}
	scheduler.Stop()
	logger.Info("Server stopped")
}
