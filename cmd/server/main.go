/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the dispensing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment config, then parse command-line flags
  2. Initialize logger
  3. Initialize SQLite store
  4. Create API handler and expiry scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port    HTTP server port (env PORT, default: 8080)
  -db      SQLite database path (env DB_PATH, default: dispensing.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  LOG_LEVEL, LOG_PRETTY, CORS_ORIGINS, EXPIRY_WARNING_DAYS,
  EXCLUDE_PAST_EXPIRY, EXPIRY_SWEEP_ENABLED, EXPIRY_SWEEP_INTERVAL,
  SHUTDOWN_TIMEOUT. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the expiry scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/dispensing.db"

  # Run with in-memory database and readable logs
  LOG_PRETTY=true ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/dispensing-engine/api"
	"github.com/warp/dispensing-engine/config"
	"github.com/warp/dispensing-engine/dispense"
	"github.com/warp/dispensing-engine/internal/logger"
	"github.com/warp/dispensing-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.String("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	flag.Parse()

	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	log := logger.Logger()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, log, api.Options{
		ExpiryWarningDays: cfg.Dispense.ExpiryWarningDays,
		Policy:            dispense.SelectionPolicy{ExcludePastExpiry: cfg.Dispense.ExcludePastExpiry},
	})

	scheduler := api.NewExpiryScheduler(handler.Pharmacy, log)
	scheduler.CheckInterval = cfg.Dispense.ExpirySweepInterval
	scheduler.Enabled = cfg.Dispense.ExpirySweepEnabled
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", "http://localhost:"+*port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}
