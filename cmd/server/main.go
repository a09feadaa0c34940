/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the voucher engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config file, .env, VOUCHER_* env)
  2. Build the zap logger
  3. Open the store selected by store.driver
  4. Build notification sinks (log, optional Redis)
  5. Create engine, authorizer, handler and router
  6. Optionally load a seed scenario
  7. Start the retired-code purge scheduler
  8. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config/config.yaml or ./config.yaml)

STORE DRIVERS:
  memory       In-process, lost on restart
  sqlite       database/sql + go-sqlite3 (default, store.sqlite_path)
  gorm-sqlite  gorm over SQLite
  postgres     gorm over PostgreSQL (store.postgres_dsn)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the scheduler
  4. Close store and Redis connections
  5. Exit

EXAMPLES:
  # In-memory store with demo data
  VOUCHER_STORE_DRIVER=memory VOUCHER_SERVER_SEED_SCENARIO=hotspot-demo ./server

  # PostgreSQL with JWT sessions
  VOUCHER_STORE_DRIVER=postgres VOUCHER_STORE_POSTGRES_DSN=postgres://... \
  VOUCHER_AUTH_ENABLED=true VOUCHER_AUTH_JWT_SECRET=... ./server

SEE ALSO:
  - config/config.go: All settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/superlink/voucher-engine/api"
	"github.com/superlink/voucher-engine/auth"
	"github.com/superlink/voucher-engine/config"
	"github.com/superlink/voucher-engine/export"
	"github.com/superlink/voucher-engine/logger"
	"github.com/superlink/voucher-engine/notify"
	"github.com/superlink/voucher-engine/store/gormstore"
	"github.com/superlink/voucher-engine/store/sqlite"
	"github.com/superlink/voucher-engine/voucher"
	memstore "github.com/superlink/voucher-engine/voucher/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	// Store
	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()
	lg.Info("store opened", zap.String("driver", cfg.Store.Driver))

	// Notifications
	sinks := []voucher.Notifier{notify.NewLogSink(lg)}
	if cfg.Notify.RedisEnabled {
		client := notify.NewRedisClient(cfg.Notify.RedisAddr, cfg.Notify.RedisPassword, cfg.Notify.RedisDB)
		defer client.Close()
		sinks = append(sinks, notify.NewRedisSink(client, cfg.Notify.Channel))
		lg.Info("redis notifications enabled", zap.String("addr", cfg.Notify.RedisAddr), zap.String("channel", cfg.Notify.Channel))
	}

	// Engine
	engine, err := voucher.NewEngine(store, voucher.Config{
		CodeAlphabet:       cfg.Voucher.CodeAlphabet,
		CodeLength:         cfg.Voucher.CodeLength,
		CodeMaxAttempts:    cfg.Voucher.CodeMaxAttempts,
		CodeRetention:      cfg.Voucher.CodeRetention,
		MaxBatchSize:       cfg.Voucher.MaxBatchSize,
		MaxPageSize:        cfg.Voucher.MaxPageSize,
		ExpiringSoonWindow: cfg.Voucher.ExpiringSoon,
		Location:           cfg.Voucher.Location(),
		NodeID:             cfg.Voucher.NodeID,
	},
		voucher.WithLogger(lg.Named("engine")),
		voucher.WithNotifier(notify.NewFanout(sinks...)),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// Auth
	authorizer, err := auth.NewAuthorizer()
	if err != nil {
		return err
	}
	handler := api.NewHandler(engine, authorizer, lg.Named("http"))
	handler.Print = export.PrintConfig{
		Title:      cfg.Voucher.PrintTitle,
		RedeemURL:  cfg.Voucher.RedeemURL,
		QRImageURL: cfg.Voucher.QRImageURL,
	}
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		handler.Verifier = verifier
	} else {
		lg.Warn("authentication disabled, every request runs as admin")
	}

	ctx := context.Background()
	if cfg.Server.SeedScenario != "" {
		if err := handler.LoadScenarioByID(ctx, cfg.Server.SeedScenario); err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
	}

	// Scheduler
	scheduler := api.NewRetentionScheduler(engine, lg.Named("retention"))
	scheduler.CheckInterval = cfg.Server.PurgeInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Server
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	lg.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	lg.Info("server stopped")
	return nil
}

// openStore returns the configured store and a function releasing it.
func openStore(cfg config.StoreConfig) (voucher.TxStore, func(), error) {
	var (
		s   voucher.TxStore
		c   io.Closer
		err error
	)
	switch cfg.Driver {
	case "memory":
		return memstore.NewTxMemory(), func() {}, nil
	case "sqlite":
		var st *sqlite.Store
		st, err = sqlite.New(cfg.SQLitePath)
		s, c = st, st
	case "gorm-sqlite":
		var st *gormstore.Store
		st, err = gormstore.OpenSQLite(cfg.SQLitePath)
		s, c = st, st
	case "postgres":
		var st *gormstore.Store
		st, err = gormstore.OpenPostgres(cfg.PostgresDSN)
		s, c = st, st
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	return s, func() { c.Close() }, nil
}
