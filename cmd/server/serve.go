package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/idempotency"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for in-flight requests, stops the audit scheduler and closes the database.`,
		RunE: runServe,
	}
	cmd.Flags().String("port", "", "HTTP port (overrides app.port)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer rt.log.Sync()
	cfg := rt.cfg

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store and engine
	store, err := rt.openStore(ctx, cfg.Database.AutoMigrate)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := rt.engine(store)
	if err != nil {
		return err
	}

	// Idempotency keys: Redis when shared across replicas, memory otherwise
	var idem idempotency.Store
	if cfg.Redis.Enabled {
		if idem, err = idempotency.NewRedis(ctx, idempotency.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}); err != nil {
			return err
		}
		rt.log.Info("idempotency store: redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		idem = idempotency.NewMemory(5 * time.Minute)
		rt.log.Info("idempotency store: memory")
	}
	defer idem.Close()

	// Domain events
	var pub events.Publisher = events.NewLogPublisher(rt.log)
	if cfg.Kafka.Enabled {
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		rt.log.Info("event publisher: kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	dispatcher := events.NewDispatcher(pub, rt.log.Named("events"))
	defer dispatcher.Close()

	handler := api.NewHandler(engine, idem, dispatcher, rt.log)
	if cfg.Redis.IdempotencyTTL > 0 {
		handler.IdempotencyTTL = cfg.Redis.IdempotencyTTL
	}

	opts := api.DefaultRouterOptions()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		opts.AllowedOrigins = cfg.HTTP.CORSAllowOrigins
	}
	opts.RequestTimeout = cfg.HTTP.RequestTimeout
	opts.MaxBodySize = cfg.HTTP.MaxBodySize

	// Periodic ledger verification
	scheduler := api.NewAuditScheduler(engine.Auditor, rt.log)
	scheduler.Enabled = cfg.Audit.Enabled
	if cfg.Audit.Interval > 0 {
		scheduler.CheckInterval = cfg.Audit.Interval
	}
	scheduler.Start()
	defer scheduler.Stop()

	port := cfg.App.Port
	if p, _ := cmd.Flags().GetString("port"); p != "" {
		port = p
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      api.NewRouter(handler, opts),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	rt.log.Info("server stopped")
	return nil
}
