package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/api"
	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/events"
	"github.com/punchamoorthee/walletops/internal/ledger"
	"github.com/punchamoorthee/walletops/internal/logging"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/settlement"
	"github.com/punchamoorthee/walletops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		cancel()
	}()

	lc, err := ledger.Dial(cfg.TBClusterID, cfg.TBAddresses, logger)
	if err != nil {
		return err
	}
	defer lc.Close()

	schedule, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// A nil publisher disables events in both the scheduler and the service.
	var pub *events.Publisher
	if cfg.RedisAddr != "" {
		rdb, err := events.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		pub = events.NewPublisher(rdb)
		logger.Info("publishing wallet events", zap.String("redis", cfg.RedisAddr), zap.String("stream", events.WalletEventsStream))
	}

	policy := settlement.RetryPolicy{MaxAttempts: cfg.SettleMaxAttempts, RetryBackoff: cfg.SettleRetryBackoff}
	scheduler := settlement.New(schedule, lc, publisherOrNil(pub), policy, logger)
	defer scheduler.Close()

	svc, err := service.NewWalletService(lc, scheduler, publisherOrNil(pub), cfg.Deposit, cfg.Withdrawal, logger)
	if err != nil {
		return err
	}

	if err := svc.Bootstrap(ctx); err != nil {
		return err
	}
	if _, err := scheduler.Resume(ctx); err != nil {
		return fmt.Errorf("unable to resume settlements: %w", err)
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	walletRoutes := r.PathPrefix("/").Subrouter()
	walletRoutes.Use(api.Instrument(logger))
	api.NewHandler(svc, logger).Routes(walletRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("schedule_backend", cfg.ScheduleBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// publisherOrNil keeps a nil *events.Publisher from becoming a non-nil interface.
func publisherOrNil(p *events.Publisher) service.Publisher {
	if p == nil {
		return nil
	}
	return p
}

// openStore selects the settlement schedule backend.
func openStore(ctx context.Context, cfg *config.Config) (settlement.Store, func(), error) {
	switch cfg.ScheduleBackend {
	case config.BackendPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendBolt:
		s, err := store.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
