// Command beatcal runs the neighbourhood boundary sync and calendar
// service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mfleming85/beatcal/internal/api"
	"github.com/mfleming85/beatcal/internal/boundaries"
	boundariespg "github.com/mfleming85/beatcal/internal/boundaries/postgres"
	"github.com/mfleming85/beatcal/internal/cache"
	"github.com/mfleming85/beatcal/internal/calendar"
	"github.com/mfleming85/beatcal/internal/clock/system"
	"github.com/mfleming85/beatcal/internal/config"
	"github.com/mfleming85/beatcal/internal/database"
	"github.com/mfleming85/beatcal/internal/geocode"
	"github.com/mfleming85/beatcal/internal/location"
	"github.com/mfleming85/beatcal/internal/logging"
	"github.com/mfleming85/beatcal/internal/metrics"
	"github.com/mfleming85/beatcal/internal/notify"
	"github.com/mfleming85/beatcal/internal/policeuk"
	"github.com/mfleming85/beatcal/internal/progress"
	"github.com/mfleming85/beatcal/internal/scheduler"
	"github.com/mfleming85/beatcal/internal/syncer"
	syncstatepg "github.com/mfleming85/beatcal/internal/syncstate/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "beatcal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate(ctx, cfg.DB.DSN); err != nil {
		return err
	}

	stateStore, err := syncstatepg.New(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer stateStore.Close()

	boundaryStore, err := boundariespg.New(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer boundaryStore.Close()

	clk := system.Clock{}
	client := policeuk.New(policeuk.Config{
		BaseURL: cfg.PoliceUK.BaseURL,
		Timeout: cfg.FetchTimeout(),
		Retry: policeuk.RetryPolicy{
			MaxAttempts: cfg.PoliceUK.MaxAttempts,
			BaseDelay:   time.Duration(cfg.PoliceUK.BackoffInitialMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.PoliceUK.BackoffMaxMs) * time.Millisecond,
		},
		RequestsPerSec: cfg.PoliceUK.RequestsPerSec,
	}, logger.Named("policeuk"))

	geocoder := geocode.New(geocode.Config{
		BaseURL: cfg.Geocode.BaseURL,
		APIKey:  cfg.Geocode.APIKey,
		Timeout: time.Duration(cfg.Geocode.TimeoutSeconds) * time.Second,
	}, logger.Named("geocode"))

	feedCache := cache.New[[]byte](cfg.Cache.FeedMaxEntries, time.Duration(cfg.Cache.FeedTTLHours)*time.Hour, clk)
	postcodeCache := cache.New[boundaries.Neighbourhood](cfg.Cache.PostcodeMaxEntries, 0, clk)

	notifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close() //nolint:errcheck

	tracker := progress.NewTracker()
	orch := syncer.New(syncer.Config{
		Concurrency:    cfg.Sync.Concurrency,
		StaleLockAge:   cfg.StaleLockAge(),
		MinSuccessRate: cfg.Sync.MinSuccessRate,
	}, client, stateStore, boundaryStore, tracker, clk, logger.Named("syncer"))

	sched := scheduler.New(scheduler.Config{
		Interval:     time.Duration(cfg.Scheduler.IntervalDays) * 24 * time.Hour,
		ManualMinGap: time.Duration(cfg.Scheduler.ManualTriggerMinGapMin) * time.Minute,
		StaleLockAge: cfg.StaleLockAge(),
		Thresholds: syncer.Thresholds{
			FullSyncDelay: time.Duration(cfg.Sync.FullSyncDelayMin) * time.Minute,
			RecoveryDelay: time.Duration(cfg.Sync.RecoveryDelayMin) * time.Minute,
			Fresh:         time.Duration(cfg.Sync.FreshDays) * 24 * time.Hour,
			Stale:         time.Duration(cfg.Sync.StaleDays) * 24 * time.Hour,
		},
	}, orch, stateStore, boundaryStore, tracker, notifier, clk, logger.Named("scheduler"))

	feeds := calendar.New(client, feedCache, calendar.ICS{}, logger.Named("calendar"))
	lookup := location.New(geocoder, boundaryStore, postcodeCache, logger.Named("location"))

	server := api.NewServer(api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, lookup, feeds, sched, tracker, stateStore, boundaryStore, func() map[string]int {
		return map[string]int{"feeds": feedCache.Len(), "postcodes": postcodeCache.Len()}
	}, logger.Named("api"))

	go func() {
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// migrate applies the schema over a short-lived connection before the
// pooled stores open.
func migrate(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(ctx) //nolint:errcheck
	return database.MigrateUp(ctx, conn)
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Provider, error) {
	switch cfg.Notify.Provider {
	case "pubsub":
		return notify.NewPubSub(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicName, logger.Named("notify"))
	case "", "noop":
		return notify.NoOp{}, nil
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Notify.Provider)
	}
}
