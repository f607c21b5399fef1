package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/archive"
	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/cache"
	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/config"
	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/database"
	auditsvc "github.com/davidleathers/audit-vault-backend/internal/service/audit"
	"github.com/davidleathers/audit-vault-backend/internal/telemetry"
)

var (
	sweepInterval = flag.Duration("sweep-interval", 6*time.Hour, "Interval between background integrity sweeps (0 disables)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

// app is the assembled audit service graph. The gateway and query service are
// mounted in-process by the platform's producer modules; this binary hosts
// the export workers, the background integrity sweep and the ops surface.
type app struct {
	gateway *auditsvc.Gateway
	queries *auditsvc.QueryService
	exports *auditsvc.ExportService
	alerts  *auditsvc.AlertSink
	sweeper *auditsvc.IntegritySweeper
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *zap.Logger) error {
	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	store, err := archive.NewObjectStore(ctx, &cfg.ObjectStore, logger)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	records := database.NewRecordRepository(pool)
	patterns := database.NewPatternRepository(pool)
	events := database.NewSecurityEventRepository(pool)
	jobs := database.NewExportRepository(pool)

	keys, err := auditsvc.NewStaticKeyProvider([]byte(cfg.Crypto.MasterKey))
	if err != nil {
		return fmt.Errorf("key provider: %w", err)
	}
	encryptor, err := auditsvc.NewEnvelopeEncryptor(keys, auditsvc.Argon2Params{
		Time:    cfg.Crypto.Argon2Time,
		MemoryK: cfg.Crypto.Argon2MemoryK,
		Threads: cfg.Crypto.Argon2Threads,
	})
	if err != nil {
		return fmt.Errorf("encryptor: %w", err)
	}

	analyzer, err := auditsvc.NewAnalyzer(patterns, behaviorConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}

	alerts, err := auditsvc.NewAlertSink(events, telemetry.NewLogNotifier(logger), auditsvc.AlertConfig{
		Cooldown:            cfg.Alerting.Cooldown,
		MaxDeliveryAttempts: cfg.Alerting.MaxDeliveryAttempts,
		DeliveryBackoff:     cfg.Alerting.DeliveryBackoff,
	}, logger)
	if err != nil {
		return fmt.Errorf("alert sink: %w", err)
	}

	gateway, err := auditsvc.NewGateway(
		auditsvc.NewClassifier(nil),
		encryptor,
		analyzer,
		auditsvc.NewCalculator(auditsvc.DefaultRiskConfig()),
		records,
		retentionPolicy(cfg),
		alerts,
		logger,
	)
	if err != nil {
		return fmt.Errorf("ingest gateway: %w", err)
	}

	queries, err := auditsvc.NewQueryService(records, encryptor, alerts,
		cache.NewRedisRateLimiter(redisClient, logger), auditsvc.QueryConfig{
			MaxPageSize:   cfg.Query.MaxPageSize,
			DecryptLimit:  cfg.Query.DecryptLimit,
			DecryptWindow: cfg.Query.DecryptWindow,
		}, logger)
	if err != nil {
		return fmt.Errorf("query service: %w", err)
	}

	exports, err := auditsvc.NewExportService(jobs, records, encryptor, store,
		cache.NewRedisJobLocker(redisClient, logger), auditsvc.ExportConfig{
			Workers:        cfg.Export.Workers,
			QueueSize:      cfg.Export.QueueSize,
			MaxAttempts:    cfg.Export.MaxAttempts,
			RetryBackoff:   cfg.Export.RetryBackoff,
			PageSize:       cfg.Export.PageSize,
			LinkTTL:        cfg.Export.LinkTTL,
			LockTTL:        cfg.Export.LockTTL,
			PagesPerSecond: cfg.Export.PagesPerSecond,
		}, logger)
	if err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	sweeper, err := auditsvc.NewIntegritySweeper(records, alerts, cfg.Retention.SweepPageSize, logger)
	if err != nil {
		return fmt.Errorf("integrity sweeper: %w", err)
	}

	svc := &app{
		gateway: gateway,
		queries: queries,
		exports: exports,
		alerts:  alerts,
		sweeper: sweeper,
	}

	svc.exports.Start()
	defer svc.exports.Close()

	if *sweepInterval > 0 {
		go runSweeps(ctx, svc.sweeper, *sweepInterval, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics and health",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	return nil
}

func runSweeps(ctx context.Context, sweeper *auditsvc.IntegritySweeper, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := sweeper.Sweep(ctx, audit.QueryFilters{})
			if err != nil {
				logger.Error("integrity sweep failed", zap.Error(err))
				continue
			}
			logger.Info("integrity sweep completed",
				zap.Int("scanned", report.Scanned),
				zap.Int("violations", report.Violations))
		}
	}
}

func behaviorConfig(cfg *config.Config) auditsvc.BehaviorConfig {
	bc := auditsvc.DefaultBehaviorConfig()
	if cfg.Behavior.GeoRadiusKm > 0 {
		bc.GeoRadiusKm = cfg.Behavior.GeoRadiusKm
	}
	if cfg.Behavior.MaxTravelSpeedKmh > 0 {
		bc.MaxTravelSpeedKmh = cfg.Behavior.MaxTravelSpeedKmh
	}
	if cfg.Behavior.HourToleranceHours > 0 {
		bc.HourToleranceHours = cfg.Behavior.HourToleranceHours
	}
	if cfg.Behavior.RareActionFrequency > 0 {
		bc.RareActionFrequency = cfg.Behavior.RareActionFrequency
	}
	if cfg.Behavior.UpdateRetries > 0 {
		bc.UpdateRetries = cfg.Behavior.UpdateRetries
	}
	return bc
}

func retentionPolicy(cfg *config.Config) *audit.RetentionPolicy {
	overrides := make(map[string]map[audit.PrincipalTier]int)
	for module, tiers := range cfg.Retention.Overrides {
		parsed := make(map[audit.PrincipalTier]int)
		for raw, days := range tiers {
			tier, err := audit.ParsePrincipalTier(raw)
			if err != nil {
				continue
			}
			parsed[tier] = days
		}
		if len(parsed) > 0 {
			overrides[module] = parsed
		}
	}
	return audit.NewRetentionPolicy(overrides)
}
