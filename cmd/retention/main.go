package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/domain/audit"
	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/config"
	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/database"
	auditsvc "github.com/davidleathers/audit-vault-backend/internal/service/audit"
	"github.com/davidleathers/audit-vault-backend/internal/telemetry"
)

// Invoked by an external scheduler; the exit code tells it whether to retry.
var (
	mode = flag.String("mode", "purge", "Operation mode: purge, sweep")
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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("operation failed", zap.String("mode", *mode), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	records := database.NewRecordRepository(pool)

	switch *mode {
	case "purge":
		enforcer, err := auditsvc.NewRetentionEnforcer(records, logger)
		if err != nil {
			return err
		}
		report, err := enforcer.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		logger.Info("purge completed",
			zap.Int("purged", report.Purged),
			zap.Int("held_back", report.HeldBack))
		return nil

	case "sweep":
		events := database.NewSecurityEventRepository(pool)
		alerts, err := auditsvc.NewAlertSink(events, telemetry.NewLogNotifier(logger), auditsvc.AlertConfig{
			Cooldown:            cfg.Alerting.Cooldown,
			MaxDeliveryAttempts: cfg.Alerting.MaxDeliveryAttempts,
			DeliveryBackoff:     cfg.Alerting.DeliveryBackoff,
		}, logger)
		if err != nil {
			return err
		}
		sweeper, err := auditsvc.NewIntegritySweeper(records, alerts, cfg.Retention.SweepPageSize, logger)
		if err != nil {
			return err
		}
		report, err := sweeper.Sweep(ctx, audit.QueryFilters{})
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		logger.Info("integrity sweep completed",
			zap.Int("scanned", report.Scanned),
			zap.Int("violations", report.Violations))
		if report.Violations > 0 {
			for _, id := range report.ViolationIDs {
				logger.Warn("quarantined record", zap.String("record_id", id.String()))
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown mode: %s", *mode)
	}
}
