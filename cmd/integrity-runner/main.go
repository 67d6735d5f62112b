// Command integrity-runner executes the integrity check suite on a cron
// schedule, or once with --run-once (useful from CI or a shell; the exit
// code reflects the overall status).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/cardfolio/backoffice/pkg/blob"
	"github.com/cardfolio/backoffice/pkg/config"
	"github.com/cardfolio/backoffice/pkg/integrity"
	"github.com/cardfolio/backoffice/pkg/observability"
	"github.com/cardfolio/backoffice/pkg/storage/postgres"
)

var (
	runOnce  = flag.Bool("run-once", false, "Run the check suite once and exit")
	schedule = flag.String("schedule", "", "Cron schedule (overrides BACKOFFICE_INTEGRITY_SCHEDULE)")
	check    = flag.String("check", "", "Run only the named check (orphaned, quantities, profit). Only used with --run-once")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *schedule != "" {
		cfg.Integrity.Schedule = *schedule
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	ctx := context.Background()

	connections, err := postgres.NewConnectionManager(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer connections.Close()

	var photos blob.PhotoStore
	if cfg.Integrity.PhotoChecksEnabled {
		photoStore, err := blob.NewS3PhotoStore(ctx, cfg.Blob)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize photo store")
			os.Exit(1)
		}
		photos = photoStore
	}

	runner := integrity.NewRunner(logger, metrics,
		integrity.NewOrphanCheck(connections.Replica(), photos),
		integrity.NewQuantityCheck(connections.Replica()),
		integrity.NewProfitCheck(connections.Replica()),
	)

	if *runOnce {
		os.Exit(runSuite(ctx, runner, logger, *check))
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Integrity.Schedule, func() {
		runSuite(context.Background(), runner, logger, "")
	})
	if err != nil {
		logger.WithError(err).Errorf("Failed to schedule integrity runs (%q)", cfg.Integrity.Schedule)
		os.Exit(1)
	}

	c.Start()
	logger.WithField("schedule", cfg.Integrity.Schedule).Info("integrity runner started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	<-c.Stop().Done()
}

// runSuite runs the checks and returns a process exit code: 0 healthy or
// degraded, 1 unhealthy.
func runSuite(ctx context.Context, runner *integrity.Runner, logger *observability.Logger, only string) int {
	if only != "" {
		result, err := runner.RunCheck(ctx, only)
		if err != nil {
			logger.WithError(err).Error("unknown check")
			return 1
		}
		logCheck(logger, *result)
		if result.Status == integrity.StatusFail {
			return 1
		}
		return 0
	}

	report := runner.RunAll(ctx)
	for _, result := range report.Checks {
		logCheck(logger, result)
	}
	if report.OverallStatus == integrity.OverallUnhealthy {
		return 1
	}
	return 0
}

func logCheck(logger *observability.Logger, result integrity.CheckResult) {
	entry := logger.WithFields(map[string]interface{}{
		"check":    result.Name,
		"status":   result.Status,
		"findings": len(result.Findings),
	})
	switch result.Status {
	case integrity.StatusFail:
		entry.Error("integrity check failed")
	case integrity.StatusWarning:
		entry.Warn("integrity check found issues")
	default:
		entry.Info("integrity check passed")
	}
}
