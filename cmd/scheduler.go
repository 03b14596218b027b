package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nandasafiqal/access-grant-management/internal/grant"
	grantPostgres "github.com/nandasafiqal/access-grant-management/internal/grant/postgres"
	"github.com/nandasafiqal/access-grant-management/internal/provider"
	"github.com/nandasafiqal/access-grant-management/internal/scheduler"
	"github.com/nandasafiqal/access-grant-management/pkg/logger"
	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Start the expiry scheduler",
	Long:  `Start the background scheduler that expires overdue grants, sends countdown notifications and optionally reconciles provider bindings.`,
	Run: func(cmd *cobra.Command, args []string) {
		startScheduler()
	},
}

var (
	sweepInterval time.Duration
	runOnce       bool
)

func startScheduler() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := initGorm(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize gorm: %v\n", err)
		os.Exit(1)
	}

	svc, dispatcher := buildGrantService(config, gormDB, lg)
	grantRepo := grantPostgres.NewGrantRepository(gormDB)

	interval := config.Scheduler.SweepInterval
	if sweepInterval > 0 {
		interval = sweepInterval
	}

	sched := scheduler.New(grantRepo, svc, dispatcher, grant.SystemClock{}, interval, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if runOnce {
		stats := sched.Sweep(ctx)
		lg.Info("single sweep complete",
			"scanned", stats.Scanned,
			"notified", stats.Notified,
			"expired", stats.Expired,
			"errors", stats.Errors)
		return
	}

	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	if config.Scheduler.ReconcileEnabled {
		providerClient := provider.NewClient(provider.Config{
			APIURL:         config.Provider.APIURL,
			APIKey:         config.Provider.APIKey,
			RequestTimeout: config.Provider.RequestTimeout,
			MaxAttempts:    config.Provider.MaxAttempts,
			BackoffBase:    config.Provider.BackoffBase,
			MaxConcurrent:  config.Provider.MaxConcurrent,
		}, lg)
		reconciler := scheduler.NewReconciler(grantRepo, providerClient, lg)

		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := reconciler.Reconcile(ctx); err != nil {
						lg.Error("reconcile run failed", "error", err)
					}
				}
			}
		}()
	}

	lg.Info("scheduler is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	lg.Info("received signal, shutting down scheduler", "signal", sig)
	cancel()

	select {
	case <-schedDone:
		lg.Info("scheduler shutdown complete")
	case <-time.After(30 * time.Second):
		lg.Warn("shutdown timeout reached, forcing exit")
	}
}

func init() {
	schedulerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval (overrides config)")
	schedulerCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single sweep and exit")
}
