// Command ledgerd migrates the schema, wires the relationship, alert and
// chat services and keeps the relation ledgers reconciled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/HammerMeetNail/schoolhub/internal/config"
	"github.com/HammerMeetNail/schoolhub/internal/logging"
)

func main() {
	once := flag.Bool("once", false, "run a single reconcile pass and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		logging.Error("ledgerd failed", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Server.LogLevel
	if cfg.Server.Debug {
		level = logging.LevelDebug
	}
	logging.SetDefaultLevel(level)
	logger := logging.New().SetLevel(level).WithField("env", cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, defaultConnectors, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if once {
		stats, err := a.Reconciler.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("reconciling: %w", err)
		}
		logger.Info("reconcile pass complete", logging.Fields{"scanned": stats.Scanned, "dropped": stats.Dropped})
		return nil
	}

	logger.Info("ledgerd started", logging.Fields{
		"store":              cfg.Server.StoreDriver,
		"reconcile_interval": cfg.Reconciler.Interval.String(),
	})
	a.Reconciler.Run(ctx)
	logger.Info("ledgerd stopped")
	return nil
}
