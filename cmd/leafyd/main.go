// Command leafyd serves the Leafy Life café backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leafy-life/cafe/internal/app/runtime"
	"github.com/leafy-life/cafe/internal/config"
	"github.com/leafy-life/cafe/pkg/logger"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to a YAML config file (optional)")
		envFile     = flag.String("env", ".env", "Path to a dotenv file; missing files are ignored")
		sweepOnce   = flag.Bool("sweep-once", false, "Run migrations and one alert sweep, then exit")
		migrateOnly = flag.Bool("migrate-only", false, "Apply pending migrations, then exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leafyd: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.Logging).WithComponent("leafyd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	switch {
	case *migrateOnly:
		err = rt.Migrate(ctx)
	case *sweepOnce:
		if err = rt.Migrate(ctx); err == nil {
			report, sweepErr := rt.SweepOnce(ctx)
			if err = sweepErr; err == nil {
				log.WithField("rules", report.Rules).
					WithField("inserted", report.Inserted).
					WithField("failed_rules", report.FailedRules).
					Info("alert sweep complete")
			}
		}
	default:
		err = rt.Run(ctx)
	}
	if *migrateOnly || *sweepOnce {
		if shutdownErr := rt.Shutdown(context.Background()); shutdownErr != nil {
			log.WithError(shutdownErr).Warn("shutdown")
		}
	}
	if err != nil {
		log.WithError(err).Error("leafyd exited with error")
		os.Exit(1)
	}
	log.Info("leafyd stopped")
}
