// Command budgetviz-worker runs a headless dashboard session: it restores the
// persisted session, applies commands from AMQP, publishes snapshots back and
// exports to Google Sheets on a schedule.
package main

import (
	"context"
	"os"
	"time"

	"budgetviz/internal/cli"
	applog "budgetviz/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg).WithComponent(applog.ComponentWorker)

	if !cfg.AMQPEnabled() {
		logger.Error("budgetviz-worker needs AMQP_URL")
		os.Exit(1)
	}

	logger.Info("Starting budgetviz-worker")
	rt := cli.NewRuntime(cfg, logger)
	if rt.AMQP == nil {
		logger.Error("AMQP connection failed, nothing to consume")
		rt.Close()
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		rt.Close()
	})
	rt.StartBackground(ctx, cfg.ExportInterval)
	logger.Info("Worker running",
		applog.FieldSession, cfg.SessionName,
		"export_interval", cfg.ExportInterval.String(),
		"persistence", rt.Repo != nil)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
