package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"budgetviz/internal/cli"
	apphttp "budgetviz/internal/http"
	applog "budgetviz/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	rt := cli.NewRuntime(cfg, logger)

	opts := apphttp.Options{
		Addr:           ":" + cfg.Port,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Ready:          rt.Ready,
	}
	if rt.Exporter != nil {
		opts.Exporter = rt.Exporter
	}
	srv := apphttp.NewServer(rt.Session, opts, logger)
	srv.ReadTimeout = 60 * time.Second
	srv.IdleTimeout = 120 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB
	rt.Session.Subscribe(srv.Stream())

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		rt.Close()
	})
	rt.StartBackground(ctx, cfg.ExportInterval)

	logger.Info("Starting budgetviz server",
		"port", cfg.Port,
		"upstream", cfg.UpstreamURL,
		"persistence", rt.Repo != nil,
		"amqp", rt.AMQP != nil,
		"export", rt.Exporter != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
