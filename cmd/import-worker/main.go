package main

import (
	"context"
	"os"
	"time"

	"expensetracker/internal/amqp"
	"expensetracker/internal/cli"
	"expensetracker/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	logger.Info("Starting import-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the import worker")
		os.Exit(1)
	}
	if cfg.DataBackend == "memory" {
		logger.Warn("Import worker is using the memory backend, imports will not be visible to the server")
	}

	app, err := cli.NewApp(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	w := worker.NewImportWorker(app.Importer, amqpClient, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := w.Stop(shutdownCtx); err != nil {
			logger.Error("Worker shutdown error", "error", err)
		}
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("Failed to start import worker", "error", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-w.Done():
		if err := w.Err(); err != nil {
			logger.Error("Import worker stopped", "error", err)
			os.Exit(1)
		}
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Import worker shutdown complete")
}
