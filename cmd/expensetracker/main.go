package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"expensetracker/internal/amqp"
	"expensetracker/internal/cli"
	apphttp "expensetracker/internal/http"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	app, err := cli.NewApp(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	svc := apphttp.Services{
		Links:        app.Links,
		Importer:     app.Importer,
		Transactions: app.Transactions,
		Categories:   app.Categories,
		Users:        app.Store,
	}

	// Queued imports are optional; without a broker the server imports inline only.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		svc.Publisher = amqpClient
		logger.Info("Queued imports enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		JWTSecret:      cfg.JWTSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logger,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting expensetracker server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"gateway", cfg.GatewayConfigured())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
