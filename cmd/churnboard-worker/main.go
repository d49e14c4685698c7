package main

import (
	"context"
	"errors"
	"os"
	"time"

	"churnboard/internal/amqp"
	"churnboard/internal/cli"
	"churnboard/internal/services"
	"churnboard/internal/sheets/xlsx"
	"churnboard/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	logger.Info("Starting churnboard-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	store := cli.InitUploadStore(logger, cfg)
	catalog := cli.InitCatalog(logger, cfg)
	if catalog == nil {
		logger.Error("CATALOG_DB_PATH is required for the worker")
		os.Exit(1)
	}
	defer catalog.Close()

	reports := services.NewReportService(store, xlsx.New(cfg.SheetName), cfg.CacheSize, cfg.CacheTTL)
	uploads := services.NewUploadService(store, reports, services.WithCatalog(catalog))

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	analysisWorker := worker.NewAnalysisWorker(uploads, cfg.WorkerBatchSize)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Analyze uploads whose messages were lost while the worker was down
	logger.Info("Performing startup analysis check...")
	if err := analysisWorker.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup analysis check", "error", err)
	}

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- amqpClient.ConsumeUploadAnalyze(ctx, analysisWorker.HandleUploadAnalyzeMessage)
	}()

	select {
	case <-ctx.Done():
		cli.WaitForShutdown(ctx, done)
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("churnboard-worker stopped")
}
