package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"churnboard/internal/amqp"
	"churnboard/internal/cli"
	apphttp "churnboard/internal/http"
	applog "churnboard/internal/log"
	"churnboard/internal/services"
	gsheet "churnboard/internal/sheets/google"
	"churnboard/internal/sheets/xlsx"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	store := cli.InitUploadStore(logger, cfg)
	workbook := xlsx.New(cfg.SheetName)
	reports := services.NewReportService(store, workbook, cfg.CacheSize, cfg.CacheTTL)

	checks := map[string]apphttp.ReadinessCheck{}
	var opts []services.UploadOption

	catalog := cli.InitCatalog(logger, cfg)
	if catalog != nil {
		defer catalog.Close()
		opts = append(opts, services.WithCatalog(catalog))
		checks["catalog"] = catalog.Ping
		logger.Info("Upload history enabled", "path", cfg.CatalogDBPath)
	}

	if cfg.AMQPEnabled() {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// uploads still get analyzed inline
			logger.Warn("Failed to connect to AMQP, analyzing uploads inline", "error", err)
		} else {
			defer amqpClient.Close()
			opts = append(opts, services.WithPublisher(amqpClient))
			checks["amqp"] = func(context.Context) error { return amqpClient.Ping() }
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	if cfg.GoogleEnabled() {
		sheetsClient, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetName:          cfg.GoogleSheetName,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		opts = append(opts, services.WithRemote(sheetsClient, workbook, cfg.GoogleImportName))
		logger.Info("Google Sheets import enabled",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"sheet", sheetsClient.SheetName())
	} else {
		logger.Info("Google Sheets import disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	uploads := services.NewUploadService(store, reports, opts...)

	srv := apphttp.NewServer(":"+cfg.Port, reports, uploads, apphttp.Options{
		Logger:             applog.New(applog.Config{Handler: logger.Handler(), Component: applog.ComponentApp}),
		MaxUploadBytes:     cfg.MaxUploadBytes(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Checks:             checks,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting churnboard server",
		"port", cfg.Port,
		"upload_dir", cfg.UploadDir,
		"extensions", cfg.UploadExtensions,
		"catalog", catalog != nil,
		"amqp", cfg.AMQPEnabled(),
		"import", uploads.ImportEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
