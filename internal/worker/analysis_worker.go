package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"churnboard/internal/amqp"
	"churnboard/internal/storage"
)

// Analyzer computes and records the analysis of a stored upload.
type Analyzer interface {
	Analyze(ctx context.Context, storedName string) (storage.Analysis, error)
	History(ctx context.Context, limit int) ([]storage.CatalogEntry, error)
}

// AnalysisWorker handles upload analysis requests coming from AMQP.
type AnalysisWorker struct {
	analyzer  Analyzer
	batchSize int
}

func NewAnalysisWorker(analyzer Analyzer, batchSize int) *AnalysisWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &AnalysisWorker{analyzer: analyzer, batchSize: batchSize}
}

// HandleUploadAnalyzeMessage analyzes the upload named by msg. A file deleted
// before the message arrived is acknowledged without error.
func (w *AnalysisWorker) HandleUploadAnalyzeMessage(ctx context.Context, msg *amqp.UploadAnalyzeMessage) error {
	slog.InfoContext(ctx, "Processing analyze message",
		"event_id", msg.EventID,
		"stored_name", msg.StoredName)

	a, err := w.analyzer.Analyze(ctx, msg.StoredName)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		slog.WarnContext(ctx, "Upload no longer exists, skipping analysis",
			"event_id", msg.EventID,
			"stored_name", msg.StoredName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("analyze %s: %w", msg.StoredName, err)
	}

	if a.Error != "" {
		slog.WarnContext(ctx, "Upload could not be parsed",
			"stored_name", msg.StoredName,
			"error", a.Error)
	}
	return nil
}

// StartupCheck analyzes uploads the catalog has no analysis for. It recovers
// from messages lost while the worker was down.
func (w *AnalysisWorker) StartupCheck(ctx context.Context) error {
	entries, err := w.analyzer.History(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list uploads for startup check: %w", err)
	}

	pending := 0
	failed := 0
	for _, e := range entries {
		if e.Analyzed() || e.DeletedAt != nil {
			continue
		}
		pending++
		if err := w.HandleUploadAnalyzeMessage(ctx, &amqp.UploadAnalyzeMessage{StoredName: e.StoredName}); err != nil {
			slog.ErrorContext(ctx, "Startup analysis failed", "stored_name", e.StoredName, "error", err)
			failed++
		}
	}

	slog.InfoContext(ctx, "Startup analysis check completed",
		"checked", len(entries),
		"pending", pending,
		"errors", failed)
	return nil
}
