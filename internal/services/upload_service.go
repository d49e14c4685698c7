package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"churnboard/internal/core"
	"churnboard/internal/sheets"
	"churnboard/internal/storage"
)

// Publisher hands analysis requests to a background worker.
type Publisher interface {
	PublishUploadAnalyze(ctx context.Context, storedName string) error
}

// Catalog records the upload history.
type Catalog interface {
	RecordUpload(ctx context.Context, f storage.StoredFile, source string) (storage.CatalogEntry, error)
	RecordAnalysis(ctx context.Context, storedName string, a storage.Analysis) error
	MarkDeleted(ctx context.Context, storedName string, at time.Time) error
	History(ctx context.Context, limit int) ([]storage.CatalogEntry, error)
}

// ErrImportDisabled is returned by ImportSheet when no remote source is set.
var ErrImportDisabled = errors.New("google sheets import is not configured")

// DefaultImportName is the original name given to imported snapshots.
const DefaultImportName = "google_sheet.xlsx"

// UploadService stores uploads and keeps the catalog and the analysis
// pipeline in step. Only the file store is required; catalog, publisher and
// remote source are optional.
type UploadService struct {
	store   *storage.UploadStore
	reports *ReportService
	catalog Catalog
	pub     Publisher

	remote     sheets.RemoteSource
	writer     sheets.TableWriter
	importName string

	now func() time.Time
}

type UploadOption func(*UploadService)

func WithCatalog(c Catalog) UploadOption {
	return func(s *UploadService) { s.catalog = c }
}

func WithPublisher(p Publisher) UploadOption {
	return func(s *UploadService) { s.pub = p }
}

// WithRemote enables ImportSheet. Snapshots are written by w and stored under
// name (DefaultImportName when empty).
func WithRemote(src sheets.RemoteSource, w sheets.TableWriter, name string) UploadOption {
	return func(s *UploadService) {
		s.remote = src
		s.writer = w
		if name != "" {
			s.importName = name
		}
	}
}

func NewUploadService(store *storage.UploadStore, reports *ReportService, opts ...UploadOption) *UploadService {
	s := &UploadService{
		store:      store,
		reports:    reports,
		importName: DefaultImportName,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ImportEnabled reports whether a remote source is configured.
func (s *UploadService) ImportEnabled() bool { return s.remote != nil && s.writer != nil }

// Extensions lists the accepted upload extensions.
func (s *UploadService) Extensions() []string { return s.store.Extensions() }

// CatalogEnabled reports whether upload history is kept.
func (s *UploadService) CatalogEnabled() bool { return s.catalog != nil }

// Files lists the stored uploads in the given order.
func (s *UploadService) Files(order string) ([]storage.StoredFile, error) {
	return s.store.List(order)
}

// Save stores an uploaded file. Catalog and analysis failures are logged and
// never fail the upload.
func (s *UploadService) Save(ctx context.Context, originalName string, r io.Reader) (storage.StoredFile, error) {
	return s.save(ctx, originalName, r, storage.SourceUpload)
}

func (s *UploadService) save(ctx context.Context, originalName string, r io.Reader, source string) (storage.StoredFile, error) {
	f, err := s.store.Save(ctx, originalName, r)
	if err != nil {
		return storage.StoredFile{}, err
	}
	slog.InfoContext(ctx, "Upload stored",
		"stored_name", f.Name,
		"size_bytes", f.Size,
		"source", source)

	if s.catalog != nil {
		if _, err := s.catalog.RecordUpload(ctx, f, source); err != nil {
			slog.ErrorContext(ctx, "Failed to record upload", "stored_name", f.Name, "error", err)
		}
	}
	s.requestAnalysis(ctx, f.Name)
	return f, nil
}

// requestAnalysis publishes an analysis request, or analyzes inline when no
// publisher is configured or publishing fails.
func (s *UploadService) requestAnalysis(ctx context.Context, name string) {
	if s.catalog == nil {
		return
	}
	if s.pub != nil {
		err := s.pub.PublishUploadAnalyze(ctx, name)
		if err == nil {
			return
		}
		slog.WarnContext(ctx, "Failed to publish analyze message, analyzing inline",
			"stored_name", name, "error", err)
	}
	if _, err := s.Analyze(ctx, name); err != nil {
		slog.WarnContext(ctx, "Inline analysis failed", "stored_name", name, "error", err)
	}
}

// Analyze computes the per-file summary of a stored upload and records it in
// the catalog. A file that cannot be parsed is recorded with its error; only
// catalog failures are returned.
func (s *UploadService) Analyze(ctx context.Context, name string) (storage.Analysis, error) {
	a := storage.Analysis{At: s.now()}
	ds, err := s.reports.Load(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return a, err
	case err != nil:
		a.Error = err.Error()
	default:
		a.RowCount = ds.Records.Len()
		if ds.Records.Require(core.ColStatus, core.ColMRC) == nil {
			a.NetMRC = core.ComputeAdjustedRevenue(ds.Records).Total
		}
		a.ChurnMRC = core.ChurnSummary(ds.Records).TotalMRC
	}

	if s.catalog != nil {
		if err := s.catalog.RecordAnalysis(ctx, name, a); err != nil {
			return a, fmt.Errorf("record analysis: %w", err)
		}
	}
	slog.InfoContext(ctx, "Upload analyzed",
		"stored_name", name,
		"rows", a.RowCount,
		"net_mrc", a.NetMRC.String(),
		"churn_mrc", a.ChurnMRC.String(),
		"analysis_error", a.Error)
	return a, nil
}

// Delete removes a stored file, its cached parses and marks it deleted in the
// catalog.
func (s *UploadService) Delete(ctx context.Context, name string) error {
	if err := s.store.Delete(name); err != nil {
		return err
	}
	s.reports.Evict(name)
	if s.catalog != nil {
		if err := s.catalog.MarkDeleted(ctx, name, s.now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.ErrorContext(ctx, "Failed to mark upload deleted", "stored_name", name, "error", err)
		}
	}
	slog.InfoContext(ctx, "Upload deleted", "stored_name", name)
	return nil
}

// ImportSheet snapshots the remote spreadsheet into a new stored workbook.
func (s *UploadService) ImportSheet(ctx context.Context) (storage.StoredFile, error) {
	if !s.ImportEnabled() {
		return storage.StoredFile{}, ErrImportDisabled
	}
	t, err := s.remote.FetchTable(ctx)
	if err != nil {
		return storage.StoredFile{}, fmt.Errorf("fetch remote sheet: %w", err)
	}
	var buf bytes.Buffer
	if err := s.writer.WriteTable(ctx, &buf, t); err != nil {
		return storage.StoredFile{}, fmt.Errorf("write snapshot: %w", err)
	}
	return s.save(ctx, s.importName, &buf, storage.SourceGoogleSheets)
}

// History returns recent catalog entries, or nil without a catalog.
func (s *UploadService) History(ctx context.Context, limit int) ([]storage.CatalogEntry, error) {
	if s.catalog == nil {
		return nil, nil
	}
	return s.catalog.History(ctx, limit)
}
