package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Upload sources.
const (
	SourceUpload       = "upload"
	SourceGoogleSheets = "google_sheets"
)

const timeLayout = time.RFC3339Nano

type (
	// Analysis is the per-file summary computed after an upload.
	Analysis struct {
		RowCount int
		NetMRC   decimal.Decimal
		ChurnMRC decimal.Decimal
		Error    string // set when the file could not be analyzed
		At       time.Time
	}

	// CatalogEntry is the history record of one stored upload.
	CatalogEntry struct {
		ID           int64
		StoredName   string
		OriginalName string
		SizeBytes    int64
		UploadedAt   time.Time
		Source       string
		Analysis     *Analysis // nil until analyzed
		DeletedAt    *time.Time
	}
)

// Analyzed reports whether an analysis result is recorded.
func (e CatalogEntry) Analyzed() bool { return e.Analysis != nil }

// Catalog is the SQLite history of uploads and their analysis results.
type Catalog struct {
	db      *sql.DB
	queries *Queries
}

func NewCatalog(dbPath string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Catalog{db: db, queries: New(db)}, nil
}

func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// RecordUpload inserts a history row for a stored file. A row with the same
// stored name is replaced, since the file on disk was overwritten.
func (c *Catalog) RecordUpload(ctx context.Context, f StoredFile, source string) (CatalogEntry, error) {
	if source == "" {
		source = SourceUpload
	}
	at := f.UploadedAt
	if at.IsZero() {
		at = f.ModTime
	}
	row, err := c.queries.UpsertUpload(ctx, UpsertUploadParams{
		StoredName:   f.Name,
		OriginalName: f.OriginalName,
		SizeBytes:    f.Size,
		UploadedAt:   at.UTC().Format(timeLayout),
		Source:       source,
	})
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("record upload: %w", err)
	}
	slog.InfoContext(ctx, "Upload recorded in catalog",
		"id", row.ID,
		"stored_name", row.StoredName,
		"source", row.Source)
	return toEntry(row)
}

// RecordAnalysis stores the analysis result of a stored file.
func (c *Catalog) RecordAnalysis(ctx context.Context, storedName string, a Analysis) error {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	params := SetAnalysisParams{
		AnalyzedAt: a.At.UTC().Format(timeLayout),
		StoredName: storedName,
	}
	if a.Error != "" {
		params.AnalysisError = sql.NullString{String: a.Error, Valid: true}
	} else {
		params.RowCount = sql.NullInt64{Int64: int64(a.RowCount), Valid: true}
		params.NetMrc = sql.NullString{String: a.NetMRC.String(), Valid: true}
		params.ChurnMrc = sql.NullString{String: a.ChurnMRC.String(), Valid: true}
	}
	n, err := c.queries.SetAnalysis(ctx, params)
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record analysis %s: %w", storedName, ErrNotFound)
	}
	return nil
}

// MarkDeleted flags the history row of a removed file. Rows are kept so the
// history still shows the upload.
func (c *Catalog) MarkDeleted(ctx context.Context, storedName string, at time.Time) error {
	n, err := c.queries.MarkUploadDeleted(ctx, at.UTC().Format(timeLayout), storedName)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark deleted %s: %w", storedName, ErrNotFound)
	}
	return nil
}

// Get returns the history row of a stored file.
func (c *Catalog) Get(ctx context.Context, storedName string) (CatalogEntry, error) {
	row, err := c.queries.GetUpload(ctx, storedName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CatalogEntry{}, fmt.Errorf("%s: %w", storedName, ErrNotFound)
		}
		return CatalogEntry{}, fmt.Errorf("get upload: %w", err)
	}
	return toEntry(row)
}

// History returns the most recent uploads first.
func (c *Catalog) History(ctx context.Context, limit int) ([]CatalogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.queries.ListUploads(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	out := make([]CatalogEntry, 0, len(rows))
	for _, r := range rows {
		e, err := toEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func toEntry(r Upload) (CatalogEntry, error) {
	uploadedAt, err := time.Parse(timeLayout, r.UploadedAt)
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("upload %d: bad uploaded_at: %w", r.ID, err)
	}
	e := CatalogEntry{
		ID:           r.ID,
		StoredName:   r.StoredName,
		OriginalName: r.OriginalName,
		SizeBytes:    r.SizeBytes,
		UploadedAt:   uploadedAt,
		Source:       r.Source,
	}
	if r.AnalyzedAt.Valid {
		a := &Analysis{Error: r.AnalysisError.String}
		if a.At, err = time.Parse(timeLayout, r.AnalyzedAt.String); err != nil {
			return CatalogEntry{}, fmt.Errorf("upload %d: bad analyzed_at: %w", r.ID, err)
		}
		if r.RowCount.Valid {
			a.RowCount = int(r.RowCount.Int64)
		}
		if a.NetMRC, err = parseAmount(r.NetMrc); err != nil {
			return CatalogEntry{}, fmt.Errorf("upload %d: bad net_mrc: %w", r.ID, err)
		}
		if a.ChurnMRC, err = parseAmount(r.ChurnMrc); err != nil {
			return CatalogEntry{}, fmt.Errorf("upload %d: bad churn_mrc: %w", r.ID, err)
		}
		e.Analysis = a
	}
	if r.DeletedAt.Valid {
		t, err := time.Parse(timeLayout, r.DeletedAt.String)
		if err != nil {
			return CatalogEntry{}, fmt.Errorf("upload %d: bad deleted_at: %w", r.ID, err)
		}
		e.DeletedAt = &t
	}
	return e, nil
}

func parseAmount(s sql.NullString) (decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s.String)
}
