package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Upload is a row of the uploads table.
type Upload struct {
	ID            int64
	StoredName    string
	OriginalName  string
	SizeBytes     int64
	UploadedAt    string
	Source        string
	RowCount      sql.NullInt64
	NetMrc        sql.NullString
	ChurnMrc      sql.NullString
	AnalysisError sql.NullString
	AnalyzedAt    sql.NullString
	DeletedAt     sql.NullString
}

const uploadColumns = `id, stored_name, original_name, size_bytes, uploaded_at, source, row_count, net_mrc, churn_mrc, analysis_error, analyzed_at, deleted_at`

func scanUpload(row interface{ Scan(...interface{}) error }) (Upload, error) {
	var i Upload
	err := row.Scan(
		&i.ID,
		&i.StoredName,
		&i.OriginalName,
		&i.SizeBytes,
		&i.UploadedAt,
		&i.Source,
		&i.RowCount,
		&i.NetMrc,
		&i.ChurnMrc,
		&i.AnalysisError,
		&i.AnalyzedAt,
		&i.DeletedAt,
	)
	return i, err
}

const upsertUpload = `INSERT INTO uploads (stored_name, original_name, size_bytes, uploaded_at, source)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(stored_name) DO UPDATE SET
    original_name = excluded.original_name,
    size_bytes = excluded.size_bytes,
    uploaded_at = excluded.uploaded_at,
    source = excluded.source,
    row_count = NULL,
    net_mrc = NULL,
    churn_mrc = NULL,
    analysis_error = NULL,
    analyzed_at = NULL,
    deleted_at = NULL
RETURNING ` + uploadColumns

type UpsertUploadParams struct {
	StoredName   string
	OriginalName string
	SizeBytes    int64
	UploadedAt   string
	Source       string
}

func (q *Queries) UpsertUpload(ctx context.Context, arg UpsertUploadParams) (Upload, error) {
	row := q.db.QueryRowContext(ctx, upsertUpload,
		arg.StoredName,
		arg.OriginalName,
		arg.SizeBytes,
		arg.UploadedAt,
		arg.Source,
	)
	return scanUpload(row)
}

const getUpload = `SELECT ` + uploadColumns + ` FROM uploads WHERE stored_name = ?`

func (q *Queries) GetUpload(ctx context.Context, storedName string) (Upload, error) {
	return scanUpload(q.db.QueryRowContext(ctx, getUpload, storedName))
}

const listUploads = `SELECT ` + uploadColumns + ` FROM uploads ORDER BY uploaded_at DESC, id DESC LIMIT ?`

func (q *Queries) ListUploads(ctx context.Context, limit int64) ([]Upload, error) {
	rows, err := q.db.QueryContext(ctx, listUploads, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Upload
	for rows.Next() {
		i, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setAnalysis = `UPDATE uploads
SET row_count = ?, net_mrc = ?, churn_mrc = ?, analysis_error = ?, analyzed_at = ?
WHERE stored_name = ?`

type SetAnalysisParams struct {
	RowCount      sql.NullInt64
	NetMrc        sql.NullString
	ChurnMrc      sql.NullString
	AnalysisError sql.NullString
	AnalyzedAt    string
	StoredName    string
}

func (q *Queries) SetAnalysis(ctx context.Context, arg SetAnalysisParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, setAnalysis,
		arg.RowCount,
		arg.NetMrc,
		arg.ChurnMrc,
		arg.AnalysisError,
		arg.AnalyzedAt,
		arg.StoredName,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markUploadDeleted = `UPDATE uploads SET deleted_at = ? WHERE stored_name = ? AND deleted_at IS NULL`

func (q *Queries) MarkUploadDeleted(ctx context.Context, deletedAt, storedName string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markUploadDeleted, deletedAt, storedName)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
