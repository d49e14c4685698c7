package sheets

import (
	"context"
	"io"

	"churnboard/internal/core"
)

// Ports for outbound adapters.
type (
	// TableReader loads the activity sheet of a stored workbook.
	TableReader interface {
		ReadTable(ctx context.Context, path string) (core.RawTable, error)
	}

	// TableWriter serializes a raw table as a workbook.
	TableWriter interface {
		WriteTable(ctx context.Context, w io.Writer, t core.RawTable) error
	}

	// RemoteSource reads a table from a remote spreadsheet service.
	RemoteSource interface {
		FetchTable(ctx context.Context) (core.RawTable, error)
	}
)
