// Package xlsx reads and writes activity workbooks (.xlsx/.xlsm) with excelize.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"churnboard/internal/core"
	ports "churnboard/internal/sheets"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet is the worksheet read when present.
const DefaultSheet = "Sheet1"

// Workbook reads the activity sheet of a workbook on disk and writes raw
// tables back out as .xlsx.
type Workbook struct {
	sheet string
}

var (
	_ ports.TableReader = (*Workbook)(nil)
	_ ports.TableWriter = (*Workbook)(nil)
)

// New returns a Workbook preferring the named worksheet. An empty name means
// DefaultSheet.
func New(sheet string) *Workbook {
	sheet = strings.TrimSpace(sheet)
	if sheet == "" {
		sheet = DefaultSheet
	}
	return &Workbook{sheet: sheet}
}

// Sheet returns the preferred worksheet name.
func (w *Workbook) Sheet() string { return w.sheet }

// ReadTable opens path and returns the preferred sheet, or the first sheet
// when the workbook has none by that name. Cells are read raw, so dates come
// back as Excel serial numbers and amounts without currency formatting.
func (w *Workbook) ReadTable(ctx context.Context, path string) (core.RawTable, error) {
	if err := ctx.Err(); err != nil {
		return core.RawTable{}, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return core.RawTable{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return w.read(f)
}

func (w *Workbook) read(f *excelize.File) (core.RawTable, error) {
	sheet := w.pickSheet(f.GetSheetList())
	if sheet == "" {
		return core.RawTable{}, core.ErrEmptyTable
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return core.RawTable{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return toTable(rows)
}

func (w *Workbook) pickSheet(sheets []string) string {
	for _, s := range sheets {
		if s == w.sheet {
			return s
		}
	}
	if len(sheets) == 0 {
		return ""
	}
	return sheets[0]
}

// toTable takes the first non-blank row as the header.
func toTable(rows [][]string) (core.RawTable, error) {
	for i, row := range rows {
		if blank(row) {
			continue
		}
		headers := make([]string, len(row))
		for j, h := range row {
			headers[j] = strings.TrimSpace(h)
		}
		return core.RawTable{Headers: headers, Rows: rows[i+1:]}, nil
	}
	return core.RawTable{}, core.ErrEmptyTable
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// WriteTable writes t as a single-sheet workbook named after the preferred
// sheet.
func (w *Workbook) WriteTable(ctx context.Context, out io.Writer, t core.RawTable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	if w.sheet != DefaultSheet {
		if err := f.SetSheetName(DefaultSheet, w.sheet); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	}
	if err := writeRow(f, w.sheet, 1, t.Headers); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := writeRow(f, w.sheet, i+2, row); err != nil {
			return err
		}
	}
	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, n int, cells []string) error {
	if len(cells) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(cells))
	for i, c := range cells {
		vals[i] = c
	}
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return fmt.Errorf("write row %d: %w", n, err)
	}
	return nil
}
