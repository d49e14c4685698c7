package core

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawTable is an untyped sheet as read from a workbook: a header row and
// text cells. Rows may be ragged.
type RawTable struct {
	Headers []string
	Rows    [][]string
}

// headerAliases maps a folded header name to its logical column.
var headerAliases = map[string]Column{
	"customername":   ColCustomerName,
	"customer":       ColCustomerName,
	"name":           ColCustomerName,
	"status":         ColStatus,
	"reason":         ColReason,
	"churnreason":    ColReason,
	"location":       ColLocation,
	"category":       ColCategory,
	"mrc":            ColMRC,
	"submissiondate": ColSubmissionDate,
	"submittedon":    ColSubmissionDate,
	"date":           ColSubmissionDate,
}

// foldHeader lowercases a header and drops whitespace, underscores and hyphens.
func foldHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		switch r {
		case ' ', '\t', '_', '-', '\u00a0':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ResolveColumns maps each logical column to its index in headers. When a
// column appears more than once the first occurrence wins.
func ResolveColumns(headers []string) map[Column]int {
	idx := make(map[Column]int, len(AllColumns))
	for i, h := range headers {
		col, ok := headerAliases[foldHeader(h)]
		if !ok {
			continue
		}
		if _, seen := idx[col]; !seen {
			idx[col] = i
		}
	}
	return idx
}

// Normalize converts a raw sheet into a RecordSet. Cells that fail to coerce
// become missing values; no row is ever rejected, except fully blank ones.
func Normalize(t RawTable) RecordSet {
	idx := ResolveColumns(t.Headers)
	cols := make(map[Column]bool, len(idx))
	for c := range idx {
		cols[c] = true
	}

	// Text cells are kept verbatim; only headers are trimmed.
	cell := func(row []string, c Column) string {
		i, ok := idx[c]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	recs := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		recs = append(recs, Record{
			CustomerName:   cell(row, ColCustomerName),
			Status:         cell(row, ColStatus),
			Reason:         cell(row, ColReason),
			Location:       cell(row, ColLocation),
			Category:       cell(row, ColCategory),
			MRC:            ParseMRC(cell(row, ColMRC)),
			SubmissionDate: ParseDate(cell(row, ColSubmissionDate)),
		})
	}
	return RecordSet{Records: recs, Columns: cols}
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ParseMRC coerces a cell to a decimal. Anything that is not a plain number
// (including NaN and infinities) is reported as missing.
func ParseMRC(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Excel stores dates as days since 1899-12-30 (1900 date system).
const maxExcelSerial = 2958465 // 9999-12-31

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/06",
	"01-02-2006",
	"01-02-06",
	"02-Jan-2006",
	"2-Jan-06",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

// ParseDate coerces a cell to a calendar date. Excel serial numbers and the
// common text layouts are accepted; the time of day is dropped. A bare
// four-digit number is a year, not a serial.
func ParseDate(s string) NullDate {
	s = strings.TrimSpace(s)
	if s == "" {
		return NullDate{}
	}
	if len(s) == 4 {
		if t, err := time.Parse("2006", s); err == nil {
			return NewDate(t.Year(), time.January, 1)
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && f >= 1 && f <= maxExcelSerial {
		return fromExcelSerial(f)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t.Year(), t.Month(), t.Day())
		}
	}
	return NullDate{}
}

func fromExcelSerial(f float64) NullDate {
	days := int(math.Floor(f))
	base := excelEpoch
	if days < 61 {
		// serials before the fictitious 1900-02-29 are offset by one
		base = base.AddDate(0, 0, 1)
	}
	t := base.AddDate(0, 0, days)
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Preview returns the header and at most n data rows of a raw sheet.
func Preview(t RawTable, n int) RawTable {
	if n < 0 {
		n = 0
	}
	rows := t.Rows
	if len(rows) > n {
		rows = rows[:n]
	}
	return RawTable{Headers: t.Headers, Rows: rows}
}
