package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Column identifies a logical field of an uploaded activity sheet.
type Column string

const (
	ColCustomerName   Column = "Customer Name"
	ColStatus         Column = "Status"
	ColReason         Column = "Reason"
	ColLocation       Column = "Location"
	ColCategory       Column = "Category"
	ColMRC            Column = "MRC"
	ColSubmissionDate Column = "Submission Date"
)

// AllColumns lists the logical columns in display order.
var AllColumns = []Column{
	ColCustomerName,
	ColStatus,
	ColReason,
	ColLocation,
	ColCategory,
	ColMRC,
	ColSubmissionDate,
}

type (
	// NullDate is a calendar date that may be missing.
	NullDate struct {
		Time  time.Time // midnight UTC
		Valid bool
	}

	// Record is one normalized row of an uploaded sheet.
	Record struct {
		CustomerName   string
		Status         string
		Reason         string
		Location       string
		Category       string
		MRC            decimal.NullDecimal
		SubmissionDate NullDate
	}

	// RecordSet is an ordered, read-only collection of records together with
	// the logical columns that were present in the source header.
	RecordSet struct {
		Records []Record
		Columns map[Column]bool
	}
)

// NewDate returns a valid NullDate for the given calendar day.
func NewDate(year int, month time.Month, day int) NullDate {
	return NullDate{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Valid: true}
}

// String formats the date as YYYY-MM-DD, or "" when missing.
func (d NullDate) String() string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format("2006-01-02")
}

// Before reports whether d is strictly before o. Both must be valid.
func (d NullDate) Before(o NullDate) bool {
	return d.Time.Before(o.Time)
}

// Len returns the number of records.
func (rs RecordSet) Len() int {
	return len(rs.Records)
}

// Has reports whether the column was present in the source header.
func (rs RecordSet) Has(c Column) bool {
	return rs.Columns[c]
}

// Require returns a *MissingColumnsError naming every requested column the
// source header did not contain.
func (rs RecordSet) Require(cols ...Column) error {
	var missing []Column
	for _, c := range cols {
		if !rs.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{Columns: missing}
	}
	return nil
}

// derive returns a new RecordSet over recs sharing the column metadata of rs.
func (rs RecordSet) derive(recs []Record) RecordSet {
	return RecordSet{Records: recs, Columns: rs.Columns}
}

// MRCOrZero returns the MRC value, treating a missing value as zero.
func (r Record) MRCOrZero() decimal.Decimal {
	if !r.MRC.Valid {
		return decimal.Zero
	}
	return r.MRC.Decimal
}
