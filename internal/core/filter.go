package core

import (
	"slices"
	"strings"
)

// All is the sentinel selection that disables a single-value filter.
const All = "All"

// Predicate bundles the dashboard filters. The zero value matches every
// record. Active predicates compose by logical AND.
type Predicate struct {
	Start      NullDate // inclusive; unset = unbounded
	End        NullDate // inclusive; unset = unbounded
	Status     string   // All or "" = any
	Reason     string   // All or "" = any
	Name       string   // case-insensitive substring of CustomerName
	Locations  []string // empty = any
	Categories []string // empty = any
}

func isSentinel(v string) bool {
	return v == "" || v == All
}

// Empty reports whether the bounds can never be satisfied.
func (p Predicate) Empty() bool {
	return p.Start.Valid && p.End.Valid && p.End.Before(p.Start)
}

// DateOnly returns a copy of p limited to the date range.
func (p Predicate) DateOnly() Predicate {
	return Predicate{Start: p.Start, End: p.End}
}

// Match reports whether r satisfies every active predicate.
func (p Predicate) Match(r Record) bool {
	if p.Start.Valid || p.End.Valid {
		if !r.SubmissionDate.Valid {
			return false
		}
		if p.Start.Valid && r.SubmissionDate.Before(p.Start) {
			return false
		}
		if p.End.Valid && p.End.Before(r.SubmissionDate) {
			return false
		}
	}
	if !isSentinel(p.Status) && r.Status != p.Status {
		return false
	}
	if !isSentinel(p.Reason) && r.Reason != p.Reason {
		return false
	}
	if p.Name != "" && !strings.Contains(strings.ToLower(r.CustomerName), strings.ToLower(p.Name)) {
		return false
	}
	if len(p.Locations) > 0 && !slices.Contains(p.Locations, r.Location) {
		return false
	}
	if len(p.Categories) > 0 && !slices.Contains(p.Categories, r.Category) {
		return false
	}
	return true
}

// Filter returns the records of rs matching p, in their original order.
// rs is not modified.
func Filter(rs RecordSet, p Predicate) RecordSet {
	if p.Empty() {
		return rs.derive([]Record{})
	}
	out := make([]Record, 0, len(rs.Records))
	for _, r := range rs.Records {
		if p.Match(r) {
			out = append(out, r)
		}
	}
	return rs.derive(out)
}

// Options holds the values offered by the filter widgets.
type Options struct {
	Statuses   []string // All first, then sorted distinct values
	Reasons    []string // All first, then sorted distinct values
	Locations  []string
	Categories []string
}

// FilterOptions computes the filter choices the way the dashboard cascades
// them: statuses come from the date-filtered set, reasons from the date and
// status filtered set, locations and categories from the full set.
func FilterOptions(rs RecordSet, p Predicate) Options {
	byDate := Filter(rs, p.DateOnly())
	byStatus := Filter(byDate, Predicate{Status: p.Status})

	return Options{
		Statuses:   append([]string{All}, distinct(byDate.Records, func(r Record) string { return r.Status })...),
		Reasons:    append([]string{All}, distinct(byStatus.Records, func(r Record) string { return r.Reason })...),
		Locations:  distinct(rs.Records, func(r Record) string { return r.Location }),
		Categories: distinct(rs.Records, func(r Record) string { return r.Category }),
	}
}

// distinct returns the sorted non-blank values of key over recs.
func distinct(recs []Record, key func(Record) string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, r := range recs {
		v := key(r)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// DateBounds returns the earliest and latest valid submission dates.
func DateBounds(rs RecordSet) (first, last NullDate, ok bool) {
	for _, r := range rs.Records {
		d := r.SubmissionDate
		if !d.Valid {
			continue
		}
		if !first.Valid || d.Before(first) {
			first = d
		}
		if !last.Valid || last.Before(d) {
			last = d
		}
	}
	return first, last, first.Valid
}
