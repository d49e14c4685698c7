package core

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status values with special meaning in the reports.
const (
	StatusNew        = "NEW"
	StatusConvert    = "Convert"
	StatusPrevious   = "Previous"
	StatusDisconnect = "Disconnect"
)

// BreakdownStatuses are the acquisition statuses compared side by side.
var BreakdownStatuses = []string{StatusNew, StatusConvert, StatusPrevious}

type (
	// Count is a group key and the number of records in that group.
	Count struct {
		Key   string
		Count int
	}

	// Counts is an ordered list of group counts.
	Counts []Count

	// StatusAmount is the net adjusted MRC of one status.
	StatusAmount struct {
		Status string
		Amount decimal.Decimal
	}

	// Revenue is the signed MRC summary ("Adjusted MRC").
	Revenue struct {
		PerStatus []StatusAmount // ordered by status
		Total     decimal.Decimal
	}

	// Churn summarizes the disconnect subset.
	Churn struct {
		Records    int
		ByReason   Counts          // ordered by reason
		ByLocation Counts          // count descending, ties in first-appearance order
		TotalMRC   decimal.Decimal // unsigned
	}

	// Trend is a date x status matrix of record counts.
	Trend struct {
		Dates    []time.Time
		Statuses []string
		Cells    [][]int // Cells[date][status]
	}
)

// Get returns the count for key, or 0.
func (c Counts) Get(key string) int {
	for _, v := range c {
		if v.Key == key {
			return v.Count
		}
	}
	return 0
}

// Map returns the counts keyed by group.
func (c Counts) Map() map[string]int {
	m := make(map[string]int, len(c))
	for _, v := range c {
		m[v.Key] = v.Count
	}
	return m
}

// Total sums every group count.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v.Count
	}
	return n
}

// Get returns the net amount for status, or zero.
func (r Revenue) Get(status string) decimal.Decimal {
	for _, v := range r.PerStatus {
		if v.Status == status {
			return v.Amount
		}
	}
	return decimal.Zero
}

// IsDisconnect is the revenue sign rule: the status, trimmed and compared
// case-insensitively, equals "disconnect".
func IsDisconnect(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "disconnect")
}

// IsChurn selects the churn subset. Unlike IsDisconnect it is an exact,
// case-sensitive match.
func IsChurn(status string) bool {
	return status == StatusDisconnect
}

// AdjustedMRC returns -MRC for disconnects and MRC for every other status.
// A missing MRC yields a missing result.
func AdjustedMRC(r Record) decimal.NullDecimal {
	if !r.MRC.Valid {
		return decimal.NullDecimal{}
	}
	if IsDisconnect(r.Status) {
		return decimal.NullDecimal{Decimal: r.MRC.Decimal.Neg(), Valid: true}
	}
	return r.MRC
}

// groupCounts counts records by key in first-appearance order. Blank keys are
// skipped unless keepBlank is set.
func groupCounts(recs []Record, key func(Record) string, keepBlank bool) Counts {
	pos := make(map[string]int)
	out := Counts{}
	for _, r := range recs {
		k := key(r)
		if k == "" && !keepBlank {
			continue
		}
		i, ok := pos[k]
		if !ok {
			i = len(out)
			pos[k] = i
			out = append(out, Count{Key: k})
		}
		out[i].Count++
	}
	return out
}

func sortByKey(c Counts) Counts {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Key < c[j].Key })
	return c
}

func sortByCountDesc(c Counts) Counts {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Count > c[j].Count })
	return c
}

// SummarizeByStatus counts records per distinct status, ordered by status.
// Blank statuses form their own "" group.
func SummarizeByStatus(rs RecordSet) Counts {
	return sortByKey(groupCounts(rs.Records, func(r Record) string { return r.Status }, true))
}

// ComputeAdjustedRevenue sums AdjustedMRC per status and overall. Missing
// MRC values contribute zero. The per-status amounts always add up to Total.
func ComputeAdjustedRevenue(rs RecordSet) Revenue {
	pos := make(map[string]int)
	var per []StatusAmount
	total := decimal.Zero
	for _, r := range rs.Records {
		i, ok := pos[r.Status]
		if !ok {
			i = len(per)
			pos[r.Status] = i
			per = append(per, StatusAmount{Status: r.Status, Amount: decimal.Zero})
		}
		adj := AdjustedMRC(r)
		if !adj.Valid {
			continue
		}
		per[i].Amount = per[i].Amount.Add(adj.Decimal)
		total = total.Add(adj.Decimal)
	}
	sort.SliceStable(per, func(i, j int) bool { return per[i].Status < per[j].Status })
	return Revenue{PerStatus: per, Total: total}
}

// ChurnSummary summarizes the records whose status is exactly "Disconnect".
// TotalMRC is the raw MRC sum and is not sign-flipped.
func ChurnSummary(rs RecordSet) Churn {
	var churned []Record
	for _, r := range rs.Records {
		if IsChurn(r.Status) {
			churned = append(churned, r)
		}
	}
	total := decimal.Zero
	for _, r := range churned {
		total = total.Add(r.MRCOrZero())
	}
	return Churn{
		Records:    len(churned),
		ByReason:   sortByKey(groupCounts(churned, func(r Record) string { return r.Reason }, false)),
		ByLocation: sortByCountDesc(groupCounts(churned, func(r Record) string { return r.Location }, false)),
		TotalMRC:   total,
	}
}

// CountByLocation counts records per location, most frequent first. Ties keep
// first-appearance order.
func CountByLocation(rs RecordSet) Counts {
	return sortByCountDesc(groupCounts(rs.Records, func(r Record) string { return r.Location }, false))
}

// StatusBreakdown counts the records whose status is one of statuses, most
// frequent first. Ties keep first-appearance order.
func StatusBreakdown(rs RecordSet, statuses ...string) Counts {
	if len(statuses) == 0 {
		statuses = BreakdownStatuses
	}
	var keep []Record
	for _, r := range rs.Records {
		if slices.Contains(statuses, r.Status) {
			keep = append(keep, r)
		}
	}
	return sortByCountDesc(groupCounts(keep, func(r Record) string { return r.Status }, false))
}

// DailyTrend builds the date x status count matrix. Records without a date or
// a status are left out; absent combinations are zero.
func DailyTrend(rs RecordSet) Trend {
	type key struct {
		day    time.Time
		status string
	}
	counts := make(map[key]int)
	days := make(map[time.Time]struct{})
	statuses := make(map[string]struct{})
	for _, r := range rs.Records {
		if !r.SubmissionDate.Valid || r.Status == "" {
			continue
		}
		k := key{day: r.SubmissionDate.Time, status: r.Status}
		counts[k]++
		days[k.day] = struct{}{}
		statuses[k.status] = struct{}{}
	}

	t := Trend{
		Dates:    make([]time.Time, 0, len(days)),
		Statuses: make([]string, 0, len(statuses)),
	}
	for d := range days {
		t.Dates = append(t.Dates, d)
	}
	slices.SortFunc(t.Dates, func(a, b time.Time) int { return a.Compare(b) })
	for s := range statuses {
		t.Statuses = append(t.Statuses, s)
	}
	slices.Sort(t.Statuses)

	t.Cells = make([][]int, len(t.Dates))
	for i, d := range t.Dates {
		row := make([]int, len(t.Statuses))
		for j, s := range t.Statuses {
			row[j] = counts[key{day: d, status: s}]
		}
		t.Cells[i] = row
	}
	return t
}

// Column returns the per-date counts of one status.
func (t Trend) Column(status string) []int {
	j := slices.Index(t.Statuses, status)
	out := make([]int, len(t.Dates))
	if j < 0 {
		return out
	}
	for i := range t.Dates {
		out[i] = t.Cells[i][j]
	}
	return out
}
