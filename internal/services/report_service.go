package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"churnboard/internal/cache"
	"churnboard/internal/core"
	"churnboard/internal/sheets"
	"churnboard/internal/storage"

	"golang.org/x/sync/singleflight"
)

// PreviewRows is the number of raw rows shown in the preview panel.
const PreviewRows = 5

// Dataset is one parsed stored file.
type Dataset struct {
	File    storage.StoredFile
	Raw     core.RawTable
	Records core.RecordSet
}

// Report is every number the dashboard shows for one file and filter
// selection. It is computed in one pass and never modified afterwards.
type Report struct {
	File      storage.StoredFile
	Predicate core.Predicate
	Options   core.Options
	MinDate   core.NullDate
	MaxDate   core.NullDate

	TotalRecords int // before filtering
	Records      int // after filtering

	ByStatus      core.Counts
	Revenue       *core.Revenue // nil when the Status or MRC column is missing
	Churn         core.Churn
	Trend         core.Trend
	Breakdown     core.Counts
	NewByLocation core.Counts // set only when the status filter is NEW
	Warnings      []string
}

// ShowNewByLocation reports whether the NEW-by-location chart applies.
func (r Report) ShowNewByLocation() bool {
	return r.Predicate.Status == core.StatusNew
}

// ReportService loads stored files and computes reports. Parsed files are
// cached by fingerprint; concurrent loads of one file share a single parse.
type ReportService struct {
	files  *storage.UploadStore
	reader sheets.TableReader
	cache  *cache.LRUCache[*Dataset]
	group  singleflight.Group
}

func NewReportService(files *storage.UploadStore, reader sheets.TableReader, cacheSize int, cacheTTL time.Duration) *ReportService {
	return &ReportService{
		files:  files,
		reader: reader,
		cache:  cache.NewLRUCache[*Dataset](cacheSize, cacheTTL),
	}
}

// Cache exposes the dataset cache for periodic cleanup.
func (s *ReportService) Cache() *cache.LRUCache[*Dataset] { return s.cache }

// Load parses a stored file, or returns the cached parse when the file has
// not changed since.
func (s *ReportService) Load(ctx context.Context, name string) (*Dataset, error) {
	f, err := s.files.Stat(name)
	if err != nil {
		return nil, err
	}
	key := f.Fingerprint()
	if ds, ok := s.cache.Get(key); ok {
		return ds, nil
	}

	// Waiters share one parse detached from the caller that started it;
	// each waiter still returns when its own ctx ends.
	parseCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		// a flight that finished just before this one already filled the cache
		if ds, ok := s.cache.Get(key); ok {
			return ds, nil
		}
		path, err := s.files.Path(name)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		raw, err := s.reader.ReadTable(parseCtx, path)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		ds := &Dataset{File: f, Raw: raw, Records: core.Normalize(raw)}
		s.cache.Set(key, ds)
		slog.InfoContext(parseCtx, "Parsed stored file",
			"file", name,
			"rows", ds.Records.Len(),
			"duration_ms", time.Since(start).Milliseconds())
		return ds, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.DebugContext(ctx, "Shared in-flight parse", "file", name)
		}
		return res.Val.(*Dataset), nil
	}
}

// Evict drops every cached parse of a stored file.
func (s *ReportService) Evict(name string) {
	s.cache.DeletePrefix(name + "|")
}

// Preview returns the header and first PreviewRows rows of a stored file.
func (s *ReportService) Preview(ctx context.Context, name string) (core.RawTable, error) {
	ds, err := s.Load(ctx, name)
	if err != nil {
		return core.RawTable{}, err
	}
	return core.Preview(ds.Raw, PreviewRows), nil
}

// Build computes the report of a stored file under p.
func (s *ReportService) Build(ctx context.Context, name string, p core.Predicate) (Report, error) {
	ds, err := s.Load(ctx, name)
	if err != nil {
		return Report{}, err
	}
	return Compute(ds, p), nil
}

// Compute derives a Report from a parsed dataset.
func Compute(ds *Dataset, p core.Predicate) Report {
	all := ds.Records
	filtered := core.Filter(all, p)
	minDate, maxDate, _ := core.DateBounds(all)

	r := Report{
		File:         ds.File,
		Predicate:    p,
		Options:      core.FilterOptions(all, p),
		MinDate:      minDate,
		MaxDate:      maxDate,
		TotalRecords: all.Len(),
		Records:      filtered.Len(),
		ByStatus:     core.SummarizeByStatus(filtered),
		Churn:        core.ChurnSummary(filtered),
		Trend:        core.DailyTrend(filtered),
		Breakdown:    core.StatusBreakdown(filtered, core.BreakdownStatuses...),
	}
	if err := all.Require(core.ColStatus, core.ColMRC); err != nil {
		r.Warnings = append(r.Warnings, "Adjusted MRC unavailable: "+err.Error())
	} else {
		rev := core.ComputeAdjustedRevenue(filtered)
		r.Revenue = &rev
	}
	if !all.Has(core.ColSubmissionDate) {
		r.Warnings = append(r.Warnings, "Submission Date column not found; date filters and the daily trend are empty")
	}
	if p.Empty() {
		r.Warnings = append(r.Warnings, "Start date is after end date; no records match")
	}
	if r.ShowNewByLocation() {
		r.NewByLocation = core.CountByLocation(filtered)
	}
	return r
}
