package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"churnboard/internal/core"
	"churnboard/internal/sheets/memory"
	"churnboard/internal/sheets/xlsx"
	"churnboard/internal/storage"

	"github.com/shopspring/decimal"
)

var activity = core.RawTable{
	Headers: []string{"Customer Name", "Status", "Reason", "Location", "MRC", "Submission Date"},
	Rows: [][]string{
		{"Acme", "NEW", "", "Austin", "50", "2024-03-01"},
		{"Beta", "Disconnect", "Price", "Dallas", "30", "2024-03-02"},
		{"Gamma", "Disconnect", "Moved", "Austin", "20", "2024-03-02"},
		{"Delta", "Convert", "", "Houston", "abc", "2024-03-04"},
		{"Echo", "NEW", "", "Dallas", "15", "2024-03-05"},
	},
}

type fakeCatalog struct {
	mu       sync.Mutex
	uploads  []storage.StoredFile
	sources  []string
	analyses map[string]storage.Analysis
	deleted  []string
	fail     error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{analyses: map[string]storage.Analysis{}}
}

func (c *fakeCatalog) RecordUpload(_ context.Context, f storage.StoredFile, source string) (storage.CatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return storage.CatalogEntry{}, c.fail
	}
	c.uploads = append(c.uploads, f)
	c.sources = append(c.sources, source)
	return storage.CatalogEntry{ID: int64(len(c.uploads)), StoredName: f.Name, Source: source}, nil
}

func (c *fakeCatalog) RecordAnalysis(_ context.Context, name string, a storage.Analysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.analyses[name] = a
	return nil
}

func (c *fakeCatalog) MarkDeleted(_ context.Context, name string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, name)
	return nil
}

func (c *fakeCatalog) History(_ context.Context, limit int) ([]storage.CatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []storage.CatalogEntry
	for i := len(c.uploads) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, storage.CatalogEntry{StoredName: c.uploads[i].Name, Source: c.sources[i]})
	}
	return out, nil
}

type fakePublisher struct {
	names []string
	err   error
}

func (p *fakePublisher) PublishUploadAnalyze(_ context.Context, name string) error {
	if p.err != nil {
		return p.err
	}
	p.names = append(p.names, name)
	return nil
}

func newStore(t *testing.T) *storage.UploadStore {
	t.Helper()
	s, err := storage.NewUploadStore(filepath.Join(t.TempDir(), "uploads"), []string{".xlsm", ".xlsx"})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func workbookBytes(t *testing.T, tbl core.RawTable) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := xlsx.New("").WriteTable(context.Background(), &buf, tbl); err != nil {
		t.Fatalf("build workbook: %v", err)
	}
	return buf.Bytes()
}

func TestBuildReport(t *testing.T) {
	store := newStore(t)
	reports := NewReportService(store, xlsx.New(""), 8, time.Minute)
	uploads := NewUploadService(store, reports)

	f, err := uploads.Save(context.Background(), "march.xlsx", bytes.NewReader(workbookBytes(t, activity)))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	r, err := reports.Build(context.Background(), f.Name, core.Predicate{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.TotalRecords != 5 || r.Records != 5 {
		t.Fatalf("unexpected counts %d/%d", r.TotalRecords, r.Records)
	}
	if r.Revenue == nil || !r.Revenue.Total.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected revenue %+v", r.Revenue)
	}
	if !r.Churn.TotalMRC.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected churn MRC %s", r.Churn.TotalMRC)
	}
	if r.ByStatus.Get("NEW") != 2 || r.ByStatus.Get("Convert") != 1 {
		t.Fatalf("unexpected status counts %v", r.ByStatus)
	}
	if r.MinDate.String() != "2024-03-01" || r.MaxDate.String() != "2024-03-05" {
		t.Fatalf("unexpected bounds %s..%s", r.MinDate, r.MaxDate)
	}
	if r.ShowNewByLocation() || r.NewByLocation != nil {
		t.Fatal("new-by-location only applies to the NEW filter")
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", r.Warnings)
	}

	r, err = reports.Build(context.Background(), f.Name, core.Predicate{Status: core.StatusNew})
	if err != nil {
		t.Fatal(err)
	}
	if r.Records != 2 || len(r.NewByLocation) != 2 {
		t.Fatalf("unexpected NEW report %+v", r)
	}

	prev, err := reports.Preview(context.Background(), f.Name)
	if err != nil || len(prev.Rows) != PreviewRows || prev.Headers[0] != "Customer Name" {
		t.Fatalf("unexpected preview %+v err=%v", prev, err)
	}
}

func TestBuildReportDegradesWithoutMRC(t *testing.T) {
	store := newStore(t)
	reports := NewReportService(store, xlsx.New(""), 8, time.Minute)
	tbl := core.RawTable{
		Headers: []string{"Customer Name", "Status", "Location"},
		Rows:    [][]string{{"Acme", "Disconnect", "Austin"}},
	}
	f, err := store.Save(context.Background(), "a.xlsx", bytes.NewReader(workbookBytes(t, tbl)))
	if err != nil {
		t.Fatal(err)
	}
	r, err := reports.Build(context.Background(), f.Name, core.Predicate{Start: core.NewDate(2024, 5, 1), End: core.NewDate(2024, 4, 1)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.Revenue != nil {
		t.Fatal("revenue must be skipped without the MRC column")
	}
	if len(r.Warnings) != 3 || !strings.Contains(r.Warnings[0], "MRC") {
		t.Fatalf("unexpected warnings %v", r.Warnings)
	}
	if r.Records != 0 {
		t.Fatalf("inverted date range must be empty, got %d", r.Records)
	}
}

func TestLoadCachesByFingerprint(t *testing.T) {
	store := newStore(t)
	mem := memory.New()
	reports := NewReportService(store, mem, 8, time.Minute)

	f, err := store.Save(context.Background(), "a.xlsx", strings.NewReader("v1"))
	if err != nil {
		t.Fatal(err)
	}
	path, _ := store.Path(f.Name)
	mem.Put(path, activity)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reports.Load(context.Background(), f.Name); err != nil {
				t.Errorf("load: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := reports.Load(context.Background(), f.Name); err != nil {
		t.Fatal(err)
	}
	if n := mem.Reads(); n != 1 {
		t.Fatalf("expected a single parse, got %d", n)
	}

	if err := os.WriteFile(path, []byte("version two"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := reports.Load(context.Background(), f.Name); err != nil {
		t.Fatal(err)
	}
	if n := mem.Reads(); n != 2 {
		t.Fatalf("changed file must be parsed again, got %d reads", n)
	}

	reports.Evict(f.Name)
	if reports.Cache().Size() != 0 {
		t.Fatalf("evict left %d entries", reports.Cache().Size())
	}
}

type gatedReader struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedReader) ReadTable(ctx context.Context, path string) (core.RawTable, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return core.RawTable{}, err
	}
	return g.Store.ReadTable(ctx, path)
}

func TestLoadSurvivesFirstCallerCancel(t *testing.T) {
	store := newStore(t)
	reader := &gatedReader{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	reports := NewReportService(store, reader, 8, time.Minute)

	f, err := store.Save(context.Background(), "a.xlsx", strings.NewReader("v1"))
	if err != nil {
		t.Fatal(err)
	}
	path, _ := store.Path(f.Name)
	reader.Put(path, activity)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := reports.Load(ctx, f.Name)
		first <- err
	}()
	<-reader.entered

	second := make(chan error, 1)
	go func() {
		_, err := reports.Load(context.Background(), f.Name)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled caller: expected context.Canceled, got %v", err)
	}
	close(reader.release)

	if err := <-second; err != nil {
		t.Fatalf("other waiter must still get the parse: %v", err)
	}
	if _, err := reports.Load(context.Background(), f.Name); err != nil {
		t.Fatal(err)
	}
	if n := reader.Reads(); n != 1 {
		t.Fatalf("expected a single parse, got %d", n)
	}
}

func TestLoadErrors(t *testing.T) {
	store := newStore(t)
	reports := NewReportService(store, xlsx.New(""), 8, time.Minute)

	if _, err := reports.Load(context.Background(), "20240101_000000_missing.xlsx"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	f, err := store.Save(context.Background(), "broken.xlsx", strings.NewReader("not a zip"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reports.Build(context.Background(), f.Name, core.Predicate{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAnalyzesInlineWithoutPublisher(t *testing.T) {
	store := newStore(t)
	cat := newFakeCatalog()
	uploads := NewUploadService(store, NewReportService(store, xlsx.New(""), 8, time.Minute), WithCatalog(cat))

	f, err := uploads.Save(context.Background(), "a.xlsm", bytes.NewReader(workbookBytes(t, activity)))
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.uploads) != 1 || cat.sources[0] != storage.SourceUpload {
		t.Fatalf("upload not recorded: %+v", cat.uploads)
	}
	a, ok := cat.analyses[f.Name]
	if !ok {
		t.Fatal("expected inline analysis")
	}
	if a.RowCount != 5 || !a.NetMRC.Equal(decimal.NewFromInt(15)) || !a.ChurnMRC.Equal(decimal.NewFromInt(50)) || a.Error != "" {
		t.Fatalf("unexpected analysis %+v", a)
	}
}

func TestSaveRecordsParseFailure(t *testing.T) {
	store := newStore(t)
	cat := newFakeCatalog()
	uploads := NewUploadService(store, NewReportService(store, xlsx.New(""), 8, time.Minute), WithCatalog(cat))

	f, err := uploads.Save(context.Background(), "a.xlsx", strings.NewReader("garbage"))
	if err != nil {
		t.Fatalf("a bad workbook is still stored: %v", err)
	}
	if cat.analyses[f.Name].Error == "" {
		t.Fatal("expected analysis error to be recorded")
	}
}

func TestSavePublishesWhenConfigured(t *testing.T) {
	store := newStore(t)
	cat := newFakeCatalog()
	pub := &fakePublisher{}
	uploads := NewUploadService(store, NewReportService(store, xlsx.New(""), 8, time.Minute), WithCatalog(cat), WithPublisher(pub))

	f, err := uploads.Save(context.Background(), "a.xlsx", bytes.NewReader(workbookBytes(t, activity)))
	if err != nil {
		t.Fatal(err)
	}
	if len(pub.names) != 1 || pub.names[0] != f.Name {
		t.Fatalf("expected one publish, got %v", pub.names)
	}
	if _, ok := cat.analyses[f.Name]; ok {
		t.Fatal("analysis belongs to the worker when publishing succeeds")
	}

	pub.err = errors.New("circuit breaker is open")
	f2, err := uploads.Save(context.Background(), "b.xlsx", bytes.NewReader(workbookBytes(t, activity)))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cat.analyses[f2.Name]; !ok {
		t.Fatal("publish failure must fall back to inline analysis")
	}
}

func TestSaveSurvivesCatalogFailure(t *testing.T) {
	store := newStore(t)
	cat := newFakeCatalog()
	cat.fail = errors.New("database is locked")
	uploads := NewUploadService(store, NewReportService(store, xlsx.New(""), 8, time.Minute), WithCatalog(cat))

	if _, err := uploads.Save(context.Background(), "a.xlsx", bytes.NewReader(workbookBytes(t, activity))); err != nil {
		t.Fatalf("catalog failure must not fail the upload: %v", err)
	}
	files, _ := uploads.Files(storage.SortNewest)
	if len(files) != 1 {
		t.Fatalf("expected stored file, got %d", len(files))
	}
}

func TestSaveRejectsExtension(t *testing.T) {
	store := newStore(t)
	uploads := NewUploadService(store, NewReportService(store, xlsx.New(""), 8, time.Minute))
	if _, err := uploads.Save(context.Background(), "a.csv", strings.NewReader("x")); !errors.Is(err, storage.ErrExtensionNotAllowed) {
		t.Fatalf("expected ErrExtensionNotAllowed, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	cat := newFakeCatalog()
	reports := NewReportService(store, xlsx.New(""), 8, time.Minute)
	uploads := NewUploadService(store, reports, WithCatalog(cat))

	f, err := uploads.Save(context.Background(), "a.xlsx", bytes.NewReader(workbookBytes(t, activity)))
	if err != nil {
		t.Fatal(err)
	}
	if reports.Cache().Size() == 0 {
		t.Fatal("inline analysis should have warmed the cache")
	}
	if err := uploads.Delete(context.Background(), f.Name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if reports.Cache().Size() != 0 || len(cat.deleted) != 1 {
		t.Fatalf("delete must evict and mark the catalog: cache=%d deleted=%v", reports.Cache().Size(), cat.deleted)
	}
	if err := uploads.Delete(context.Background(), f.Name); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestImportSheet(t *testing.T) {
	store := newStore(t)
	cat := newFakeCatalog()
	reports := NewReportService(store, xlsx.New(""), 8, time.Minute)

	disabled := NewUploadService(store, reports)
	if _, err := disabled.ImportSheet(context.Background()); !errors.Is(err, ErrImportDisabled) {
		t.Fatalf("expected ErrImportDisabled, got %v", err)
	}

	remote := memory.New()
	remote.SetRemote(activity)
	uploads := NewUploadService(store, reports, WithCatalog(cat), WithRemote(remote, xlsx.New(""), ""))
	f, err := uploads.ImportSheet(context.Background())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if f.OriginalName != DefaultImportName || cat.sources[0] != storage.SourceGoogleSheets {
		t.Fatalf("unexpected import %+v sources=%v", f, cat.sources)
	}
	r, err := reports.Build(context.Background(), f.Name, core.Predicate{Status: "Disconnect", Reason: "Price"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Records != 1 || r.Churn.ByLocation.Get("Dallas") != 1 {
		t.Fatalf("unexpected imported report %+v", r)
	}

	hist, err := uploads.History(context.Background(), 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("unexpected history %v err=%v", hist, err)
	}
}
