package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"churnboard/internal/core"
	"churnboard/internal/services"
	"churnboard/internal/sheets/memory"
	"churnboard/internal/sheets/xlsx"
	"churnboard/internal/storage"
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

type testEnv struct {
	srv     *Server
	uploads *services.UploadService
}

func workbook(t *testing.T, table core.RawTable) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := xlsx.New("Sheet1").WriteTable(context.Background(), &buf, table); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func newTestEnv(t *testing.T, opts Options, uploadOpts ...services.UploadOption) *testEnv {
	t.Helper()
	store, err := storage.NewUploadStore(t.TempDir(), []string{".xlsx", ".xlsm"})
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}
	reader := xlsx.New("Sheet1")
	reports := services.NewReportService(store, reader, 8, time.Minute)
	uploads := services.NewUploadService(store, reports, uploadOpts...)
	srv := NewServer(":0", reports, uploads, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, uploads: uploads}
}

func (e *testEnv) store(t *testing.T, name string, table core.RawTable) storage.StoredFile {
	t.Helper()
	f, err := e.uploads.Save(context.Background(), name, bytes.NewReader(workbook(t, table)))
	if err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return f
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fw.Write(content)
	}
	mw.WriteField("sort", "oldest")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	rr := env.get("/")
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Churn Dashboard") || !strings.Contains(body, "No files uploaded yet.") {
		t.Fatalf("unexpected empty dashboard: %s", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.get(path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
	}

	if rr := env.get("/missing"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestReadyReportsFailedChecks(t *testing.T) {
	env := newTestEnv(t, Options{Checks: map[string]ReadinessCheck{
		"catalog": func(context.Context) error { return nil },
		"amqp":    func(context.Context) error { return context.DeadlineExceeded },
	}})

	rr := env.get("/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp struct {
		Status string                 `json:"status"`
		Checks map[string]interface{} `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "not_ready" || resp.Checks["catalog"] != "ok" {
		t.Fatalf("unexpected readiness %+v", resp)
	}
	if s, _ := resp.Checks["amqp"].(string); !strings.HasPrefix(s, "failed:") {
		t.Fatalf("expected amqp failure, got %v", resp.Checks["amqp"])
	}
}

func TestDashboardSelectsFirstFile(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.store(t, "alpha.xlsx", activity)
	beta := env.store(t, "beta.xlsx", activity)

	rr := env.get("/?file=unknown.xlsx&status=NEW")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	files, _ := env.uploads.Files(storage.SortNewest)
	first := files[0].Name
	if !strings.Contains(body, `<option value="`+first+`" selected>`) {
		t.Fatalf("expected %s selected: %s", first, body)
	}
	// filters reset when the requested file is not listed
	if strings.Contains(body, "status=NEW") {
		t.Fatalf("filters should be reset on file change")
	}
	if !strings.Contains(body, "/ui/preview?file=") || !strings.Contains(body, "/ui/report?file=") {
		t.Fatalf("expected partial urls: %s", body)
	}

	rr = env.get("/?file=" + url.QueryEscape(beta.Name) + "&status=NEW")
	if !strings.Contains(rr.Body.String(), "status=NEW") {
		t.Fatalf("filters should be kept for the selected file")
	}
}

func TestPreviewAndReportPartials(t *testing.T) {
	env := newTestEnv(t, Options{})
	f := env.store(t, "activity.xlsx", activity)
	q := "file=" + url.QueryEscape(f.Name)

	rr := env.get("/ui/preview?" + q)
	if rr.Code != http.StatusOK {
		t.Fatalf("preview status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<th>Customer Name</th>") || !strings.Contains(rr.Body.String(), "Echo") {
		t.Fatalf("unexpected preview: %s", rr.Body.String())
	}

	rr = env.get("/ui/report?" + q)
	if rr.Code != http.StatusOK {
		t.Fatalf("report status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"$15.00", "$50.00", "Price", "Moved", `value="2024-03-01"`, `value="2024-03-05"`, "data-charts-url"} {
		if !strings.Contains(body, want) {
			t.Fatalf("report missing %q: %s", want, body)
		}
	}

	rr = env.get("/ui/report?" + q + "&status=NEW")
	if !strings.Contains(rr.Body.String(), "New customers by location") {
		t.Fatalf("expected NEW-by-location chart")
	}
}

func TestPartialsShowLoadErrorsInline(t *testing.T) {
	env := newTestEnv(t, Options{})
	f := env.store(t, "no_status.xlsx", core.RawTable{
		Headers: []string{"Customer Name", "Location"},
		Rows:    [][]string{{"Acme", "Austin"}},
	})

	rr := env.get("/ui/report?file=" + url.QueryEscape(f.Name))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Adjusted MRC unavailable") {
		t.Fatalf("expected missing column warning: %s", rr.Body.String())
	}

	rr = env.get("/ui/preview?file=19990101_000000_gone.xlsx")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `class="error"`) {
		t.Fatalf("expected inline error, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.get("/ui/report")
	if !strings.Contains(rr.Body.String(), "No file selected.") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestChartsJSON(t *testing.T) {
	env := newTestEnv(t, Options{})
	f := env.store(t, "activity.xlsx", activity)

	rr := env.get("/api/charts?file=" + url.QueryEscape(f.Name) + "&status=NEW")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp chartsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Records != 2 || resp.NewByLocation == nil {
		t.Fatalf("unexpected charts %+v", resp)
	}
	if got := strings.Join(resp.NewByLocation.Labels, ","); got != "Austin,Dallas" {
		t.Fatalf("unexpected locations %s", got)
	}
	if len(resp.Trend.Dates) != 2 || resp.Trend.Dates[0] != "2024-03-01" {
		t.Fatalf("unexpected trend %+v", resp.Trend)
	}

	rr = env.get("/api/charts?file=" + url.QueryEscape(f.Name))
	resp = chartsResponse{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.NewByLocation != nil {
		t.Fatalf("NEW-by-location must be omitted without the NEW filter")
	}
	if got := strings.Join(resp.Locations.Labels, ","); got != "Dallas,Austin" {
		t.Fatalf("unexpected churn locations %s", got)
	}

	if rr := env.get("/api/charts"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := env.get("/api/charts?file=19990101_000000_gone.xlsx"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, Options{})

	rr := env.do(multipartUpload(t, "march.xlsx", workbook(t, activity)))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d body=%s", rr.Code, rr.Body.String())
	}
	files, _ := env.uploads.Files("")
	if len(files) != 1 || files[0].OriginalName != "march.xlsx" {
		t.Fatalf("unexpected files %+v", files)
	}
	loc := rr.Header().Get("Location")
	if !strings.Contains(loc, url.QueryEscape(files[0].Name)) || !strings.Contains(loc, "sort=oldest") {
		t.Fatalf("unexpected redirect %q", loc)
	}

	req := multipartUpload(t, "april.xlsm", workbook(t, activity))
	req.Header.Set("HX-Request", "true")
	rr = env.do(req)
	if rr.Code != http.StatusOK || rr.Header().Get("HX-Redirect") == "" {
		t.Fatalf("expected htmx redirect, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), "uploads:changed") {
		t.Fatalf("missing uploads:changed trigger")
	}
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t, Options{MaxUploadBytes: 1 << 20})

	if rr := env.do(multipartUpload(t, "notes.csv", []byte("a,b"))); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for extension, got %d", rr.Code)
	}
	if rr := env.do(multipartUpload(t, "", nil)); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing file, got %d", rr.Code)
	}
	big := bytes.Repeat([]byte("x"), (1<<20)+10)
	if rr := env.do(multipartUpload(t, "big.xlsx", big)); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if rr := env.get("/uploads"); rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow header, got %d", rr.Code)
	}
	if files, _ := env.uploads.Files(""); len(files) != 0 {
		t.Fatalf("nothing should be stored, got %d", len(files))
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t, Options{})
	f := env.store(t, "activity.xlsx", activity)
	// warm the cache so deletion must evict it
	env.get("/ui/report?file=" + url.QueryEscape(f.Name))

	form := url.Values{"file": {f.Name}}
	req := httptest.NewRequest(http.MethodPost, "/uploads/delete", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rr := env.do(req); rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	if files, _ := env.uploads.Files(""); len(files) != 0 {
		t.Fatalf("file not deleted")
	}
	if rr := env.get("/api/charts?file=" + url.QueryEscape(f.Name)); rr.Code != http.StatusNotFound {
		t.Fatalf("deleted file must not be served from cache, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/uploads/delete", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rr := env.do(req); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a second delete, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/uploads/delete", strings.NewReader("file=../etc/passwd.xlsx"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rr := env.do(req); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal, got %d", rr.Code)
	}
}

func TestImport(t *testing.T) {
	env := newTestEnv(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/uploads/import", nil)
	if rr := env.do(req); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when import is disabled, got %d", rr.Code)
	}

	remote := memory.New()
	env = newTestEnv(t, Options{}, services.WithRemote(remote, xlsx.New("Sheet1"), "crm.xlsx"))
	if rr := env.do(httptest.NewRequest(http.MethodPost, "/uploads/import", nil)); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for an empty remote, got %d", rr.Code)
	}

	remote.SetRemote(activity)
	if rr := env.do(httptest.NewRequest(http.MethodPost, "/uploads/import", nil)); rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	files, _ := env.uploads.Files("")
	if len(files) != 1 || files[0].OriginalName != "crm.xlsx" {
		t.Fatalf("unexpected files %+v", files)
	}
	if !strings.Contains(env.get("/").Body.String(), "Import Google Sheet") {
		t.Fatalf("import button should be shown")
	}
}

func TestWriteRoutesAreRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/uploads/import", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if rr := env.do(req); rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("request %d: expected 503, got %d", i, rr.Code)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/uploads/import", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rr := env.do(req)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}

	// reads are never limited
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if rr := env.do(req); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, Options{})
	f := env.store(t, "activity.xlsx", activity)
	env.get("/ui/report?file=" + url.QueryEscape(f.Name))
	env.get("/ui/report?file=" + url.QueryEscape(f.Name))

	rr := env.get("/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"reports_total 2", "cache_hits_total 1", "http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, Options{})
	rr := env.get("/static/app.js")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "max-age=3600") {
		t.Fatalf("unexpected cache header %q", rr.Header().Get("Cache-Control"))
	}
}
