package http

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"churnboard/internal/core"
	applog "churnboard/internal/log"
	"churnboard/internal/services"
	"churnboard/internal/storage"
)

const (
	partialTimeout = 30 * time.Second
	historyLimit   = 50
)

type dashboardPage struct {
	View           ViewState
	Files          []storage.StoredFile
	Selected       *storage.StoredFile
	ImportEnabled  bool
	CatalogEnabled bool
	MaxUploadMB    int64
	Accept         string
	Error          string
}

// PartialURL returns path with the encoded view state, for hx-get attributes.
func (p dashboardPage) PartialURL(path string) template.URL {
	return partialURL(path, p.View)
}

func partialURL(path string, v ViewState) template.URL {
	if q := v.Encode(); q != "" {
		return template.URL(path + "?" + q)
	}
	return template.URL(path)
}

type reportPartial struct {
	View      ViewState
	Report    services.Report
	From      string
	To        string
	ChartsURL template.URL
	ResetURL  template.URL
}

type messagePartial struct {
	Kind    string // error, warning, info
	Message string
}

// handleDashboard renders the main dashboard page. The selected file
// defaults to the first one in the chosen order.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded",
			applog.FieldPath, r.URL.Path,
			"error_type", applog.ErrorTypeConfiguration)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	v := ParseViewState(r.URL.Query())
	page := dashboardPage{
		ImportEnabled:  s.uploads.ImportEnabled(),
		CatalogEnabled: s.uploads.CatalogEnabled(),
		MaxUploadMB:    s.maxUploadBytes >> 20,
		Accept:         strings.Join(s.uploads.Extensions(), ","),
	}

	files, err := s.uploads.Files(v.Sort)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to list uploads", applog.FieldError, err)
		page.Error = "Could not list uploaded files."
	}
	page.Files = files
	if f, ok := selectFile(files, v.File); ok {
		page.Selected = &f
		if f.Name != v.File {
			v = ViewState{File: f.Name, Sort: v.Sort, Status: core.All, Reason: core.All}
		}
	} else {
		v = ViewState{Sort: v.Sort, Status: core.All, Reason: core.All}
	}
	page.View = v

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "dashboard_page", page); err != nil {
		s.logger.ErrorContext(r.Context(), "Dashboard template execution failed",
			applog.FieldError, err, "template", "dashboard_page")
	}
}

// selectFile returns the requested file when it is listed, else the first.
func selectFile(files []storage.StoredFile, name string) (storage.StoredFile, bool) {
	for _, f := range files {
		if f.Name == name {
			return f, true
		}
	}
	if len(files) > 0 {
		return files[0], true
	}
	return storage.StoredFile{}, false
}

// handlePreview renders the first rows of the selected file.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	v := ParseViewState(r.URL.Query())
	if v.File == "" {
		s.renderMessage(w, r, "info", "Upload a file to get started.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), partialTimeout)
	defer cancel()

	raw, err := s.reports.Preview(ctx, v.File)
	if err != nil {
		s.renderLoadError(w, r, v.File, err)
		return
	}
	s.render(w, r, "preview_partial", struct {
		File  string
		Table core.RawTable
	}{File: v.File, Table: raw})
}

// handleReport renders totals, churn, breakdown and the filter form.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	v := ParseViewState(r.URL.Query())
	if v.File == "" {
		s.renderMessage(w, r, "info", "No file selected.")
		return
	}

	report, err := s.buildReport(r.Context(), v)
	if err != nil {
		s.renderLoadError(w, r, v.File, err)
		return
	}

	data := reportPartial{
		View:      v,
		Report:    report,
		From:      dateValue(v.From, report.MinDate),
		To:        dateValue(v.To, report.MaxDate),
		ChartsURL: partialURL("/api/charts", v),
		ResetURL:  partialURL("/", ViewState{File: v.File, Sort: v.Sort}),
	}
	s.render(w, r, "report_partial", data)
}

// dateValue is the date input value: the selection, else the data bound.
func dateValue(selected, bound core.NullDate) string {
	if selected.Valid {
		return selected.String()
	}
	if bound.Valid {
		return bound.String()
	}
	return ""
}

// handleHistory renders recent catalog entries.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	if !s.uploads.CatalogEnabled() {
		s.renderMessage(w, r, "info", "Upload history is disabled.")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), partialTimeout)
	defer cancel()

	entries, err := s.uploads.History(ctx, historyLimit)
	if err != nil {
		s.requestLog(r).LogError(ctx, "Failed to read upload history", err, applog.ComponentCatalog, applog.OpList, nil)
		s.renderMessage(w, r, "error", "Could not read upload history.")
		return
	}
	s.render(w, r, "history_partial", struct {
		Entries []storage.CatalogEntry
	}{Entries: entries})
}

func (s *Server) buildReport(ctx context.Context, v ViewState) (services.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, partialTimeout)
	defer cancel()

	start := time.Now()
	report, err := s.reports.Build(ctx, v.File, v.Predicate())
	if err != nil {
		s.appMetrics.reportsFailed.Add(1)
		return services.Report{}, err
	}
	s.appMetrics.reportsBuilt.Add(1)
	applog.NewStructuredLogger(applog.FromContext(ctx)).LogReportBuilt(ctx, v.File, report.TotalRecords, report.Records, time.Since(start).Milliseconds())
	return report, nil
}

// loadErrorMessage turns a load failure into the text shown to the user.
func loadErrorMessage(file string, err error) (string, int) {
	var missing *core.MissingColumnsError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "File not found: " + file, http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidName):
		return "Invalid file name: " + file, http.StatusBadRequest
	case errors.Is(err, core.ErrEmptyTable):
		return "The sheet in " + file + " is empty.", http.StatusUnprocessableEntity
	case errors.As(err, &missing):
		return missing.Error(), http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return "Reading " + file + " took too long.", http.StatusGatewayTimeout
	}
	return "Could not read " + file + ": " + err.Error(), http.StatusUnprocessableEntity
}

// renderLoadError shows a load failure inline. Partials answer 200 so htmx
// swaps the message in and the rest of the page keeps working.
func (s *Server) renderLoadError(w http.ResponseWriter, r *http.Request, file string, err error) {
	msg, _ := loadErrorMessage(file, err)
	s.requestLog(r).LogError(r.Context(), "Failed to load stored file", err, applog.ComponentReport, applog.OpParse,
		applog.NewFields().WithUpload(file, "", 0))
	s.renderMessage(w, r, "error", msg)
}

func (s *Server) renderMessage(w http.ResponseWriter, r *http.Request, kind, message string) {
	s.render(w, r, "message_partial", messagePartial{Kind: kind, Message: message})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	if s.templates == nil {
		InternalServerError("templates not loaded").Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution error",
			applog.FieldError, err,
			"template", name,
			applog.FieldOperation, applog.OpRender)
	}
}
