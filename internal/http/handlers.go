package http

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	})
}

// handleReady verifies templates, the upload directory and every optional
// dependency registered at startup.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})
	fail := func(name string, err error) {
		checks[name] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if s.templates == nil {
		fail("templates", fmt.Errorf("templates not loaded"))
	} else {
		checks["templates"] = "ok"
	}

	if files, err := s.uploads.Files(""); err != nil {
		fail("upload_dir", err)
	} else {
		checks["upload_dir"] = map[string]interface{}{"files": len(files), "status": "ok"}
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			fail(name, err)
		} else {
			checks[name] = "ok"
		}
	}

	stats := s.reports.Cache().Stats()
	checks["cache"] = map[string]interface{}{
		"entries": stats.Size,
		"status":  "ok",
	}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()
	cacheStats := s.reports.Cache().Stats()
	var rateLimitHits, activeClients int64
	if s.rateLimiter != nil {
		m := s.rateLimiter.GetMetrics()
		rateLimitHits, activeClients = m.TotalHits, m.ClientCount
	}

	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %v\n\n", name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("uploads_total", "counter", "Total number of stored uploads", s.appMetrics.uploads.Load())
	metric("uploads_deleted_total", "counter", "Total number of deleted uploads", s.appMetrics.deletions.Load())
	metric("sheet_imports_total", "counter", "Total number of Google Sheets imports", s.appMetrics.imports.Load())
	metric("reports_total", "counter", "Total number of reports built", s.appMetrics.reportsBuilt.Load())
	metric("report_errors_total", "counter", "Total number of reports that failed to build", s.appMetrics.reportsFailed.Load())
	metric("cache_hits_total", "counter", "Total dataset cache hits", cacheStats.Hits)
	metric("cache_misses_total", "counter", "Total dataset cache misses", cacheStats.Misses)
	metric("cache_entries", "gauge", "Current dataset cache entries", cacheStats.Size)
	metric("rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", activeClients)
	metric("suspicious_requests_total", "counter", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.appMetrics.uptime).Seconds()))
}
