// Package http provides HTTP server and handler implementations.
//
// This file parses the dashboard view state from the query string. Every
// request carries the whole selection, so handlers never share UI state.

package http

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"churnboard/internal/core"
	"churnboard/internal/storage"
)

// Query parameter names of the view state.
const (
	paramFile       = "file"
	paramSort       = "sort"
	paramFrom       = "from"
	paramTo         = "to"
	paramStatus     = "status"
	paramReason     = "reason"
	paramName       = "name"
	paramLocations  = "locations"
	paramCategories = "categories"
)

const dateLayout = "2006-01-02"

// ViewState is the dashboard selection: the chosen file, the listing order
// and the filter fields. It is parsed from the query on every request and
// never modified in place.
type ViewState struct {
	File       string
	Sort       string
	From       core.NullDate
	To         core.NullDate
	Status     string
	Reason     string
	Name       string
	Locations  []string
	Categories []string
}

// ParseViewState reads a ViewState from query values. Unparseable dates are
// treated as unset and unknown sort orders fall back to newest first.
func ParseViewState(q url.Values) ViewState {
	v := ViewState{
		File:       sanitizeInput(q.Get(paramFile)),
		Sort:       storage.SortNewest,
		From:       parseDateParam(q.Get(paramFrom)),
		To:         parseDateParam(q.Get(paramTo)),
		Status:     selection(q.Get(paramStatus)),
		Reason:     selection(q.Get(paramReason)),
		Name:       sanitizeInput(q.Get(paramName)),
		Locations:  multiValue(q[paramLocations]),
		Categories: multiValue(q[paramCategories]),
	}
	if strings.EqualFold(strings.TrimSpace(q.Get(paramSort)), storage.SortOldest) {
		v.Sort = storage.SortOldest
	}
	return v
}

// ParseViewStateRequest reads the view state from the URL query, merged with
// form values for POST requests.
func ParseViewStateRequest(r *http.Request) ViewState {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			return ParseViewState(r.Form)
		}
	}
	return ParseViewState(r.URL.Query())
}

// parseDateParam accepts YYYY-MM-DD.
func parseDateParam(s string) core.NullDate {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return core.NullDate{}
	}
	return core.NewDate(t.Year(), t.Month(), t.Day())
}

// filterValue keeps surrounding whitespace: sheet values are matched exactly,
// so " Disconnect" must stay distinct from "Disconnect".
func filterValue(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return stripControl(s)
}

func selection(s string) string {
	s = filterValue(s)
	if s == "" {
		return core.All
	}
	return s
}

// multiValue drops blanks and duplicates, keeping the first occurrence.
func multiValue(values []string) []string {
	var out []string
	for _, v := range values {
		v = filterValue(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Predicate converts the filter fields into an engine predicate.
func (v ViewState) Predicate() core.Predicate {
	return core.Predicate{
		Start:      v.From,
		End:        v.To,
		Status:     v.Status,
		Reason:     v.Reason,
		Name:       v.Name,
		Locations:  slices.Clone(v.Locations),
		Categories: slices.Clone(v.Categories),
	}
}

// WithFile returns a copy of v selecting another file.
func (v ViewState) WithFile(name string) ViewState {
	v.File = name
	v.Locations = slices.Clone(v.Locations)
	v.Categories = slices.Clone(v.Categories)
	return v
}

// Values encodes v back into query values, omitting defaults.
func (v ViewState) Values() url.Values {
	q := url.Values{}
	if v.File != "" {
		q.Set(paramFile, v.File)
	}
	if v.Sort == storage.SortOldest {
		q.Set(paramSort, v.Sort)
	}
	if v.From.Valid {
		q.Set(paramFrom, v.From.String())
	}
	if v.To.Valid {
		q.Set(paramTo, v.To.String())
	}
	if v.Status != core.All && v.Status != "" {
		q.Set(paramStatus, v.Status)
	}
	if v.Reason != core.All && v.Reason != "" {
		q.Set(paramReason, v.Reason)
	}
	if v.Name != "" {
		q.Set(paramName, v.Name)
	}
	for _, l := range v.Locations {
		q.Add(paramLocations, l)
	}
	for _, c := range v.Categories {
		q.Add(paramCategories, c)
	}
	return q
}

// Encode returns the query string of v.
func (v ViewState) Encode() string {
	return v.Values().Encode()
}

// HasLocation reports whether the location multi-select includes l.
func (v ViewState) HasLocation(l string) bool { return slices.Contains(v.Locations, l) }

// HasCategory reports whether the category multi-select includes c.
func (v ViewState) HasCategory(c string) bool { return slices.Contains(v.Categories, c) }

// RequireMethod checks if the request method matches the expected method(s).
// Returns an error response builder if the method doesn't match.
func RequireMethod(r *http.Request, methods ...string) *HTMXResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}

// RequirePOST is a convenience function for POST-only handlers.
func RequirePOST(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodPost)
}

// RequireGET is a convenience function for read-only handlers.
func RequireGET(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodGet, http.MethodHead)
}
