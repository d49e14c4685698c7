package http

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"churnboard/internal/core"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	return stripControl(strings.TrimSpace(s))
}

// stripControl drops control characters other than tab and line breaks.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// templateFuncs are available to every dashboard template.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"usd":     core.FormatUSD,
		"nullUSD": core.FormatNullUSD,
		"date": func(d core.NullDate) string {
			if !d.Valid {
				return ""
			}
			return d.String()
		},
		"stamp": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("2006-01-02 15:04:05")
		},
		"timePtr": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format("2006-01-02 15:04:05")
		},
		"negative": func(d decimal.Decimal) bool { return d.IsNegative() },
		"label": func(s string) string {
			if s == "" {
				return "(blank)"
			}
			return s
		},
		"size": func(n int64) string {
			if n < 0 {
				return "-"
			}
			return humanize.IBytes(uint64(n))
		},
	}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
