package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"churnboard/internal/core"
	"churnboard/internal/services"
	"churnboard/internal/storage"
)

type countJSON struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type amountJSON struct {
	Status string `json:"status"`
	Amount string `json:"amount"`
}

type summaryJSON struct {
	File          string       `json:"file"`
	OriginalName  string       `json:"original_name"`
	TotalRecords  int          `json:"total_records"`
	Records       int          `json:"records"`
	FirstDate     string       `json:"first_date,omitempty"`
	LastDate      string       `json:"last_date,omitempty"`
	ByStatus      []countJSON  `json:"by_status"`
	NetMRC        *string      `json:"net_mrc"`
	MRCByStatus   []amountJSON `json:"mrc_by_status,omitempty"`
	Disconnects   int          `json:"disconnects"`
	ChurnMRC      string       `json:"churn_mrc"`
	ChurnByReason []countJSON  `json:"churn_by_reason"`
	ChurnByLoc    []countJSON  `json:"churn_by_location"`
	Breakdown     []countJSON  `json:"status_breakdown"`
	NewByLocation []countJSON  `json:"new_by_location,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
}

func countsJSON(c core.Counts) []countJSON {
	out := make([]countJSON, len(c))
	for i, v := range c {
		out[i] = countJSON{Key: v.Key, Count: v.Count}
	}
	return out
}

func toSummaryJSON(r services.Report) summaryJSON {
	s := summaryJSON{
		File:          r.File.Name,
		OriginalName:  r.File.OriginalName,
		TotalRecords:  r.TotalRecords,
		Records:       r.Records,
		FirstDate:     r.MinDate.String(),
		LastDate:      r.MaxDate.String(),
		ByStatus:      countsJSON(r.ByStatus),
		Disconnects:   r.Churn.Records,
		ChurnMRC:      r.Churn.TotalMRC.StringFixed(2),
		ChurnByReason: countsJSON(r.Churn.ByReason),
		ChurnByLoc:    countsJSON(r.Churn.ByLocation),
		Breakdown:     countsJSON(r.Breakdown),
		Warnings:      r.Warnings,
	}
	if r.Revenue != nil {
		total := r.Revenue.Total.StringFixed(2)
		s.NetMRC = &total
		for _, a := range r.Revenue.PerStatus {
			s.MRCByStatus = append(s.MRCByStatus, amountJSON{Status: a.Status, Amount: a.Amount.StringFixed(2)})
		}
	}
	if r.ShowNewByLocation() {
		s.NewByLocation = countsJSON(r.NewByLocation)
	}
	return s
}

func renderJSON(w io.Writer, r services.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toSummaryJSON(r))
}

func renderMarkdown(w io.Writer, r services.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.File.Name)
	fmt.Fprintf(&b, "Records: %d of %d\n", r.Records, r.TotalRecords)
	if r.MinDate.Valid {
		fmt.Fprintf(&b, "Submission dates: %s to %s\n", r.MinDate, r.MaxDate)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(&b, "\n> Warning: %s\n", warn)
	}

	b.WriteString("\n## Records by status\n\n")
	countTable(&b, "Status", r.ByStatus)

	if r.Revenue != nil {
		b.WriteString("\n## Adjusted MRC\n\n| Status | Adjusted MRC |\n|---|---:|\n")
		for _, a := range r.Revenue.PerStatus {
			fmt.Fprintf(&b, "| %s | %s |\n", mdCell(blankLabel(a.Status)), core.FormatUSD(a.Amount))
		}
		fmt.Fprintf(&b, "| **Total** | **%s** |\n", core.FormatUSD(r.Revenue.Total))
	}

	fmt.Fprintf(&b, "\n## Churn\n\nDisconnects: %d, churned MRC: %s\n", r.Churn.Records, core.FormatUSD(r.Churn.TotalMRC))
	b.WriteString("\n### By reason\n\n")
	countTable(&b, "Reason", r.Churn.ByReason)
	b.WriteString("\n### By location\n\n")
	countTable(&b, "Location", r.Churn.ByLocation)

	b.WriteString("\n## NEW, Convert and Previous\n\n")
	countTable(&b, "Status", r.Breakdown)

	if r.ShowNewByLocation() {
		b.WriteString("\n## New customers by location\n\n")
		countTable(&b, "Location", r.NewByLocation)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func countTable(b *strings.Builder, header string, c core.Counts) {
	if len(c) == 0 {
		b.WriteString("_none_\n")
		return
	}
	fmt.Fprintf(b, "| %s | Records |\n|---|---:|\n", header)
	for _, v := range c {
		fmt.Fprintf(b, "| %s | %d |\n", mdCell(blankLabel(v.Key)), v.Count)
	}
}

func blankLabel(s string) string {
	if s == "" {
		return "(blank)"
	}
	return s
}

// mdCell keeps a value from breaking the table layout.
func mdCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

func renderList(w io.Writer, files []storage.StoredFile) {
	if len(files) == 0 {
		fmt.Fprintln(w, "no stored uploads")
		return
	}
	for _, f := range files {
		uploaded := "-"
		if !f.UploadedAt.IsZero() {
			uploaded = f.UploadedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, uploaded, humanize.IBytes(uint64(f.Size)))
	}
}
