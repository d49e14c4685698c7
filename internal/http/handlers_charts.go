package http

import (
	"net/http"

	"churnboard/internal/core"
	"churnboard/internal/services"
)

type chartSeries struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

type trendDataset struct {
	Label  string `json:"label"`
	Values []int  `json:"values"`
}

type trendSeries struct {
	Dates    []string       `json:"dates"`
	Datasets []trendDataset `json:"datasets"`
}

type chartsResponse struct {
	File          string       `json:"file"`
	Records       int          `json:"records"`
	Statuses      chartSeries  `json:"status_distribution"`
	Reasons       chartSeries  `json:"churn_by_reason"`
	Locations     chartSeries  `json:"churn_by_location"`
	Trend         trendSeries  `json:"daily_trend"`
	Breakdown     chartSeries  `json:"status_breakdown"`
	NewByLocation *chartSeries `json:"new_by_location,omitempty"`
}

func seriesOf(c core.Counts) chartSeries {
	s := chartSeries{Labels: make([]string, len(c)), Values: make([]int, len(c))}
	for i, v := range c {
		s.Labels[i] = v.Key
		if v.Key == "" {
			s.Labels[i] = "(blank)"
		}
		s.Values[i] = v.Count
	}
	return s
}

func trendOf(t core.Trend) trendSeries {
	out := trendSeries{
		Dates:    make([]string, len(t.Dates)),
		Datasets: make([]trendDataset, 0, len(t.Statuses)),
	}
	for i, d := range t.Dates {
		out.Dates[i] = d.Format(dateLayout)
	}
	for _, status := range t.Statuses {
		out.Datasets = append(out.Datasets, trendDataset{Label: status, Values: t.Column(status)})
	}
	return out
}

func chartsOf(r services.Report) chartsResponse {
	resp := chartsResponse{
		File:      r.File.Name,
		Records:   r.Records,
		Statuses:  seriesOf(r.ByStatus),
		Reasons:   seriesOf(r.Churn.ByReason),
		Locations: seriesOf(r.Churn.ByLocation),
		Trend:     trendOf(r.Trend),
		Breakdown: seriesOf(r.Breakdown),
	}
	if r.ShowNewByLocation() {
		s := seriesOf(r.NewByLocation)
		resp.NewByLocation = &s
	}
	return resp
}

// handleCharts returns every chart series of the current view as JSON.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	v := ParseViewState(r.URL.Query())
	if v.File == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file parameter"})
		return
	}

	report, err := s.buildReport(r.Context(), v)
	if err != nil {
		msg, status := loadErrorMessage(v.File, err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	writeJSON(w, http.StatusOK, chartsOf(report))
}
