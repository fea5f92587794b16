package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"unicode/utf8"

	"github.com/aixgo-dev/sentichat/internal/llm/prompt"
	"github.com/aixgo-dev/sentichat/internal/orchestration"
	"github.com/aixgo-dev/sentichat/pkg/activity"
	"github.com/aixgo-dev/sentichat/pkg/chart"
	"github.com/aixgo-dev/sentichat/pkg/dataset"
	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/aixgo-dev/sentichat/pkg/intent"
)

// chartSessionID is recorded for chart requests made without a session.
const chartSessionID = "generate-chart"

type healthResponse struct {
	Status         string           `json:"status"`
	DataLoaded     bool             `json:"data_loaded"`
	CountriesCount int              `json:"countries_count"`
	DateRange      intent.DateRange `json:"date_range"`
}

// Health reports whether the dataset is loaded.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	h := a.data.Health(r.Context())
	resp := healthResponse{
		Status:         "healthy",
		DataLoaded:     h.Loaded,
		CountriesCount: h.CountryCount,
		DateRange:      intent.DateRange{Start: h.Start, End: h.End},
	}
	if !h.Loaded {
		resp.Status = "unhealthy"
	}
	JSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response      string             `json:"response"`
	SessionID     string             `json:"session_id"`
	Blocked       bool               `json:"blocked"`
	BlockCategory guardrail.Category `json:"block_category,omitempty"`
	Intent        *intent.Intent     `json:"intent,omitempty"`
	ChartRequest  *chart.Spec        `json:"chart_request,omitempty"`
	DataQuery     *chart.DataQuery   `json:"data_query,omitempty"`
	ChartImage    string             `json:"chart_image,omitempty"`
	ChartError    string             `json:"chart_error,omitempty"`
}

// Chat runs a message through the pipeline.
func (a *API) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	text, msg := a.validateText(req.Message)
	if msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}

	res, ok := a.handle(w, r, orchestration.Request{SessionID: req.SessionID, Text: text})
	if !ok {
		return
	}

	resp := chatResponse{
		Response:      res.Message,
		SessionID:     res.SessionID,
		Blocked:       !res.Allowed,
		BlockCategory: res.BlockCategory,
		Intent:        res.Intent,
		ChartRequest:  res.ChartSpec,
		DataQuery:     res.DataQuery,
	}
	if ans := res.Answer; ans != nil {
		if ans.ChartSpec != nil {
			resp.ChartRequest = ans.ChartSpec
		}
		if len(ans.ChartImage) > 0 {
			resp.ChartImage = base64.StdEncoding.EncodeToString(ans.ChartImage)
		}
		resp.ChartError = ans.ChartError
	}
	JSON(w, http.StatusOK, resp)
}

type dataQueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type dataQueryResults struct {
	Query       string `json:"query"`
	DataSummary string `json:"data_summary"`
}

type dataQueryResponse struct {
	Results   dataQueryResults `json:"results"`
	Summary   string           `json:"summary"`
	SessionID string           `json:"session_id"`
}

// QueryData answers a question with figures only. Blocked queries get 403.
func (a *API) QueryData(w http.ResponseWriter, r *http.Request) {
	var req dataQueryRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	text, msg := a.validateText(req.Query)
	if msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}

	res, ok := a.handle(w, r, orchestration.Request{SessionID: req.SessionID, Text: text, DataOnly: true})
	if !ok {
		return
	}
	if !res.Allowed {
		Error(w, http.StatusForbidden, res.Message)
		return
	}

	resp := dataQueryResponse{
		Results:   dataQueryResults{Query: text},
		Summary:   res.Message,
		SessionID: res.SessionID,
	}
	if res.Answer != nil && res.DataQuery != nil {
		var period *intent.DateRange
		if res.DataQuery.DateRange != nil {
			p := res.DataQuery.DateRange.Resolve(a.data.Span())
			period = &p
		}
		resp.Results.DataSummary = prompt.FormatSummaries(res.Answer.Summaries, period)
	}
	JSON(w, http.StatusOK, resp)
}

type chartRequest struct {
	Countries []string         `json:"countries"`
	DateRange intent.DateRange `json:"date_range"`
	ChartType intent.ChartType `json:"chart_type"`
	Title     string           `json:"title"`
	SessionID string           `json:"session_id,omitempty"`
}

type chartResponse struct {
	Chart       chart.Spec        `json:"chart"`
	Base64Image string            `json:"base64_image,omitempty"`
	Summaries   []dataset.Summary `json:"summaries"`
}

// GenerateChart validates a chart request and renders it when a renderer is
// configured.
func (a *API) GenerateChart(w http.ResponseWriter, r *http.Request) {
	var req chartRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	spec, err := chart.Validate(chart.Spec{
		Countries: req.Countries,
		DateRange: req.DateRange,
		ChartType: req.ChartType,
		Title:     req.Title,
	}, a.data.Countries(), a.data.Span())
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	summaries, err := a.data.Query(r.Context(), spec.Countries, &spec.DateRange)
	if err != nil {
		a.logger.WithError(err).Error("chart data query failed")
		Error(w, http.StatusInternalServerError, "chart data unavailable")
		return
	}

	resp := chartResponse{Chart: spec, Summaries: summaries}
	if a.renderer != nil {
		img, err := a.renderer.Render(r.Context(), spec)
		if err != nil {
			a.logger.WithError(err).Warn("chart rendering failed")
			Error(w, http.StatusBadGateway, "chart rendering failed")
			return
		}
		resp.Base64Image = base64.StdEncoding.EncodeToString(img)
	}

	sessionID := req.SessionID
	if !guardrail.ValidSessionID(sessionID) {
		sessionID = chartSessionID
	}
	a.analytics.SafeRecord(activity.Record{SessionID: sessionID, Countries: spec.Countries, QueryKind: activity.KindChart})

	JSON(w, http.StatusOK, resp)
}

// Analytics returns the aggregate usage report.
func (a *API) Analytics(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, a.analytics.Snapshot())
}

// ExportAnalytics returns the usage report as an xlsx workbook.
func (a *API) ExportAnalytics(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := activity.WriteXLSX(&buf, a.analytics.Snapshot()); err != nil {
		a.logger.WithError(err).Error("analytics export failed")
		Error(w, http.StatusInternalServerError, "export failed")
		return
	}
	name := fmt.Sprintf("activity-%s.xlsx", a.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// validateText sanitizes a message and returns a client error message when
// it is empty or too long.
func (a *API) validateText(raw string) (string, string) {
	text := guardrail.SanitizeInput(raw)
	if text == "" {
		return "", "message is required"
	}
	if a.maxQueryLength > 0 && utf8.RuneCountInString(text) > a.maxQueryLength {
		return "", fmt.Sprintf("Query exceeds maximum length of %d characters", a.maxQueryLength)
	}
	return text, ""
}

// handle runs the pipeline and writes the error response when it fails.
func (a *API) handle(w http.ResponseWriter, r *http.Request, req orchestration.Request) (*orchestration.Result, bool) {
	req.ClientKey = clientKey(r)
	res, err := a.pipeline.Handle(r.Context(), req)
	switch {
	case err == nil:
		return res, true
	case errors.Is(err, orchestration.ErrSessionUnavailable):
		a.logger.WithError(err).Error("session store unavailable")
		Error(w, http.StatusServiceUnavailable, "session service unavailable, please retry")
	case errors.Is(err, orchestration.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		Error(w, http.StatusGatewayTimeout, "request timed out")
	default:
		a.logger.WithError(err).Error("pipeline failed")
		Error(w, http.StatusInternalServerError, "internal error")
	}
	return nil, false
}

// clientKey is the caller address used for rate limiting. RealIP has already
// replaced RemoteAddr with the forwarded address when present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
