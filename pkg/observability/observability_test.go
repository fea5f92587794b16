package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RequiredFailure(t *testing.T) {
	reg := NewRegistry("1.2.3")
	reg.Register(SessionStoreComponent("redis", func(context.Context) error { return errors.New("redis down") }))
	reg.Register(DatasetComponent(func(context.Context) DatasetState {
		return DatasetState{Loaded: true, Countries: 3, Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)}
	}))

	report := reg.Check(context.Background())

	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Equal(t, "1.2.3", report.Version)
	store := report.Components["session_store"]
	assert.Equal(t, HealthStatusUnhealthy, store.Status)
	assert.Equal(t, "redis down", store.Error)
	assert.Equal(t, "redis", store.Details["backend"])

	data := report.Components["dataset"]
	assert.Equal(t, HealthStatusHealthy, data.Status)
	assert.Equal(t, 3, data.Details["countries_count"])
	assert.Equal(t, "2020-01-01", data.Details["start"])
	assert.Equal(t, "2024-12-31", data.Details["end"])
	assert.Equal(t, []string{"session_store"}, report.Failing(true))
}

func TestRegistry_DatasetNotLoaded(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(DatasetComponent(func(context.Context) DatasetState { return DatasetState{} }))

	report := reg.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Equal(t, "dev", report.Version)
	assert.Equal(t, ErrDatasetNotLoaded.Error(), report.Components["dataset"].Error)
	assert.Equal(t, false, report.Components["dataset"].Details["data_loaded"])
}

func TestRegistry_OptionalFailureDegrades(t *testing.T) {
	reg := NewRegistry("dev")
	reg.Register(Component{
		Name: "downstream",
		Status: func(context.Context) (map[string]any, error) {
			return map[string]any{"completion_circuit": "open"}, errors.New("completion: circuit breaker is open")
		},
	})

	report := reg.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, report.Status)
	assert.Empty(t, report.Failing(true))
	assert.Equal(t, []string{"downstream"}, report.Failing(false))
}

func TestRegistry_CheckTimeout(t *testing.T) {
	reg := NewRegistry("dev")
	reg.Register(Component{
		Name:     "slow",
		Timeout:  10 * time.Millisecond,
		Required: true,
		Status: func(ctx context.Context) (map[string]any, error) {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		},
	})

	report := reg.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Components["slow"].Error)
}

func TestHandler_Routes(t *testing.T) {
	InitMetrics()
	reg := NewRegistry("1.0.0")
	reg.Register(DatasetComponent(func(context.Context) DatasetState { return DatasetState{Loaded: true, Countries: 2} }))
	reg.Register(Component{
		Name:   "downstream",
		Status: func(context.Context) (map[string]any, error) { return nil, errors.New("tripped") },
	})
	h := Handler(reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var live map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&live))
	assert.Equal(t, "alive", live["status"])
	assert.Equal(t, "1.0.0", live["version"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "a degraded downstream keeps the service ready")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report HealthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, HealthStatusDegraded, report.Status)
	assert.Equal(t, HealthStatusHealthy, report.Components["dataset"].Status)

	RecordMessage(false, "", []string{"FR"}, "chart")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sentichat_messages_total"))
}

func TestHandler_NotReady(t *testing.T) {
	reg := NewRegistry("dev")
	reg.Register(SessionStoreComponent("memory", func(context.Context) error { return errors.New("session store is closed") }))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status  string   `json:"status"`
		Failing []string `json:"failing"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, []string{"session_store"}, body.Failing)

	rec = httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordMessage(t *testing.T) {
	blockedBefore := counterValue(t, blockedTotal.WithLabelValues("data_extraction"))
	frBefore := counterValue(t, countryMentionsTotal.WithLabelValues("FR"))

	RecordMessage(true, "data_extraction", []string{"FR"}, "chart")
	assert.Equal(t, blockedBefore+1, counterValue(t, blockedTotal.WithLabelValues("data_extraction")))
	assert.Equal(t, frBefore, counterValue(t, countryMentionsTotal.WithLabelValues("FR")), "blocked messages do not count countries")

	RecordMessage(false, "", []string{"FR"}, "text")
	assert.Equal(t, frBefore+1, counterValue(t, countryMentionsTotal.WithLabelValues("FR")))
}
