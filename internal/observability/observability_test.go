package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	Use(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() {
		_ = Shutdown(context.Background())
	})
	return sr
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestStartSpan_Attributes(t *testing.T) {
	sr := setupRecorder(t)

	_, span := StartSpan(context.Background(), "orchestration.handle", map[string]any{
		"session.id": "abc",
		"turns":      3,
		"allowed":    true,
		"countries":  []string{"FR", "DE"},
		"latency":    250 * time.Millisecond,
		"other":      struct{ A int }{A: 1},
	})
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Name() != "orchestration.handle" {
		t.Errorf("name = %q", ended[0].Name())
	}
	attrs := attrMap(ended[0].Attributes())
	if len(attrs) != 6 {
		t.Errorf("attributes = %d, want 6", len(attrs))
	}
	if got := attrs["countries"].AsStringSlice(); len(got) != 2 || got[0] != "FR" {
		t.Errorf("countries = %v", got)
	}
	if got := attrs["latency"].AsInt64(); got != 250 {
		t.Errorf("latency = %d, want 250", got)
	}
	if got := attrs["other"].AsString(); got != "{1}" {
		t.Errorf("other = %q", got)
	}
}

func TestSpan_ChildOfContext(t *testing.T) {
	sr := setupRecorder(t)

	ctx, parent := StartSpan(context.Background(), "http.request", nil)
	_, child := StartSpan(ctx, "chart.render", nil)
	child.End()
	parent.End()

	ended := sr.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Error("render span should be a child of the request span")
	}
}

func TestSpan_StatesAndError(t *testing.T) {
	sr := setupRecorder(t)

	_, span := StartSpan(context.Background(), "orchestration.handle", nil)
	span.AddEvent("RECEIVED", nil)
	span.AddEvent("GUARDRAIL_CHECKED", map[string]any{"category": "none"})
	span.SetAttribute("session.id", "abc")
	span.SetError(nil)
	span.SetError(errors.New("store down"))
	span.End()
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("double End should record one span, got %d", len(ended))
	}
	s := ended[0]

	events := s.Events()
	// RecordError adds an "exception" event after the two states.
	if len(events) != 3 || events[0].Name != "RECEIVED" || events[1].Name != "GUARDRAIL_CHECKED" {
		t.Errorf("unexpected events: %+v", events)
	}
	if s.Status().Code != codes.Error || s.Status().Description != "store down" {
		t.Errorf("unexpected status: %+v", s.Status())
	}
	if attrMap(s.Attributes())["session.id"].AsString() != "abc" {
		t.Error("missing session.id attribute")
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		wantErr  string
		wantLog  string
	}{
		{name: "none", settings: Settings{Exporter: ExporterNone}, wantLog: "tracing disabled"},
		{name: "empty exporter", settings: Settings{}, wantLog: "tracing disabled"},
		{name: "stdout", settings: Settings{ServiceName: "sentichat", Exporter: ExporterStdout, SampleRatio: 1}, wantLog: "tracing enabled"},
		{name: "otlp", settings: Settings{ServiceName: "sentichat", Exporter: ExporterOTLP, Endpoint: "localhost:4318", Insecure: true}, wantLog: "tracing enabled"},
		{name: "unknown", settings: Settings{Exporter: "carrier-pigeon"}, wantErr: "unknown trace exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = Shutdown(ctx)
			})

			err := Setup(context.Background(), tt.settings, logger)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Setup returned error: %v", err)
			}
			if last := hook.LastEntry(); last == nil || last.Message != tt.wantLog {
				t.Errorf("expected log %q, got %+v", tt.wantLog, last)
			}

			// Spans work whether or not an exporter was installed.
			_, span := StartSpan(context.Background(), "noop", map[string]any{"k": "v"})
			span.End()
		})
	}
}

func TestShutdown_WithoutProvider(t *testing.T) {
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown returned error: %v", err)
	}
}
