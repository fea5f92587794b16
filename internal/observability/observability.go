// Package observability traces the message pipeline with OpenTelemetry.
// Spans go to the global provider, a no-op, until Setup installs an exporter.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/aixgo-dev/sentichat"

// Exporters accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Settings select where pipeline spans are exported.
type Settings struct {
	ServiceName string
	Exporter    string
	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint string
	Insecure bool
	// SampleRatio is the fraction of new traces kept. Spans of a sampled
	// parent are always kept.
	SampleRatio float64
}

var (
	mu       sync.RWMutex
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
)

// Setup installs a tracer provider exporting to s.Exporter. With
// ExporterNone nothing is installed and spans stay no-ops.
func Setup(ctx context.Context, s Settings, logger logrus.FieldLogger) error {
	exp, err := newExporter(ctx, s)
	if err != nil {
		return err
	}
	if exp == nil {
		logger.Debug("tracing disabled")
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(s.ServiceName)))
	if err != nil {
		return fmt.Errorf("trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	Use(tp)

	logger.WithFields(logrus.Fields{
		"exporter":     s.Exporter,
		"endpoint":     s.Endpoint,
		"sample_ratio": s.SampleRatio,
	}).Info("tracing enabled")
	return nil
}

func newExporter(ctx context.Context, s Settings) (sdktrace.SpanExporter, error) {
	switch s.Exporter {
	case ExporterNone, "":
		return nil, nil
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.Endpoint)}
		if s.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", s.Exporter)
	}
}

// Use routes pipeline spans to tp. Shutdown flushes it.
func Use(tp *sdktrace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	provider = tp
	tracer = tp.Tracer(scope)
}

// Shutdown flushes buffered spans. Without a deadline on ctx it waits at
// most five seconds.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider, tracer = nil, nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a child of the span in ctx carrying attrs.
func StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, *Span) {
	mu.RLock()
	tr := tracer
	mu.RUnlock()
	if tr == nil {
		tr = otel.Tracer(scope)
	}

	ctx, s := tr.Start(ctx, name)
	if len(attrs) > 0 {
		s.SetAttributes(toAttributes(attrs)...)
	}
	return ctx, &Span{span: s}
}

// Span is one step of a request. Pipeline states are added as events.
type Span struct {
	span trace.Span
	once sync.Once
}

// End finishes the span. Later calls do nothing.
func (s *Span) End() {
	s.once.Do(func() { s.span.End() })
}

// AddEvent marks a point in time, typically a pipeline state.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	s.span.AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

// SetAttribute adds one attribute.
func (s *Span) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

// SetError records err and marks the span failed. A nil err is ignored.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, toAttribute(k, v))
	}
	return out
}

// toAttribute maps durations to milliseconds and anything unknown to its
// printed form.
func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
