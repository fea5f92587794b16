package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DefaultCheckTimeout bounds a component registered without its own timeout.
const DefaultCheckTimeout = 5 * time.Second

// ErrDatasetNotLoaded is reported by the dataset component until a CSV has
// been parsed.
var ErrDatasetNotLoaded = errors.New("dataset not loaded")

// StatusFunc inspects one component of the pipeline. Details are reported whether
// or not err is set.
type StatusFunc func(ctx context.Context) (details map[string]any, err error)

// Component is a dependency the chat pipeline needs to answer.
type Component struct {
	Name    string
	Status  StatusFunc
	Timeout time.Duration
	// Required components take the service out of rotation when they fail.
	// The others only mark it degraded.
	Required bool
}

// ComponentHealth is the outcome of one component check.
type ComponentHealth struct {
	Status  HealthStatus   `json:"status"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency string         `json:"latency"`
}

// HealthReport is the body of /health.
type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
}

// Failing lists the components that did not report healthy, sorted.
func (r HealthReport) Failing(requiredOnly bool) []string {
	var names []string
	for name, c := range r.Components {
		if c.Status == HealthStatusUnhealthy || (!requiredOnly && c.Status == HealthStatusDegraded) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Registry holds the components behind the health endpoints.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	version    string
	started    time.Time
}

// NewRegistry creates an empty registry reporting version.
func NewRegistry(version string) *Registry {
	if version == "" {
		version = "dev"
	}
	return &Registry{
		components: make(map[string]Component),
		version:    version,
		started:    time.Now(),
	}
}

// Register adds or replaces a component by name.
func (r *Registry) Register(c Component) {
	if c.Timeout <= 0 {
		c.Timeout = DefaultCheckTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[c.Name] = c
}

// Check inspects every component concurrently. A failed required component
// makes the report unhealthy; any other failure makes it degraded.
func (r *Registry) Check(ctx context.Context) HealthReport {
	r.mu.RLock()
	components := make([]Component, 0, len(r.components))
	for _, c := range r.components {
		components = append(components, c)
	}
	r.mu.RUnlock()

	results := make([]ComponentHealth, len(components))
	var g errgroup.Group
	for i, c := range components {
		g.Go(func() error {
			results[i] = inspect(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{
		Status:     HealthStatusHealthy,
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth, len(components)),
	}
	for i, c := range components {
		res := results[i]
		report.Components[c.Name] = res
		switch res.Status {
		case HealthStatusUnhealthy:
			report.Status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if report.Status == HealthStatusHealthy {
				report.Status = HealthStatusDegraded
			}
		}
	}
	return report
}

// inspect runs c under its timeout. A component that answers after its deadline
// counts as failed even when it reports no error.
func inspect(ctx context.Context, c Component) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	details, err := c.Status(ctx)
	if err == nil {
		err = ctx.Err()
	}

	out := ComponentHealth{
		Status:  HealthStatusHealthy,
		Details: details,
		Latency: time.Since(start).String(),
	}
	if err != nil {
		out.Error = err.Error()
		out.Status = HealthStatusDegraded
		if c.Required {
			out.Status = HealthStatusUnhealthy
		}
	}
	return out
}

// HealthHandler serves the full report. Only an unhealthy report is a 503.
func (r *Registry) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		report := r.Check(req.Context())
		code := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

// ReadinessHandler reports ready while every required component passes. A
// tripped completion provider leaves the service ready: answers fall back to
// the aggregates.
func (r *Registry) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		failing := r.Check(req.Context()).Failing(true)
		if len(failing) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failing": failing})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

// LivenessHandler answers as long as the process serves HTTP.
func (r *Registry) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive", "version": r.version})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// DatasetState is the load state of the sentiment dataset.
type DatasetState struct {
	Loaded    bool
	Countries int
	Start     time.Time
	End       time.Time
}

// DatasetComponent reports the dataset's country count and span. Nothing can
// be answered without data, so it is required.
func DatasetComponent(state func(context.Context) DatasetState) Component {
	return Component{
		Name:     "dataset",
		Timeout:  2 * time.Second,
		Required: true,
		Status: func(ctx context.Context) (map[string]any, error) {
			s := state(ctx)
			if !s.Loaded {
				return map[string]any{"data_loaded": false}, ErrDatasetNotLoaded
			}
			return map[string]any{
				"data_loaded":     true,
				"countries_count": s.Countries,
				"start":           s.Start.Format(time.DateOnly),
				"end":             s.End.Format(time.DateOnly),
			}, nil
		},
	}
}

// SessionStoreComponent pings the session backend. Follow-up questions
// depend on session continuity, so it is required.
func SessionStoreComponent(backend string, ping func(context.Context) error) Component {
	return Component{
		Name:     "session_store",
		Required: true,
		Status: func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"backend": backend}, ping(ctx)
		},
	}
}
