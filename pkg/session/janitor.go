package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweep is a periodic maintenance task run by the Janitor.
type Sweep func(ctx context.Context, now time.Time) (int, error)

// Janitor runs session eviction, plus any other registered sweeps, on a cron
// schedule. Sweeps run one at a time and never block request handling.
type Janitor struct {
	cron     *cron.Cron
	schedule string
	now      func() time.Time
	logger   logrus.FieldLogger

	mu     sync.Mutex
	names  []string
	sweeps map[string]Sweep
}

// NewJanitor creates a janitor that evicts expired sessions from store.
func NewJanitor(store Store, schedule string, opts ...Option) (*Janitor, error) {
	o := buildOptions(opts)
	if schedule == "" {
		schedule = DefaultConfig().EvictSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	j := &Janitor{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule: schedule,
		now:      o.now,
		logger:   o.logger,
		sweeps:   make(map[string]Sweep),
	}
	j.Register("sessions", store.EvictExpired)

	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule janitor: %w", err)
	}
	return j, nil
}

// Register adds a named sweep. Registering a name twice replaces the sweep.
func (j *Janitor) Register(name string, sweep Sweep) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.sweeps[name]; !ok {
		j.names = append(j.names, name)
	}
	j.sweeps[name] = sweep
}

// RunOnce runs every sweep in registration order and returns the per-sweep
// counts. Sweep errors are logged and do not stop later sweeps.
func (j *Janitor) RunOnce(ctx context.Context) map[string]int {
	j.mu.Lock()
	names := append([]string(nil), j.names...)
	sweeps := make([]Sweep, len(names))
	for i, n := range names {
		sweeps[i] = j.sweeps[n]
	}
	j.mu.Unlock()

	now := j.now()
	counts := make(map[string]int, len(names))
	for i, sweep := range sweeps {
		n, err := sweep(ctx, now)
		if err != nil {
			j.logger.WithError(err).WithField("sweep", names[i]).Warn("janitor sweep failed")
			continue
		}
		counts[names[i]] = n
		if n > 0 {
			j.logger.WithFields(logrus.Fields{"sweep": names[i], "removed": n}).Info("janitor sweep")
		}
	}
	return counts
}

// Start begins running sweeps on the schedule.
func (j *Janitor) Start() {
	j.logger.WithField("schedule", j.schedule).Info("session janitor started")
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// expire.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
