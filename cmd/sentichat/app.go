package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aixgo-dev/sentichat/internal/llm/provider"
	"github.com/aixgo-dev/sentichat/internal/orchestration"
	"github.com/aixgo-dev/sentichat/pkg/activity"
	"github.com/aixgo-dev/sentichat/pkg/config"
	"github.com/aixgo-dev/sentichat/pkg/dataset"
	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/aixgo-dev/sentichat/pkg/intent"
	"github.com/aixgo-dev/sentichat/pkg/observability"
	"github.com/aixgo-dev/sentichat/pkg/session"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// app holds the components shared by serve and chat.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	data      *dataset.CSVStore
	sessions  session.Store
	limiter   *guardrail.Limiter
	tracker   *activity.Tracker
	responder *orchestration.Responder
	orch      *orchestration.Orchestrator
}

// loadConfig reads .env files and the YAML config, then applies the log
// settings to logger.
func loadConfig(path string, logger *logrus.Logger) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Log.ConfigureLogger(logger); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}
	return cfg, nil
}

// newApp wires the pipeline from cfg. Activity is exported as metrics only
// when metrics is set.
func newApp(cfg *config.Config, logger *logrus.Logger, metrics bool) (*app, error) {
	extraRules, err := cfg.Guardrail.Rules()
	if err != nil {
		return nil, err
	}

	data, err := dataset.NewCSVStore(cfg.Data.CSVPath, dataset.WithLogger(logger.WithField("component", "dataset")))
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	sessions, err := session.NewStore(cfg.Session, session.WithLogger(logger.WithField("component", "session")))
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	limiter := guardrail.NewLimiter(cfg.Guardrail.RateLimitRequests, cfg.Guardrail.RateLimitWindow)
	guard := guardrail.NewEngine(
		guardrail.WithLimiter(limiter),
		guardrail.WithContentRules(cfg.Guardrail.Enabled),
		guardrail.WithLogger(logger.WithField("component", "guardrail")),
	)
	for _, r := range extraRules {
		guard.AddRule(r)
	}

	trackerOpts := []activity.Option{
		activity.WithMaxRecords(cfg.Activity.MaxRecords),
		activity.WithLogger(logger.WithField("component", "activity")),
	}
	if !metrics {
		trackerOpts = append(trackerOpts, activity.WithObserver(nil))
	}
	tracker := activity.NewTracker(trackerOpts...)

	responderOpts := []orchestration.ResponderOption{
		orchestration.WithCallTimeout(cfg.Downstream.Timeout),
		orchestration.WithHistoryTurns(cfg.Downstream.HistoryTurns),
		orchestration.WithBreaker(cfg.Downstream.BreakerFailures, cfg.Downstream.BreakerCooldown),
		orchestration.WithResponderLogger(logger.WithField("component", "responder")),
	}
	if cfg.LLM.Enabled() {
		llm, err := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
		if err != nil {
			_ = sessions.Close()
			return nil, fmt.Errorf("create completion provider: %w", err)
		}
		responderOpts = append(responderOpts, orchestration.WithCompletion(provider.NewInstrumented(llm)))
	} else {
		logger.Warn("no LLM API key configured, answers are built from the data only")
	}

	responder := orchestration.NewResponder(data, responderOpts...)
	orch := orchestration.New(sessions, guard,
		intent.NewExtractor(intent.WithDatasetSpan(data.Span)),
		orchestration.WithAnswerer(responder),
		orchestration.WithActivity(tracker),
		orchestration.WithDatasetSpan(data.Span),
		orchestration.WithLogger(logger.WithField("component", "orchestrator")),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		data:      data,
		sessions:  sessions,
		limiter:   limiter,
		tracker:   tracker,
		responder: responder,
		orch:      orch,
	}, nil
}

// healthRegistry registers the dataset, the session store and the
// downstream circuit breakers.
func (a *app) healthRegistry(version string) *observability.Registry {
	reg := observability.NewRegistry(version)
	reg.Register(observability.DatasetComponent(func(ctx context.Context) observability.DatasetState {
		h := a.data.Health(ctx)
		return observability.DatasetState{Loaded: h.Loaded, Countries: h.CountryCount, Start: h.Start, End: h.End}
	}))
	reg.Register(observability.SessionStoreComponent(a.cfg.Session.Store, a.sessions.Ping))
	reg.Register(observability.Component{
		Name:    "downstream",
		Timeout: time.Second,
		Status:  a.responder.Status,
	})
	return reg
}

// newJanitor schedules session eviction. Rate limiter pruning and periodic
// reports run on their own schedules in the same cron.
func (a *app) newJanitor() (*session.Janitor, *cron.Cron, error) {
	janitor, err := session.NewJanitor(a.sessions, a.cfg.Session.EvictSchedule, session.WithLogger(a.logger.WithField("component", "janitor")))
	if err != nil {
		return nil, nil, err
	}
	janitor.Register("sessions", func(ctx context.Context, now time.Time) (int, error) {
		n, err := a.sessions.EvictExpired(ctx, now)
		observability.RecordSessionsEvicted(n)
		return n, err
	})

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if err := a.schedule(c, a.cfg.Guardrail.PruneSchedule, "rate_limits", func(_ context.Context, now time.Time) (int, error) {
		return a.limiter.Prune(now), nil
	}); err != nil {
		return nil, nil, err
	}
	if a.cfg.Activity.ReportsEnabled() {
		if err := a.schedule(c, a.cfg.Activity.ReportSchedule, "activity_report", activity.ReportSweep(a.tracker, a.cfg.Activity.ReportDir)); err != nil {
			return nil, nil, err
		}
	}
	return janitor, c, nil
}

func (a *app) schedule(c *cron.Cron, spec, name string, sweep session.Sweep) error {
	if spec == "" {
		return nil
	}
	log := a.logger.WithField("sweep", name)
	_, err := c.AddFunc(spec, func() {
		n, err := sweep(context.Background(), time.Now())
		if err != nil {
			log.WithError(err).Warn("sweep failed")
			return
		}
		if n > 0 {
			log.WithField("count", n).Debug("sweep finished")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return nil
}

func (a *app) Close() error {
	return a.sessions.Close()
}
