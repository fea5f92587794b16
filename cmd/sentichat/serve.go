package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aixgo-dev/sentichat/internal/api"
	tracing "github.com/aixgo-dev/sentichat/internal/observability"
	"github.com/aixgo-dev/sentichat/pkg/observability"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(logger *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Runs the chat API, the metrics and health server, the session janitor
and, when enabled, the dataset file watcher. Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, logger)
		},
	}
}

func runServe(ctx context.Context, logger *logrus.Logger) error {
	cfg, err := loadConfig(configFile, logger)
	if err != nil {
		return err
	}
	logger.WithField("version", Version).Info("starting sentichat")

	if err := tracing.Setup(ctx, tracing.Settings{
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger); err != nil {
		logger.WithError(err).Warn("tracing disabled")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(sctx)
	}()

	observability.InitMetrics()

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	health := a.healthRegistry(Version)

	janitor, sweeps, err := a.newJanitor()
	if err != nil {
		return err
	}

	handler := api.New(a.orch, a.data, a.tracker,
		api.WithMaxQueryLength(cfg.Guardrail.MaxQueryLength),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithRequestTimeout(cfg.Server.RequestTimeout),
		api.WithLogger(logger.WithField("component", "api")),
	).Router()
	server := api.NewHTTPServer(cfg.Server.Addr(), handler)
	obsServer := observability.NewServer(cfg.Server.ObservabilityPort, health)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("port", cfg.Server.ObservabilityPort).Info("observability listening")
		if err := obsServer.Start(); err != nil {
			return fmt.Errorf("observability server: %w", err)
		}
		return nil
	})
	if cfg.Data.Watch {
		g.Go(func() error {
			return a.data.Watch(gctx)
		})
	}

	janitor.Start()
	sweeps.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		if err := obsServer.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
		if err := janitor.Stop(sctx); err != nil {
			errs = append(errs, fmt.Errorf("janitor stop: %w", err))
		}
		<-sweeps.Stop().Done()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("sentichat stopped")
	return nil
}
