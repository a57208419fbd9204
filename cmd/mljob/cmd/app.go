package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aiqojo/sf-ml-test/internal/config"
	"github.com/aiqojo/sf-ml-test/internal/logger"
	"github.com/aiqojo/sf-ml-test/internal/mljob"
	"github.com/aiqojo/sf-ml-test/internal/monitor"
	"github.com/aiqojo/sf-ml-test/internal/observability"
	"github.com/aiqojo/sf-ml-test/internal/resources"
	"github.com/aiqojo/sf-ml-test/internal/submit"
	"github.com/aiqojo/sf-ml-test/internal/warehouse"
)

// Conn is an open warehouse connection.
type Conn interface {
	warehouse.Querier
	warehouse.StageFiles
	Close() error
}

// connect opens the warehouse connection. Tests replace it.
var connect = func(ctx context.Context, params config.SessionParams, log *slog.Logger) (Conn, error) {
	s, err := warehouse.Open(ctx, params, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// appFs is where payloads, config files, logs and artifacts live.
var appFs afero.Fs = afero.NewOsFs()

// app bundles what the commands share for one invocation.
type app struct {
	cfg     *config.Config
	params  config.SessionParams
	conn    Conn
	jobs    *mljob.Service
	monitor *monitor.Monitor
	runner  *submit.Runner
	logger  *slog.Logger
	metrics *observability.Metrics

	closers []func(context.Context) error
}

// newApp loads the configuration and session parameters, starts the optional
// metrics endpoint and tracer, and connects. Progress output goes to out.
func newApp(cmd *cobra.Command, out io.Writer) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	log, err := logger.NewWithOptions(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	path, err := config.ResolveSessionConfigPath(appFs, cfg.ConnectionFile)
	if err != nil {
		return nil, err
	}
	params, err := config.LoadSessionParams(appFs, path, cfg.Connection)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, params: *params, logger: log}

	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			return nil, err
		}
	}
	if cfg.OTELEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, observability.TraceOptions{
			ServiceName:    "mljob",
			ServiceVersion: version,
			Endpoint:       cfg.OTELEndpoint,
			SampleRatio:    cfg.OTELSampleRatio,
			Account:        params.Account,
			Role:           params.Role,
			User:           params.User,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	if a.metrics, err = observability.NewMetrics(); err != nil {
		log.Warn("metrics disabled", "error", err)
	}

	conn, err := connect(ctx, *params, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.conn = conn
	a.closers = append(a.closers, func(context.Context) error { return conn.Close() })

	a.jobs = mljob.NewService(conn, conn, appFs, mljob.ServiceConfig{
		Database:       cfg.Database,
		Schema:         cfg.Schema,
		Stage:          cfg.Stage,
		RuntimeImage:   cfg.RuntimeImage,
		QueryWarehouse: cfg.QueryWarehouse,
	}, log)

	a.monitor = monitor.New(monitor.Options{
		Out:                out,
		Fs:                 appFs,
		LogsDir:            cfg.LogsDir,
		PollInterval:       cfg.PollInterval,
		LogRefreshInterval: cfg.LogRefreshInterval,
		JobDatabase:        cfg.Database,
		JobSchema:          cfg.Schema,
		Logger:             log,
		Metrics:            a.metrics,
	})

	a.runner = submit.New(submit.Deps{
		DB:      conn,
		Files:   conn,
		Jobs:    a.jobs,
		Monitor: a.monitor,
		Fs:      appFs,
		Out:     out,
		Params:  *params,
		PoolOptions: resources.PoolOptions{
			MaxWait:      cfg.PoolMaxWait,
			PollInterval: cfg.PoolPollInterval,
		},
		Logger:  log,
		Metrics: a.metrics,
	})

	return a, nil
}

func (a *app) serveMetrics(addr string) error {
	handler, shutdown, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

// close releases everything newApp started, most recent first.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown failed", "error", err)
		}
	}
	a.closers = nil
}

// progressWriter is where human-readable progress goes: stderr when stdout is
// reserved for JSON.
func progressWriter(cmd *cobra.Command, jsonOut bool) io.Writer {
	if jsonOut {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// stringFlag returns the flag value when it was set and fallback otherwise.
func stringFlag(cmd *cobra.Command, name, fallback string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return fallback
}

func durationFlag(cmd *cobra.Command, name string, fallback time.Duration) time.Duration {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetDuration(name)
		return v
	}
	return fallback
}

func intFlag(cmd *cobra.Command, name string, fallback int) int {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	return fallback
}
