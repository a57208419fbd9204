// Package submit runs the whole job workflow: prepare resources, submit,
// wait, report logs and results, and fetch artifacts.
package submit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aiqojo/sf-ml-test/internal/artifacts"
	"github.com/aiqojo/sf-ml-test/internal/config"
	"github.com/aiqojo/sf-ml-test/internal/logger"
	"github.com/aiqojo/sf-ml-test/internal/mljob"
	"github.com/aiqojo/sf-ml-test/internal/monitor"
	"github.com/aiqojo/sf-ml-test/internal/observability"
	"github.com/aiqojo/sf-ml-test/internal/resources"
	"github.com/aiqojo/sf-ml-test/internal/warehouse"
	"github.com/aiqojo/sf-ml-test/pkg/api"
)

// Options describes one submit-and-watch run.
type Options struct {
	Dir        string
	Entrypoint string
	Args       []string

	ComputePool string
	Stage       string

	PipRequirements            []string
	ExternalAccessIntegrations []string

	// Overall wait budget; the job keeps running when it elapses
	Timeout time.Duration
	// Trailing log characters to print; zero saves the logs without printing them
	LogTailChars int

	// Resume the pool and create the stage before submitting
	AutoSetup bool

	// Download the artifacts named by the result into ArtifactsDir
	DownloadArtifacts bool
	ArtifactKeys      []string
	ArtifactsDir      string
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	DB      warehouse.Querier
	Files   warehouse.StageFiles
	Jobs    mljob.Client
	Monitor *monitor.Monitor
	Fs      afero.Fs
	Out     io.Writer

	// Session parameters, used in failure diagnostics
	Params config.SessionParams

	PoolOptions resources.PoolOptions
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Runner executes SubmitDirectoryJob.
type Runner struct {
	db      warehouse.Querier
	files   warehouse.StageFiles
	jobs    mljob.Client
	monitor *monitor.Monitor
	fs      afero.Fs
	out     io.Writer
	params  config.SessionParams
	poolOpt resources.PoolOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Runner.
func New(d Deps) *Runner {
	r := &Runner{
		db:      d.DB,
		files:   d.Files,
		jobs:    d.Jobs,
		monitor: d.Monitor,
		fs:      d.Fs,
		out:     d.Out,
		params:  d.Params,
		poolOpt: d.PoolOptions,
		logger:  d.Logger,
		metrics: d.Metrics,
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.poolOpt.Logger == nil {
		r.poolOpt.Logger = r.logger
	}
	if r.poolOpt.Metrics == nil {
		r.poolOpt.Metrics = r.metrics
	}
	if r.monitor == nil {
		r.monitor = monitor.New(monitor.Options{Out: r.out, Fs: r.fs, Logger: r.logger, Metrics: r.metrics})
	}
	return r
}

// SubmitDirectoryJob submits opts.Dir, waits for the job, prints its logs and
// result, and downloads artifacts when asked. A FAILED job is reported in the
// summary, not as an error. Any error is diagnosed and printed before it is
// returned.
func (r *Runner) SubmitDirectoryJob(ctx context.Context, opts Options) (summary *api.SubmitSummary, err error) {
	ctx, span := observability.Tracer().Start(ctx, "mljob.SubmitDirectoryJob",
		trace.WithAttributes(
			attribute.String("mljob.compute_pool", opts.ComputePool),
			attribute.String("mljob.entrypoint", opts.Entrypoint),
		))
	defer span.End()

	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			r.monitor.DiagnoseJobFailure(ctx, err, r.db, r.jobs, r.params)
		}
	}()

	if opts.AutoSetup {
		if _, err := r.Setup(ctx, opts.ComputePool, opts.Stage); err != nil {
			return nil, err
		}
	}

	fmt.Fprintf(r.out, "Submitting %s from %s to compute pool %s...\n", opts.Entrypoint, opts.Dir, opts.ComputePool)
	job, err := r.jobs.SubmitDirectory(ctx, mljob.SubmitOptions{
		Dir:                        opts.Dir,
		Entrypoint:                 opts.Entrypoint,
		Args:                       opts.Args,
		PipRequirements:            opts.PipRequirements,
		ExternalAccessIntegrations: opts.ExternalAccessIntegrations,
		ComputePool:                opts.ComputePool,
		Stage:                      opts.Stage,
	})
	r.metrics.RecordSubmission(ctx, err)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithJobID(ctx, job.ID())
	span.SetAttributes(attribute.String("mljob.job_id", job.ID()))
	log := logger.FromContext(ctx, r.logger)
	log.Info("job submitted")
	fmt.Fprintf(r.out, "✓ Job submitted: %s\n", job.ID())

	status, timedOut, logFile, err := r.monitor.WaitForJob(ctx, job, opts.Timeout)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("mljob.status", string(status)), attribute.Bool("mljob.timed_out", timedOut))

	if saved, err := r.monitor.ShowJobLogs(ctx, job, opts.LogTailChars, logFile); err != nil {
		log.Warn("could not show job logs", "error", err)
	} else if saved != "" {
		logFile = saved
	}

	res, err := r.monitor.HandleJobResult(ctx, job, timedOut)
	if err != nil {
		return nil, err
	}

	summary = &api.SubmitSummary{
		JobID:    job.ID(),
		Status:   string(status),
		TimedOut: timedOut,
		LogFile:  logFile,
	}
	if res != nil {
		summary.Result = &api.JobResult{
			Success:   res.Success,
			Value:     res.Value,
			Error:     res.Error,
			Traceback: res.Traceback,
		}
	}

	if opts.DownloadArtifacts && status == mljob.StatusDone && res != nil {
		downloaded, err := r.downloadArtifacts(ctx, res, opts)
		if err != nil {
			return summary, err
		}
		summary.Artifacts = downloaded
	}

	return summary, nil
}

// Setup makes sure the compute pool is ready and the stage exists.
func (r *Runner) Setup(ctx context.Context, pool, stage string) (*api.SetupResponse, error) {
	ctx, span := observability.Tracer().Start(ctx, "mljob.Setup")
	defer span.End()

	fmt.Fprintf(r.out, "Checking compute pool %s...\n", pool)
	if err := resources.EnsureComputePoolReady(ctx, r.db, pool, r.poolOpt); err != nil {
		return nil, err
	}
	fmt.Fprintf(r.out, "✓ Compute pool %s is ready\n", pool)

	created, err := resources.EnsureStageExists(ctx, r.db, stage, r.logger)
	if err != nil {
		return nil, err
	}
	if created {
		fmt.Fprintf(r.out, "✓ Created stage %s\n", stage)
	} else {
		fmt.Fprintf(r.out, "✓ Stage %s exists\n", stage)
	}
	return &api.SetupResponse{ComputePool: pool, Stage: stage, StageCreated: created}, nil
}

func (r *Runner) downloadArtifacts(ctx context.Context, res *mljob.Result, opts Options) (map[string]string, error) {
	selected := artifacts.SelectArtifacts(res.Object(), opts.ArtifactKeys)
	if len(selected) == 0 {
		return nil, nil
	}

	fmt.Fprintf(r.out, "\n=== Downloading Artifacts ===\n")
	downloaded, err := artifacts.DownloadJobArtifacts(ctx, r.files, r.fs, selected, opts.ArtifactsDir)
	if err != nil {
		return downloaded, err
	}

	keys := make([]string, 0, len(downloaded))
	for k := range downloaded {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.out, "✓ %s: %s\n", k, downloaded[k])
	}
	return downloaded, nil
}
