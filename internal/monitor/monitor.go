// Package monitor watches submitted jobs: it polls their status, saves and
// prints their logs, reports their results and diagnoses failed submissions.
// It only reads remote state.
package monitor

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"

	"github.com/aiqojo/sf-ml-test/internal/mljob"
	"github.com/aiqojo/sf-ml-test/internal/observability"
)

// DefaultPollInterval is used when Options leaves PollInterval zero.
const DefaultPollInterval = 15 * time.Second

// DiagnoseLogTailChars is how much of a job's log a diagnosis keeps.
const DiagnoseLogTailChars = 4000

// Options configures a Monitor.
type Options struct {
	// Out receives the human-readable progress report. Defaults to os.Stdout.
	Out io.Writer
	// Fs is where log files are written. Defaults to the OS filesystem.
	Fs afero.Fs
	// LogsDir holds the per-job log files.
	LogsDir string
	// PollInterval is the time between status reads.
	PollInterval time.Duration
	// LogRefreshInterval limits how often logs are downloaded while polling.
	// Zero refreshes on every poll.
	LogRefreshInterval time.Duration
	// JobDatabase and JobSchema name where job services live; used in grant hints.
	JobDatabase string
	JobSchema   string

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Monitor reports on jobs. It is not safe for concurrent use.
type Monitor struct {
	out          io.Writer
	fs           afero.Fs
	logsDir      string
	pollInterval time.Duration
	logRefresh   time.Duration
	jobDatabase  string
	jobSchema    string
	tty          bool
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		out:          opts.Out,
		fs:           opts.Fs,
		logsDir:      opts.LogsDir,
		pollInterval: opts.PollInterval,
		logRefresh:   opts.LogRefreshInterval,
		jobDatabase:  opts.JobDatabase,
		jobSchema:    opts.JobSchema,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
	if m.out == nil {
		m.out = os.Stdout
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if m.logsDir == "" {
		m.logsDir = "logs"
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if f, ok := m.out.(*os.File); ok {
		m.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return m
}

// NewLogFile returns <logs dir>/<YYYYMMDD_HHMMSS>_<job id>.log, creating the
// directory. The timestamp prefix keeps files in chronological order.
func (m *Monitor) NewLogFile(jobID string) (string, error) {
	if err := m.fs.MkdirAll(m.logsDir, 0o755); err != nil {
		return "", err
	}
	name := m.now().Format("20060102_150405") + "_" + mljob.ShortID(jobID) + ".log"
	return filepath.Join(m.logsDir, name), nil
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
)

// StatusIcon returns a one-character marker for status.
func StatusIcon(status mljob.Status) string {
	switch status {
	case mljob.StatusDone:
		return green("✓")
	case mljob.StatusFailed, mljob.StatusInternalError:
		return red("✗")
	case mljob.StatusRunning, mljob.StatusPending:
		return yellow("⏳")
	default:
		return dim("◯")
	}
}

// ColorStatus renders status in its display color.
func ColorStatus(status mljob.Status) string {
	switch status {
	case mljob.StatusDone:
		return green(string(status))
	case mljob.StatusFailed, mljob.StatusInternalError:
		return red(string(status))
	case mljob.StatusRunning:
		return cyan(string(status))
	case mljob.StatusPending, mljob.StatusCancelling:
		return yellow(string(status))
	default:
		return dim(string(status))
	}
}
