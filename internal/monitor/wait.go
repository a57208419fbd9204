package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/aiqojo/sf-ml-test/internal/logger"
	"github.com/aiqojo/sf-ml-test/internal/mljob"
)

// statusLineWidth pads status lines so a shorter line fully overwrites a longer one.
const statusLineWidth = 120

// WaitForJob polls job until it reaches a terminal status or timeout elapses.
// It returns the last observed status, whether the wait timed out and the log
// file that was kept current while polling. A timeout is not an error and
// leaves the remote job running. Errors reading the status are returned.
func (m *Monitor) WaitForJob(ctx context.Context, job mljob.Job, timeout time.Duration) (mljob.Status, bool, string, error) {
	ctx = logger.WithJobID(ctx, job.ID())
	log := logger.FromContext(ctx, m.logger)

	logFile, err := m.NewLogFile(job.ID())
	if err != nil {
		return mljob.StatusUnknown, false, "", fmt.Errorf("failed to create logs directory: %w", err)
	}

	fmt.Fprintf(m.out, "Waiting for job %s to complete (timeout %s, polling every %s)...\n", job.ID(), timeout, m.pollInterval)

	var (
		status  = mljob.StatusUnknown
		start   = m.now()
		polls   int
		lastErr string
		logSize int
	)

	refresh := rate.Sometimes{Interval: m.logRefresh}
	if m.logRefresh <= 0 {
		refresh = rate.Sometimes{Every: 1}
	}

	err = wait.PollUntilContextTimeout(ctx, m.pollInterval, timeout, true, func(context.Context) (bool, error) {
		// Status reads use the caller's context so the wait deadline never
		// cancels a query halfway.
		st, err := job.Status(ctx)
		if err != nil {
			return false, err
		}
		status = st
		polls++
		m.metrics.RecordPoll(ctx, "job", string(st))
		log.Debug("polled job status", "status", st, "poll", polls)

		refresh.Do(func() { logSize = m.saveLogs(ctx, job, logFile, &lastErr) })
		m.printStatusLine(m.now().Sub(start), st, logFile, logSize)

		return st.Terminal(), nil
	})
	elapsed := m.now().Sub(start)

	switch {
	case err == nil:
		m.endStatusLine()
		fmt.Fprintf(m.out, "Final status: %s (completed in %ds)\n", ColorStatus(status), int(elapsed.Seconds()))
		m.saveLogs(ctx, job, logFile, &lastErr)
		m.metrics.RecordOutcome(ctx, string(status), false, elapsed)
		log.Info("job finished", "status", status, "polls", polls, "elapsed", elapsed)
		return status, false, logFile, nil

	case wait.Interrupted(err) && ctx.Err() == nil:
		m.endStatusLine()
		fmt.Fprintf(m.out, "%s Overall timeout (%s) reached\n", yellow("⚠"), timeout)
		st, err := job.Status(ctx)
		if err != nil {
			return status, true, logFile, err
		}
		status = st
		fmt.Fprintf(m.out, "Current status: %s\n", ColorStatus(status))
		m.saveLogs(ctx, job, logFile, &lastErr)
		m.metrics.RecordOutcome(ctx, string(status), true, elapsed)
		log.Info("stopped waiting for job", "status", status, "timeout", timeout)
		return status, true, logFile, nil

	case ctx.Err() != nil:
		m.endStatusLine()
		return status, false, logFile, fmt.Errorf("waiting for job %s: %w", job.ID(), ctx.Err())

	default:
		m.endStatusLine()
		return status, false, logFile, err
	}
}

// saveLogs overwrites logFile with the job's current logs and returns their
// size. Failures are reported once per distinct message; "not yet available"
// style failures are expected early on and stay quiet.
func (m *Monitor) saveLogs(ctx context.Context, job mljob.Job, logFile string, lastErr *string) int {
	logs, err := job.Logs(ctx)
	if err != nil {
		msg := err.Error()
		if msg != *lastErr {
			*lastErr = msg
			lower := strings.ToLower(msg)
			if !strings.Contains(lower, "not found") && !strings.Contains(lower, "not available") {
				m.endStatusLine()
				fmt.Fprintf(m.out, "%s Could not download logs during polling: %v\n", yellow("⚠"), err)
			}
		}
		return 0
	}
	if logs == "" {
		return 0
	}
	if err := afero.WriteFile(m.fs, logFile, []byte(logs), 0o644); err != nil {
		m.logger.Warn("failed to write log file", "path", logFile, "error", err)
		return 0
	}
	return len(logs)
}

func (m *Monitor) printStatusLine(elapsed time.Duration, status mljob.Status, logFile string, logSize int) {
	name := strings.TrimSuffix(logFileBase(logFile), ".log")
	logInfo := name + "..."
	if logSize > 0 {
		logInfo = name + ".log"
	}
	line := fmt.Sprintf("  [%ds] %s | log: %s", int(elapsed.Seconds()), ColorStatus(status), logInfo)

	if m.tty {
		fmt.Fprintf(m.out, "\r%-*s", statusLineWidth, line)
		return
	}
	fmt.Fprintln(m.out, line)
}

// endStatusLine moves past an in-place status line.
func (m *Monitor) endStatusLine() {
	if m.tty {
		fmt.Fprintln(m.out)
	}
}

// logFileBase strips the directory and the timestamp prefix, leaving <job id>.log.
func logFileBase(logFile string) string {
	base := logFile
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	// YYYYMMDD_HHMMSS_
	if len(base) > 16 && base[8] == '_' && base[15] == '_' {
		base = base[16:]
	}
	return base
}
