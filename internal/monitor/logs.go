package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/aiqojo/sf-ml-test/internal/mljob"
)

// ShowJobLogs saves the job's full logs to logFile (a new file in the logs
// directory when empty), then prints the line count and the last tailChars
// characters. Logs no longer than tailChars are printed whole. A failure to
// fetch the logs is reported and returned.
func (m *Monitor) ShowJobLogs(ctx context.Context, job mljob.Job, tailChars int, logFile string) (string, error) {
	fmt.Fprintf(m.out, "\n%s\n", bold("=== Job Logs ==="))

	logs, err := job.Logs(ctx)
	if err != nil {
		fmt.Fprintf(m.out, "%s Could not get logs: %v\n", red("✗"), err)
		return "", err
	}
	if logs == "" {
		fmt.Fprintln(m.out, "No logs available")
		return "", nil
	}

	if logFile == "" {
		if logFile, err = m.NewLogFile(job.ID()); err != nil {
			return "", fmt.Errorf("failed to create logs directory: %w", err)
		}
	}
	if err := afero.WriteFile(m.fs, logFile, []byte(logs), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", logFile, err)
	}

	fmt.Fprintf(m.out, "%s Logs saved to: %s\n", green("✓"), logFile)
	fmt.Fprintf(m.out, "  Total lines: %d\n", len(strings.Split(logs, "\n")))

	if tailChars > 0 {
		tail, truncated := Tail(logs, tailChars)
		if truncated {
			fmt.Fprintf(m.out, "\n%s\n", bold(fmt.Sprintf("=== Last %d characters of logs ===", tailChars)))
		} else {
			fmt.Fprintf(m.out, "\n%s\n", bold("=== Logs ==="))
		}
		fmt.Fprintln(m.out, tail)
	}
	return logFile, nil
}

// Tail returns the last n characters (runes) of s and whether anything was cut.
func Tail(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	if len(s) <= n {
		return s, false
	}
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[len(r)-n:]), true
}
