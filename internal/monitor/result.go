package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aiqojo/sf-ml-test/internal/mljob"
)

// HandleJobResult reports the job's outcome. For DONE it fetches and prints
// the result; a result that cannot be read is reported and nil is returned,
// since the job itself succeeded. For FAILED it prints the
// failure along with the error recorded by the job, when there is one. Any
// other status is reported as still running or unknown.
func (m *Monitor) HandleJobResult(ctx context.Context, job mljob.Job, timedOut bool) (*mljob.Result, error) {
	status, err := job.Status(ctx)
	if err != nil {
		return nil, err
	}

	switch status {
	case mljob.StatusDone:
		fmt.Fprintf(m.out, "\n%s\n", bold("=== Job Result ==="))
		res, err := job.Result(ctx)
		if err != nil {
			fmt.Fprintf(m.out, "%s Could not get result: %v\n", red("✗"), err)
			m.logger.Warn("job result unavailable", "job_id", job.ID(), "error", err)
			return nil, nil
		}
		fmt.Fprintf(m.out, "Result: %s\n", formatValue(res.Value))
		if !res.Success {
			m.printRemoteError(res)
		}
		return res, nil

	case mljob.StatusFailed:
		fmt.Fprintf(m.out, "\n%s Job failed - check logs above for details\n", red("✗"))
		res, err := job.Result(ctx)
		if err != nil {
			m.logger.Debug("no result recorded for failed job", "job_id", job.ID(), "error", err)
			return nil, nil
		}
		m.printRemoteError(res)
		return res, nil

	default:
		fmt.Fprintf(m.out, "\n%s Job status: %s\n", yellow("⚠"), ColorStatus(status))
		if timedOut {
			fmt.Fprintln(m.out, "  Job will continue running - check Snowflake UI for final status")
		} else {
			fmt.Fprintln(m.out, "  Check Snowflake UI for final status")
		}
		return nil, nil
	}
}

func (m *Monitor) printRemoteError(res *mljob.Result) {
	if res == nil || res.Error == "" {
		return
	}
	fmt.Fprintf(m.out, "  Error: %s\n", res.Error)
	if res.Traceback != "" {
		fmt.Fprintf(m.out, "  Traceback:\n%s\n", res.Traceback)
	}
}

// formatValue pretty-prints a JSON value, falling back to the raw text.
func formatValue(v json.RawMessage) string {
	if len(v) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, v, "", "  "); err != nil {
		return string(v)
	}
	return buf.String()
}
