package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiqojo/sf-ml-test/internal/mljob"
	"github.com/aiqojo/sf-ml-test/pkg/api"
)

var waitCmd = &cobra.Command{
	Use:   "wait <job-id>",
	Short: "Wait for a submitted job and report its logs and result",
	Long: `Poll an existing job until it reaches a final status or the timeout
elapses, then print its logs and result. Exits non-zero when the job failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd, progressWriter(cmd, jsonOut))
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		job, err := a.jobs.GetJob(ctx, args[0])
		if err != nil {
			return err
		}

		status, timedOut, logFile, err := a.monitor.WaitForJob(ctx, job, durationFlag(cmd, "timeout", a.cfg.Timeout))
		if err != nil {
			return err
		}
		if saved, err := a.monitor.ShowJobLogs(ctx, job, intFlag(cmd, "tail", a.cfg.LogTailChars), logFile); err == nil && saved != "" {
			logFile = saved
		}
		res, err := a.monitor.HandleJobResult(ctx, job, timedOut)
		if err != nil {
			return err
		}

		if jsonOut {
			summary := &api.SubmitSummary{JobID: job.ID(), Status: string(status), TimedOut: timedOut, LogFile: logFile}
			if res != nil {
				summary.Result = &api.JobResult{Success: res.Success, Value: res.Value, Error: res.Error, Traceback: res.Traceback}
			}
			if err := printJSON(cmd, summary); err != nil {
				return err
			}
		}
		return jobOutcomeError(job.ID(), string(status))
	},
}

// jobOutcome is the error for a job that ran and failed.
type jobOutcome struct {
	jobID  string
	status string
}

func (e *jobOutcome) Error() string {
	return fmt.Sprintf("job %s finished with status %s", e.jobID, e.status)
}

// jobOutcomeError turns a failed job into a non-zero exit.
func jobOutcomeError(jobID, status string) error {
	switch mljob.Status(status) {
	case mljob.StatusFailed, mljob.StatusInternalError:
		return &jobOutcome{jobID: jobID, status: status}
	}
	return nil
}

func init() {
	flags := waitCmd.Flags()
	flags.Duration("timeout", 0, "how long to wait (default from config)")
	flags.Int("tail", 0, "trailing log characters to print (default from config)")
	flags.Bool("json", false, "print the summary as JSON")

	rootCmd.AddCommand(waitCmd)
}
