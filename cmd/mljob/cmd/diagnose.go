package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiqojo/sf-ml-test/internal/mljob"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <job-id>",
	Short: "Explain why a job failed or could not be created",
	Long: `Check the session role's CREATE SERVICE grant, look the job up and print
its status and log tail. When the job cannot be found, the job history and
container logs are queried instead. Nothing is changed.

Pass the error text you saw with --error to also get a grant hint for
permission errors.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, _ := cmd.Flags().GetString("error")

		a, err := newApp(cmd, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.close()

		cause := &mljob.SubmitError{JobID: args[0], Op: "diagnose", Err: errors.New(msg)}
		d := a.monitor.DiagnoseJobFailure(cmd.Context(), cause, a.conn, a.jobs, a.params)
		if !d.JobFound && d.History == nil {
			return fmt.Errorf("job %s not found", args[0])
		}
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().String("error", "job failed", "error message to classify")
	rootCmd.AddCommand(diagnoseCmd)
}
