package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aiqojo/sf-ml-test/internal/monitor"
	"github.com/aiqojo/sf-ml-test/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get the status of a job",
	Long: `Print the current status of a job (PENDING, RUNNING, DONE, FAILED, ...).
The id may be a bare MLJOB_ name or qualified as database.schema.name.`,
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
		status, err := job.Status(ctx)
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(cmd, api.JobStatusResponse{JobID: job.ID(), Status: string(status)})
		}

		cmd.Printf("%s Job Details\n", monitor.StatusIcon(status))
		cmd.Println("──────────────────────────────")
		cmd.Printf("ID:      %s\n", job.ID())
		cmd.Printf("Status:  %s\n", monitor.ColorStatus(status))
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the status as JSON")
	rootCmd.AddCommand(statusCmd)
}
