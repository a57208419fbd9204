package cmd

import (
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Save and print the logs of a job",
	Long: `Download the full container log of a job into the logs directory and
print its last characters.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		job, err := a.jobs.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		logFile, err := a.monitor.NewLogFile(job.ID())
		if err != nil {
			return err
		}
		_, err = a.monitor.ShowJobLogs(ctx, job, intFlag(cmd, "tail", a.cfg.LogTailChars), logFile)
		return err
	},
}

func init() {
	logsCmd.Flags().Int("tail", 0, "trailing log characters to print (default from config)")
	rootCmd.AddCommand(logsCmd)
}
