package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiqojo/sf-ml-test/internal/submit"
)

var submitCmd = &cobra.Command{
	Use:   "submit <dir> <entrypoint> [-- job args...]",
	Short: "Submit a directory as an ML job and wait for it",
	Long: `Upload a directory of Python code, start the entrypoint as a job on the
compute pool and follow it until it finishes or the timeout elapses.

Files matching .mljobignore (Docker ignore syntax) and the usual virtualenv,
cache and VCS directories are not uploaded. Arguments after -- are passed to
the entrypoint. A timeout stops waiting but leaves the job running.

Example:
  mljob submit ./jobs/weather main.py -- --days 7
  mljob submit ./jobs/train train.py --pip xgboost==2.1.0 --eai PYPI_ACCESS --timeout 2h`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		jsonOut, _ := flags.GetBool("json")
		pip, _ := flags.GetStringSlice("pip")
		eai, _ := flags.GetStringSlice("eai")
		setup, _ := flags.GetBool("setup")
		download, _ := flags.GetBool("download")
		keys, _ := flags.GetStringSlice("artifact-key")

		if dash := cmd.ArgsLenAtDash(); dash >= 0 && dash != 2 {
			return fmt.Errorf("expected <dir> <entrypoint> before --, got %d arguments", dash)
		}

		a, err := newApp(cmd, progressWriter(cmd, jsonOut))
		if err != nil {
			return err
		}
		defer a.close()

		opts := submit.Options{
			Dir:                        args[0],
			Entrypoint:                 args[1],
			Args:                       args[2:],
			ComputePool:                stringFlag(cmd, "compute-pool", a.cfg.ComputePool),
			Stage:                      stringFlag(cmd, "stage", a.cfg.Stage),
			PipRequirements:            pip,
			ExternalAccessIntegrations: eai,
			Timeout:                    durationFlag(cmd, "timeout", a.cfg.Timeout),
			LogTailChars:               intFlag(cmd, "tail", a.cfg.LogTailChars),
			AutoSetup:                  setup,
			DownloadArtifacts:          download,
			ArtifactsDir:               a.cfg.ArtifactsDir,
		}
		if flags.Changed("artifact-key") {
			opts.ArtifactKeys = keys
		}

		summary, err := a.runner.SubmitDirectoryJob(cmd.Context(), opts)
		if err != nil {
			return err
		}

		if jsonOut {
			if err := printJSON(cmd, summary); err != nil {
				return err
			}
		}
		return jobOutcomeError(summary.JobID, summary.Status)
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.String("compute-pool", "", "compute pool to run on (default from config)")
	flags.String("stage", "", "stage the payload is uploaded to (default from config)")
	flags.StringSlice("pip", nil, "extra pip requirements installed before the entrypoint runs")
	flags.StringSlice("eai", nil, "external access integrations for the job")
	flags.Duration("timeout", 0, "how long to wait for the job (default from config)")
	flags.Int("tail", 0, "trailing log characters to print (default from config)")
	flags.Bool("setup", true, "resume the compute pool and create the stage first")
	flags.Bool("download", true, "download artifacts named in the job result")
	flags.StringSlice("artifact-key", nil, "result keys holding stage paths to download")
	flags.Bool("json", false, "print the submit summary as JSON")

	rootCmd.AddCommand(submitCmd)
}
