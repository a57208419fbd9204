package cmd

import (
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Resume the compute pool and create the stage",
	Long: `Make sure the compute pool is ready, resuming it when it is suspended,
and create the stage when it does not exist.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd, progressWriter(cmd, jsonOut))
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.runner.Setup(cmd.Context(),
			stringFlag(cmd, "compute-pool", a.cfg.ComputePool),
			stringFlag(cmd, "stage", a.cfg.Stage))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd, resp)
		}
		return nil
	},
}

func init() {
	flags := setupCmd.Flags()
	flags.String("compute-pool", "", "compute pool to check (default from config)")
	flags.String("stage", "", "stage to create (default from config)")
	flags.Bool("json", false, "print the outcome as JSON")

	rootCmd.AddCommand(setupCmd)
}
