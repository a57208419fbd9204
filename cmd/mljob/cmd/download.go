package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aiqojo/sf-ml-test/internal/artifacts"
)

var downloadCmd = &cobra.Command{
	Use:   "download <stage-path> [local-path]",
	Short: "Download a file from a stage",
	Long: `Copy a staged file such as @AI_ML.ML.STAGE_ML_SANDBOX_TEST/output/plot.png
to the local machine. The local path defaults to the artifacts directory; when
it is a directory the staged file name is kept.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.close()

		local := a.cfg.ArtifactsDir
		if len(args) == 2 {
			local = args[1]
		}

		path, err := artifacts.DownloadFromStage(cmd.Context(), a.conn, appFs, args[0], local)
		if err != nil {
			return err
		}
		cmd.Printf("✓ Downloaded %s to %s\n", args[0], path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}
