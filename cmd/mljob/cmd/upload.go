package cmd

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aiqojo/sf-ml-test/internal/artifacts"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Save a local file to a stage",
	Long: `Upload a local file to @<stage>/<subdir>/<name>, for example input data a
job reads or a result to share. CSV files are checked to parse before they are
uploaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.close()

		subdir, _ := cmd.Flags().GetString("subdir")
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		stage := stringFlag(cmd, "stage", a.cfg.Stage)
		name := stringFlag(cmd, "name", filepath.Base(args[0]))

		f, err := appFs.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		var stagePath string
		if strings.EqualFold(filepath.Ext(args[0]), ".csv") {
			records, err := csv.NewReader(f).ReadAll()
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			stagePath, err = artifacts.SaveCSVToStage(cmd.Context(), a.conn, records, name, stage, subdir, overwrite)
			if err != nil {
				return err
			}
		} else {
			stagePath, err = artifacts.SaveToStage(cmd.Context(), a.conn, f, name, stage, subdir, overwrite)
			if err != nil {
				return err
			}
		}

		cmd.Printf("✓ Uploaded %s to %s\n", args[0], stagePath)
		return nil
	},
}

func init() {
	flags := uploadCmd.Flags()
	flags.String("stage", "", "stage to upload to (default from config)")
	flags.String("subdir", artifacts.DefaultSubdir, "stage subdirectory")
	flags.String("name", "", "file name on the stage (default: the local file name)")
	flags.Bool("overwrite", true, "replace an existing staged file")

	rootCmd.AddCommand(uploadCmd)
}
