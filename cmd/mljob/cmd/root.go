package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/config"
	"github.com/aiqojo/sf-ml-test/internal/mljob"
	"github.com/aiqojo/sf-ml-test/pkg/api"
)

var cfgFile string

// version is set at build time with -ldflags "-X github.com/aiqojo/sf-ml-test/cmd/mljob/cmd.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mljob",
	Short: "mljob submits and monitors Snowflake ML jobs",
	Long: `mljob is a command line helper for running Python code on Snowflake
compute pools as ML jobs.

It connects with the credentials of a connection in a Snowflake config file,
makes sure the compute pool and stage are usable, uploads a directory of code,
starts it as a job service and follows it to completion.

Common workflows:

  Submit a directory and wait for it:
    mljob submit ./jobs/weather main.py -- --days 7

  Check on a job:
    mljob status MLJOB_0123456789ABCDEF0123456789ABCDEF
    mljob logs MLJOB_0123456789ABCDEF0123456789ABCDEF

  Resume the compute pool and create the stage:
    mljob setup

  Explain why a job could not be created:
    mljob diagnose MLJOB_0123456789ABCDEF0123456789ABCDEF

Configuration:
  Settings are read from flags, MLJOB_* environment variables and
  $HOME/.mljob.yaml, in that order of precedence. For example:
    MLJOB_COMPUTE_POOL     Compute pool jobs run on (default: ML_SANDBOX_TEST)
    MLJOB_STAGE            Stage code and results go to
    MLJOB_CONNECTION_FILE  Snowflake config file (default: SNOWFLAKE_CONFIG_FILE,
                           then .snowflake/config.toml in the repository or home)`,
	Version:      version,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context, which stops local waiting; remote jobs keep running.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx)
}

func execute(ctx context.Context) error {
	c, err := rootCmd.ExecuteContextC(ctx)
	if err != nil {
		reportJSONError(c, err)
	}
	return err
}

// reportJSONError prints err on stdout as an api.ErrorResponse when the failed
// command was run with --json. A finished job that failed already printed its
// summary, so it gets nothing more.
func reportJSONError(c *cobra.Command, err error) {
	if c == nil {
		return
	}
	if jsonOut, _ := c.Flags().GetBool("json"); !jsonOut {
		return
	}
	var outcome *jobOutcome
	if errors.As(err, &outcome) {
		return
	}

	resp := api.ErrorResponse{Error: err.Error(), Category: apperrors.Category(err)}
	var submitErr *mljob.SubmitError
	if errors.As(err, &submitErr) {
		resp.JobID = submitErr.JobID
	}
	if err := printJSON(c, resp); err != nil {
		fmt.Fprintln(c.ErrOrStderr(), err)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".mljob"
		viper.AddConfigPath(home)
		viper.SetConfigName(".mljob")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "MLJOB_VARNAME"
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mljob.yaml)")
	flags.String("connection-file", "", "Snowflake config file with the connection table")
	flags.StringP("connection", "c", config.DefaultConnection, "connection name in the Snowflake config file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	bindPersistentFlags()
}

// bindPersistentFlags ties the persistent flags to their viper keys.
func bindPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	viper.BindPFlag("connection_file", flags.Lookup("connection-file"))
	viper.BindPFlag("connection", flags.Lookup("connection"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))
}
