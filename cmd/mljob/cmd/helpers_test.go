package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aiqojo/sf-ml-test/internal/config"
)

const (
	testJobID   = "MLJOB_0123456789ABCDEF0123456789ABCDEF"
	testJobFQN  = "AI_ML.ML." + testJobID
	testCfgPath = "/home/tester/.snowflake/config.toml"
)

const testSessionTOML = `
[connections.ML_connection]
SNOWFLAKE_ACCOUNT = "acme-xy12345"
SNOWFLAKE_USER = "jdoe@example.com"
SNOWFLAKE_ROLE = "ML_ENGINEER"
SNOWFLAKE_WAREHOUSE = "ML_WH"
SNOWFLAKE_DATABASE = "AI_ML"
SNOWFLAKE_SCHEMA = "ML"
SF_CONNECTION_TYPE = "snowflake"
`

func init() {
	color.NoColor = true
}

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
}

// resetFlags restores every flag of c and its subcommands to its default so
// one test's flags do not leak into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// fakeConn is a sqlmock connection with an in-memory stage.
type fakeConn struct {
	*sql.DB
	files map[string]string
	// result is served for any job's result file
	result string
}

func (c *fakeConn) Put(ctx context.Context, r io.Reader, stagePath string, overwrite bool) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.files[stagePath] = string(b)
	return nil
}

func (c *fakeConn) Get(ctx context.Context, stagePath string, w io.Writer) error {
	content, ok := c.files[stagePath]
	if !ok && c.result != "" && strings.HasSuffix(stagePath, "/output/mljob_result.json") {
		content, ok = c.result, true
	}
	if !ok {
		return errors.New("file does not exist or not authorized")
	}
	_, err := io.WriteString(w, content)
	return err
}

// setupTestEnv points the CLI at an in-memory filesystem holding a session
// config file and at a sqlmock connection.
func setupTestEnv(t *testing.T) (sqlmock.Sqlmock, *fakeConn, afero.Fs) {
	t.Helper()
	resetViper()
	resetFlags(rootCmd)
	bindPersistentFlags()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, testCfgPath, []byte(testSessionTOML), 0o600); err != nil {
		t.Fatalf("failed to write session config: %v", err)
	}

	viper.Set("connection_file", testCfgPath)
	viper.Set("logs_dir", "/repo/logs")
	viper.Set("artifacts_dir", "/repo/artifacts")
	viper.Set("poll_interval", "10ms")
	viper.Set("log_refresh_interval", "0s")
	viper.Set("pool_poll_interval", "10ms")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	conn := &fakeConn{DB: db, files: map[string]string{}}

	oldConnect, oldFs := connect, appFs
	connect = func(ctx context.Context, params config.SessionParams, log *slog.Logger) (Conn, error) {
		if params.Role != "ML_ENGINEER" {
			t.Errorf("unexpected session role %q", params.Role)
		}
		return conn, nil
	}
	appFs = fs
	t.Cleanup(func() {
		connect = oldConnect
		appFs = oldFs
		db.Close()
	})

	return mock, conn, fs
}

// runCommand executes the root command with args and returns its combined output.
func runCommand(args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// runCommandSplit is runCommand with stdout and stderr kept apart.
func runCommandSplit(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// executeSplit runs args the way main does, through execute.
func executeSplit(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := execute(context.Background())
	return stdout.String(), stderr.String(), err
}

func logsRows(logs string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"SYSTEM$GET_SERVICE_LOGS"}).AddRow(logs)
}

var (
	describeQuery = `DESCRIBE SERVICE AI_ML\.ML\.MLJOB_`
	logsQuery     = regexp.QuoteMeta(`SELECT SYSTEM$GET_SERVICE_LOGS`)
)

func describeRows(status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"name", "database_name", "schema_name", "status"}).
		AddRow(testJobID, "AI_ML", "ML", status)
}
