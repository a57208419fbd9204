package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/paths"
)

// DefaultConnection is the connection table read from the session config file.
const DefaultConnection = "ML_connection"

// SessionConfigEnv overrides the session config file location.
const SessionConfigEnv = "SNOWFLAKE_CONFIG_FILE"

// SessionParams are the connection parameters read from the session config file.
type SessionParams struct {
	Account       string
	User          string
	Role          string
	Warehouse     string
	Database      string
	Schema        string
	Authenticator string

	// Optional credentials, depending on Authenticator
	Password       string
	Token          string
	PrivateKeyFile string
}

// Map returns the parameters as the key/value mapping used to build a session.
// Credentials are left out.
func (p SessionParams) Map() map[string]string {
	return map[string]string{
		"account":       p.Account,
		"user":          p.User,
		"role":          p.Role,
		"warehouse":     p.Warehouse,
		"database":      p.Database,
		"schema":        p.Schema,
		"authenticator": p.Authenticator,
	}
}

// ResolveSessionConfigPath picks the session config file. The order is the
// explicit path, $SNOWFLAKE_CONFIG_FILE, <repo root>/.snowflake/config.toml and
// ~/.snowflake/config.toml. The explicit and env paths are returned as given;
// for the last two the first existing candidate wins, else the repo-root one.
func ResolveSessionConfigPath(fs afero.Fs, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(SessionConfigEnv); env != "" {
		return env, nil
	}

	root, err := paths.RepoRoot(fs, "", nil)
	if err != nil {
		return "", fmt.Errorf("failed to locate repository root: %w", err)
	}
	candidates := []string{filepath.Join(root, ".snowflake", "config.toml")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".snowflake", "config.toml"))
	}

	for _, c := range candidates {
		if ok, _ := afero.Exists(fs, c); ok {
			return c, nil
		}
	}
	return candidates[0], nil
}

// LoadSessionParams reads the [connections.<connection>] table of the TOML file at path.
func LoadSessionParams(fs afero.Fs, path, connection string) (*SessionParams, error) {
	if connection == "" {
		connection = DefaultConnection
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read session config %s: %w", path, err)
	}

	// viper lower-cases every key
	table := "connections." + strings.ToLower(connection)
	if !v.IsSet(table) {
		return nil, apperrors.NotFound("connection", fmt.Sprintf("%q in %s", connection, path))
	}
	get := func(key string) string {
		return strings.TrimSpace(v.GetString(table + "." + strings.ToLower(key)))
	}

	params := &SessionParams{
		Account:        get("SNOWFLAKE_ACCOUNT"),
		User:           get("SNOWFLAKE_USER"),
		Role:           get("SNOWFLAKE_ROLE"),
		Warehouse:      get("SNOWFLAKE_WAREHOUSE"),
		Database:       get("SNOWFLAKE_DATABASE"),
		Schema:         get("SNOWFLAKE_SCHEMA"),
		Authenticator:  strings.ToLower(get("SF_CONNECTION_TYPE")),
		Password:       get("SNOWFLAKE_PASSWORD"),
		Token:          get("SNOWFLAKE_TOKEN"),
		PrivateKeyFile: get("SNOWFLAKE_PRIVATE_KEY_FILE"),
	}

	var missing []string
	for _, f := range []struct{ key, val string }{
		{"SNOWFLAKE_ACCOUNT", params.Account},
		{"SNOWFLAKE_USER", params.User},
		{"SNOWFLAKE_ROLE", params.Role},
		{"SNOWFLAKE_WAREHOUSE", params.Warehouse},
		{"SNOWFLAKE_DATABASE", params.Database},
		{"SNOWFLAKE_SCHEMA", params.Schema},
		{"SF_CONNECTION_TYPE", params.Authenticator},
	} {
		if f.val == "" {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.Validation("connection", fmt.Sprintf("connection %q is missing %s", connection, strings.Join(missing, ", ")))
	}

	return params, nil
}
