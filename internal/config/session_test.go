package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
)

const sessionTOML = `
[connections.ML_connection]
SNOWFLAKE_ACCOUNT = "acme-xy12345"
SNOWFLAKE_USER = "jdoe@example.com"
SNOWFLAKE_ROLE = "ML_ENGINEER"
SNOWFLAKE_WAREHOUSE = "ML_WH"
SNOWFLAKE_DATABASE = "AI_ML"
SNOWFLAKE_SCHEMA = "ML"
SF_CONNECTION_TYPE = "EXTERNALBROWSER"

[connections.partial]
SNOWFLAKE_ACCOUNT = "acme-xy12345"
SNOWFLAKE_USER = "svc"
`

func TestLoadSessionParams(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/cfg/config.toml", []byte(sessionTOML), 0o600)

	params, err := LoadSessionParams(fs, "/cfg/config.toml", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"account":       "acme-xy12345",
		"user":          "jdoe@example.com",
		"role":          "ML_ENGINEER",
		"warehouse":     "ML_WH",
		"database":      "AI_ML",
		"schema":        "ML",
		"authenticator": "externalbrowser",
	}
	if diff := cmp.Diff(want, params.Map()); diff != "" {
		t.Errorf("Map() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSessionParams_MissingKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/cfg/config.toml", []byte(sessionTOML), 0o600)

	_, err := LoadSessionParams(fs, "/cfg/config.toml", "partial")
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, key := range []string{"SNOWFLAKE_ROLE", "SNOWFLAKE_WAREHOUSE", "SF_CONNECTION_TYPE"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected error to name %s, got %v", key, err)
		}
	}
}

func TestLoadSessionParams_UnknownConnection(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/cfg/config.toml", []byte(sessionTOML), 0o600)

	_, err := LoadSessionParams(fs, "/cfg/config.toml", "nope")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestLoadSessionParams_MissingFile(t *testing.T) {
	_, err := LoadSessionParams(afero.NewMemMapFs(), "/cfg/absent.toml", "")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResolveSessionConfigPath_ExplicitAndEnv(t *testing.T) {
	fs := afero.NewMemMapFs()

	t.Setenv(SessionConfigEnv, "/from/env.toml")
	got, err := ResolveSessionConfigPath(fs, "/explicit.toml")
	if err != nil || got != "/explicit.toml" {
		t.Errorf("explicit path: got %q, %v", got, err)
	}

	got, err = ResolveSessionConfigPath(fs, "")
	if err != nil || got != "/from/env.toml" {
		t.Errorf("env path: got %q, %v", got, err)
	}
}

func TestResolveSessionConfigPath_HomeFallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	t.Setenv(SessionConfigEnv, "")
	t.Setenv("HOME", "/home/tester")

	homeCfg := filepath.Join("/home/tester", ".snowflake", "config.toml")
	_ = afero.WriteFile(fs, homeCfg, []byte(sessionTOML), 0o600)

	got, err := ResolveSessionConfigPath(fs, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != homeCfg {
		t.Errorf("expected %s, got %s", homeCfg, got)
	}
}

func TestResolveSessionConfigPath_DefaultsToRepoCandidate(t *testing.T) {
	fs := afero.NewMemMapFs()
	t.Setenv(SessionConfigEnv, "")
	t.Setenv("HOME", "/home/nobody")

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	got, err := ResolveSessionConfigPath(fs, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Nothing exists in the in-memory fs, so the root is the working directory.
	if want := filepath.Join(wd, ".snowflake", "config.toml"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
