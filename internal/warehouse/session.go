package warehouse

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"strings"

	sf "github.com/snowflakedb/gosnowflake"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/config"
)

// Application is reported to Snowflake as the client application name.
const Application = "mljob"

// Session is an open Snowflake connection plus the parameters it was built from.
type Session struct {
	db     *sql.DB
	params config.SessionParams
}

// NewSession wraps an already open database handle.
func NewSession(db *sql.DB, params config.SessionParams) *Session {
	return &Session{db: db, params: params}
}

// Open connects to Snowflake using params, verifies the connection and logs
// the server version.
func Open(ctx context.Context, params config.SessionParams, log *slog.Logger) (*Session, error) {
	dsn, err := DSN(params)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to snowflake account %s: %w", params.Account, err)
	}

	s := NewSession(db, params)
	version, err := s.Version(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info("connected to snowflake", "account", params.Account, "role", params.Role, "version", version)
	return s, nil
}

// DSN builds the driver connection string for params.
func DSN(params config.SessionParams) (string, error) {
	cfg := &sf.Config{
		Account:     params.Account,
		User:        params.User,
		Password:    params.Password,
		Role:        params.Role,
		Warehouse:   params.Warehouse,
		Database:    params.Database,
		Schema:      params.Schema,
		Token:       params.Token,
		Application: Application,
	}

	auth, err := authType(params.Authenticator)
	if err != nil {
		return "", err
	}
	cfg.Authenticator = auth

	if auth == sf.AuthTypeJwt {
		if params.PrivateKeyFile == "" {
			return "", apperrors.Validation("private_key_file", "SNOWFLAKE_PRIVATE_KEY_FILE is required for key pair authentication")
		}
		key, err := loadPrivateKey(params.PrivateKeyFile)
		if err != nil {
			return "", err
		}
		cfg.PrivateKey = key
	}

	dsn, err := sf.DSN(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to build snowflake DSN: %w", err)
	}
	return dsn, nil
}

func authType(name string) (sf.AuthType, error) {
	switch strings.ToLower(name) {
	case "", "snowflake":
		return sf.AuthTypeSnowflake, nil
	case "externalbrowser":
		return sf.AuthTypeExternalBrowser, nil
	case "snowflake_jwt", "jwt":
		return sf.AuthTypeJwt, nil
	case "oauth":
		return sf.AuthTypeOAuth, nil
	case "username_password_mfa":
		return sf.AuthTypeUsernamePasswordMFA, nil
	default:
		return 0, apperrors.Validation("authenticator", fmt.Sprintf("unsupported connection type %q", name))
	}
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apperrors.Validation("private_key_file", fmt.Sprintf("%s does not contain a PEM block", path))
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, apperrors.Validation("private_key_file", "private key is not an RSA key")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, apperrors.Validation("private_key_file", fmt.Sprintf("unsupported private key in %s (encrypted keys are not supported)", path))
	}
	return key, nil
}

// Params returns the parameters the session was opened with.
func (s *Session) Params() config.SessionParams {
	return s.params
}

// Version returns the server version reported by CURRENT_VERSION().
func (s *Session) Version(ctx context.Context) (string, error) {
	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT CURRENT_VERSION()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to read server version: %w", err)
	}
	return version, nil
}

// ExecContext implements Querier.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// QueryContext implements Querier.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext implements Querier.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Close closes the underlying connection pool.
func (s *Session) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
