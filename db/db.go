// Package db provides the Postgres connection, schema migration and the
// session token store used when DB_DSN is configured.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/chatmerge/crypto"
)

// Encryption versions stored per row.
const (
	Plaintext = 0
	AESGCM    = 1
)

// Connect opens a Postgres connection and verifies it is reachable.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DB_DSN")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	dbx.SetMaxOpenConns(4)
	dbx.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return dbx, nil
}

// Migrate applies idempotent schema changes.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS platform_sessions (
			provider TEXT PRIMARY KEY,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			raw TEXT NOT NULL DEFAULT '',
			encryption_version INTEGER NOT NULL DEFAULT 0,
			encryption_key_id TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_platform_sessions_enc ON platform_sessions(encryption_version)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// TokenStore persists platform session tokens in platform_sessions.
// With a nil Enc tokens are stored in plaintext (encryption_version 0).
type TokenStore struct {
	DB  *sql.DB
	Enc crypto.Encryptor
}

// NewTokenStore builds a store, enabling AES-GCM when key is non-empty.
func NewTokenStore(dbx *sql.DB, key string) (*TokenStore, error) {
	ts := &TokenStore{DB: dbx}
	if key == "" {
		slog.Warn("ENCRYPTION_KEY not set, session tokens will be stored in plaintext", slog.String("component", "db_encryption"))
		return ts, nil
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	ts.Enc = enc
	slog.Info("session token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"), slog.String("key_id", enc.KeyID()))
	return ts, nil
}

// UpsertOAuthToken stores or replaces the token row for provider.
func (t *TokenStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, raw string) error {
	version, keyID := Plaintext, sql.NullString{}
	if t.Enc != nil {
		var err error
		if access, err = crypto.EncryptString(t.Enc, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(t.Enc, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version, keyID = AESGCM, sql.NullString{String: t.Enc.KeyID(), Valid: true}
	}
	exp := sql.NullTime{Time: expiry, Valid: !expiry.IsZero()}
	q := `INSERT INTO platform_sessions(provider, access_token, refresh_token, expires_at, raw, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    raw=EXCLUDED.raw,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err := t.DB.ExecContext(ctx, q, provider, access, refresh, exp, raw, version, keyID)
	return err
}

// GetOAuthToken retrieves a stored token row; returns zero values if not found.
// Plaintext rows are read as-is so a store can be switched to encryption
// before cmd/migrate-tokens has run.
func (t *TokenStore) GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, raw string, err error) {
	var version int
	var exp sql.NullTime
	row := t.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, raw, encryption_version
		 FROM platform_sessions WHERE provider = $1`, provider)
	err = row.Scan(&access, &refresh, &exp, &raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	if exp.Valid {
		expiry = exp.Time
	}
	switch version {
	case Plaintext:
	case AESGCM:
		if t.Enc == nil {
			return "", "", time.Time{}, "", errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if access, err = crypto.DecryptString(t.Enc, access); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", err)
		}
		if refresh, err = crypto.DecryptString(t.Enc, refresh); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	default:
		return "", "", time.Time{}, "", fmt.Errorf("unknown encryption_version %d", version)
	}
	return access, refresh, expiry, raw, nil
}

// Ping reports whether the database is reachable.
func (t *TokenStore) Ping(ctx context.Context) error { return t.DB.PingContext(ctx) }
