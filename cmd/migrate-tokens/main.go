// Package main re-encrypts stored platform session tokens.
//
// Plaintext rows (encryption_version=0) are encrypted with ENCRYPTION_KEY.
// When OLD_ENCRYPTION_KEY is set, rows sealed with that key are re-sealed
// with ENCRYPTION_KEY, rotating the key in place.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider youtube|twitch]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte target key (required)
//	OLD_ENCRYPTION_KEY: Base64-encoded key being rotated out (optional)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatmerge/crypto"
	"github.com/onnwee/chatmerge/db"
)

type tokenRow struct {
	Provider          string
	EncryptionVersion int
	EncryptionKeyID   sql.NullString
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	provider := flag.String("provider", "", "Migrate one provider only (default: all)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	_ = godotenv.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	target, err := crypto.NewAESEncryptor(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		slog.Error("ENCRYPTION_KEY invalid", slog.Any("err", err))
		os.Exit(1)
	}
	var old crypto.Encryptor
	if k := os.Getenv("OLD_ENCRYPTION_KEY"); k != "" {
		oldEnc, err := crypto.NewAESEncryptor(k)
		if err != nil {
			slog.Error("OLD_ENCRYPTION_KEY invalid", slog.Any("err", err))
			os.Exit(1)
		}
		old = oldEnc
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()

	if err := migrateTokens(ctx, database, target, old, *dryRun, *provider); err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := reportStatus(ctx, database); err != nil {
		slog.Warn("status report failed", slog.Any("err", err))
	}
	slog.Info("migration completed successfully")
}

// pending lists rows that are plaintext or sealed with a key other than target.
func pending(ctx context.Context, database *sql.DB, target crypto.Encryptor, providerFilter string) ([]tokenRow, error) {
	query := `SELECT provider, encryption_version, encryption_key_id FROM platform_sessions
		WHERE (encryption_version = 0 OR encryption_key_id IS DISTINCT FROM $1)`
	args := []interface{}{target.KeyID()}
	if providerFilter != "" {
		query += " AND provider = $2"
		args = append(args, providerFilter)
	}
	query += " ORDER BY provider"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()
	var out []tokenRow
	for rows.Next() {
		var r tokenRow
		if err := rows.Scan(&r.Provider, &r.EncryptionVersion, &r.EncryptionKeyID); err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func migrateTokens(ctx context.Context, database *sql.DB, target, old crypto.Encryptor, dryRun bool, providerFilter string) error {
	rows, err := pending(ctx, database, target, providerFilter)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		slog.Info("no tokens need migration")
		return nil
	}
	slog.Info("found tokens to migrate", slog.Int("count", len(rows)), slog.Bool("dry_run", dryRun))

	dst := &db.TokenStore{DB: database, Enc: target}
	migrated, failed := 0, 0
	for i, r := range rows {
		logger := slog.With(slog.String("provider", r.Provider), slog.Int("index", i+1), slog.Int("total", len(rows)))
		src := &db.TokenStore{DB: database}
		if r.EncryptionVersion == db.AESGCM {
			if old == nil || r.EncryptionKeyID.String != old.KeyID() {
				logger.Warn("token sealed with an unknown key, skipping", slog.String("key_id", r.EncryptionKeyID.String))
				failed++
				continue
			}
			src.Enc = old
		}
		if dryRun {
			logger.Info("would migrate token (dry-run)")
			migrated++
			continue
		}
		if err := migrateToken(ctx, r.Provider, src, dst); err != nil {
			logger.Error("failed to migrate token", slog.Any("err", err))
			failed++
			continue
		}
		logger.Info("migrated token successfully")
		migrated++
	}

	slog.Info("migration summary",
		slog.Int("total", len(rows)),
		slog.Int("migrated", migrated),
		slog.Int("errors", failed),
		slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return fmt.Errorf("migration completed with %d errors", failed)
	}
	return nil
}

func migrateToken(ctx context.Context, provider string, src, dst *db.TokenStore) error {
	access, refresh, expiry, raw, err := src.GetOAuthToken(ctx, provider)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if err := dst.UpsertOAuthToken(ctx, provider, access, refresh, expiry, raw); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// reportStatus logs how many rows exist per encryption version.
func reportStatus(ctx context.Context, database *sql.DB) error {
	rows, err := database.QueryContext(ctx,
		`SELECT encryption_version, COUNT(*) FROM platform_sessions GROUP BY encryption_version ORDER BY encryption_version`)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return fmt.Errorf("scan status row: %w", err)
		}
		desc := "plaintext"
		if version == db.AESGCM {
			desc = "encrypted (AES-256-GCM)"
		}
		slog.Info("token encryption status", slog.Int("encryption_version", version), slog.String("description", desc), slog.Int("count", count))
	}
	return rows.Err()
}
