package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatmerge/crypto"
	"github.com/onnwee/chatmerge/db"
	"github.com/onnwee/chatmerge/testutil"
)

func newKey(t *testing.T, fill string) *crypto.AESEncryptor {
	t.Helper()
	enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString([]byte(strings.Repeat(fill, 32))))
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func storedRow(t *testing.T, database *sql.DB, provider string) (string, int, string) {
	t.Helper()
	var access string
	var version int
	var keyID sql.NullString
	err := database.QueryRowContext(context.Background(),
		`SELECT access_token, encryption_version, encryption_key_id FROM platform_sessions WHERE provider=$1`, provider).
		Scan(&access, &version, &keyID)
	if err != nil {
		t.Fatalf("query %s: %v", provider, err)
	}
	return access, version, keyID.String
}

func TestMigrateTokens_DryRun(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	plain := &db.TokenStore{DB: database}
	if err := plain.UpsertOAuthToken(ctx, "test-dry", "access", "refresh", time.Now().Add(time.Hour), ""); err != nil {
		t.Fatal(err)
	}

	if err := migrateTokens(ctx, database, newKey(t, "a"), nil, true, "test-dry"); err != nil {
		t.Fatalf("migrateTokens(dry-run) error = %v", err)
	}
	access, version, _ := storedRow(t, database, "test-dry")
	if access != "access" || version != db.Plaintext {
		t.Errorf("dry-run changed the row: %q version %d", access, version)
	}
}

func TestMigrateTokens_EncryptsPlaintext(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	plain := &db.TokenStore{DB: database}
	raw := `{"channel":"somechannel"}`
	if err := plain.UpsertOAuthToken(ctx, "test-plain", "access", "refresh", time.Now().Add(time.Hour), raw); err != nil {
		t.Fatal(err)
	}
	target := newKey(t, "b")

	if err := migrateTokens(ctx, database, target, nil, false, "test-plain"); err != nil {
		t.Fatalf("migrateTokens() error = %v", err)
	}
	stored, version, keyID := storedRow(t, database, "test-plain")
	if stored == "access" || version != db.AESGCM || keyID != target.KeyID() {
		t.Errorf("row not encrypted: %q version %d key %q", stored, version, keyID)
	}
	access, refresh, _, gotRaw, err := (&db.TokenStore{DB: database, Enc: target}).GetOAuthToken(ctx, "test-plain")
	if err != nil || access != "access" || refresh != "refresh" || gotRaw != raw {
		t.Errorf("decrypted = (%q, %q, %q, %v)", access, refresh, gotRaw, err)
	}

	// A second run finds nothing to do.
	rows, err := pending(ctx, database, target, "test-plain")
	if err != nil || len(rows) != 0 {
		t.Errorf("pending after migration = %v, %v", rows, err)
	}
}

func TestMigrateTokens_RotatesKey(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	old, target := newKey(t, "c"), newKey(t, "d")
	if err := (&db.TokenStore{DB: database, Enc: old}).UpsertOAuthToken(ctx, "test-rotate", "access", "refresh", time.Time{}, ""); err != nil {
		t.Fatal(err)
	}

	if err := migrateTokens(ctx, database, target, nil, false, "test-rotate"); err == nil {
		t.Error("migrateTokens() without the old key should report an error")
	}
	if err := migrateTokens(ctx, database, target, old, false, "test-rotate"); err != nil {
		t.Fatalf("migrateTokens() error = %v", err)
	}
	_, _, keyID := storedRow(t, database, "test-rotate")
	if keyID != target.KeyID() {
		t.Errorf("key id = %q, want %q", keyID, target.KeyID())
	}
	access, _, _, _, err := (&db.TokenStore{DB: database, Enc: target}).GetOAuthToken(ctx, "test-rotate")
	if err != nil || access != "access" {
		t.Errorf("after rotation = %q, %v", access, err)
	}
}

func TestMigrateTokens_NoTokens(t *testing.T) {
	database := testutil.SetupTestDB(t)
	if err := migrateTokens(context.Background(), database, newKey(t, "e"), nil, false, "test-none"); err != nil {
		t.Errorf("migrateTokens() with no rows error = %v", err)
	}
}
