// Package db provides the Postgres connection, schema migration, and the
// credential/score persistence helpers.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/scorewatch/scorewatch/crypto"
)

var (
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes the blob encryptor from ENCRYPTION_KEY. When the
// key is unset, credentials are stored in plaintext (encryption_version = 0).
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, credentials will be stored in plaintext", slog.String("component", "db"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("err", encryptorErr), slog.String("component", "db"))
			return
		}
		encryptor = enc
		slog.Info("credential encryption enabled (AES-256-GCM)", slog.String("component", "db"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// Connect opens a Postgres connection using the given DSN.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			key TEXT PRIMARY KEY,
			token_data TEXT NOT NULL,
			encryption_version INTEGER DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id BIGINT PRIMARY KEY,
			song_id TEXT,
			player_id TEXT,
			score BIGINT,
			accuracy DOUBLE PRECISION,
			timepost TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_player ON scores(player_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_timepost ON scores(timepost)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// TokenStore is the durable key -> credential-blob mapping shared by both
// platform auth sessions. Writes are single-row upserts, so a concurrent
// reader sees either the previous blob or the new one, never a torn value.
type TokenStore struct {
	DB *sql.DB
}

// Put stores value under key, replacing any existing row. The blob is
// encrypted when ENCRYPTION_KEY is configured.
func (s *TokenStore) Put(ctx context.Context, key, value string) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}
	encVersion := 0
	toStore := value
	if enc != nil {
		encVersion = 1
		toStore, err = crypto.EncryptString(enc, value)
		if err != nil {
			return fmt.Errorf("encrypt credential: %w", err)
		}
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO oauth_tokens (key, token_data, encryption_version, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET token_data=EXCLUDED.token_data, encryption_version=EXCLUDED.encryption_version, updated_at=NOW()`,
		key, toStore, encVersion)
	return err
}

// Get returns the blob stored under key; ok is false when no row exists.
// Plaintext rows (version 0) are readable even when encryption is enabled,
// so enabling ENCRYPTION_KEY on an existing deployment doesn't lock out
// previously stored credentials.
func (s *TokenStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	var encVersion int
	row := s.DB.QueryRowContext(ctx, `SELECT token_data, COALESCE(encryption_version, 0) FROM oauth_tokens WHERE key=$1`, key)
	if err := row.Scan(&value, &encVersion); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	if encVersion == 1 {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return "", false, fmt.Errorf("get encryptor: %w", encErr)
		}
		if enc == nil {
			return "", false, fmt.Errorf("credential for %s is encrypted but ENCRYPTION_KEY not configured", key)
		}
		value, err = crypto.DecryptString(enc, value)
		if err != nil {
			return "", false, fmt.Errorf("decrypt credential: %w", err)
		}
	}
	return value, true, nil
}

// UpdatedAt reports the last write time for a key, for the status endpoint.
func (s *TokenStore) UpdatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	var at time.Time
	row := s.DB.QueryRowContext(ctx, `SELECT updated_at FROM oauth_tokens WHERE key=$1`, key)
	if err := row.Scan(&at); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return at, true, nil
}

// InsertScore archives a dispatched score. Duplicate deliveries of the same
// score id are ignored.
func InsertScore(ctx context.Context, dbx *sql.DB, id int64, songID, playerID string, score int64, accuracy float64, timepost time.Time) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO scores (id, song_id, player_id, score, accuracy, timepost)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		id, songID, playerID, score, accuracy, timepost)
	return err
}

// SetKV upserts a small status value (feed state, heartbeats).
func SetKV(ctx context.Context, dbx *sql.DB, key, value string) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// GetKV returns a status value or empty string when absent.
func GetKV(ctx context.Context, dbx *sql.DB, key string) (string, error) {
	var v string
	err := dbx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}
