// Command migrate-tokens encrypts stored OAuth credentials in place. Rows
// with encryption_version=0 (plaintext) are rewritten as version=1
// (AES-256-GCM). Run it once after introducing ENCRYPTION_KEY to an existing
// deployment; the service reads both versions, so the migration can happen
// while it is running.
//
// Usage:
//
//	migrate-tokens [--dry-run]
//
// Environment:
//
//	DB_DSN          Postgres connection string (required)
//	ENCRYPTION_KEY  base64-encoded 32-byte key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/scorewatch/scorewatch/crypto"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would be migrated without writing")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("err", err))
		os.Exit(1)
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		slog.Error("failed to open database", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("err", err))
		os.Exit(1)
	}

	n, err := migrateTokens(ctx, database, enc, *dryRun)
	if err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}
	if *dryRun {
		slog.Info("dry run complete", slog.Int("would_migrate", n))
	} else {
		slog.Info("migration complete", slog.Int("migrated", n))
	}
}

// migrateTokens encrypts every plaintext credential row and returns the
// number of rows handled.
func migrateTokens(ctx context.Context, database *sql.DB, enc crypto.Encryptor, dryRun bool) (int, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT key, token_data FROM oauth_tokens WHERE encryption_version = 0`)
	if err != nil {
		return 0, fmt.Errorf("query plaintext tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type pending struct{ key, data string }
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.key, &p.data); err != nil {
			return 0, fmt.Errorf("scan token row: %w", err)
		}
		todo = append(todo, p)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range todo {
		if dryRun {
			slog.Info("would migrate", slog.String("key", p.key))
			continue
		}
		ciphertext, err := crypto.EncryptString(enc, p.data)
		if err != nil {
			return 0, fmt.Errorf("encrypt %s: %w", p.key, err)
		}
		if _, err := database.ExecContext(ctx,
			`UPDATE oauth_tokens SET token_data=$1, encryption_version=1, updated_at=NOW() WHERE key=$2 AND encryption_version=0`,
			ciphertext, p.key); err != nil {
			return 0, fmt.Errorf("update %s: %w", p.key, err)
		}
		slog.Info("migrated", slog.String("key", p.key))
	}
	return len(todo), nil
}
