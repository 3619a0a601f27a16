package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/scorewatch/scorewatch/db"
	"github.com/scorewatch/scorewatch/testutil"
)

func TestTokenStoreUpsertIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := &db.TokenStore{DB: database}
	key := "twitch:test-upsert"

	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM oauth_tokens WHERE key=$1`, key)
	})

	if err := store.Put(ctx, key, `{"access_token":"first"}`); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := store.Put(ctx, key, `{"access_token":"second"}`); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	var n int
	if err := database.QueryRow(`SELECT COUNT(1) FROM oauth_tokens WHERE key=$1`, key).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows for key = %d, want exactly 1", n)
	}

	value, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get reported missing row after Put")
	}
	if value != `{"access_token":"second"}` {
		t.Fatalf("Get = %q, want the second write", value)
	}
}

func TestTokenStoreGetMissing(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &db.TokenStore{DB: database}

	value, ok, err := store.Get(context.Background(), "nonexistent:key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || value != "" {
		t.Fatalf("Get missing key = (%q, %v), want empty and false", value, ok)
	}
}

func TestTokenStoreUpdatedAt(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := &db.TokenStore{DB: database}
	key := "twitter:test-updated-at"

	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM oauth_tokens WHERE key=$1`, key)
	})

	if _, ok, err := store.UpdatedAt(ctx, key); err != nil || ok {
		t.Fatalf("UpdatedAt before write = ok=%v err=%v, want false, nil", ok, err)
	}
	if err := store.Put(ctx, key, `{}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	at, ok, err := store.UpdatedAt(ctx, key)
	if err != nil || !ok {
		t.Fatalf("UpdatedAt after write = ok=%v err=%v", ok, err)
	}
	if time.Since(at) > time.Minute {
		t.Fatalf("UpdatedAt = %v, want recent", at)
	}
}

func TestInsertScoreDuplicate(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	const id = int64(987654321)

	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM scores WHERE id=$1`, id)
	})

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := db.InsertScore(ctx, database, id, "song-1", "player-1", 912345, 0.727, ts); err != nil {
		t.Fatalf("InsertScore: %v", err)
	}
	// Redelivery of the same score id must not error or duplicate.
	if err := db.InsertScore(ctx, database, id, "song-1", "player-1", 912345, 0.727, ts); err != nil {
		t.Fatalf("duplicate InsertScore: %v", err)
	}

	var n int
	if err := database.QueryRow(`SELECT COUNT(1) FROM scores WHERE id=$1`, id).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("score rows = %d, want 1", n)
	}
}

func TestKVRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	key := "test_kv_key"

	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM kv WHERE key=$1`, key)
	})

	if v, err := db.GetKV(ctx, database, key); err != nil || v != "" {
		t.Fatalf("GetKV before set = (%q, %v)", v, err)
	}
	if err := db.SetKV(ctx, database, key, "one"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if err := db.SetKV(ctx, database, key, "two"); err != nil {
		t.Fatalf("SetKV overwrite: %v", err)
	}
	v, err := db.GetKV(ctx, database, key)
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if v != "two" {
		t.Fatalf("GetKV = %q, want two", v)
	}
}
