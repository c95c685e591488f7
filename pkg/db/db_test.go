package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{DialectSQLite, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = ? AND b = ?"},
		{DialectPostgres, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = $1 AND b = $2"},
		{DialectPostgres, "SELECT '?' WHERE a = ?", "SELECT '?' WHERE a = $1"},
	}
	for _, tt := range tests {
		d := &DB{Dialect: tt.dialect}
		if got := d.Rebind(tt.in); got != tt.want {
			t.Fatalf("Rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenSQLiteAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	cfg := Config{Driver: DialectSQLite, SQLitePath: path}

	conn, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := conn.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("applied migrations = %d, want 1", count)
	}
	for _, table := range []string{"coupon_campaigns", "coupon_codes", "coupon_distributions", "coupon_redemptions", "customers", "postcard_submissions"} {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
	_ = conn.Close()

	// Reopening an existing file must not re-run migrations.
	conn, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer conn.Close()
}

func TestUniqueViolationSQLite(t *testing.T) {
	conn, err := Open(Config{Driver: DialectSQLite, SQLitePath: filepath.Join(t.TempDir(), "u.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	insert := "INSERT INTO customers (email, created_at, first_order_at, last_order_at) VALUES (?, 0, 0, 0)"
	if _, err := conn.Exec(insert, "a@example.com"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err = conn.Exec(insert, "a@example.com")
	if !conn.IsUniqueViolation(err) {
		t.Fatalf("IsUniqueViolation(%v) = false, want true", err)
	}
}

func TestMillisRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	if got := FromMillis(ToMillis(now)); !got.Equal(now) {
		t.Fatalf("FromMillis(ToMillis) = %v, want %v", got, now)
	}
	if TimePtr(NullMillis(nil)) != nil {
		t.Fatalf("TimePtr(NullMillis(nil)) != nil")
	}
}
