package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/fiscalia/internal/clock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupRateLimitTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("underlying db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS rate_limit_counters (
			key TEXT PRIMARY KEY,
			window_start DATETIME NOT NULL,
			count INTEGER NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create rate_limit_counters: %v", err)
	}
	return db
}

func TestAllowWithinLimit(t *testing.T) {
	db := setupRateLimitTestDB(t)
	store := NewDBStore(db, clock.SystemClock{}, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := store.Allow(ctx, "org:1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}

	ok, err := store.Allow(ctx, "org:1")
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if ok {
		t.Fatalf("expected request over the limit to be denied")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	db := setupRateLimitTestDB(t)
	store := NewDBStore(db, clock.SystemClock{}, 1, time.Minute)
	ctx := context.Background()

	if ok, _ := store.Allow(ctx, "org:1"); !ok {
		t.Fatalf("expected first key to be allowed")
	}
	if ok, _ := store.Allow(ctx, "org:2"); !ok {
		t.Fatalf("expected second key to be allowed")
	}
	if ok, _ := store.Allow(ctx, "org:1"); ok {
		t.Fatalf("expected first key to be exhausted")
	}
}

func TestAllowWindowExpires(t *testing.T) {
	db := setupRateLimitTestDB(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := &stepClock{t: base}
	store := NewDBStore(db, clk, 1, time.Minute)
	ctx := context.Background()

	if ok, _ := store.Allow(ctx, "org:1"); !ok {
		t.Fatalf("expected first request to be allowed")
	}
	if ok, _ := store.Allow(ctx, "org:1"); ok {
		t.Fatalf("expected second request in window to be denied")
	}

	clk.t = base.Add(2 * time.Minute)
	ok, err := store.Allow(ctx, "org:1")
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !ok {
		t.Fatalf("expected request after window expiry to be allowed")
	}
}

func TestAllowEmptyKeyDenied(t *testing.T) {
	db := setupRateLimitTestDB(t)
	store := NewDBStore(db, clock.SystemClock{}, 10, time.Minute)

	ok, err := store.Allow(context.Background(), "")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatalf("expected empty key to be denied")
	}
}

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }
