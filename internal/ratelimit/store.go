// Package ratelimit implements a fixed-window per-key counter backed by
// the shared relational store, so the limit holds across server
// instances instead of living in one process's memory.
package ratelimit

import (
	"context"
	"time"

	"github.com/smallbiznis/fiscalia/internal/clock"
	"gorm.io/gorm"
)

// Store answers whether a keyed request fits inside the current window.
type Store interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// DBStore counts requests in the rate_limit_counters table.
type DBStore struct {
	db     *gorm.DB
	clock  clock.Clock
	limit  int
	window time.Duration
}

func NewDBStore(db *gorm.DB, clk clock.Clock, limit int, window time.Duration) *DBStore {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &DBStore{db: db, clock: clk, limit: limit, window: window}
}

// Allow increments the key's counter for the current window. Expired
// windows are reset in place; the decision and the increment are one
// atomic unit.
func (s *DBStore) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.window)

	allowed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Reset the row when its window has expired.
		if err := tx.Exec(
			`UPDATE rate_limit_counters
			 SET window_start = ?, count = 0
			 WHERE key = ? AND window_start <= ?`,
			now, key, cutoff,
		).Error; err != nil {
			return err
		}

		ins := tx.Exec(
			`INSERT INTO rate_limit_counters (key, window_start, count)
			 VALUES (?, ?, 1)
			 ON CONFLICT (key) DO NOTHING`,
			key, now,
		)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 1 {
			allowed = true
			return nil
		}

		res := tx.Exec(
			`UPDATE rate_limit_counters
			 SET count = count + 1
			 WHERE key = ? AND count < ?`,
			key, s.limit,
		)
		if res.Error != nil {
			return res.Error
		}
		allowed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}
