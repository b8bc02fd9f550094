// Package sequence issues gapless, strictly increasing numbers per
// (org, series) key.
package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ErrCounterUnavailable reports that the counter row could not be
// incremented or read back; the enclosing transaction must roll back.
var ErrCounterUnavailable = errors.New("sequence_counter_unavailable")

// Next allocates the next number for (orgID, series) inside the
// caller's transaction. The UPDATE takes the counter row lock, which
// serializes concurrent finalizations on the same key while leaving
// other keys uncontended. Rolling back the transaction releases the
// number, so a failed finalization never leaves a gap.
func Next(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, series string) (int64, error) {
	now := time.Now().UTC()

	res := tx.WithContext(ctx).Exec(
		`UPDATE series_counters
		 SET last_number = last_number + 1, updated_at = ?
		 WHERE org_id = ? AND series = ?`,
		now, orgID, series,
	)
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected == 0 {
		ins := tx.WithContext(ctx).Exec(
			`INSERT INTO series_counters (org_id, series, last_number, updated_at)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT (org_id, series) DO NOTHING`,
			orgID, series, now,
		)
		if ins.Error != nil {
			return 0, ins.Error
		}
		if ins.RowsAffected == 1 {
			return 1, nil
		}

		// Lost the first-use race; the row exists now.
		res = tx.WithContext(ctx).Exec(
			`UPDATE series_counters
			 SET last_number = last_number + 1, updated_at = ?
			 WHERE org_id = ? AND series = ?`,
			now, orgID, series,
		)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, ErrCounterUnavailable
		}
	}

	var last int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT last_number FROM series_counters WHERE org_id = ? AND series = ?`,
		orgID, series,
	).Scan(&last).Error; err != nil {
		return 0, err
	}
	if last <= 0 {
		return 0, ErrCounterUnavailable
	}
	return last, nil
}
