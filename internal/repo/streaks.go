package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// IncrementStreak applies one day of activity atomically: current+1,
// best=max(best, current+1), week_count+1. A missing row is created at
// 1/1/1. The single upsert expression keeps best >= current under reruns and
// concurrent writers.
func (r *PostgresRepository) IncrementStreak(ctx context.Context, experienceID, userID string, activeAt time.Time) (*Streak, error) {
	const q = `
INSERT INTO streaks (experience_id, user_id, current_streak, best_streak, week_count, last_active_at)
VALUES ($1, $2, 1, 1, 1, $3)
ON CONFLICT (experience_id, user_id) DO UPDATE SET
    current_streak = streaks.current_streak + 1,
    best_streak = GREATEST(streaks.best_streak, streaks.current_streak + 1),
    week_count = streaks.week_count + 1,
    last_active_at = EXCLUDED.last_active_at,
    updated_at = NOW()
RETURNING id, experience_id, user_id, current_streak, best_streak, week_count, last_active_at, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, experienceID, userID, activeAt)

	var s Streak
	if err := row.Scan(&s.ID, &s.ExperienceID, &s.UserID, &s.Current, &s.Best, &s.WeekCount, &s.LastActiveAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("increment streak: %w", err)
	}
	return &s, nil
}

// GetStreak returns the streak row for (experience, user), or ErrNotFound.
func (r *PostgresRepository) GetStreak(ctx context.Context, experienceID, userID string) (*Streak, error) {
	const q = `
SELECT id, experience_id, user_id, current_streak, best_streak, week_count, last_active_at, created_at, updated_at
FROM streaks
WHERE experience_id = $1 AND user_id = $2
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, experienceID, userID)
	var s Streak
	if err := row.Scan(&s.ID, &s.ExperienceID, &s.UserID, &s.Current, &s.Best, &s.WeekCount, &s.LastActiveAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get streak: %w", err)
	}
	return &s, nil
}

// ResetStreaksExcept zeroes current_streak for every active streak in the
// experience whose user is not in activeUserIDs. Best and week counters stay
// untouched. Returns the number of streaks reset.
func (r *PostgresRepository) ResetStreaksExcept(ctx context.Context, experienceID string, activeUserIDs []string) (int64, error) {
	if activeUserIDs == nil {
		activeUserIDs = []string{}
	}
	const q = `
UPDATE streaks
SET current_streak = 0, updated_at = NOW()
WHERE experience_id = $1
  AND current_streak > 0
  AND NOT (user_id = ANY($2));
`
	ct, err := r.pool.Exec(ctx, q, experienceID, activeUserIDs)
	if err != nil {
		return 0, fmt.Errorf("reset streaks: %w", err)
	}
	return ct.RowsAffected(), nil
}

// TopWeekly returns the leaderboard for the experience ordered by weekly
// active-day count descending.
func (r *PostgresRepository) TopWeekly(ctx context.Context, experienceID string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT s.user_id, u.platform_user_id, u.username, s.current_streak, s.best_streak, s.week_count
FROM streaks s
JOIN users u ON u.id = s.user_id
WHERE s.experience_id = $1 AND s.week_count > 0
ORDER BY s.week_count DESC, s.best_streak DESC, u.platform_user_id ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, experienceID, limit)
	if err != nil {
		return nil, fmt.Errorf("top weekly: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.PlatformUserID, &e.Username, &e.Current, &e.Best, &e.WeekCount); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return entries, nil
}

// ResetWeekCounts zeroes the weekly counter for every streak in the
// experience.
func (r *PostgresRepository) ResetWeekCounts(ctx context.Context, experienceID string) error {
	const q = `UPDATE streaks SET week_count = 0, updated_at = NOW() WHERE experience_id = $1;`
	if _, err := r.pool.Exec(ctx, q, experienceID); err != nil {
		return fmt.Errorf("reset week counts: %w", err)
	}
	return nil
}
