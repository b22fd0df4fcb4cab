package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLite lacks gen_random_uuid(), so row ids are generated in Go.

// -- Experiences --

func (r *SQLiteRepository) UpsertExperience(ctx context.Context, params ExperienceParams) (*Experience, error) {
	now := time.Now().UTC()
	const q = `
INSERT INTO experiences (id, experience_id, name, access_pass_id, chat_channel_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (experience_id) DO UPDATE SET
    name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE experiences.name END,
    access_pass_id = COALESCE(excluded.access_pass_id, experiences.access_pass_id),
    chat_channel_id = COALESCE(excluded.chat_channel_id, experiences.chat_channel_id),
    updated_at = excluded.updated_at
RETURNING id, experience_id, name, access_pass_id, chat_channel_id, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q, uuid.NewString(), params.ExperienceID, params.Name, params.AccessPassID, params.ChatChannelID, now, now)

	var e Experience
	if err := row.Scan(&e.ID, &e.ExperienceID, &e.Name, &e.AccessPassID, &e.ChatChannelID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert experience: %w", err)
	}
	return &e, nil
}

func (r *SQLiteRepository) GetExperience(ctx context.Context, experienceID string) (*Experience, error) {
	const q = `
SELECT e.id, e.experience_id, e.name, e.access_pass_id, e.chat_channel_id, e.created_at, e.updated_at,
       c.experience_id, c.prompt_time_utc, c.grace_minutes, c.reward_percentage,
       c.reward_stock, c.reward_expiry_days, c.min_streak_3, c.min_streak_7,
       c.created_at, c.updated_at
FROM experiences e
LEFT JOIN configs c ON c.experience_id = e.experience_id
WHERE e.experience_id = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, experienceID)
	e, err := scanExperienceWithConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get experience: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) ListConfiguredExperiences(ctx context.Context) ([]Experience, error) {
	const q = `
SELECT e.id, e.experience_id, e.name, e.access_pass_id, e.chat_channel_id, e.created_at, e.updated_at,
       c.experience_id, c.prompt_time_utc, c.grace_minutes, c.reward_percentage,
       c.reward_stock, c.reward_expiry_days, c.min_streak_3, c.min_streak_7,
       c.created_at, c.updated_at
FROM experiences e
JOIN configs c ON c.experience_id = e.experience_id
ORDER BY e.created_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list configured experiences: %w", err)
	}
	defer rows.Close()

	var experiences []Experience
	for rows.Next() {
		e, err := scanExperienceWithConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan configured experience: %w", err)
		}
		experiences = append(experiences, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate configured experiences: %w", err)
	}
	return experiences, nil
}

func (r *SQLiteRepository) SetChatChannel(ctx context.Context, experienceID, channelID string) error {
	const q = `UPDATE experiences SET chat_channel_id = ?, updated_at = ? WHERE experience_id = ?;`
	res, err := r.db.ExecContext(ctx, q, channelID, time.Now().UTC(), experienceID)
	if err != nil {
		return fmt.Errorf("set chat channel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set chat channel: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set chat channel: experience not found: %s", experienceID)
	}
	return nil
}

func (r *SQLiteRepository) UpsertConfig(ctx context.Context, cfg Config) (*Config, error) {
	now := time.Now().UTC()
	const q = `
INSERT INTO configs (experience_id, prompt_time_utc, grace_minutes, reward_percentage,
                     reward_stock, reward_expiry_days, min_streak_3, min_streak_7, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (experience_id) DO UPDATE SET
    prompt_time_utc = excluded.prompt_time_utc,
    grace_minutes = excluded.grace_minutes,
    reward_percentage = excluded.reward_percentage,
    reward_stock = excluded.reward_stock,
    reward_expiry_days = excluded.reward_expiry_days,
    min_streak_3 = excluded.min_streak_3,
    min_streak_7 = excluded.min_streak_7,
    updated_at = excluded.updated_at
RETURNING experience_id, prompt_time_utc, grace_minutes, reward_percentage,
          reward_stock, reward_expiry_days, min_streak_3, min_streak_7, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q,
		cfg.ExperienceID,
		cfg.PromptTimeUTC,
		cfg.GraceMinutes,
		cfg.RewardPercentage,
		cfg.RewardStock,
		cfg.RewardExpiryDays,
		cfg.MinStreak3,
		cfg.MinStreak7,
		now,
		now,
	)

	var saved Config
	if err := row.Scan(&saved.ExperienceID, &saved.PromptTimeUTC, &saved.GraceMinutes, &saved.RewardPercentage,
		&saved.RewardStock, &saved.RewardExpiryDays, &saved.MinStreak3, &saved.MinStreak7, &saved.CreatedAt, &saved.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert config: %w", err)
	}
	return &saved, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, experienceID string) (*Config, error) {
	const q = `
SELECT experience_id, prompt_time_utc, grace_minutes, reward_percentage,
       reward_stock, reward_expiry_days, min_streak_3, min_streak_7, created_at, updated_at
FROM configs
WHERE experience_id = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, experienceID)
	var cfg Config
	if err := row.Scan(&cfg.ExperienceID, &cfg.PromptTimeUTC, &cfg.GraceMinutes, &cfg.RewardPercentage,
		&cfg.RewardStock, &cfg.RewardExpiryDays, &cfg.MinStreak3, &cfg.MinStreak7, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get config: %w", err)
	}
	return &cfg, nil
}

// -- Users --

func (r *SQLiteRepository) UpsertUserByPlatformID(ctx context.Context, platformUserID string, username *string) (*User, error) {
	now := time.Now().UTC()
	const q = `
INSERT INTO users (id, platform_user_id, username, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (platform_user_id) DO UPDATE SET
    username = COALESCE(excluded.username, users.username),
    updated_at = excluded.updated_at
RETURNING id, platform_user_id, username, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q, uuid.NewString(), platformUserID, username, now, now)

	var u User
	if err := row.Scan(&u.ID, &u.PlatformUserID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT id, platform_user_id, username, created_at, updated_at
FROM users
WHERE id = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, id)
	var user User
	if err := row.Scan(&user.ID, &user.PlatformUserID, &user.Username, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &user, nil
}

// -- Message logs --

func (r *SQLiteRepository) InsertMessageLog(ctx context.Context, log MessageLog) (bool, error) {
	const q = `
INSERT INTO message_logs (id, experience_id, actor_id, day_key, first_post_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (experience_id, actor_id, day_key) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, q, uuid.NewString(), log.ExperienceID, log.ActorID, log.DayKey, log.FirstPostAt.UTC(), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert message log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message log: %w", err)
	}
	return affected == 1, nil
}

func (r *SQLiteRepository) GetMessageLog(ctx context.Context, experienceID, actorID, dayKey string) (*MessageLog, error) {
	const q = `
SELECT id, experience_id, actor_id, day_key, first_post_at, created_at
FROM message_logs
WHERE experience_id = ? AND actor_id = ? AND day_key = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, experienceID, actorID, dayKey)
	var log MessageLog
	if err := row.Scan(&log.ID, &log.ExperienceID, &log.ActorID, &log.DayKey, &log.FirstPostAt, &log.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message log: %w", err)
	}
	return &log, nil
}

// -- Streaks --

func (r *SQLiteRepository) IncrementStreak(ctx context.Context, experienceID, userID string, activeAt time.Time) (*Streak, error) {
	now := time.Now().UTC()
	const q = `
INSERT INTO streaks (id, experience_id, user_id, current_streak, best_streak, week_count, last_active_at, created_at, updated_at)
VALUES (?, ?, ?, 1, 1, 1, ?, ?, ?)
ON CONFLICT (experience_id, user_id) DO UPDATE SET
    current_streak = streaks.current_streak + 1,
    best_streak = MAX(streaks.best_streak, streaks.current_streak + 1),
    week_count = streaks.week_count + 1,
    last_active_at = excluded.last_active_at,
    updated_at = excluded.updated_at
RETURNING id, experience_id, user_id, current_streak, best_streak, week_count, last_active_at, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q, uuid.NewString(), experienceID, userID, activeAt.UTC(), now, now)

	var s Streak
	if err := row.Scan(&s.ID, &s.ExperienceID, &s.UserID, &s.Current, &s.Best, &s.WeekCount, &s.LastActiveAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("increment streak: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRepository) GetStreak(ctx context.Context, experienceID, userID string) (*Streak, error) {
	const q = `
SELECT id, experience_id, user_id, current_streak, best_streak, week_count, last_active_at, created_at, updated_at
FROM streaks
WHERE experience_id = ? AND user_id = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, experienceID, userID)
	var s Streak
	if err := row.Scan(&s.ID, &s.ExperienceID, &s.UserID, &s.Current, &s.Best, &s.WeekCount, &s.LastActiveAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get streak: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRepository) ResetStreaksExcept(ctx context.Context, experienceID string, activeUserIDs []string) (int64, error) {
	query := `
UPDATE streaks
SET current_streak = 0, updated_at = ?
WHERE experience_id = ? AND current_streak > 0`
	args := []any{time.Now().UTC(), experienceID}

	if len(activeUserIDs) > 0 {
		placeholders := strings.Repeat("?,", len(activeUserIDs))
		placeholders = placeholders[:len(placeholders)-1]
		query += fmt.Sprintf(" AND user_id NOT IN (%s)", placeholders)
		for _, id := range activeUserIDs {
			args = append(args, id)
		}
	}
	query += ";"

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset streaks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset streaks: %w", err)
	}
	return affected, nil
}

func (r *SQLiteRepository) TopWeekly(ctx context.Context, experienceID string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT s.user_id, u.platform_user_id, u.username, s.current_streak, s.best_streak, s.week_count
FROM streaks s
JOIN users u ON u.id = s.user_id
WHERE s.experience_id = ? AND s.week_count > 0
ORDER BY s.week_count DESC, s.best_streak DESC, u.platform_user_id ASC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, experienceID, limit)
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

func (r *SQLiteRepository) ResetWeekCounts(ctx context.Context, experienceID string) error {
	const q = `UPDATE streaks SET week_count = 0, updated_at = ? WHERE experience_id = ?;`
	if _, err := r.db.ExecContext(ctx, q, time.Now().UTC(), experienceID); err != nil {
		return fmt.Errorf("reset week counts: %w", err)
	}
	return nil
}

// -- Rewards --

func (r *SQLiteRepository) InsertIssuedCode(ctx context.Context, code IssuedCode) (*IssuedCode, error) {
	const q = `
INSERT INTO issued_codes (id, code, promo_id, expires_at, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id, code, promo_id, expires_at, created_at;
`
	row := r.db.QueryRowContext(ctx, q, uuid.NewString(), code.Code, code.PromoID, code.ExpiresAt.UTC(), time.Now().UTC())

	var inserted IssuedCode
	if err := row.Scan(&inserted.ID, &inserted.Code, &inserted.PromoID, &inserted.ExpiresAt, &inserted.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert issued code: %w", err)
	}
	return &inserted, nil
}

func (r *SQLiteRepository) InsertReward(ctx context.Context, reward Reward) (bool, error) {
	rewardType := reward.Type
	if rewardType == "" {
		rewardType = RewardTypeStreak
	}
	const q = `
INSERT INTO rewards (id, experience_id, user_id, reward_type, threshold, issued_code_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (experience_id, user_id, threshold) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, q, uuid.NewString(), reward.ExperienceID, reward.UserID, rewardType, reward.Threshold, reward.IssuedCodeID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert reward: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert reward: %w", err)
	}
	return affected == 1, nil
}

func (r *SQLiteRepository) HasReward(ctx context.Context, experienceID, userID string, threshold int) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM rewards
    WHERE experience_id = ? AND user_id = ? AND threshold = ?
);
`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, experienceID, userID, threshold).Scan(&exists); err != nil {
		return false, fmt.Errorf("has reward: %w", err)
	}
	return exists, nil
}
