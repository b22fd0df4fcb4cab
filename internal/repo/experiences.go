package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertExperience stores or updates an experience keyed by its external id.
func (r *PostgresRepository) UpsertExperience(ctx context.Context, params ExperienceParams) (*Experience, error) {
	const q = `
INSERT INTO experiences (experience_id, name, access_pass_id, chat_channel_id, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (experience_id) DO UPDATE SET
    name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE experiences.name END,
    access_pass_id = COALESCE(EXCLUDED.access_pass_id, experiences.access_pass_id),
    chat_channel_id = COALESCE(EXCLUDED.chat_channel_id, experiences.chat_channel_id),
    updated_at = NOW()
RETURNING id, experience_id, name, access_pass_id, chat_channel_id, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, params.ExperienceID, params.Name, params.AccessPassID, params.ChatChannelID)

	var e Experience
	if err := row.Scan(&e.ID, &e.ExperienceID, &e.Name, &e.AccessPassID, &e.ChatChannelID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert experience: %w", err)
	}
	return &e, nil
}

// GetExperience returns the experience with the given external id, with its
// config attached when present.
func (r *PostgresRepository) GetExperience(ctx context.Context, experienceID string) (*Experience, error) {
	const q = `
SELECT e.id, e.experience_id, e.name, e.access_pass_id, e.chat_channel_id, e.created_at, e.updated_at,
       c.experience_id, c.prompt_time_utc, c.grace_minutes, c.reward_percentage,
       c.reward_stock, c.reward_expiry_days, c.min_streak_3, c.min_streak_7,
       c.created_at, c.updated_at
FROM experiences e
LEFT JOIN configs c ON c.experience_id = e.experience_id
WHERE e.experience_id = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, experienceID)
	e, err := scanExperienceWithConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get experience: %w", err)
	}
	return e, nil
}

// ListConfiguredExperiences returns every experience that has a config row,
// config attached. Experiences without a config are inactive for jobs.
func (r *PostgresRepository) ListConfiguredExperiences(ctx context.Context) ([]Experience, error) {
	const q = `
SELECT e.id, e.experience_id, e.name, e.access_pass_id, e.chat_channel_id, e.created_at, e.updated_at,
       c.experience_id, c.prompt_time_utc, c.grace_minutes, c.reward_percentage,
       c.reward_stock, c.reward_expiry_days, c.min_streak_3, c.min_streak_7,
       c.created_at, c.updated_at
FROM experiences e
JOIN configs c ON c.experience_id = e.experience_id
ORDER BY e.created_at ASC;
`
	rows, err := r.pool.Query(ctx, q)
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

// SetChatChannel caches the resolved chat channel id on the experience.
func (r *PostgresRepository) SetChatChannel(ctx context.Context, experienceID, channelID string) error {
	const q = `UPDATE experiences SET chat_channel_id = $2, updated_at = NOW() WHERE experience_id = $1;`
	ct, err := r.pool.Exec(ctx, q, experienceID, channelID)
	if err != nil {
		return fmt.Errorf("set chat channel: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set chat channel: experience not found: %s", experienceID)
	}
	return nil
}

// UpsertConfig creates or updates the per-experience settings row.
func (r *PostgresRepository) UpsertConfig(ctx context.Context, cfg Config) (*Config, error) {
	const q = `
INSERT INTO configs (experience_id, prompt_time_utc, grace_minutes, reward_percentage,
                     reward_stock, reward_expiry_days, min_streak_3, min_streak_7, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (experience_id) DO UPDATE SET
    prompt_time_utc = EXCLUDED.prompt_time_utc,
    grace_minutes = EXCLUDED.grace_minutes,
    reward_percentage = EXCLUDED.reward_percentage,
    reward_stock = EXCLUDED.reward_stock,
    reward_expiry_days = EXCLUDED.reward_expiry_days,
    min_streak_3 = EXCLUDED.min_streak_3,
    min_streak_7 = EXCLUDED.min_streak_7,
    updated_at = NOW()
RETURNING experience_id, prompt_time_utc, grace_minutes, reward_percentage,
          reward_stock, reward_expiry_days, min_streak_3, min_streak_7, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q,
		cfg.ExperienceID,
		cfg.PromptTimeUTC,
		cfg.GraceMinutes,
		cfg.RewardPercentage,
		cfg.RewardStock,
		cfg.RewardExpiryDays,
		cfg.MinStreak3,
		cfg.MinStreak7,
	)

	var saved Config
	if err := row.Scan(&saved.ExperienceID, &saved.PromptTimeUTC, &saved.GraceMinutes, &saved.RewardPercentage,
		&saved.RewardStock, &saved.RewardExpiryDays, &saved.MinStreak3, &saved.MinStreak7, &saved.CreatedAt, &saved.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert config: %w", err)
	}
	return &saved, nil
}

// GetConfig returns the config for an experience, or ErrNotFound.
func (r *PostgresRepository) GetConfig(ctx context.Context, experienceID string) (*Config, error) {
	const q = `
SELECT experience_id, prompt_time_utc, grace_minutes, reward_percentage,
       reward_stock, reward_expiry_days, min_streak_3, min_streak_7, created_at, updated_at
FROM configs
WHERE experience_id = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, experienceID)
	var cfg Config
	if err := row.Scan(&cfg.ExperienceID, &cfg.PromptTimeUTC, &cfg.GraceMinutes, &cfg.RewardPercentage,
		&cfg.RewardStock, &cfg.RewardExpiryDays, &cfg.MinStreak3, &cfg.MinStreak7, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get config: %w", err)
	}
	return &cfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperienceWithConfig(row rowScanner) (*Experience, error) {
	var e Experience
	var (
		cfgExperienceID *string
		promptTime      *string
		graceMinutes    *int
		percentage      *int
		stock           *int
		expiryDays      *int
		minStreak3      *int
		minStreak7      *int
		cfgCreatedAt    *time.Time
		cfgUpdatedAt    *time.Time
	)
	if err := row.Scan(&e.ID, &e.ExperienceID, &e.Name, &e.AccessPassID, &e.ChatChannelID, &e.CreatedAt, &e.UpdatedAt,
		&cfgExperienceID, &promptTime, &graceMinutes, &percentage,
		&stock, &expiryDays, &minStreak3, &minStreak7,
		&cfgCreatedAt, &cfgUpdatedAt); err != nil {
		return nil, err
	}
	if cfgExperienceID != nil {
		e.Config = &Config{
			ExperienceID:     *cfgExperienceID,
			PromptTimeUTC:    *promptTime,
			GraceMinutes:     *graceMinutes,
			RewardPercentage: *percentage,
			RewardStock:      *stock,
			RewardExpiryDays: *expiryDays,
			MinStreak3:       *minStreak3,
			MinStreak7:       *minStreak7,
			CreatedAt:        *cfgCreatedAt,
			UpdatedAt:        *cfgUpdatedAt,
		}
	}
	return &e, nil
}
