package repo

import (
	"context"
	"fmt"
)

// InsertIssuedCode stores a generated discount code.
func (r *PostgresRepository) InsertIssuedCode(ctx context.Context, code IssuedCode) (*IssuedCode, error) {
	const q = `
INSERT INTO issued_codes (code, promo_id, expires_at)
VALUES ($1, $2, $3)
RETURNING id, code, promo_id, expires_at, created_at;
`
	row := r.pool.QueryRow(ctx, q, code.Code, code.PromoID, code.ExpiresAt)

	var inserted IssuedCode
	if err := row.Scan(&inserted.ID, &inserted.Code, &inserted.PromoID, &inserted.ExpiresAt, &inserted.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert issued code: %w", err)
	}
	return &inserted, nil
}

// InsertReward writes the reward row. The unique (experience, user, threshold)
// constraint is the durable guard against re-issuing on reruns; false means
// the reward already existed.
func (r *PostgresRepository) InsertReward(ctx context.Context, reward Reward) (bool, error) {
	rewardType := reward.Type
	if rewardType == "" {
		rewardType = RewardTypeStreak
	}
	const q = `
INSERT INTO rewards (experience_id, user_id, reward_type, threshold, issued_code_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (experience_id, user_id, threshold) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, reward.ExperienceID, reward.UserID, rewardType, reward.Threshold, reward.IssuedCodeID)
	if err != nil {
		return false, fmt.Errorf("insert reward: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// HasReward reports whether a reward already exists for the threshold.
func (r *PostgresRepository) HasReward(ctx context.Context, experienceID, userID string, threshold int) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM rewards
    WHERE experience_id = $1 AND user_id = $2 AND threshold = $3
);
`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, experienceID, userID, threshold).Scan(&exists); err != nil {
		return false, fmt.Errorf("has reward: %w", err)
	}
	return exists, nil
}
