package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertMessageLog writes a message-log row. The unique (experience, actor,
// day) constraint makes duplicate inserts a no-op; the returned bool reports
// whether this call actually inserted the row.
func (r *PostgresRepository) InsertMessageLog(ctx context.Context, log MessageLog) (bool, error) {
	const q = `
INSERT INTO message_logs (experience_id, actor_id, day_key, first_post_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (experience_id, actor_id, day_key) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, log.ExperienceID, log.ActorID, log.DayKey, log.FirstPostAt)
	if err != nil {
		return false, fmt.Errorf("insert message log: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// GetMessageLog returns the log row for (experience, actor, day), or
// ErrNotFound.
func (r *PostgresRepository) GetMessageLog(ctx context.Context, experienceID, actorID, dayKey string) (*MessageLog, error) {
	const q = `
SELECT id, experience_id, actor_id, day_key, first_post_at, created_at
FROM message_logs
WHERE experience_id = $1 AND actor_id = $2 AND day_key = $3
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, experienceID, actorID, dayKey)
	var log MessageLog
	if err := row.Scan(&log.ID, &log.ExperienceID, &log.ActorID, &log.DayKey, &log.FirstPostAt, &log.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message log: %w", err)
	}
	return &log, nil
}
