package jobs

import (
	"context"

	"questchat/internal/repo"
)

const leaderboardSize = 10

// RunWeeklySummary posts the weekly leaderboard into every configured
// experience and starts a fresh weekly window. Week counters reset even when
// nobody scored, so a quiet week cannot leak into the next one.
func (e *Engine) RunWeeklySummary(ctx context.Context) (*RunSummary, error) {
	experiences, err := e.store.ListConfiguredExperiences(ctx)
	if err != nil {
		e.countJobRun("weekly", err)
		return nil, err
	}

	results := make([]ExperienceResult, 0, len(experiences))
	for i := range experiences {
		res := e.weeklyExperience(ctx, &experiences[i])
		e.countResult("weekly", res)
		results = append(results, res)
	}

	e.countJobRun("weekly", nil)
	return &RunSummary{Success: true, Results: results}, nil
}

func (e *Engine) weeklyExperience(ctx context.Context, exp *repo.Experience) ExperienceResult {
	log := e.logger.With("experience_id", exp.ExperienceID)

	board, err := e.store.TopWeekly(ctx, exp.ExperienceID, leaderboardSize)
	if err != nil {
		log.Error("leaderboard read failed", "err", err)
		return errorResult(exp.ExperienceID, err)
	}

	if len(board) > 0 {
		if err := e.gateway.SendChatMessage(ctx, chatChannel(exp), formatLeaderboardMessage(board)); err != nil {
			// The summary is informational; the reset below still runs.
			log.Warn("leaderboard send failed", "err", err)
		}
	}

	if err := e.store.ResetWeekCounts(ctx, exp.ExperienceID); err != nil {
		log.Error("week count reset failed", "err", err)
		return errorResult(exp.ExperienceID, err)
	}

	log.Info("weekly summary done", "top_performers", len(board))
	return ExperienceResult{
		ExperienceID:  exp.ExperienceID,
		Status:        StatusProcessed,
		TopPerformers: len(board),
	}
}
