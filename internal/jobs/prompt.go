package jobs

import (
	"context"
	"errors"

	"questchat/internal/prompts"
	"questchat/internal/repo"
	"questchat/internal/whop"
)

// RunDailyPrompt posts today's prompt into every configured experience. The
// SYSTEM message-log row doubles as the at-most-once guard and as the anchor
// the next day's rollover reads.
func (e *Engine) RunDailyPrompt(ctx context.Context) (*RunSummary, error) {
	today := dayKey(e.now())

	experiences, err := e.store.ListConfiguredExperiences(ctx)
	if err != nil {
		e.countJobRun("prompt", err)
		return nil, err
	}

	results := make([]ExperienceResult, 0, len(experiences))
	for i := range experiences {
		res := e.promptExperience(ctx, &experiences[i], today)
		e.countResult("prompt", res)
		results = append(results, res)
	}

	e.countJobRun("prompt", nil)
	return &RunSummary{Success: true, Date: today, Results: results}, nil
}

func (e *Engine) promptExperience(ctx context.Context, exp *repo.Experience, today string) ExperienceResult {
	log := e.logger.With("experience_id", exp.ExperienceID, "day", today)

	_, err := e.store.GetMessageLog(ctx, exp.ExperienceID, repo.SystemActorID, today)
	if err == nil {
		log.Info("prompt already posted")
		return ExperienceResult{ExperienceID: exp.ExperienceID, Status: StatusAlreadyPosted}
	}
	if !errors.Is(err, repo.ErrNotFound) {
		log.Error("prompt guard lookup failed", "err", err)
		return errorResult(exp.ExperienceID, err)
	}

	prompt := prompts.Pick()
	if err := e.gateway.SendChatMessage(ctx, chatChannel(exp), formatPromptMessage(today, prompt)); err != nil {
		if errors.Is(err, whop.ErrChatNotFound) {
			log.Warn("experience has no chat feed", "err", err)
			return ExperienceResult{ExperienceID: exp.ExperienceID, Status: StatusNoChannel}
		}
		log.Error("prompt send failed", "err", err)
		return errorResult(exp.ExperienceID, err)
	}

	inserted, err := e.store.InsertMessageLog(ctx, repo.MessageLog{
		ExperienceID: exp.ExperienceID,
		ActorID:      repo.SystemActorID,
		DayKey:       today,
		FirstPostAt:  e.now(),
	})
	if err != nil {
		log.Error("prompt anchor write failed", "err", err)
		return errorResult(exp.ExperienceID, err)
	}
	if !inserted {
		// A concurrent run won the race after our guard lookup. The prompt
		// went out twice but the anchor stays single.
		log.Warn("prompt anchor already present")
		return ExperienceResult{ExperienceID: exp.ExperienceID, Status: StatusAlreadyPosted}
	}

	if e.metrics != nil {
		e.metrics.PromptsPosted.Inc()
	}
	log.Info("prompt posted")
	return ExperienceResult{ExperienceID: exp.ExperienceID, Status: StatusPosted, Prompt: prompt}
}
