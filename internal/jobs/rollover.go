package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"questchat/internal/repo"
	"questchat/internal/whop"
)

// RunRollover settles yesterday's quest day for every configured experience:
// it credits each actor's first reply after the prompt, issues threshold
// rewards, and resets the streak of everyone who stayed silent.
func (e *Engine) RunRollover(ctx context.Context) (*RunSummary, error) {
	yesterday := dayKey(e.now().AddDate(0, 0, -1))

	experiences, err := e.store.ListConfiguredExperiences(ctx)
	if err != nil {
		e.countJobRun("rollover", err)
		return nil, err
	}

	results := make([]ExperienceResult, 0, len(experiences))
	for i := range experiences {
		res := e.rolloverExperience(ctx, &experiences[i], yesterday)
		e.countResult("rollover", res)
		results = append(results, res)
	}

	e.countJobRun("rollover", nil)
	return &RunSummary{Success: true, Date: yesterday, Results: results}, nil
}

func (e *Engine) rolloverExperience(ctx context.Context, exp *repo.Experience, day string) ExperienceResult {
	mu := e.lockFor(exp.ExperienceID)
	mu.Lock()
	defer mu.Unlock()

	log := e.logger.With("experience_id", exp.ExperienceID, "day", day)

	anchor, err := e.store.GetMessageLog(ctx, exp.ExperienceID, repo.SystemActorID, day)
	if errors.Is(err, repo.ErrNotFound) {
		log.Info("no prompt anchor, skipping rollover")
		return ExperienceResult{ExperienceID: exp.ExperienceID, Status: StatusNoPromptYesterday}
	}
	if err != nil {
		log.Error("anchor lookup failed", "err", err)
		return errorResult(exp.ExperienceID, err)
	}

	cfg := exp.Config
	if cfg == nil {
		loaded, err := e.store.GetConfig(ctx, exp.ExperienceID)
		if err != nil {
			log.Error("config lookup failed", "err", err)
			return errorResult(exp.ExperienceID, err)
		}
		cfg = loaded
	}

	msgs, err := e.gateway.ListChatMessages(ctx, chatChannel(exp))
	if err != nil {
		// A fetch failure degrades to "nobody replied": silent members still
		// get their streaks reset and the day stays settled.
		log.Warn("message fetch failed, treating as empty day", "err", err)
		msgs = nil
	}

	firstReplies := firstReplyPerActor(msgs, anchor.FirstPostAt)

	var streaksUpdated, rewardsIssued int
	activeUserIDs := make([]string, 0, len(firstReplies))

	for _, msg := range firstReplies {
		var username *string
		if msg.ActorName != "" {
			name := msg.ActorName
			username = &name
		}
		user, err := e.store.UpsertUserByPlatformID(ctx, msg.ActorID, username)
		if err != nil {
			log.Error("user upsert failed", "actor_id", msg.ActorID, "err", err)
			continue
		}
		activeUserIDs = append(activeUserIDs, user.ID)

		credited, err := e.store.InsertMessageLog(ctx, repo.MessageLog{
			ExperienceID: exp.ExperienceID,
			ActorID:      msg.ActorID,
			DayKey:       day,
			FirstPostAt:  msg.CreatedAt,
		})
		if err != nil {
			log.Error("message log write failed", "actor_id", msg.ActorID, "err", err)
			continue
		}
		if !credited {
			// Already settled by a previous run of the same day.
			continue
		}

		streak, err := e.store.IncrementStreak(ctx, exp.ExperienceID, user.ID, e.now())
		if err != nil {
			log.Error("streak increment failed", "actor_id", msg.ActorID, "err", err)
			continue
		}
		streaksUpdated++
		if e.metrics != nil {
			e.metrics.StreaksUpdated.Inc()
		}

		if e.issueRewardIfDue(ctx, exp, cfg, user, streak) {
			rewardsIssued++
		}
	}

	resetCount, err := e.store.ResetStreaksExcept(ctx, exp.ExperienceID, activeUserIDs)
	if err != nil {
		log.Error("streak reset failed", "err", err)
		return errorResult(exp.ExperienceID, err)
	}
	if e.metrics != nil && resetCount > 0 {
		e.metrics.StreakResets.Add(float64(resetCount))
	}

	status := StatusProcessed
	if len(firstReplies) == 0 {
		status = StatusNoMessages
	}

	log.Info("rollover done",
		"users_active", len(firstReplies),
		"streaks_updated", streaksUpdated,
		"rewards_issued", rewardsIssued,
		"streaks_reset", resetCount)

	return ExperienceResult{
		ExperienceID:   exp.ExperienceID,
		Status:         status,
		UsersActive:    len(firstReplies),
		StreaksUpdated: streaksUpdated,
		RewardsIssued:  rewardsIssued,
		StreaksReset:   int(resetCount),
	}
}

// firstReplyPerActor keeps the earliest message per actor at or after the
// prompt anchor, dropping system and anonymous entries. Input order does not
// matter; messages are ordered by timestamp first.
func firstReplyPerActor(msgs []whop.ChatMessage, promptAt time.Time) []whop.ChatMessage {
	sorted := make([]whop.ChatMessage, len(msgs))
	copy(sorted, msgs)
	whop.SortByTimestamp(sorted)

	seen := make(map[string]struct{}, len(sorted))
	out := make([]whop.ChatMessage, 0, len(sorted))
	for _, m := range sorted {
		if m.ActorID == "" || m.ActorID == repo.SystemActorID {
			continue
		}
		if m.CreatedAt.Before(promptAt) {
			continue
		}
		if _, dup := seen[m.ActorID]; dup {
			continue
		}
		seen[m.ActorID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// issueRewardIfDue issues at most one reward per (user, threshold) when the
// streak lands exactly on a configured threshold. Once the reward row is
// written the issuance is final; a failed congrats message only logs.
func (e *Engine) issueRewardIfDue(ctx context.Context, exp *repo.Experience, cfg *repo.Config, user *repo.User, streak *repo.Streak) bool {
	threshold := streak.Current
	if threshold != cfg.MinStreak3 && threshold != cfg.MinStreak7 {
		return false
	}

	log := e.logger.With("experience_id", exp.ExperienceID, "user_id", user.ID, "threshold", threshold)

	if exp.AccessPassID == nil || *exp.AccessPassID == "" {
		log.Info("threshold reached but no access pass configured, skipping reward")
		return false
	}

	has, err := e.store.HasReward(ctx, exp.ExperienceID, user.ID, threshold)
	if err != nil {
		log.Error("reward lookup failed", "err", err)
		return false
	}
	if has {
		return false
	}

	code := fmt.Sprintf("QUEST-%dD-%s-%d", threshold, codeSuffix(user), e.now().UnixMilli())

	promoID, err := e.issuer.CreatePromoCode(ctx, whop.PromoCodeRequest{
		AccessPassID: *exp.AccessPassID,
		Code:         code,
		Percentage:   cfg.RewardPercentage,
		Stock:        cfg.RewardStock,
		ExpiryDays:   cfg.RewardExpiryDays,
	})
	if err != nil {
		log.Error("promo code creation failed", "err", err)
		return false
	}

	issued, err := e.store.InsertIssuedCode(ctx, repo.IssuedCode{
		Code:      code,
		PromoID:   &promoID,
		ExpiresAt: e.now().AddDate(0, 0, cfg.RewardExpiryDays),
	})
	if err != nil {
		log.Error("issued code write failed", "err", err)
		return false
	}

	written, err := e.store.InsertReward(ctx, repo.Reward{
		ExperienceID: exp.ExperienceID,
		UserID:       user.ID,
		Type:         repo.RewardTypeStreak,
		Threshold:    threshold,
		IssuedCodeID: &issued.ID,
	})
	if err != nil {
		log.Error("reward write failed", "err", err)
		return false
	}
	if !written {
		// Lost the race to a concurrent issuance. The extra promo code is
		// harmless with stock 1.
		return false
	}

	if e.metrics != nil {
		e.metrics.RewardsIssued.Inc()
	}

	congrats := formatCongratsMessage(displayName(user.Username, user.PlatformUserID), threshold, cfg.RewardPercentage, code)
	if err := e.gateway.SendChatMessage(ctx, chatChannel(exp), congrats); err != nil {
		// The reward row already exists; announcing it is best effort.
		log.Warn("congrats send failed", "err", err)
	}

	log.Info("reward issued", "code", code)
	return true
}
