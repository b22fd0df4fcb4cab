package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"questchat/internal/repo"
	"questchat/internal/whop"
)

const testExperienceID = "exp_1"

type sentMessage struct {
	channel string
	text    string
}

type fakeGateway struct {
	mu      sync.Mutex
	sent    []sentMessage
	feed    map[string][]whop.ChatMessage
	sendErr error
	listErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{feed: map[string][]whop.ChatMessage{}}
}

func (g *fakeGateway) SendChatMessage(ctx context.Context, channelID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, sentMessage{channel: channelID, text: text})
	return nil
}

func (g *fakeGateway) ListChatMessages(ctx context.Context, channelID string) ([]whop.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.feed[channelID], nil
}

func (g *fakeGateway) sentTexts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sent))
	for i, m := range g.sent {
		out[i] = m.text
	}
	return out
}

type fakeIssuer struct {
	mu       sync.Mutex
	requests []whop.PromoCodeRequest
	err      error
}

func (f *fakeIssuer) CreatePromoCode(ctx context.Context, req whop.PromoCodeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return fmt.Sprintf("promo_%d", len(f.requests)), nil
}

type fixture struct {
	engine  *Engine
	store   *repo.MemoryRepository
	gateway *fakeGateway
	issuer  *fakeIssuer
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   repo.NewMemory(),
		gateway: newFakeGateway(),
		issuer:  &fakeIssuer{},
		now:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.engine = New(f.store, f.gateway, f.issuer, nil, slog.Default())
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seedExperience(t *testing.T, accessPassID string) {
	t.Helper()
	ctx := context.Background()
	params := repo.ExperienceParams{ExperienceID: testExperienceID, Name: "Test Community"}
	if accessPassID != "" {
		params.AccessPassID = &accessPassID
	}
	_, err := f.store.UpsertExperience(ctx, params)
	require.NoError(t, err)
	_, err = f.store.UpsertConfig(ctx, repo.DefaultConfig(testExperienceID))
	require.NoError(t, err)
}

// runDay posts the prompt at 09:00 on day, installs the given replies in the
// feed, then runs the rollover the following morning. Replies are given as
// actor ids; each reply lands a few minutes after the prompt.
func (f *fixture) runDay(t *testing.T, day time.Time, actors ...string) *RunSummary {
	t.Helper()
	ctx := context.Background()

	f.now = day
	_, err := f.engine.RunDailyPrompt(ctx)
	require.NoError(t, err)

	msgs := make([]whop.ChatMessage, 0, len(actors))
	for i, actor := range actors {
		msgs = append(msgs, whop.ChatMessage{
			ActorID:   actor,
			ActorName: actor + "_name",
			Text:      "done!",
			CreatedAt: day.Add(time.Duration(i+1) * time.Minute),
		})
	}
	f.gateway.mu.Lock()
	f.gateway.feed[testExperienceID] = msgs
	f.gateway.mu.Unlock()

	f.now = day.AddDate(0, 0, 1).Add(5 * time.Minute)
	summary, err := f.engine.RunRollover(ctx)
	require.NoError(t, err)
	return summary
}

func (f *fixture) userID(t *testing.T, actorID string) string {
	t.Helper()
	u, err := f.store.UpsertUserByPlatformID(context.Background(), actorID, nil)
	require.NoError(t, err)
	return u.ID
}

func (f *fixture) streak(t *testing.T, actorID string) *repo.Streak {
	t.Helper()
	s, err := f.store.GetStreak(context.Background(), testExperienceID, f.userID(t, actorID))
	require.NoError(t, err)
	return s
}

func TestDailyPromptPostsOncePerDay(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")
	ctx := context.Background()

	summary, err := f.engine.RunDailyPrompt(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, StatusPosted, summary.Results[0].Status)
	require.NotEmpty(t, summary.Results[0].Prompt)

	// Second fire on the same day is a no-op.
	summary, err = f.engine.RunDailyPrompt(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyPosted, summary.Results[0].Status)
	require.Len(t, f.gateway.sentTexts(), 1)

	anchor, err := f.store.GetMessageLog(ctx, testExperienceID, repo.SystemActorID, "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, f.now, anchor.FirstPostAt)
	require.Contains(t, f.gateway.sentTexts()[0], "Daily Quest")
	require.Contains(t, f.gateway.sentTexts()[0], "2024-05-01")
}

func TestDailyPromptWithoutChatFeed(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")
	f.gateway.sendErr = fmt.Errorf("send chat message: %w", whop.ErrChatNotFound)
	ctx := context.Background()

	summary, err := f.engine.RunDailyPrompt(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusNoChannel, summary.Results[0].Status)

	// No anchor means the next rollover skips the day entirely.
	_, err = f.store.GetMessageLog(ctx, testExperienceID, repo.SystemActorID, "2024-05-01")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRolloverWithoutPromptAnchor(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")

	summary, err := f.engine.RunRollover(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, StatusNoPromptYesterday, summary.Results[0].Status)
}

func TestRolloverCreditsFirstReplyOnly(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")
	ctx := context.Background()

	day := f.now
	f.now = day
	_, err := f.engine.RunDailyPrompt(ctx)
	require.NoError(t, err)

	// Feed arrives newest-first and includes a pre-prompt message, a system
	// entry, and a double post by the same actor.
	f.gateway.feed[testExperienceID] = []whop.ChatMessage{
		{ActorID: "user_a", Text: "second", CreatedAt: day.Add(30 * time.Minute)},
		{ActorID: repo.SystemActorID, Text: "prompt", CreatedAt: day},
		{ActorID: "user_a", Text: "first", CreatedAt: day.Add(10 * time.Minute)},
		{ActorID: "user_a", Text: "too early", CreatedAt: day.Add(-time.Hour)},
		{ActorID: "", Text: "anonymous", CreatedAt: day.Add(15 * time.Minute)},
	}

	f.now = day.AddDate(0, 0, 1)
	summary, err := f.engine.RunRollover(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, summary.Results[0].Status)
	require.Equal(t, 1, summary.Results[0].UsersActive)
	require.Equal(t, 1, summary.Results[0].StreaksUpdated)

	s := f.streak(t, "user_a")
	require.Equal(t, 1, s.Current)
	require.Equal(t, 1, s.Best)
	require.Equal(t, 1, s.WeekCount)

	entry, err := f.store.GetMessageLog(ctx, testExperienceID, "user_a", "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, day.Add(10*time.Minute), entry.FirstPostAt)
}

func TestRolloverDoubleFireIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")
	ctx := context.Background()

	day := f.now
	f.runDay(t, day, "user_a")

	summary, err := f.engine.RunRollover(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Results[0].StreaksUpdated)
	require.Equal(t, 0, summary.Results[0].StreaksReset)

	s := f.streak(t, "user_a")
	require.Equal(t, 1, s.Current)
	require.Equal(t, 1, s.WeekCount)
}

func TestRolloverFetchFailureStillResetsSilentStreaks(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")

	day := f.now
	f.runDay(t, day, "user_a")

	f.gateway.listErr = errors.New("upstream 500")
	f.runDay(t, day.AddDate(0, 0, 1))

	summary, err := f.engine.RunRollover(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusNoMessages, summary.Results[0].Status)

	s := f.streak(t, "user_a")
	require.Equal(t, 0, s.Current)
	require.Equal(t, 1, s.Best)
}

func TestStreakLifecycleOverFourDays(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "pass_1")

	day := f.now

	// Day 1 and 2: both members reply.
	f.runDay(t, day, "user_1", "user_2")
	f.runDay(t, day.AddDate(0, 0, 1), "user_1", "user_2")

	require.Equal(t, 2, f.streak(t, "user_1").Current)
	require.Equal(t, 2, f.streak(t, "user_2").Current)

	// Day 3: only user_2 replies.
	summary := f.runDay(t, day.AddDate(0, 0, 2), "user_2")
	require.Equal(t, 1, summary.Results[0].StreaksReset)
	require.Equal(t, 1, summary.Results[0].RewardsIssued)

	s1 := f.streak(t, "user_1")
	require.Equal(t, 0, s1.Current)
	require.Equal(t, 2, s1.Best)

	s2 := f.streak(t, "user_2")
	require.Equal(t, 3, s2.Current)
	require.Equal(t, 3, s2.Best)

	// Day 4: both reply again. user_1 restarts at 1, best untouched.
	summary = f.runDay(t, day.AddDate(0, 0, 3), "user_1", "user_2")
	require.Equal(t, 0, summary.Results[0].RewardsIssued)

	s1 = f.streak(t, "user_1")
	require.Equal(t, 1, s1.Current)
	require.Equal(t, 2, s1.Best)
	require.Equal(t, 4, f.streak(t, "user_2").Current)
	require.Equal(t, 4, f.streak(t, "user_2").WeekCount)
}

func TestRewardIssuedAtThreshold(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "pass_1")

	day := f.now
	for i := 0; i < 3; i++ {
		f.runDay(t, day.AddDate(0, 0, i), "user_1")
	}

	require.Len(t, f.issuer.requests, 1)
	req := f.issuer.requests[0]
	require.Equal(t, "pass_1", req.AccessPassID)
	require.Equal(t, 20, req.Percentage)
	require.Equal(t, 1, req.Stock)
	require.True(t, strings.HasPrefix(req.Code, "QUEST-3D-"))

	has, err := f.store.HasReward(context.Background(), testExperienceID, f.userID(t, "user_1"), 3)
	require.NoError(t, err)
	require.True(t, has)

	// The congrats message went out with the code.
	texts := f.gateway.sentTexts()
	require.Contains(t, texts[len(texts)-1], req.Code)
	require.Contains(t, texts[len(texts)-1], "3-day streak")
}

func TestNoRewardWithoutAccessPass(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")

	day := f.now
	for i := 0; i < 3; i++ {
		f.runDay(t, day.AddDate(0, 0, i), "user_1")
	}

	require.Empty(t, f.issuer.requests)
	require.Equal(t, 3, f.streak(t, "user_1").Current)
}

func TestRewardNotReissuedAfterReset(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "pass_1")

	day := f.now
	for i := 0; i < 3; i++ {
		f.runDay(t, day.AddDate(0, 0, i), "user_1")
	}
	require.Len(t, f.issuer.requests, 1)

	// Miss a day, then climb back to 3. The (user, threshold) pair already
	// holds a reward, so nothing new is issued.
	f.runDay(t, day.AddDate(0, 0, 3))
	for i := 4; i < 7; i++ {
		f.runDay(t, day.AddDate(0, 0, i), "user_1")
	}

	require.Len(t, f.issuer.requests, 1)
	require.Equal(t, 3, f.streak(t, "user_1").Current)
}

func TestRewardSurvivesCongratsFailure(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "pass_1")
	ctx := context.Background()

	day := f.now
	f.runDay(t, day, "user_1")
	f.runDay(t, day.AddDate(0, 0, 1), "user_1")

	// Day 3: prompt goes out fine, then sends start failing before the
	// congrats message.
	f.now = day.AddDate(0, 0, 2)
	_, err := f.engine.RunDailyPrompt(ctx)
	require.NoError(t, err)
	f.gateway.feed[testExperienceID] = []whop.ChatMessage{
		{ActorID: "user_1", Text: "done", CreatedAt: f.now.Add(time.Minute)},
	}
	f.gateway.sendErr = errors.New("chat unavailable")

	f.now = day.AddDate(0, 0, 3)
	summary, err := f.engine.RunRollover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Results[0].RewardsIssued)

	has, err := f.store.HasReward(ctx, testExperienceID, f.userID(t, "user_1"), 3)
	require.NoError(t, err)
	require.True(t, has)
}

func TestPromoCodeFailureSkipsReward(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "pass_1")

	f.issuer.err = errors.New("promo api down")
	day := f.now
	var summary *RunSummary
	for i := 0; i < 3; i++ {
		summary = f.runDay(t, day.AddDate(0, 0, i), "user_1")
	}

	// The streak still advanced; only the reward issuance failed.
	require.Equal(t, 0, summary.Results[0].RewardsIssued)
	require.Equal(t, 3, f.streak(t, "user_1").Current)

	has, err := f.store.HasReward(context.Background(), testExperienceID, f.userID(t, "user_1"), 3)
	require.NoError(t, err)
	require.False(t, has)
}

func TestWeeklySummaryPostsAndResets(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")
	ctx := context.Background()

	day := f.now
	f.runDay(t, day, "user_1", "user_2")
	f.runDay(t, day.AddDate(0, 0, 1), "user_1")

	summary, err := f.engine.RunWeeklySummary(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, summary.Results[0].Status)
	require.Equal(t, 2, summary.Results[0].TopPerformers)

	texts := f.gateway.sentTexts()
	last := texts[len(texts)-1]
	require.Contains(t, last, "Weekly Quest Leaderboard")
	require.Contains(t, last, "🥇 user_1_name — 2 quests")
	require.Contains(t, last, "🥈 user_2_name — 1 quests")

	require.Equal(t, 0, f.streak(t, "user_1").WeekCount)
	require.Equal(t, 2, f.streak(t, "user_1").Current)

	// A quiet week posts nothing but still succeeds.
	sentBefore := len(f.gateway.sentTexts())
	summary, err = f.engine.RunWeeklySummary(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Results[0].TopPerformers)
	require.Len(t, f.gateway.sentTexts(), sentBefore)
}

func TestWeeklySummaryLeaderboardSendFailureStillResets(t *testing.T) {
	f := newFixture(t)
	f.seedExperience(t, "")

	day := f.now
	f.runDay(t, day, "user_1")

	f.gateway.sendErr = errors.New("chat unavailable")
	summary, err := f.engine.RunWeeklySummary(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, summary.Results[0].Status)
	require.Equal(t, 0, f.streak(t, "user_1").WeekCount)
}

func TestDisplayName(t *testing.T) {
	name := "alice"
	require.Equal(t, "alice", displayName(&name, "user_123456789"))
	require.Equal(t, "User 456789", displayName(nil, "user_123456789"))
	require.Equal(t, "User abc", displayName(nil, "abc"))
}
