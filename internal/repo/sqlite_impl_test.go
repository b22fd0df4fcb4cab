package repo

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"questchat/migrations"
)

func newTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "questchat_test.db")
	r, err := NewSQLite(ctx, path, slog.Default())
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.NoError(t, r.RunMigrations(ctx, migrations.Files))
	return r
}

func strPtr(s string) *string { return &s }

func TestSQLiteExperienceAndConfig(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	exp, err := r.UpsertExperience(ctx, ExperienceParams{ExperienceID: "exp_1", Name: "Test Community"})
	require.NoError(t, err)
	require.Equal(t, "exp_1", exp.ExperienceID)
	require.Nil(t, exp.Config)

	// no config yet: not listed for jobs
	configured, err := r.ListConfiguredExperiences(ctx)
	require.NoError(t, err)
	require.Empty(t, configured)

	_, err = r.UpsertConfig(ctx, DefaultConfig("exp_1"))
	require.NoError(t, err)

	configured, err = r.ListConfiguredExperiences(ctx)
	require.NoError(t, err)
	require.Len(t, configured, 1)
	require.NotNil(t, configured[0].Config)
	require.Equal(t, 3, configured[0].Config.MinStreak3)

	// upsert keeps existing access pass when the new one is nil
	_, err = r.UpsertExperience(ctx, ExperienceParams{ExperienceID: "exp_1", AccessPassID: strPtr("pass_1")})
	require.NoError(t, err)
	again, err := r.UpsertExperience(ctx, ExperienceParams{ExperienceID: "exp_1"})
	require.NoError(t, err)
	require.NotNil(t, again.AccessPassID)
	require.Equal(t, "pass_1", *again.AccessPassID)

	require.NoError(t, r.SetChatChannel(ctx, "exp_1", "feed_9"))
	got, err := r.GetExperience(ctx, "exp_1")
	require.NoError(t, err)
	require.NotNil(t, got.ChatChannelID)
	require.Equal(t, "feed_9", *got.ChatChannelID)

	_, err = r.GetExperience(ctx, "exp_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteMessageLogIdempotence(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	log := MessageLog{
		ExperienceID: "exp_1",
		ActorID:      "user_1",
		DayKey:       "2024-05-01",
		FirstPostAt:  time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}

	inserted, err := r.InsertMessageLog(ctx, log)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = r.InsertMessageLog(ctx, log)
	require.NoError(t, err)
	require.False(t, inserted)

	got, err := r.GetMessageLog(ctx, "exp_1", "user_1", "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, "user_1", got.ActorID)

	_, err = r.GetMessageLog(ctx, "exp_1", "user_1", "2024-05-02")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStreakLifecycle(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	u1, err := r.UpsertUserByPlatformID(ctx, "user_1", strPtr("alice"))
	require.NoError(t, err)
	u2, err := r.UpsertUserByPlatformID(ctx, "user_2", nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	s, err := r.IncrementStreak(ctx, "exp_1", u1.ID, now)
	require.NoError(t, err)
	require.Equal(t, 1, s.Current)
	require.Equal(t, 1, s.Best)
	require.Equal(t, 1, s.WeekCount)

	s, err = r.IncrementStreak(ctx, "exp_1", u1.ID, now)
	require.NoError(t, err)
	require.Equal(t, 2, s.Current)
	require.Equal(t, 2, s.Best)

	_, err = r.IncrementStreak(ctx, "exp_1", u2.ID, now)
	require.NoError(t, err)

	// u2 missed the day: only u1 stays active
	reset, err := r.ResetStreaksExcept(ctx, "exp_1", []string{u1.ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, reset)

	s2, err := r.GetStreak(ctx, "exp_1", u2.ID)
	require.NoError(t, err)
	require.Equal(t, 0, s2.Current)
	require.Equal(t, 1, s2.Best)
	require.Equal(t, 1, s2.WeekCount)

	// best survives a reset and current climbs again from 1
	s2, err = r.IncrementStreak(ctx, "exp_1", u2.ID, now)
	require.NoError(t, err)
	require.Equal(t, 1, s2.Current)
	require.Equal(t, 1, s2.Best)
	require.Equal(t, 2, s2.WeekCount)

	board, err := r.TopWeekly(ctx, "exp_1", 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	require.Equal(t, "user_2", board[0].PlatformUserID)
	require.Equal(t, 2, board[0].WeekCount)

	require.NoError(t, r.ResetWeekCounts(ctx, "exp_1"))
	board, err = r.TopWeekly(ctx, "exp_1", 10)
	require.NoError(t, err)
	require.Empty(t, board)
}

func TestSQLiteRewardUniqueness(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	u, err := r.UpsertUserByPlatformID(ctx, "user_1", strPtr("alice"))
	require.NoError(t, err)

	code, err := r.InsertIssuedCode(ctx, IssuedCode{
		Code:      "QUEST-3D-ALICE-123",
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)

	inserted, err := r.InsertReward(ctx, Reward{
		ExperienceID: "exp_1",
		UserID:       u.ID,
		Threshold:    3,
		IssuedCodeID: &code.ID,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = r.InsertReward(ctx, Reward{
		ExperienceID: "exp_1",
		UserID:       u.ID,
		Threshold:    3,
	})
	require.NoError(t, err)
	require.False(t, inserted)

	has, err := r.HasReward(ctx, "exp_1", u.ID, 3)
	require.NoError(t, err)
	require.True(t, has)

	has, err = r.HasReward(ctx, "exp_1", u.ID, 7)
	require.NoError(t, err)
	require.False(t, has)
}

func TestSQLiteUserUpsertKeepsUsername(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	u, err := r.UpsertUserByPlatformID(ctx, "user_1", strPtr("alice"))
	require.NoError(t, err)

	again, err := r.UpsertUserByPlatformID(ctx, "user_1", nil)
	require.NoError(t, err)
	require.Equal(t, u.ID, again.ID)
	require.NotNil(t, again.Username)
	require.Equal(t, "alice", *again.Username)
}
