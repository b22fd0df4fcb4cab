package discovery

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"questchat/internal/cache"
	"questchat/internal/repo"
)

type fakeFinder struct {
	calls   int
	channel string
	err     error
}

func (f *fakeFinder) FindOrCreateChat(ctx context.Context, accessPassID, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.channel, nil
}

func seedExperience(t *testing.T, store repo.Repository, accessPassID, channelID string) {
	t.Helper()
	params := repo.ExperienceParams{ExperienceID: "exp_1", Name: "Community"}
	if accessPassID != "" {
		params.AccessPassID = &accessPassID
	}
	if channelID != "" {
		params.ChatChannelID = &channelID
	}
	_, err := store.UpsertExperience(context.Background(), params)
	require.NoError(t, err)
}

func newTestCache(t *testing.T) *cache.Redis {
	t.Helper()
	srv := miniredis.RunT(t)
	return cache.New(cache.Config{Addr: srv.Addr()}, slog.Default())
}

func TestResolveUsesStoredChannel(t *testing.T) {
	store := repo.NewMemory()
	seedExperience(t, store, "pass_1", "feed_stored")
	finder := &fakeFinder{channel: "feed_fresh"}

	r := New(store, nil, finder, slog.Default())

	got, err := r.ResolveChannel(context.Background(), "exp_1")
	require.NoError(t, err)
	require.Equal(t, "feed_stored", got)
	require.Zero(t, finder.calls)
}

func TestResolveDiscoversAndPersists(t *testing.T) {
	store := repo.NewMemory()
	seedExperience(t, store, "pass_1", "")
	finder := &fakeFinder{channel: "feed_42"}

	r := New(store, newTestCache(t), finder, slog.Default())
	ctx := context.Background()

	got, err := r.ResolveChannel(ctx, "exp_1")
	require.NoError(t, err)
	require.Equal(t, "feed_42", got)
	require.Equal(t, 1, finder.calls)

	exp, err := store.GetExperience(ctx, "exp_1")
	require.NoError(t, err)
	require.NotNil(t, exp.ChatChannelID)
	require.Equal(t, "feed_42", *exp.ChatChannelID)

	// Second resolve reads the stored column, not the platform.
	got, err = r.ResolveChannel(ctx, "exp_1")
	require.NoError(t, err)
	require.Equal(t, "feed_42", got)
	require.Equal(t, 1, finder.calls)
}

func TestResolveServesFromCache(t *testing.T) {
	store := repo.NewMemory()
	seedExperience(t, store, "pass_1", "")
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetString(ctx, cacheKey("exp_1"), "feed_cached", channelCacheTTL))

	finder := &fakeFinder{channel: "feed_fresh"}
	r := New(store, c, finder, slog.Default())

	got, err := r.ResolveChannel(ctx, "exp_1")
	require.NoError(t, err)
	require.Equal(t, "feed_cached", got)
	require.Zero(t, finder.calls)

	// The cache hit was written back to the store.
	exp, err := store.GetExperience(ctx, "exp_1")
	require.NoError(t, err)
	require.NotNil(t, exp.ChatChannelID)
	require.Equal(t, "feed_cached", *exp.ChatChannelID)
}

func TestResolveWithoutAccessPass(t *testing.T) {
	store := repo.NewMemory()
	seedExperience(t, store, "", "")

	r := New(store, nil, &fakeFinder{channel: "feed_1"}, slog.Default())

	_, err := r.ResolveChannel(context.Background(), "exp_1")
	require.ErrorIs(t, err, ErrNoAccessPass)
}

func TestResolveUnknownExperience(t *testing.T) {
	store := repo.NewMemory()
	r := New(store, nil, &fakeFinder{}, slog.Default())

	_, err := r.ResolveChannel(context.Background(), "exp_missing")
	require.ErrorIs(t, err, repo.ErrNotFound)
}
