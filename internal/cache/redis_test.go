package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	srv := miniredis.RunT(t)
	r := New(Config{Addr: srv.Addr()}, slog.Default())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestStringRoundTrip(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	_, ok, err := r.GetString(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.SetString(ctx, "chat:exp_1", "feed_123", time.Minute))

	val, ok, err := r.GetString(ctx, "chat:exp_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "feed_123", val)
}

func TestJSONRoundTrip(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, r.SetJSON(ctx, "board", payload{Name: "weekly", Count: 3}, time.Minute))

	var got payload
	ok, err := r.GetJSON(ctx, "board", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload{Name: "weekly", Count: 3}, got)

	ok, err = r.GetJSON(ctx, "absent", &got)
	require.NoError(t, err)
	require.False(t, ok)
}
