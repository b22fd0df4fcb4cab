package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"questchat/internal/repo"
)

// ErrNoAccessPass is returned when an experience has no access pass bound, so
// there is nothing to discover a chat feed from.
var ErrNoAccessPass = errors.New("experience has no access pass")

const channelCacheTTL = 24 * time.Hour

// ChatFinder looks up or creates the chat feed bound to an access pass.
type ChatFinder interface {
	FindOrCreateChat(ctx context.Context, accessPassID, name string) (string, error)
}

// ChannelCache is the subset of the cache used for resolved channel ids.
// A nil cache disables caching; resolution still works through the store.
type ChannelCache interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// Resolver maps an experience to its chat channel id, checking in order the
// stored column, the cache, and finally the platform's find-or-create call.
// Successful platform lookups are persisted so later job runs skip the trip.
type Resolver struct {
	store  repo.Repository
	cache  ChannelCache
	finder ChatFinder
	logger *slog.Logger
}

// New creates a Resolver. cache may be nil.
func New(store repo.Repository, cache ChannelCache, finder ChatFinder, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cache:  cache,
		finder: finder,
		logger: logger.With("component", "discovery"),
	}
}

func cacheKey(experienceID string) string {
	return "questchat:chat_channel:" + experienceID
}

// ResolveChannel returns the chat channel id for an experience.
func (r *Resolver) ResolveChannel(ctx context.Context, experienceID string) (string, error) {
	exp, err := r.store.GetExperience(ctx, experienceID)
	if err != nil {
		return "", fmt.Errorf("resolve channel: %w", err)
	}
	if exp.ChatChannelID != nil && *exp.ChatChannelID != "" {
		return *exp.ChatChannelID, nil
	}

	if r.cache != nil {
		cached, ok, err := r.cache.GetString(ctx, cacheKey(experienceID))
		if err != nil {
			r.logger.Warn("channel cache read failed", "experience_id", experienceID, "err", err)
		} else if ok {
			// Backfill the column so the cache entry can expire for good.
			if err := r.store.SetChatChannel(ctx, experienceID, cached); err != nil {
				r.logger.Warn("channel backfill failed", "experience_id", experienceID, "err", err)
			}
			return cached, nil
		}
	}

	if exp.AccessPassID == nil || *exp.AccessPassID == "" {
		return "", ErrNoAccessPass
	}

	channelID, err := r.finder.FindOrCreateChat(ctx, *exp.AccessPassID, exp.Name)
	if err != nil {
		return "", fmt.Errorf("resolve channel: %w", err)
	}

	if err := r.store.SetChatChannel(ctx, experienceID, channelID); err != nil {
		return "", fmt.Errorf("resolve channel: persist: %w", err)
	}
	if r.cache != nil {
		if err := r.cache.SetString(ctx, cacheKey(experienceID), channelID, channelCacheTTL); err != nil {
			r.logger.Warn("channel cache write failed", "experience_id", experienceID, "err", err)
		}
	}

	r.logger.Info("chat channel discovered", "experience_id", experienceID, "channel_id", channelID)
	return channelID, nil
}
