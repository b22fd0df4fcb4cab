package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for data persistence. Insert methods that
// return a bool report whether a row was actually written; false means the
// unique-key idempotence guard was hit and the write was a no-op.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Experiences
	UpsertExperience(ctx context.Context, params ExperienceParams) (*Experience, error)
	GetExperience(ctx context.Context, experienceID string) (*Experience, error)
	ListConfiguredExperiences(ctx context.Context) ([]Experience, error)
	SetChatChannel(ctx context.Context, experienceID, channelID string) error
	UpsertConfig(ctx context.Context, cfg Config) (*Config, error)
	GetConfig(ctx context.Context, experienceID string) (*Config, error)

	// Users
	UpsertUserByPlatformID(ctx context.Context, platformUserID string, username *string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// Message logs
	InsertMessageLog(ctx context.Context, log MessageLog) (bool, error)
	GetMessageLog(ctx context.Context, experienceID, actorID, dayKey string) (*MessageLog, error)

	// Streaks
	IncrementStreak(ctx context.Context, experienceID, userID string, activeAt time.Time) (*Streak, error)
	GetStreak(ctx context.Context, experienceID, userID string) (*Streak, error)
	ResetStreaksExcept(ctx context.Context, experienceID string, activeUserIDs []string) (int64, error)
	TopWeekly(ctx context.Context, experienceID string, limit int) ([]LeaderboardEntry, error)
	ResetWeekCounts(ctx context.Context, experienceID string) error

	// Rewards
	InsertIssuedCode(ctx context.Context, code IssuedCode) (*IssuedCode, error)
	InsertReward(ctx context.Context, reward Reward) (bool, error)
	HasReward(ctx context.Context, experienceID, userID string, threshold int) (bool, error)
}
