package repo

import "time"

// SystemActorID marks message-log rows written by the prompt job itself. The
// row for (experience, SYSTEM, day) is the anchor the rollover job reads.
const SystemActorID = "SYSTEM"

// Experience represents a tenant installation scoped to one community chat.
type Experience struct {
	ID            string
	ExperienceID  string
	Name          string
	AccessPassID  *string
	ChatChannelID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Config is populated by queries that join the configs table.
	Config *Config
}

// ExperienceParams carries data used to upsert an experience.
type ExperienceParams struct {
	ExperienceID  string
	Name          string
	AccessPassID  *string
	ChatChannelID *string
}

// Config holds per-experience settings. An experience without a config row is
// inactive for scheduled jobs.
type Config struct {
	ExperienceID     string
	PromptTimeUTC    string
	GraceMinutes     int
	RewardPercentage int
	RewardStock      int
	RewardExpiryDays int
	MinStreak3       int
	MinStreak7       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DefaultConfig returns the settings applied when an admin has not customised
// anything yet.
func DefaultConfig(experienceID string) Config {
	return Config{
		ExperienceID:     experienceID,
		PromptTimeUTC:    "09:00",
		GraceMinutes:     90,
		RewardPercentage: 20,
		RewardStock:      1,
		RewardExpiryDays: 7,
		MinStreak3:       3,
		MinStreak7:       7,
	}
}

// Thresholds returns the reward thresholds in ascending order.
func (c Config) Thresholds() []int {
	return []int{c.MinStreak3, c.MinStreak7}
}

// User is a community member, created lazily on first observed reply.
type User struct {
	ID             string
	PlatformUserID string
	Username       *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageLog records that an actor posted first on a given calendar day for an
// experience. The unique (experience, actor, day) key is the idempotence guard
// against double-processing.
type MessageLog struct {
	ID           string
	ExperienceID string
	ActorID      string
	DayKey       string
	FirstPostAt  time.Time
	CreatedAt    time.Time
}

// Streak is per (experience, user) counter state.
type Streak struct {
	ID           string
	ExperienceID string
	UserID       string
	Current      int
	Best         int
	WeekCount    int
	LastActiveAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Reward records that a user received a reward at a streak threshold. At most
// one row exists per (experience, user, threshold).
type Reward struct {
	ID           string
	ExperienceID string
	UserID       string
	Type         string
	Threshold    int
	IssuedCodeID *string
	CreatedAt    time.Time
}

// RewardTypeStreak is the only reward type issued today.
const RewardTypeStreak = "streak"

// IssuedCode is a generated discount code with expiry.
type IssuedCode struct {
	ID        string
	Code      string
	PromoID   *string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// LeaderboardEntry is a row of the weekly leaderboard read.
type LeaderboardEntry struct {
	UserID         string
	PlatformUserID string
	Username       *string
	Current        int
	Best           int
	WeekCount      int
}
