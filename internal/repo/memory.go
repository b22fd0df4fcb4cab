package repo

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used by tests and local
// experiments. It enforces the same unique-key semantics as the SQL stores.
type MemoryRepository struct {
	mu sync.Mutex

	experiences map[string]*Experience // by external experience id
	configs     map[string]*Config     // by external experience id
	users       map[string]*User       // by internal id
	usersByPID  map[string]string      // platform user id -> internal id
	logs        map[string]*MessageLog // by experience|actor|day
	streaks     map[string]*Streak     // by experience|user
	rewards     map[string]*Reward     // by experience|user|threshold
	codes       map[string]*IssuedCode // by internal id
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		experiences: map[string]*Experience{},
		configs:     map[string]*Config{},
		users:       map[string]*User{},
		usersByPID:  map[string]string{},
		logs:        map[string]*MessageLog{},
		streaks:     map[string]*Streak{},
		rewards:     map[string]*Reward{},
		codes:       map[string]*IssuedCode{},
	}
}

func (r *MemoryRepository) Close() {}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error { return nil }

func (r *MemoryRepository) UpsertExperience(ctx context.Context, params ExperienceParams) (*Experience, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	e, ok := r.experiences[params.ExperienceID]
	if !ok {
		e = &Experience{
			ID:           uuid.NewString(),
			ExperienceID: params.ExperienceID,
			CreatedAt:    now,
		}
		r.experiences[params.ExperienceID] = e
	}
	if params.Name != "" {
		e.Name = params.Name
	}
	if params.AccessPassID != nil {
		e.AccessPassID = params.AccessPassID
	}
	if params.ChatChannelID != nil {
		e.ChatChannelID = params.ChatChannelID
	}
	e.UpdatedAt = now
	return r.cloneExperience(e), nil
}

func (r *MemoryRepository) GetExperience(ctx context.Context, experienceID string) (*Experience, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.experiences[experienceID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.cloneExperience(e), nil
}

func (r *MemoryRepository) ListConfiguredExperiences(ctx context.Context) ([]Experience, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Experience
	for id, e := range r.experiences {
		if _, ok := r.configs[id]; !ok {
			continue
		}
		out = append(out, *r.cloneExperience(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExperienceID < out[j].ExperienceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) SetChatChannel(ctx context.Context, experienceID, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.experiences[experienceID]
	if !ok {
		return fmt.Errorf("set chat channel: experience not found: %s", experienceID)
	}
	ch := channelID
	e.ChatChannelID = &ch
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) UpsertConfig(ctx context.Context, cfg Config) (*Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := r.configs[cfg.ExperienceID]
	if ok {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	saved := cfg
	r.configs[cfg.ExperienceID] = &saved
	out := saved
	return &out, nil
}

func (r *MemoryRepository) GetConfig(ctx context.Context, experienceID string) (*Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[experienceID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *cfg
	return &out, nil
}

func (r *MemoryRepository) UpsertUserByPlatformID(ctx context.Context, platformUserID string, username *string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if id, ok := r.usersByPID[platformUserID]; ok {
		u := r.users[id]
		if username != nil {
			u.Username = username
		}
		u.UpdatedAt = now
		out := *u
		return &out, nil
	}

	u := &User{
		ID:             uuid.NewString(),
		PlatformUserID: platformUserID,
		Username:       username,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.users[u.ID] = u
	r.usersByPID[platformUserID] = u.ID
	out := *u
	return &out, nil
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func logKey(experienceID, actorID, dayKey string) string {
	return experienceID + "|" + actorID + "|" + dayKey
}

func (r *MemoryRepository) InsertMessageLog(ctx context.Context, log MessageLog) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := logKey(log.ExperienceID, log.ActorID, log.DayKey)
	if _, ok := r.logs[key]; ok {
		return false, nil
	}
	log.ID = uuid.NewString()
	log.CreatedAt = time.Now().UTC()
	saved := log
	r.logs[key] = &saved
	return true, nil
}

func (r *MemoryRepository) GetMessageLog(ctx context.Context, experienceID, actorID, dayKey string) (*MessageLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.logs[logKey(experienceID, actorID, dayKey)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *log
	return &out, nil
}

func streakKey(experienceID, userID string) string {
	return experienceID + "|" + userID
}

func (r *MemoryRepository) IncrementStreak(ctx context.Context, experienceID, userID string, activeAt time.Time) (*Streak, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	key := streakKey(experienceID, userID)
	s, ok := r.streaks[key]
	if !ok {
		s = &Streak{
			ID:           uuid.NewString(),
			ExperienceID: experienceID,
			UserID:       userID,
			CreatedAt:    now,
		}
		r.streaks[key] = s
	}
	s.Current++
	if s.Current > s.Best {
		s.Best = s.Current
	}
	s.WeekCount++
	at := activeAt.UTC()
	s.LastActiveAt = &at
	s.UpdatedAt = now
	out := *s
	return &out, nil
}

func (r *MemoryRepository) GetStreak(ctx context.Context, experienceID, userID string) (*Streak, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streaks[streakKey(experienceID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (r *MemoryRepository) ResetStreaksExcept(ctx context.Context, experienceID string, activeUserIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make(map[string]struct{}, len(activeUserIDs))
	for _, id := range activeUserIDs {
		active[id] = struct{}{}
	}

	var reset int64
	for _, s := range r.streaks {
		if s.ExperienceID != experienceID || s.Current == 0 {
			continue
		}
		if _, ok := active[s.UserID]; ok {
			continue
		}
		s.Current = 0
		s.UpdatedAt = time.Now().UTC()
		reset++
	}
	return reset, nil
}

func (r *MemoryRepository) TopWeekly(ctx context.Context, experienceID string, limit int) ([]LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	var entries []LeaderboardEntry
	for _, s := range r.streaks {
		if s.ExperienceID != experienceID || s.WeekCount == 0 {
			continue
		}
		u := r.users[s.UserID]
		if u == nil {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UserID:         s.UserID,
			PlatformUserID: u.PlatformUserID,
			Username:       u.Username,
			Current:        s.Current,
			Best:           s.Best,
			WeekCount:      s.WeekCount,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].WeekCount != entries[j].WeekCount {
			return entries[i].WeekCount > entries[j].WeekCount
		}
		if entries[i].Best != entries[j].Best {
			return entries[i].Best > entries[j].Best
		}
		return entries[i].PlatformUserID < entries[j].PlatformUserID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *MemoryRepository) ResetWeekCounts(ctx context.Context, experienceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.streaks {
		if s.ExperienceID == experienceID {
			s.WeekCount = 0
			s.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (r *MemoryRepository) InsertIssuedCode(ctx context.Context, code IssuedCode) (*IssuedCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code.ID = uuid.NewString()
	code.CreatedAt = time.Now().UTC()
	saved := code
	r.codes[code.ID] = &saved
	out := saved
	return &out, nil
}

func rewardKey(experienceID, userID string, threshold int) string {
	return fmt.Sprintf("%s|%s|%d", experienceID, userID, threshold)
}

func (r *MemoryRepository) InsertReward(ctx context.Context, reward Reward) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rewardKey(reward.ExperienceID, reward.UserID, reward.Threshold)
	if _, ok := r.rewards[key]; ok {
		return false, nil
	}
	if reward.Type == "" {
		reward.Type = RewardTypeStreak
	}
	reward.ID = uuid.NewString()
	reward.CreatedAt = time.Now().UTC()
	saved := reward
	r.rewards[key] = &saved
	return true, nil
}

func (r *MemoryRepository) HasReward(ctx context.Context, experienceID, userID string, threshold int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rewards[rewardKey(experienceID, userID, threshold)]
	return ok, nil
}

func (r *MemoryRepository) cloneExperience(e *Experience) *Experience {
	out := *e
	if cfg, ok := r.configs[e.ExperienceID]; ok {
		cfgCopy := *cfg
		out.Config = &cfgCopy
	}
	return &out
}
