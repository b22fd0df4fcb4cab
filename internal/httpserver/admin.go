package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"questchat/internal/repo"
)

type configResponse struct {
	ExperienceID     string    `json:"experienceId"`
	PromptTimeUTC    string    `json:"promptTimeUtc"`
	GraceMinutes     int       `json:"graceMinutes"`
	RewardPercentage int       `json:"rewardPercentage"`
	RewardStock      int       `json:"rewardStock"`
	RewardExpiryDays int       `json:"rewardExpiryDays"`
	MinStreak3       int       `json:"minStreak3"`
	MinStreak7       int       `json:"minStreak7"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toConfigResponse(cfg *repo.Config) configResponse {
	return configResponse{
		ExperienceID:     cfg.ExperienceID,
		PromptTimeUTC:    cfg.PromptTimeUTC,
		GraceMinutes:     cfg.GraceMinutes,
		RewardPercentage: cfg.RewardPercentage,
		RewardStock:      cfg.RewardStock,
		RewardExpiryDays: cfg.RewardExpiryDays,
		MinStreak3:       cfg.MinStreak3,
		MinStreak7:       cfg.MinStreak7,
		UpdatedAt:        cfg.UpdatedAt,
	}
}

// configUpdate is a partial update; omitted fields keep their current value.
type configUpdate struct {
	Name             string  `json:"name"`
	AccessPassID     *string `json:"accessPassId"`
	PromptTimeUTC    *string `json:"promptTimeUtc"`
	GraceMinutes     *int    `json:"graceMinutes"`
	RewardPercentage *int    `json:"rewardPercentage"`
	RewardStock      *int    `json:"rewardStock"`
	RewardExpiryDays *int    `json:"rewardExpiryDays"`
	MinStreak3       *int    `json:"minStreak3"`
	MinStreak7       *int    `json:"minStreak7"`
}

func (h *handler) getConfig(w http.ResponseWriter, r *http.Request) {
	experienceID := chi.URLParam(r, "experienceID")

	cfg, err := h.store.GetConfig(r.Context(), experienceID)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}
	if err != nil {
		h.logger.Error("config read failed", "experience_id", experienceID, "err", err)
		writeError(w, http.StatusInternalServerError, "config read failed")
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

// putConfig provisions the experience on first write and applies a partial
// config update on top of the stored values (or the defaults).
func (h *handler) putConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	experienceID := chi.URLParam(r, "experienceID")

	var update configUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	cfg, err := h.store.GetConfig(ctx, experienceID)
	if errors.Is(err, repo.ErrNotFound) {
		defaults := repo.DefaultConfig(experienceID)
		cfg = &defaults
	} else if err != nil {
		h.logger.Error("config read failed", "experience_id", experienceID, "err", err)
		writeError(w, http.StatusInternalServerError, "config read failed")
		return
	}

	applyUpdate(cfg, update)
	if err := validateConfig(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	name := update.Name
	if name == "" {
		name = experienceID
	}
	if _, err := h.store.UpsertExperience(ctx, repo.ExperienceParams{
		ExperienceID: experienceID,
		Name:         name,
		AccessPassID: update.AccessPassID,
	}); err != nil {
		h.logger.Error("experience upsert failed", "experience_id", experienceID, "err", err)
		writeError(w, http.StatusInternalServerError, "experience write failed")
		return
	}

	saved, err := h.store.UpsertConfig(ctx, *cfg)
	if err != nil {
		h.logger.Error("config upsert failed", "experience_id", experienceID, "err", err)
		writeError(w, http.StatusInternalServerError, "config write failed")
		return
	}

	h.logger.Info("config updated", "experience_id", experienceID)
	writeJSON(w, http.StatusOK, toConfigResponse(saved))
}

func applyUpdate(cfg *repo.Config, update configUpdate) {
	if update.PromptTimeUTC != nil {
		cfg.PromptTimeUTC = *update.PromptTimeUTC
	}
	if update.GraceMinutes != nil {
		cfg.GraceMinutes = *update.GraceMinutes
	}
	if update.RewardPercentage != nil {
		cfg.RewardPercentage = *update.RewardPercentage
	}
	if update.RewardStock != nil {
		cfg.RewardStock = *update.RewardStock
	}
	if update.RewardExpiryDays != nil {
		cfg.RewardExpiryDays = *update.RewardExpiryDays
	}
	if update.MinStreak3 != nil {
		cfg.MinStreak3 = *update.MinStreak3
	}
	if update.MinStreak7 != nil {
		cfg.MinStreak7 = *update.MinStreak7
	}
}

func validateConfig(cfg *repo.Config) error {
	if _, err := time.Parse("15:04", cfg.PromptTimeUTC); err != nil {
		return fmt.Errorf("promptTimeUtc must be HH:MM, got %q", cfg.PromptTimeUTC)
	}
	if cfg.GraceMinutes < 0 || cfg.GraceMinutes > 24*60 {
		return fmt.Errorf("graceMinutes must be between 0 and 1440")
	}
	if cfg.RewardPercentage < 1 || cfg.RewardPercentage > 100 {
		return fmt.Errorf("rewardPercentage must be between 1 and 100")
	}
	if cfg.RewardStock < 1 {
		return fmt.Errorf("rewardStock must be at least 1")
	}
	if cfg.RewardExpiryDays < 1 {
		return fmt.Errorf("rewardExpiryDays must be at least 1")
	}
	if cfg.MinStreak3 < 1 || cfg.MinStreak7 <= cfg.MinStreak3 {
		return fmt.Errorf("thresholds must satisfy 1 <= minStreak3 < minStreak7")
	}
	return nil
}

type leaderboardEntry struct {
	Rank           int    `json:"rank"`
	PlatformUserID string `json:"platformUserId"`
	Username       string `json:"username,omitempty"`
	CurrentStreak  int    `json:"currentStreak"`
	BestStreak     int    `json:"bestStreak"`
	WeekCount      int    `json:"weekCount"`
}

func (h *handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	experienceID := chi.URLParam(r, "experienceID")

	if _, err := h.store.GetExperience(r.Context(), experienceID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "experience not found")
			return
		}
		h.logger.Error("experience read failed", "experience_id", experienceID, "err", err)
		writeError(w, http.StatusInternalServerError, "experience read failed")
		return
	}

	board, err := h.store.TopWeekly(r.Context(), experienceID, 10)
	if err != nil {
		h.logger.Error("leaderboard read failed", "experience_id", experienceID, "err", err)
		writeError(w, http.StatusInternalServerError, "leaderboard read failed")
		return
	}

	entries := make([]leaderboardEntry, 0, len(board))
	for i, row := range board {
		entry := leaderboardEntry{
			Rank:           i + 1,
			PlatformUserID: row.PlatformUserID,
			CurrentStreak:  row.Current,
			BestStreak:     row.Best,
			WeekCount:      row.WeekCount,
		}
		if row.Username != nil {
			entry.Username = *row.Username
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"experienceId": experienceID,
		"entries":      entries,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
