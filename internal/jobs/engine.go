package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"questchat/internal/metrics"
	"questchat/internal/repo"
	"questchat/internal/whop"
)

const dayKeyFormat = "2006-01-02"

// Gateway is the messaging side of the chat platform consumed by the jobs.
type Gateway interface {
	SendChatMessage(ctx context.Context, channelID, text string) error
	ListChatMessages(ctx context.Context, channelID string) ([]whop.ChatMessage, error)
}

// CodeIssuer creates discount codes on the rewards side of the platform.
type CodeIssuer interface {
	CreatePromoCode(ctx context.Context, req whop.PromoCodeRequest) (string, error)
}

// Engine runs the scheduled jobs: daily prompt, rollover and weekly summary.
// Each run is a stateless batch over all configured experiences; one
// experience's failure never blocks another.
type Engine struct {
	store   repo.Repository
	gateway Gateway
	issuer  CodeIssuer
	metrics *metrics.Metrics
	logger  *slog.Logger

	// now is swappable in tests.
	now func() time.Time

	// locks serialises same-experience rollovers in-process. The MessageLog
	// unique key remains the durable guard across processes.
	locks sync.Map
}

// New creates a job engine.
func New(store repo.Repository, gateway Gateway, issuer CodeIssuer, metricRegistry *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		gateway: gateway,
		issuer:  issuer,
		metrics: metricRegistry,
		logger:  logger.With("component", "jobs"),
		now:     time.Now,
	}
}

func (e *Engine) lockFor(experienceID string) *sync.Mutex {
	actual, _ := e.locks.LoadOrStore(experienceID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func dayKey(t time.Time) string {
	return t.UTC().Format(dayKeyFormat)
}

// chatChannel returns the channel to address for an experience: the cached
// discovery result when present, otherwise the experience id itself, which
// the platform accepts for chat-enabled experiences.
func chatChannel(exp *repo.Experience) string {
	if exp.ChatChannelID != nil && *exp.ChatChannelID != "" {
		return *exp.ChatChannelID
	}
	return exp.ExperienceID
}

func (e *Engine) countJobRun(job string, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.JobRuns.WithLabelValues(job, status).Inc()
}

func (e *Engine) countResult(job string, res ExperienceResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.ExperienceResults.WithLabelValues(job, string(res.Status)).Inc()
}
