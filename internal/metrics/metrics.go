package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	JobRuns           *prometheus.CounterVec
	ExperienceResults *prometheus.CounterVec
	PromptsPosted     prometheus.Counter
	RewardsIssued     prometheus.Counter
	StreaksUpdated    prometheus.Counter
	StreakResets      prometheus.Counter
	WhopRequests      *prometheus.CounterVec
	WhopLatency       *prometheus.HistogramVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Total scheduled job invocations by job and outcome.",
			}, []string{"job", "status"}),
			ExperienceResults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experience_results_total",
				Help:      "Per-experience job results by job and status.",
			}, []string{"job", "status"}),
			PromptsPosted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prompts_posted_total",
				Help:      "Total daily prompts posted to chat.",
			}),
			RewardsIssued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rewards_issued_total",
				Help:      "Total streak rewards issued.",
			}),
			StreaksUpdated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streaks_updated_total",
				Help:      "Total streak increments applied during rollover.",
			}),
			StreakResets: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streak_resets_total",
				Help:      "Total streaks reset to zero for missed days.",
			}),
			WhopRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "whop_requests_total",
				Help:      "Total Whop API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			WhopLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "whop_request_duration_seconds",
				Help:      "Latency distribution for Whop API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.JobRuns,
			metricsInstance.ExperienceResults,
			metricsInstance.PromptsPosted,
			metricsInstance.RewardsIssued,
			metricsInstance.StreaksUpdated,
			metricsInstance.StreakResets,
			metricsInstance.WhopRequests,
			metricsInstance.WhopLatency,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
