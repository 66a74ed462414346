package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aluiziolira/go-retail-prices/config"
	"github.com/aluiziolira/go-retail-prices/stats"
)

// LevelCritical marks the one log line that ends a job.
const LevelCritical = slog.LevelError + 4

// AbortReasonHighFailureRate is the machine-readable reason passed to the job
// controller when the breaker trips.
const AbortReasonHighFailureRate = "high_failure_rate"

// JobController is the external surface the breaker aborts through.
type JobController interface {
	Abort(reason string)
}

// FailureRateMonitor is a job-lifetime circuit breaker. It samples the
// failure rate whenever the request queue goes idle, never per response, and
// aborts the job once the rate crosses the threshold. Tripping is one-shot:
// there is no resume-and-recheck.
type FailureRateMonitor struct {
	stats      *stats.JobStats
	threshold  float64
	minSample  int64
	controller JobController
	metrics    *Metrics

	mu      sync.Mutex
	tripped bool
}

// NewFailureRateMonitor wires the breaker to the shared job stats and the
// controller it aborts through.
func NewFailureRateMonitor(cfg *config.Config, st *stats.JobStats, controller JobController, m *Metrics) *FailureRateMonitor {
	return &FailureRateMonitor{
		stats:      st,
		threshold:  cfg.BreakerThreshold,
		minSample:  cfg.BreakerMinSample,
		controller: controller,
		metrics:    m,
	}
}

// OnIdle evaluates the failure rate at the queue-idle sampling point. The
// numerator counts transport/server-level failures only (403, 429, 500);
// soft-ban and empty-payload flags are a separate signal and do not feed it.
// Below the minimum sample size the monitor always stays running. Calls after
// the trip are no-ops.
func (fm *FailureRateMonitor) OnIdle() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.tripped {
		return
	}

	total := fm.stats.Requests()
	if total <= fm.minSample {
		return
	}
	errorCount := fm.stats.StatusCount(
		http.StatusForbidden,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
	)
	rate := float64(errorCount) / float64(total)
	if rate <= fm.threshold {
		return
	}

	fm.tripped = true
	slog.Log(context.Background(), LevelCritical, "circuit breaker tripped, stopping job",
		slog.Float64("failure_rate", rate),
		slog.Float64("threshold", fm.threshold),
		slog.Int64("requests", total),
		slog.Int64("errors", errorCount),
	)
	if fm.metrics != nil {
		fm.metrics.IncBreakerTrips()
	}
	fm.controller.Abort(AbortReasonHighFailureRate)
}

// Tripped reports whether the breaker has fired.
func (fm *FailureRateMonitor) Tripped() bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.tripped
}
