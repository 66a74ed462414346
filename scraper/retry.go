package scraper

import (
	"log/slog"
	"time"

	"github.com/aluiziolira/go-retail-prices/config"
	"github.com/aluiziolira/go-retail-prices/stats"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DecisionKind is what the retry policy tells the transport to do with a
// classified response.
type DecisionKind int

const (
	// UseResponse means the response is final: either it was accepted, or the
	// retry ceiling was hit and the caller proceeds with degraded data.
	UseResponse DecisionKind = iota
	// Reissue means the request should be fetched again.
	Reissue
)

// Decision is the retry policy's verdict for one response.
type Decision struct {
	Kind    DecisionKind
	Request *Request
	Reason  string
}

// RetryPolicy applies the same bounded-retry mechanism to content-level
// failures (soft bans, empty payloads) that the transport already applies to
// connection errors and 5xx responses. It is an additional trigger for that
// mechanism, not a replacement.
type RetryPolicy struct {
	maxRetries int
	backoff    time.Duration
	backoffMax time.Duration
	stats      *stats.JobStats
	metrics    *Metrics

	// attempts tracks transport-level failures per URL. Bounded so a long
	// crawl cannot grow it without limit.
	attempts *lru.Cache[string, int]
}

// NewRetryPolicy builds the policy from configuration.
func NewRetryPolicy(cfg *config.Config, st *stats.JobStats, m *Metrics) (*RetryPolicy, error) {
	attempts, err := lru.New[string, int](cfg.RetryTrackerSize)
	if err != nil {
		return nil, err
	}
	return &RetryPolicy{
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		backoffMax: cfg.RetryBackoffMax,
		stats:      st,
		metrics:    m,
		attempts:   attempts,
	}, nil
}

// OnResponse decides whether a classified response is used or refetched.
// Accepted responses pass through with the request untouched. Non-accepted
// responses are reissued with an incremented retry count until the ceiling;
// past the ceiling the original response is final.
func (p *RetryPolicy) OnResponse(req *Request, verdict Verdict) Decision {
	if verdict.Accepted() {
		return Decision{Kind: UseResponse, Request: req}
	}

	next := req.RetryCount + 1
	if next > p.maxRetries {
		slog.Warn("retries exhausted, keeping response",
			slog.String("url", req.URL),
			slog.String("reason", verdict.Reason),
			slog.Int("retries", req.RetryCount),
		)
		return Decision{Kind: UseResponse, Request: req}
	}

	reissued := req.Clone()
	reissued.RetryCount = next
	p.attempts.Add(req.URL, next)
	if p.stats != nil {
		p.stats.IncRetry()
	}
	if p.metrics != nil {
		p.metrics.IncRetries()
	}
	slog.Warn("reissuing request",
		slog.String("url", req.URL),
		slog.String("reason", verdict.Reason),
		slog.Int("attempt", next),
	)
	return Decision{Kind: Reissue, Request: reissued, Reason: verdict.Reason}
}

// ScheduleError records a transport-level failure for url and reports the
// attempt number and whether another attempt is allowed. Shares the attempt
// ledger with OnResponse so the two triggers count against one ceiling.
func (p *RetryPolicy) ScheduleError(url string) (int, bool) {
	attempt, _ := p.attempts.Get(url)
	if attempt >= p.maxRetries {
		return attempt, false
	}
	attempt++
	p.attempts.Add(url, attempt)
	if p.stats != nil {
		p.stats.IncRetry()
	}
	if p.metrics != nil {
		p.metrics.IncRetries()
	}
	return attempt, true
}

// RetryCountFor returns how many attempts url has already consumed.
func (p *RetryPolicy) RetryCountFor(url string) int {
	attempt, _ := p.attempts.Get(url)
	return attempt
}

// Backoff returns the delay before the given attempt, doubling from the base
// and capped at the configured maximum.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := p.backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if p.backoffMax > 0 && delay > p.backoffMax {
		delay = p.backoffMax
	}
	return delay
}

// MaxRetries exposes the configured ceiling.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}
