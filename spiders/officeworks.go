package spiders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-retail-prices/config"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/pipeline"
	"github.com/aluiziolira/go-retail-prices/scraper"
	"github.com/aluiziolira/go-retail-prices/stats"
	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
)

// Officeworks serves search results straight from a public Algolia index, so
// this spider talks to the API instead of crawling rendered pages.
const (
	officeworksAppID    = "K535CAAWVE"
	officeworksAPIKey   = "8a831febe0110932cfa06ff0e2024b4f"
	officeworksAgent    = "Algolia for JavaScript (3.35.1); Browser (lite); react (16.14.0); react-instantsearch (5.7.0); JS Helper (2.28.1)"
	officeworksIndex    = "prod-product-wc-bestmatch-personal"
	officeworksQuery    = "mobile phones"
	officeworksPageSize = 48
	officeworksBase     = "https://www.officeworks.com.au"
)

type algoliaPage struct {
	Hits []struct {
		Name       string  `json:"name"`
		Price      float64 `json:"price"`
		ProductURL string  `json:"productUrl"`
	} `json:"hits"`
	Page    int `json:"page"`
	NbPages int `json:"nbPages"`
}

// OfficeworksRunner pages through the Algolia index over plain HTTPS. It
// shares the classifier, job stats, and record pipeline with the crawl engine
// and exposes the same lifecycle surface, so the circuit breaker and summary
// logging wire in identically. The queue here is a single in-flight page
// request, which makes every gap between pages an idle point.
type OfficeworksRunner struct {
	cfg        *config.Config
	client     *resty.Client
	classifier *scraper.Classifier
	stats      *stats.JobStats
	metrics    *scraper.Metrics
	sink       *pipeline.Pipeline

	mu          sync.Mutex
	aborted     bool
	abortReason string

	openedSubs []func()
	idleSubs   []func()
	closedSubs []func(*models.JobSummary)
}

// NewOfficeworksRunner builds the API runner. Transport-level retries are
// delegated to the resty client; soft-ban and empty-payload verdicts from the
// classifier feed its retry condition so the bounded-retry behavior matches
// the crawl engine.
func NewOfficeworksRunner(cfg *config.Config, sink *pipeline.Pipeline, st *stats.JobStats, m *scraper.Metrics) *OfficeworksRunner {
	r := &OfficeworksRunner{
		cfg:        cfg,
		classifier: scraper.NewClassifier(cfg),
		stats:      st,
		metrics:    m,
		sink:       sink,
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "*/*").
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("x-algolia-application-id", officeworksAppID).
		SetHeader("x-algolia-api-key", officeworksAPIKey).
		SetHeader("x-algolia-agent", officeworksAgent).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryBackoff).
		SetRetryMaxWaitTime(cfg.RetryBackoffMax).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return !r.verdictFor(resp).Accepted()
		}).
		AddRetryHook(func(resp *resty.Response, err error) {
			st.IncRetry()
			m.IncRetries()
			slog.Warn("reissuing request",
				slog.String("spider", r.Name()),
				slog.String("url", requestURL(resp)),
				slog.Any("error", err),
			)
		}).
		OnBeforeRequest(func(_ *resty.Client, _ *resty.Request) error {
			st.IncRequest()
			m.IncRequest("started")
			return nil
		}).
		OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			st.IncStatus(resp.StatusCode())
			m.ObserveDuration(resp.Time())
			return nil
		})
	r.client = client
	return r
}

func (r *OfficeworksRunner) Name() string     { return "officeworks" }
func (r *OfficeworksRunner) Retailer() string { return "Officeworks" }

// OnOpened registers a subscriber for the job-opened event.
func (r *OfficeworksRunner) OnOpened(fn func()) {
	r.openedSubs = append(r.openedSubs, fn)
}

// OnIdle registers a subscriber for the between-pages idle point.
func (r *OfficeworksRunner) OnIdle(fn func()) {
	r.idleSubs = append(r.idleSubs, fn)
}

// OnClosed registers a subscriber for the job-closed event.
func (r *OfficeworksRunner) OnClosed(fn func(*models.JobSummary)) {
	r.closedSubs = append(r.closedSubs, fn)
}

// Abort stops the job after the in-flight page completes. Calling it twice
// keeps the first reason.
func (r *OfficeworksRunner) Abort(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return
	}
	r.aborted = true
	r.abortReason = reason
	slog.Info("aborting job", slog.String("reason", reason))
}

// Run pages through the index until it is exhausted, the breaker trips, or
// the context is cancelled. It blocks until the job closes and returns the
// job summary.
func (r *OfficeworksRunner) Run(ctx context.Context) *models.JobSummary {
	slog.Info("job opened",
		slog.String("spider", r.Name()),
		slog.String("job_id", r.stats.JobID),
	)
	for _, fn := range r.openedSubs {
		fn()
	}

	page := 0
	for {
		if ctx.Err() != nil {
			r.Abort("shutdown")
		}
		if r.isAborted() {
			break
		}

		result, err := r.fetchPage(ctx, page)
		if err != nil {
			slog.Error("request error",
				slog.String("spider", r.Name()),
				slog.Any("error", err),
			)
			r.metrics.IncError("other")
			break
		}
		for _, hit := range result.Hits {
			if hit.Name == "" {
				continue
			}
			r.processItem(models.RawProduct{
				Retailer: r.Retailer(),
				Name:     hit.Name,
				Price:    "$" + strconv.FormatFloat(hit.Price, 'f', -1, 64),
				URL:      officeworksBase + hit.ProductURL,
			})
		}

		// The single-request queue is empty here; let the breaker look at
		// the failure rate before the next page goes out.
		for _, fn := range r.idleSubs {
			fn()
		}

		page++
		if page >= result.NbPages {
			break
		}
		if !r.sleep(ctx, r.cfg.Delay) {
			r.Abort("shutdown")
		}
	}

	summary := stats.Summarize(r.stats, r.Name(), r.closeReason())
	slog.Info("job closed",
		slog.String("spider", summary.Spider),
		slog.String("reason", summary.Reason),
		slog.Duration("duration", summary.Duration()),
		slog.Int64("items", summary.ItemCount),
		slog.Int64("requests", summary.RequestCount),
	)
	for _, fn := range r.closedSubs {
		fn(summary)
	}
	return summary
}

func (r *OfficeworksRunner) fetchPage(ctx context.Context, page int) (*algoliaPage, error) {
	params := url.Values{}
	params.Set("query", officeworksQuery)
	params.Set("hitsPerPage", strconv.Itoa(officeworksPageSize))
	params.Set("page", strconv.Itoa(page))

	endpoint := fmt.Sprintf("https://%s-dsn.algolia.net/1/indexes/%s/query",
		officeworksAppID, officeworksIndex)
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"params": params.Encode()}).
		Post(endpoint)
	if err != nil {
		return nil, err
	}

	// Retries are spent at this point. A still-suspect body is kept rather
	// than dropped, matching the crawl engine's exhausted-retry policy.
	if verdict := r.verdictFor(resp); !verdict.Accepted() {
		r.metrics.IncSoftSignal(verdict.Kind.String())
		slog.Warn("retries exhausted, keeping response",
			slog.String("spider", r.Name()),
			slog.String("verdict", verdict.Kind.String()),
			slog.String("reason", verdict.Reason),
		)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("algolia query returned status %d", resp.StatusCode())
	}

	var result algoliaPage
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode algolia page %d: %w", page, err)
	}
	return &result, nil
}

func (r *OfficeworksRunner) processItem(item models.RawProduct) {
	r.stats.IncItem()
	r.metrics.IncItems()
	err := r.sink.Process(item)
	if err == nil {
		return
	}
	var rejection *pipeline.Rejection
	if errors.As(err, &rejection) || errors.Is(err, pipeline.ErrPipelineClosed) {
		return
	}
	slog.Error("pipeline process error", slog.Any("error", err))
}

func (r *OfficeworksRunner) verdictFor(resp *resty.Response) scraper.Verdict {
	return r.classifier.Classify(&scraper.Response{
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header(),
		Body:       resp.Body(),
		Request:    scraper.NewRequest(requestURL(resp)),
	})
}

func (r *OfficeworksRunner) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

func (r *OfficeworksRunner) closeReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return r.abortReason
	}
	return "finished"
}

// sleep waits out the inter-page delay, reporting false on cancellation.
func (r *OfficeworksRunner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func requestURL(resp *resty.Response) string {
	if resp == nil || resp.Request == nil {
		return ""
	}
	return resp.Request.URL
}
