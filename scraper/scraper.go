// Package scraper drives crawl jobs and owns the resilience core: response
// classification, bounded retry, and the failure-rate circuit breaker.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-retail-prices/config"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/pipeline"
	"github.com/aluiziolira/go-retail-prices/stats"
	"github.com/gocolly/colly/v2"
)

// Spider is the per-site extraction glue. Parse converts an accepted response
// into raw product mappings plus follow-up URLs; it never talks to the
// network itself.
type Spider interface {
	Name() string
	Retailer() string
	AllowedDomains() []string
	Start() []string
	Parse(resp *Response) (items []models.RawProduct, next []string, err error)
}

// Engine runs one crawl job for a single spider over the colly transport.
// It classifies every response before extraction, consults the retry policy,
// feeds the shared job stats, and exposes the lifecycle events the circuit
// breaker and summary logging hang off.
type Engine struct {
	cfg        *config.Config
	collector  *colly.Collector
	classifier *Classifier
	retry      *RetryPolicy
	stats      *stats.JobStats
	metrics    *Metrics
	spider     Spider
	sink       *pipeline.Pipeline

	handlersOnce sync.Once
	reissueWg    sync.WaitGroup

	mu              sync.Mutex
	aborted         bool
	abortReason     string
	failedURLs      []string
	timers          map[uint64]*time.Timer
	timerSeq        uint64
	issuedSinceIdle bool

	openedSubs []func()
	idleSubs   []func()
	closedSubs []func(*models.JobSummary)
}

// NewEngine builds an engine for one spider.
func NewEngine(cfg *config.Config, spider Spider, sink *pipeline.Pipeline, st *stats.JobStats, m *Metrics) (*Engine, error) {
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
	}
	if domains := spider.AllowedDomains(); len(domains) > 0 {
		opts = append(opts, colly.AllowedDomains(domains...))
	}
	collector := colly.NewCollector(opts...)
	collector.SetRequestTimeout(cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, err
	}

	retry, err := NewRetryPolicy(cfg, st, m)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		collector:  collector,
		classifier: NewClassifier(cfg),
		retry:      retry,
		stats:      st,
		metrics:    m,
		spider:     spider,
		sink:       sink,
		timers:     make(map[uint64]*time.Timer),
	}, nil
}

// OnOpened registers a subscriber for the job-opened event.
func (e *Engine) OnOpened(fn func()) {
	e.openedSubs = append(e.openedSubs, fn)
}

// OnIdle registers a subscriber for the queue-idle event. Subscribers run
// synchronously, in registration order, after in-flight requests drain.
func (e *Engine) OnIdle(fn func()) {
	e.idleSubs = append(e.idleSubs, fn)
}

// OnClosed registers a subscriber for the job-closed event.
func (e *Engine) OnClosed(fn func(*models.JobSummary)) {
	e.closedSubs = append(e.closedSubs, fn)
}

// Abort stops the job with the given reason. New requests are not scheduled,
// pending reissues are cancelled, and in-flight requests drain. Abort is the
// only cancellation path; calling it twice keeps the first reason.
func (e *Engine) Abort(reason string) {
	e.mu.Lock()
	if e.aborted {
		e.mu.Unlock()
		return
	}
	e.aborted = true
	e.abortReason = reason
	e.mu.Unlock()

	slog.Info("aborting job", slog.String("reason", reason))
	e.cancelReissues()
}

// Run executes the crawl and blocks until the job closes. The returned
// summary is also handed to every closed subscriber.
func (e *Engine) Run(ctx context.Context) *models.JobSummary {
	e.configureHandlers()

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.Abort("shutdown")
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	slog.Info("job opened",
		slog.String("spider", e.spider.Name()),
		slog.String("job_id", e.stats.JobID),
		slog.Int("parallelism", e.cfg.Parallelism),
		slog.Duration("delay", e.cfg.Delay),
		slog.String("resume_dir", orDisabled(e.cfg.JobDir)),
	)
	for _, fn := range e.openedSubs {
		fn()
	}

	for _, u := range e.spider.Start() {
		e.visit(u)
	}

	for {
		e.collector.Wait()
		for _, fn := range e.idleSubs {
			fn()
		}
		if e.isAborted() {
			e.cancelReissues()
		}
		if !e.drainReissues() {
			break
		}
	}

	summary := stats.Summarize(e.stats, e.spider.Name(), e.closeReason())
	slog.Info("job closed",
		slog.String("spider", summary.Spider),
		slog.String("reason", summary.Reason),
		slog.Duration("duration", summary.Duration()),
		slog.Int64("items", summary.ItemCount),
		slog.Int64("requests", summary.RequestCount),
	)
	for _, fn := range e.closedSubs {
		fn(summary)
	}
	return summary
}

// FailedURLs returns the URLs that exhausted their transport-level retries.
func (e *Engine) FailedURLs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.failedURLs))
	copy(out, e.failedURLs)
	return out
}

func (e *Engine) configureHandlers() {
	e.handlersOnce.Do(func() {
		e.collector.OnRequest(func(r *colly.Request) {
			if e.isAborted() {
				r.Abort()
				return
			}
			r.Ctx.Put("start", time.Now())
			e.stats.IncRequest()
			e.metrics.IncRequest("started")
		})

		e.collector.OnResponse(func(r *colly.Response) {
			e.stats.IncStatus(r.StatusCode)
			if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
				e.metrics.ObserveDuration(time.Since(start))
			}

			req := e.requestFor(r.Ctx, r.Request)
			resp := &Response{
				StatusCode: r.StatusCode,
				Headers:    headerCopy(r.Headers),
				Body:       r.Body,
				Request:    req,
			}

			verdict := e.classifier.Classify(resp)
			if !verdict.Accepted() {
				e.metrics.IncSoftSignal(verdict.Kind.String())
			}
			decision := e.retry.OnResponse(req, verdict)
			if decision.Kind == Reissue {
				e.scheduleReissue(decision.Request, e.retry.Backoff(decision.Request.RetryCount))
				return
			}
			e.extract(resp)
		})

		e.collector.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			url := ""
			var cctx *colly.Context
			if r != nil {
				statusCode = r.StatusCode
				cctx = r.Ctx
				if r.Request != nil && r.Request.URL != nil {
					url = r.Request.URL.String()
				}
			}
			if statusCode > 0 {
				e.stats.IncStatus(statusCode)
			}

			classified := classifyError(err, statusCode)
			category := errorTypeLabel(classified)
			e.metrics.IncError(category)
			slog.Error("request error",
				slog.String("url", url),
				slog.String("category", category),
				slog.Any("error", err),
			)

			if url == "" || e.isAborted() {
				return
			}
			if attempt, ok := e.retry.ScheduleError(url); ok {
				slog.Warn("retrying after transport failure",
					slog.String("url", url),
					slog.Int("attempt", attempt),
				)
				var req *Request
				if cctx != nil {
					req = e.requestFor(cctx, nil)
				}
				if req == nil || req.URL == "" {
					req = NewRequest(url)
				}
				req.RetryCount = attempt
				e.scheduleReissue(req, e.retry.Backoff(attempt))
			} else {
				e.mu.Lock()
				e.failedURLs = append(e.failedURLs, url)
				e.mu.Unlock()
			}
		})
	})
}

func (e *Engine) extract(resp *Response) {
	items, next, err := e.spider.Parse(resp)
	if err != nil {
		slog.Error("extraction failed",
			slog.String("url", resp.Request.URL),
			slog.Any("error", err),
		)
		e.metrics.IncError("extraction")
		return
	}

	for _, item := range items {
		e.stats.IncItem()
		e.metrics.IncItems()
		err := e.sink.Process(item)
		if err == nil || errors.Is(err, pipeline.ErrPipelineClosed) {
			continue
		}
		var rejection *pipeline.Rejection
		if errors.As(err, &rejection) {
			continue // counted and logged by the pipeline
		}
		slog.Error("pipeline process error", slog.Any("error", err))
	}
	for _, u := range next {
		e.visit(u)
	}
}

func (e *Engine) visit(url string) {
	req := NewRequest(url)
	req.Meta["spider"] = e.spider.Name()
	req.RetryCount = e.retry.RetryCountFor(url)
	e.issue(req)
}

func (e *Engine) issue(req *Request) {
	if e.isAborted() {
		return
	}
	cctx := colly.NewContext()
	cctx.Put("req", req)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if err := e.collector.Request(method, req.URL, body, cctx, req.Headers); err != nil {
		slog.Debug("request refused", slog.String("url", req.URL), slog.Any("error", err))
	}
}

func (e *Engine) scheduleReissue(req *Request, delay time.Duration) {
	e.mu.Lock()
	if e.aborted {
		e.mu.Unlock()
		return
	}
	e.reissueWg.Add(1)
	id := e.timerSeq
	e.timerSeq++
	e.timers[id] = time.AfterFunc(delay, func() {
		defer e.reissueWg.Done()
		e.mu.Lock()
		delete(e.timers, id)
		aborted := e.aborted
		e.issuedSinceIdle = !aborted
		e.mu.Unlock()
		if aborted {
			return
		}
		e.issue(req)
	})
	e.mu.Unlock()
}

func (e *Engine) cancelReissues() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, timer := range e.timers {
		if timer.Stop() {
			e.reissueWg.Done()
		}
		delete(e.timers, id)
	}
}

// drainReissues waits for pending reissue timers and reports whether any
// request was actually issued since the last idle point.
func (e *Engine) drainReissues() bool {
	e.reissueWg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	issued := e.issuedSinceIdle
	e.issuedSinceIdle = false
	return issued
}

func (e *Engine) isAborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

func (e *Engine) closeReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted {
		return e.abortReason
	}
	return "finished"
}

func (e *Engine) requestFor(cctx *colly.Context, fallback *colly.Request) *Request {
	if req, ok := cctx.GetAny("req").(*Request); ok {
		return req
	}
	url := ""
	if fallback != nil && fallback.URL != nil {
		url = fallback.URL.String()
	}
	req := NewRequest(url)
	req.Meta["spider"] = e.spider.Name()
	req.RetryCount = e.retry.RetryCountFor(url)
	return req
}

func headerCopy(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func orDisabled(s string) string {
	if s == "" {
		return "disabled"
	}
	return s
}
