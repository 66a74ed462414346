package spiders

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-retail-prices/config"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/pipeline"
	"github.com/aluiziolira/go-retail-prices/scraper"
	"github.com/aluiziolira/go-retail-prices/stats"
	"github.com/jarcoal/httpmock"
)

type captureStore struct {
	mu   sync.Mutex
	rows []models.ProductRecord
}

func (c *captureStore) EnsureIndex(context.Context, string, string) error { return nil }

func (c *captureStore) Insert(_ context.Context, _ string, record *models.ProductRecord) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, *record)
	return int64(len(c.rows)), nil
}

func (c *captureStore) records() []models.ProductRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ProductRecord, len(c.rows))
	copy(out, c.rows)
	return out
}

func officeworksTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Delay = 0
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func newOfficeworksFixture(t *testing.T, cfg *config.Config) (*OfficeworksRunner, *pipeline.Pipeline, *captureStore, *stats.JobStats) {
	t.Helper()
	store := &captureStore{}
	st := stats.NewJobStats()
	sink := pipeline.New("officeworks", store, nil, st, nil, cfg)
	if err := sink.Open(context.Background()); err != nil {
		t.Fatalf("open pipeline: %v", err)
	}
	sink.Start(1)

	runner := NewOfficeworksRunner(cfg, sink, st, scraper.NewMetrics())
	httpmock.ActivateNonDefault(runner.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return runner, sink, store, st
}

func algoliaResponder(t *testing.T, pages map[string]string) httpmock.Responder {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		for marker, payload := range pages {
			if strings.Contains(string(body), marker) {
				resp := httpmock.NewStringResponse(http.StatusOK, payload)
				resp.Header.Set("Content-Type", "application/json")
				return resp, nil
			}
		}
		return nil, fmt.Errorf("unexpected query body %q", body)
	}
}

func TestOfficeworksRunnerPagesThroughIndex(t *testing.T) {
	cfg := officeworksTestConfig()
	runner, sink, store, st := newOfficeworksFixture(t, cfg)

	endpoint := fmt.Sprintf("https://%s-dsn.algolia.net/1/indexes/%s/query", officeworksAppID, officeworksIndex)
	httpmock.RegisterResponder("POST", endpoint, algoliaResponder(t, map[string]string{
		"page=0": `{"hits":[
			{"name":"iPhone 15 128GB","price":1499,"productUrl":"/shop/officeworks/p/iphone-15"},
			{"name":"Galaxy S24","price":1349.99,"productUrl":"/shop/officeworks/p/galaxy-s24"}
		],"page":0,"nbPages":2}`,
		"page=1": `{"hits":[
			{"name":"Pixel 8","price":999,"productUrl":"/shop/officeworks/p/pixel-8"}
		],"page":1,"nbPages":2}`,
	}))

	idleCount := 0
	runner.OnIdle(func() { idleCount++ })

	summary := runner.Run(context.Background())
	if err := sink.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if summary.Reason != "finished" {
		t.Fatalf("reason = %q, want finished", summary.Reason)
	}
	if got := st.Requests(); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
	if got := st.Items(); got != 3 {
		t.Fatalf("items = %d, want 3", got)
	}
	if idleCount != 2 {
		t.Fatalf("idle events = %d, want one per page", idleCount)
	}

	rows := store.records()
	if len(rows) != 3 {
		t.Fatalf("persisted rows = %d, want 3", len(rows))
	}
	if rows[0].Retailer != "Officeworks" || rows[0].Price != 1499 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[0].URL != officeworksBase+"/shop/officeworks/p/iphone-15" {
		t.Fatalf("url = %q", rows[0].URL)
	}
}

func TestOfficeworksRunnerBreakerAbort(t *testing.T) {
	cfg := officeworksTestConfig()
	cfg.BreakerMinSample = 0
	runner, sink, _, st := newOfficeworksFixture(t, cfg)

	endpoint := fmt.Sprintf("https://%s-dsn.algolia.net/1/indexes/%s/query", officeworksAppID, officeworksIndex)
	httpmock.RegisterResponder("POST", endpoint, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, `{"hits":[{"name":"Pixel 8","price":999,"productUrl":"/p/pixel-8"}],"page":0,"nbPages":10}`)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	})

	// Force a tripped breaker by seeding failures before the first idle point.
	st.IncStatus(http.StatusForbidden)
	breaker := scraper.NewFailureRateMonitor(cfg, st, runner, nil)
	runner.OnIdle(breaker.OnIdle)

	summary := runner.Run(context.Background())
	if err := sink.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if !breaker.Tripped() {
		t.Fatalf("breaker should have tripped")
	}
	if summary.Reason != scraper.AbortReasonHighFailureRate {
		t.Fatalf("reason = %q, want %q", summary.Reason, scraper.AbortReasonHighFailureRate)
	}
	if got := st.Requests(); got != 1 {
		t.Fatalf("requests = %d, want 1 (no pages after the trip)", got)
	}
}

func TestOfficeworksRunnerAbortBeforeRun(t *testing.T) {
	cfg := officeworksTestConfig()
	runner, sink, _, st := newOfficeworksFixture(t, cfg)

	runner.Abort("shutdown")
	summary := runner.Run(context.Background())
	if err := sink.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if summary.Reason != "shutdown" {
		t.Fatalf("reason = %q, want shutdown", summary.Reason)
	}
	if got := st.Requests(); got != 0 {
		t.Fatalf("requests = %d, want 0", got)
	}
}
