package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aluiziolira/go-retail-prices/config"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/stats"
)

type memStore struct {
	mu        sync.Mutex
	indexes   map[string]string
	rows      map[string][]models.ProductRecord
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{
		indexes: make(map[string]string),
		rows:    make(map[string][]models.ProductRecord),
	}
}

func (m *memStore) EnsureIndex(_ context.Context, collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[collection] = field
	return nil
}

func (m *memStore) Insert(_ context.Context, collection string, record *models.ProductRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.rows[collection] = append(m.rows[collection], *record)
	return int64(len(m.rows[collection])), nil
}

func (m *memStore) records(collection string) []models.ProductRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ProductRecord, len(m.rows[collection]))
	copy(out, m.rows[collection])
	return out
}

func newTestPipeline(t *testing.T, store HistoryStore, st *stats.JobStats) *Pipeline {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PipelineBufferSize = 16
	p := New("stub", store, nil, st, nil, cfg)
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("open pipeline: %v", err)
	}
	p.Start(1)
	return p
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		price      string
		wantValue  float64
		wantReject RejectionKind
	}{
		{name: "plain price", price: "19.99", wantValue: 19.99},
		{name: "currency symbol", price: "$19.99", wantValue: 19.99},
		{name: "thousands separator", price: "$1,299.00", wantValue: 1299},
		{name: "surrounding whitespace", price: " $5.00 ", wantValue: 5},
		{name: "empty price", price: "", wantReject: RejectMissingPrice},
		{name: "whitespace only", price: "   ", wantReject: RejectMissingPrice},
		{name: "unparseable price", price: "call for price", wantReject: RejectMissingPrice},
		{name: "zero price", price: "0", wantReject: RejectInvalidPrice},
		{name: "zero with symbol", price: "$0.00", wantReject: RejectInvalidPrice},
		{name: "negative price", price: "-5.00", wantReject: RejectInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, rejection := Validate(models.RawProduct{
				Retailer: "Stub Retail",
				Name:     "Widget",
				Price:    tt.price,
				URL:      "http://shop.test/widget",
			})
			if tt.wantReject != "" {
				if rejection == nil {
					t.Fatalf("expected rejection %s, got record %+v", tt.wantReject, record)
				}
				if rejection.Kind != tt.wantReject {
					t.Fatalf("rejection kind = %s, want %s", rejection.Kind, tt.wantReject)
				}
				return
			}
			if rejection != nil {
				t.Fatalf("unexpected rejection: %v", rejection)
			}
			if record.Price != tt.wantValue {
				t.Fatalf("price = %v, want %v", record.Price, tt.wantValue)
			}
			if !record.ScrapedAt.IsZero() || record.Spider != "" {
				t.Fatalf("validation must not stamp persistence fields: %+v", record)
			}
		})
	}
}

func TestRejectionStatsKeys(t *testing.T) {
	missing := &Rejection{Kind: RejectMissingPrice, Name: "a"}
	if missing.StatsKey() != stats.KeyMissingPrice {
		t.Fatalf("missing price stats key = %q", missing.StatsKey())
	}
	invalid := &Rejection{Kind: RejectInvalidPrice, Name: "b"}
	if invalid.StatsKey() != stats.KeyInvalidPrice {
		t.Fatalf("invalid price stats key = %q", invalid.StatsKey())
	}
}

func TestProcessCountsRejectionsAndInformsCaller(t *testing.T) {
	store := newMemStore()
	st := stats.NewJobStats()
	p := newTestPipeline(t, store, st)

	err := p.Process(models.RawProduct{Retailer: "Stub Retail", Name: "Widget", Price: ""})
	var rejection *Rejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected *Rejection, got %v", err)
	}
	if rejection.Kind != RejectMissingPrice {
		t.Fatalf("rejection kind = %s, want %s", rejection.Kind, RejectMissingPrice)
	}
	if got := st.DataQuality(stats.KeyMissingPrice); got != 1 {
		t.Fatalf("missing price counter = %d, want 1", got)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rows := store.records(CollectionFor("stub")); len(rows) != 0 {
		t.Fatalf("rejected item reached storage: %+v", rows)
	}
}

func TestProcessPersistsAppendOnly(t *testing.T) {
	store := newMemStore()
	st := stats.NewJobStats()
	p := newTestPipeline(t, store, st)

	item := models.RawProduct{Retailer: "Stub Retail", Name: "Widget", Price: "$19.99", URL: "http://shop.test/widget"}
	if err := p.Process(item); err != nil {
		t.Fatalf("process: %v", err)
	}
	item.Price = "$17.49"
	if err := p.Process(item); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The same product scraped twice yields two history rows, never an update.
	rows := store.records(CollectionFor("stub"))
	if len(rows) != 2 {
		t.Fatalf("persisted rows = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.Spider != "stub" || row.ScrapedAt.IsZero() {
			t.Fatalf("record missing persistence stamps: %+v", row)
		}
	}
	if rows[0].Price == rows[1].Price {
		t.Fatalf("both snapshots carry the same price, expected distinct history entries")
	}
}

func TestStorageErrorsSurfaceWithoutHalting(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("connection reset")
	st := stats.NewJobStats()
	p := newTestPipeline(t, store, st)

	for i := 0; i < 3; i++ {
		if err := p.Process(models.RawProduct{Retailer: "Stub Retail", Name: "Widget", Price: "$10.00"}); err != nil {
			t.Fatalf("process should accept the record even when storage fails: %v", err)
		}
	}

	err := p.Close()
	if err == nil {
		t.Fatalf("close should surface the storage error")
	}
	if !errors.Is(err, store.insertErr) {
		t.Fatalf("close error = %v, want wrapped %v", err, store.insertErr)
	}
}

func TestProcessAfterCloseReturnsErrPipelineClosed(t *testing.T) {
	p := newTestPipeline(t, newMemStore(), stats.NewJobStats())
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := p.Process(models.RawProduct{Retailer: "Stub Retail", Name: "Widget", Price: "$10.00"})
	if !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestOpenEnsuresIndexOnName(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(t, store, stats.NewJobStats())
	defer p.Close()

	if got := store.indexes[CollectionFor("stub")]; got != "name" {
		t.Fatalf("index field = %q, want name", got)
	}

	// Repeating startup is harmless.
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if got := store.indexes[CollectionFor("stub")]; got != "name" {
		t.Fatalf("index field after reopen = %q, want name", got)
	}
}

func TestCollectionFor(t *testing.T) {
	if got := CollectionFor("ple"); got != "ple_products" {
		t.Fatalf("CollectionFor(ple) = %q", got)
	}
}

func TestCheckIdent(t *testing.T) {
	if err := checkIdent("ple_products"); err != nil {
		t.Fatalf("valid identifier rejected: %v", err)
	}
	for _, bad := range []string{"", "1ple", "ple-products", `ple"; drop table x; --`} {
		if err := checkIdent(bad); err == nil {
			t.Fatalf("identifier %q should be rejected", bad)
		}
	}
}
