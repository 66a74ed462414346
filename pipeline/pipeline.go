// Package pipeline validates extracted records and appends them to durable
// history storage. Every accepted scrape becomes a new snapshot; nothing is
// ever updated or deleted here.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-retail-prices/config"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/parser"
	"github.com/aluiziolira/go-retail-prices/stats"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// RejectionKind names a data-quality contract violation.
type RejectionKind string

const (
	// RejectMissingPrice means the price was absent or unparseable after
	// cleaning.
	RejectMissingPrice RejectionKind = "missing_price"
	// RejectInvalidPrice means the price parsed but was zero or negative.
	RejectInvalidPrice RejectionKind = "invalid_price"
)

// Rejection is returned to the caller when a record is dropped. Data-quality
// failures are permanent: the record is counted, logged, and discarded, never
// retried and never persisted.
type Rejection struct {
	Kind RejectionKind
	Name string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("record rejected (%s): %s", r.Kind, r.Name)
}

// StatsKey maps the rejection to its job-stats counter.
func (r *Rejection) StatsKey() string {
	if r.Kind == RejectInvalidPrice {
		return stats.KeyInvalidPrice
	}
	return stats.KeyMissingPrice
}

// Validate enforces the data contracts on one raw extraction mapping. On
// success it returns the record with the price cleaned and parsed; ScrapedAt
// and Spider are left for the persistence stage to stamp.
func Validate(raw models.RawProduct) (*models.ProductRecord, *Rejection) {
	cleaned := parser.CleanPrice(raw.Price)
	if cleaned == "" {
		return nil, &Rejection{Kind: RejectMissingPrice, Name: raw.Name}
	}
	value, err := parser.ParsePrice(cleaned)
	if err != nil {
		return nil, &Rejection{Kind: RejectMissingPrice, Name: raw.Name}
	}
	if value <= 0 {
		return nil, &Rejection{Kind: RejectInvalidPrice, Name: raw.Name}
	}
	return &models.ProductRecord{
		Retailer: raw.Retailer,
		Name:     raw.Name,
		Price:    value,
		URL:      raw.URL,
	}, nil
}

// Pipeline runs the validate-then-persist stages for one spider. Validation
// happens synchronously on the caller; persistence is handed to worker
// goroutines because storage writes may block.
type Pipeline struct {
	spider     string
	collection string
	store      HistoryStore
	feed       *FeedWriter
	stats      *stats.JobStats
	metrics    *Metrics

	recordCh chan *models.ProductRecord
	wg       sync.WaitGroup

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New builds a pipeline for the named spider. The history collection name is
// derived from the spider identity, never per item.
func New(spider string, store HistoryStore, feed *FeedWriter, st *stats.JobStats, m *Metrics, cfg *config.Config) *Pipeline {
	return &Pipeline{
		spider:     spider,
		collection: CollectionFor(spider),
		store:      store,
		feed:       feed,
		stats:      st,
		metrics:    m,
		recordCh:   make(chan *models.ProductRecord, cfg.PipelineBufferSize),
		shutdown:   make(chan struct{}),
	}
}

// CollectionFor returns the history collection name for a spider.
func CollectionFor(spider string) string {
	return spider + "_products"
}

// Open prepares the history collection. Index creation happens here, once,
// off the request-handling hot path; repeating it is harmless.
func (p *Pipeline) Open(ctx context.Context) error {
	if err := p.store.EnsureIndex(ctx, p.collection, "name"); err != nil {
		return fmt.Errorf("ensure index on %s: %w", p.collection, err)
	}
	return nil
}

// Start launches persistence workers.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process validates one extracted item and, when it passes, queues it for
// persistence. A *Rejection return means the item was dropped for good.
func (p *Pipeline) Process(item models.RawProduct) error {
	record, rejection := Validate(item)
	if rejection != nil {
		p.stats.IncDataQuality(rejection.StatsKey())
		p.metrics.IncRejected(string(rejection.Kind))
		slog.Error("dropping item",
			slog.String("name", item.Name),
			slog.String("retailer", item.Retailer),
			slog.String("reason", string(rejection.Kind)),
		)
		return rejection
	}
	return p.enqueue(record)
}

// Close stops intake, waits for queued writes to drain, and returns the first
// storage error seen, if any. Already-queued writes always complete so the
// history never ends a job half-written.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})
	p.wg.Wait()

	if p.feed != nil {
		if err := p.feed.Close(); err != nil {
			slog.Error("closing feed writer", slog.Any("error", err))
		}
	}
	return p.Err()
}

// Err returns the first storage error encountered, if any. Storage failures
// never halt the pipeline; they are surfaced here and in the metrics.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for record := range p.recordCh {
		p.persist(record)
	}
}

func (p *Pipeline) persist(record *models.ProductRecord) {
	record.ScrapedAt = time.Now().UTC()
	record.Spider = p.spider

	id, err := p.store.Insert(context.Background(), p.collection, record)
	if err != nil {
		p.metrics.IncStorageError()
		slog.Error("persist failed",
			slog.String("name", record.Name),
			slog.String("collection", p.collection),
			slog.Any("error", err),
		)
		p.noteErr(fmt.Errorf("insert into %s: %w", p.collection, err))
		return
	}
	p.metrics.IncPersisted()
	slog.Debug("record persisted",
		slog.Int64("id", id),
		slog.String("name", record.Name),
	)

	if p.feed != nil {
		if err := p.feed.Write(record); err != nil {
			slog.Error("feed write failed", slog.Any("error", err))
		}
	}
}

func (p *Pipeline) enqueue(record *models.ProductRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	p.mu.Unlock()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- record:
		return nil
	}
}

func (p *Pipeline) noteErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}
