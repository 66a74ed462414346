// Package stats tracks job-lifetime counters. A single JobStats value is
// created at job start, passed into every component at construction, and read
// once at job end; nothing here is ambient or global.
package stats

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Data-quality counter keys used by the record pipeline.
const (
	KeyMissingPrice = "data_quality/missing_price"
	KeyInvalidPrice = "data_quality/invalid_price"
)

// JobStats is the shared counter set for one crawl job. All methods are safe
// for concurrent use; the crawl engine and pipeline workers run on separate
// goroutines.
type JobStats struct {
	JobID     string
	StartedAt time.Time

	mu           sync.Mutex
	requests     int64
	items        int64
	retries      int64
	statusCounts map[int]int64
	dataQuality  map[string]int64
}

// NewJobStats creates an empty counter set with a fresh job id.
func NewJobStats() *JobStats {
	return &JobStats{
		JobID:        uuid.NewString(),
		StartedAt:    time.Now(),
		statusCounts: make(map[int]int64),
		dataQuality:  make(map[string]int64),
	}
}

// IncRequest counts one issued request.
func (s *JobStats) IncRequest() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
}

// IncStatus counts one response with the given HTTP status code.
func (s *JobStats) IncStatus(code int) {
	s.mu.Lock()
	s.statusCounts[code]++
	s.mu.Unlock()
}

// IncItem counts one item handed to the pipeline.
func (s *JobStats) IncItem() {
	s.mu.Lock()
	s.items++
	s.mu.Unlock()
}

// IncRetry counts one reissued request.
func (s *JobStats) IncRetry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}

// IncDataQuality counts one record rejection under the given key.
func (s *JobStats) IncDataQuality(key string) {
	s.mu.Lock()
	s.dataQuality[key]++
	s.mu.Unlock()
}

// Requests returns the total request count.
func (s *JobStats) Requests() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Items returns the total item count.
func (s *JobStats) Items() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items
}

// Retries returns the total retry count.
func (s *JobStats) Retries() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// StatusCount sums the counts for the given status codes.
func (s *JobStats) StatusCount(codes ...int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, code := range codes {
		total += s.statusCounts[code]
	}
	return total
}

// DataQuality returns the count recorded under key.
func (s *JobStats) DataQuality(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataQuality[key]
}

// StatusSnapshot copies the per-status-code counters.
func (s *JobStats) StatusSnapshot() map[int]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int64, len(s.statusCounts))
	for k, v := range s.statusCounts {
		out[k] = v
	}
	return out
}

// DataQualitySnapshot copies the data-quality counters.
func (s *JobStats) DataQualitySnapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.dataQuality))
	for k, v := range s.dataQuality {
		out[k] = v
	}
	return out
}
