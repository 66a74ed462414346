// Package models defines data structures for the crawler.
package models

import "time"

// RawProduct is the pre-clean field mapping produced by site-specific
// extraction. Price is the text as found on the page, currency symbol and
// thousands separators intact.
type RawProduct struct {
	Retailer string `json:"retailer"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	URL      string `json:"url"`
}

// ProductRecord is a single historical price snapshot. ScrapedAt and Spider
// are stamped at persistence time; records are insert-only, so repeated
// scrapes of the same product accumulate as separate rows.
type ProductRecord struct {
	Retailer  string    `db:"retailer" json:"retailer"`
	Name      string    `db:"name" json:"name"`
	Price     float64   `db:"price" json:"price"`
	URL       string    `db:"url" json:"url"`
	ScrapedAt time.Time `db:"scraped_at" json:"scraped_at"`
	Spider    string    `db:"spider" json:"spider"`
}

// JobSummary holds the end-of-job numbers logged when a crawl closes.
type JobSummary struct {
	JobID        string
	Spider       string
	Reason       string
	StartTime    time.Time
	EndTime      time.Time
	RequestCount int64
	ItemCount    int64
	RetryCount   int64
	StatusCounts map[int]int64
	DataQuality  map[string]int64
}

// Duration reports how long the job ran.
func (js *JobSummary) Duration() time.Duration {
	return js.EndTime.Sub(js.StartTime)
}
