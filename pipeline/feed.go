package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-retail-prices/models"
	jsoniter "github.com/json-iterator/go"
)

var feedJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// FeedWriter exports persisted records as a JSONL feed file, one file per
// spider, replaced on every run.
type FeedWriter struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewFeedWriter creates (or truncates) the feed file for a spider.
func NewFeedWriter(dir, spider string) (*FeedWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feed directory %q: %w", dir, err)
	}
	path := filepath.Join(dir, spider+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create feed file: %w", err)
	}
	return &FeedWriter{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Write appends one record in JSONL format.
func (fw *FeedWriter) Write(record *models.ProductRecord) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	line, err := feedJSON.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode feed record: %w", err)
	}
	if _, err := fw.writer.Write(line); err != nil {
		return fmt.Errorf("write feed record: %w", err)
	}
	if err := fw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write feed record: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (fw *FeedWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := fw.writer.Flush(); err != nil {
		return fmt.Errorf("flush feed writer: %w", err)
	}
	return fw.file.Close()
}
