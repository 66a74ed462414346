package stats

import (
	"time"

	"github.com/aluiziolira/go-retail-prices/models"
)

// Summarize snapshots the counters into the end-of-job summary.
func Summarize(s *JobStats, spider, reason string) *models.JobSummary {
	return &models.JobSummary{
		JobID:        s.JobID,
		Spider:       spider,
		Reason:       reason,
		StartTime:    s.StartedAt,
		EndTime:      time.Now(),
		RequestCount: s.Requests(),
		ItemCount:    s.Items(),
		RetryCount:   s.Retries(),
		StatusCounts: s.StatusSnapshot(),
		DataQuality:  s.DataQualitySnapshot(),
	}
}
