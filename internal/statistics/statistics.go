package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains the counters of one pipeline run.
type Statistics struct {
	ImagesFound    int64
	ItemsProcessed int64
	ItemsWritten   int64
	ItemsFailed    int64
	ArchiveEntries int64

	BytesIn  int64
	BytesOut int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	ItemsPerSecond float64

	Errors []StatError

	stageDurations map[string]time.Duration
	mutex          sync.RWMutex
}

// StatError represents an item-level error that did not fail the run.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:      time.Now(),
		Errors:         make([]StatError, 0),
		stageDurations: make(map[string]time.Duration),
	}
}

// AddImagesFound adds n to the count of source files found.
func (s *Statistics) AddImagesFound(n int64) {
	atomic.AddInt64(&s.ImagesFound, n)
}

// IncrementItemsProcessed increases the count of processed items by 1.
func (s *Statistics) IncrementItemsProcessed() {
	atomic.AddInt64(&s.ItemsProcessed, 1)
}

// IncrementItemsWritten increases the count of successfully written items by 1.
func (s *Statistics) IncrementItemsWritten() {
	atomic.AddInt64(&s.ItemsWritten, 1)
}

// Written returns the count of successfully written items.
func (s *Statistics) Written() int64 {
	return atomic.LoadInt64(&s.ItemsWritten)
}

// IncrementItemsFailed increases the count of failed items by 1.
func (s *Statistics) IncrementItemsFailed() {
	atomic.AddInt64(&s.ItemsFailed, 1)
}

// SetArchiveEntries records how many entries the archive step handled.
func (s *Statistics) SetArchiveEntries(n int64) {
	atomic.StoreInt64(&s.ArchiveEntries, n)
}

// AddBytes adds to the input and output byte totals.
func (s *Statistics) AddBytes(in, out int64) {
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
}

// RecordStage stores how long a pipeline stage took.
func (s *Statistics) RecordStage(stage string, d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stageDurations[stage] += d
}

// StageDuration returns the recorded duration of a stage.
func (s *Statistics) StageDuration(stage string) time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.stageDurations[stage]
}

// AddError records an item-level error.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	processed := atomic.LoadInt64(&s.ItemsProcessed)
	if s.Duration.Seconds() > 0 {
		s.ItemsPerSecond = float64(processed) / s.Duration.Seconds()
	}
}

// CompressionRatio returns BytesOut/BytesIn, or 0 when nothing was read.
func (s *Statistics) CompressionRatio() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	if in == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&s.BytesOut)) / float64(in)
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	stages := make([]string, 0, len(s.stageDurations))
	for name, d := range s.stageDurations {
		stages = append(stages, fmt.Sprintf("\t\t%s: %v", name, d.Round(time.Millisecond)))
	}
	duration := s.Duration
	perSecond := s.ItemsPerSecond
	s.mutex.RUnlock()
	sort.Strings(stages)

	return fmt.Sprintf(`pixpack Run Summary:

Items:
		Images Found: %d
		Processed: %d
		Written: %d
		Failed: %d
		Archive Entries: %d

Data:
		Bytes In: %s
		Bytes Out: %s
		Ratio: %.3f

Performance:
		Duration: %v
		Items/Second: %.2f

Stages:
%s`,
		atomic.LoadInt64(&s.ImagesFound),
		atomic.LoadInt64(&s.ItemsProcessed),
		atomic.LoadInt64(&s.ItemsWritten),
		atomic.LoadInt64(&s.ItemsFailed),
		atomic.LoadInt64(&s.ArchiveEntries),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		s.CompressionRatio(),
		duration,
		perSecond,
		strings.Join(stages, "\n"))
}

// GetErrorSummary returns a summary of item errors.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
