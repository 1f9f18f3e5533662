package statistics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersAreConcurrencySafe(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.IncrementItemsProcessed()
				s.IncrementItemsWritten()
				s.AddBytes(10, 4)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), s.ItemsProcessed)
	assert.Equal(t, int64(800), s.ItemsWritten)
	assert.Equal(t, int64(800), s.Written())
	assert.Equal(t, int64(8000), s.BytesIn)
	assert.InDelta(t, 0.4, s.CompressionRatio(), 1e-9)
}

func TestSummaryAndStages(t *testing.T) {
	s := NewStatistics()
	s.AddImagesFound(3)
	s.IncrementItemsFailed()
	s.SetArchiveEntries(2)
	s.RecordStage("engine", 1500*time.Millisecond)
	s.RecordStage("engine", 500*time.Millisecond)
	s.AddError("a.png", "compress", "bad header")
	s.Finalize()

	assert.Equal(t, 2*time.Second, s.StageDuration("engine"))
	summary := s.GetSummary()
	assert.Contains(t, summary, "Images Found: 3")
	assert.Contains(t, summary, "Archive Entries: 2")
	assert.Contains(t, summary, "engine: 2s")
	assert.Contains(t, s.GetErrorSummary(), "a.png")
	assert.Zero(t, NewStatistics().CompressionRatio())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 MB", formatBytes(1536*1024))
}
