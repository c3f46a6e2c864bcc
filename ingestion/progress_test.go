package ingestion

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "report.pdf", 100, 10)

	tracker.Increment(25)
	tracker.Increment(25)
	tracker.Increment(50)

	output := buf.String()
	assert.Contains(t, output, "report.pdf")
	assert.Contains(t, output, "100/100 chunks")
	assert.Contains(t, output, "100.0%")
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "doc", 10, 1)

	tracker.Increment(25)
	assert.Equal(t, 10, tracker.Current())
}

func TestProgressTracker_FinishReportsReachedCount(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "doc", 100, 1000)

	tracker.Increment(40)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "40/100")
	assert.True(t, strings.HasSuffix(output, "\n"), "finish should print newline")
}

func TestProgressTracker_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "doc", 1000, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Increment(10)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, tracker.Current())
}
