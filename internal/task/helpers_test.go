package task

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/analyze/internal/domain"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fixedClock always reports the same instant, so every submission of a
// dataset derives the same task ID.
func fixedClock() time.Time {
	return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
}

func testSpec(dataset string) domain.AnalysisSpec {
	return domain.AnalysisSpec{
		DatasetName:          dataset,
		Email:                "analyst@example.com",
		AnalysisType:         domain.AnalysisComprehensive,
		IncludeVisualization: true,
	}
}

func newTestStore(t *testing.T, maxRetained int) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{MaxRetained: maxRetained, Clock: time.Now}, testLogger())
	require.NoError(t, err)
	return store
}

// recordingMetrics counts every measurement it receives.
type recordingMetrics struct {
	mu        sync.Mutex
	submitted map[string]int
	started   int
	finished  map[State]int
	evicted   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		submitted: make(map[string]int),
		finished:  make(map[State]int),
	}
}

func (m *recordingMetrics) Submitted(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted[outcome]++
}

func (m *recordingMetrics) Started(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) Finished(state State, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[state]++
}

func (m *recordingMetrics) Evicted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted++
}

func (m *recordingMetrics) submittedCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitted[outcome]
}

func (m *recordingMetrics) finishedCount(state State) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished[state]
}

func (m *recordingMetrics) evictedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evicted
}
