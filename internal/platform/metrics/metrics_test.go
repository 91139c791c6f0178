package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/analyze/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounts task.Counts

func (f fixedCounts) Snapshot() task.Counts { return task.Counts(f) }

func TestTaskMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewTaskMetrics(registry)
	require.NoError(t, err)

	m.Submitted(task.OutcomeAccepted)
	m.Submitted(task.OutcomeAccepted)
	m.Submitted("backpressure")
	m.Started(20 * time.Millisecond)
	m.Finished(task.StateSucceeded, time.Second)
	m.Finished(task.StateCancelled, 0)
	m.Evicted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submitted.WithLabelValues(task.OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submitted.WithLabelValues("backpressure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues(string(task.StateSucceeded))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues(string(task.StateCancelled))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evicted))
	assert.Equal(t, 1, testutil.CollectAndCount(m.queueWait))
	// Runtime is only observed for tasks that actually ran.
	assert.Equal(t, 1, testutil.CollectAndCount(m.runtime))

	_, err = NewTaskMetrics(registry)
	assert.Error(t, err, "registering twice must fail")
}

func TestStoreCollector(t *testing.T) {
	t.Parallel()

	c := NewStoreCollector(fixedCounts{Pending: 2, Running: 1, Failed: 3}, func() int { return 2 })

	expected := `
# HELP analyze_task_queue_depth Admitted tasks waiting for a worker.
# TYPE analyze_task_queue_depth gauge
analyze_task_queue_depth 2
# HELP analyze_tasks Tasks currently held, by state.
# TYPE analyze_tasks gauge
analyze_tasks{state="Cancelled"} 0
analyze_tasks{state="Failed"} 3
analyze_tasks{state="Pending"} 2
analyze_tasks{state="Running"} 1
analyze_tasks{state="Succeeded"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestHandler(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(NewStoreCollector(fixedCounts{Running: 1}, nil)))

	srv := httptest.NewServer(Handler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `analyze_tasks{state="Running"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
