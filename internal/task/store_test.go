package task

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/phrazzld/analyze/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toRunning(r *Record) error {
	r.State = StateRunning
	return nil
}

func toSucceeded(result map[string]any) Mutation {
	return func(r *Record) error {
		r.State = StateSucceeded
		r.Result = result
		return nil
	}
}

func toFailed(detail string) Mutation {
	return func(r *Record) error {
		r.State = StateFailed
		r.ErrorKind = domain.KindTaskFault
		r.ErrorDetail = detail
		return nil
	}
}

func setProgress(p int) Mutation {
	return func(r *Record) error {
		r.Progress = p
		return nil
	}
}

// finish drives a new record through Running into Succeeded.
func finish(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.Create(id, testSpec(id))
	require.NoError(t, err)
	_, err = s.Update(id, toRunning)
	require.NoError(t, err)
	_, err = s.Update(id, toSucceeded(map[string]any{"rows": 1}))
	require.NoError(t, err)
}

func TestStore_Create(t *testing.T) {
	t.Parallel()

	t.Run("new record is pending", func(t *testing.T) {
		s := newTestStore(t, 10)

		rec, err := s.Create("sales_1", testSpec("sales"))
		require.NoError(t, err)

		assert.Equal(t, "sales_1", rec.ID)
		assert.Equal(t, StatePending, rec.State)
		assert.Equal(t, 0, rec.Progress)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.Nil(t, rec.StartedAt)
		assert.Nil(t, rec.FinishedAt)
		assert.Nil(t, rec.Result)
	})

	t.Run("duplicate active id conflicts", func(t *testing.T) {
		s := newTestStore(t, 10)

		_, err := s.Create("sales_1", testSpec("sales"))
		require.NoError(t, err)
		_, err = s.Create("sales_1", testSpec("sales"))

		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, 1, s.Snapshot().Total())
	})

	t.Run("duplicate retained id conflicts", func(t *testing.T) {
		s := newTestStore(t, 10)
		finish(t, s, "sales_1")

		_, err := s.Create("sales_1", testSpec("sales"))
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestStore_Get(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Create("sales_1", testSpec("sales"))
	require.NoError(t, err)
	_, err = s.Update("sales_1", toRunning)
	require.NoError(t, err)
	_, err = s.Update("sales_1", toSucceeded(map[string]any{"rows": 10}))
	require.NoError(t, err)

	rec, err := s.Get("sales_1")
	require.NoError(t, err)
	rec.Result["rows"] = 99

	again, err := s.Get("sales_1")
	require.NoError(t, err)
	assert.Equal(t, 10, again.Result["rows"], "returned records must be copies")
}

func TestStore_Update_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   []Mutation
		mutate  Mutation
		wantErr error
	}{
		{
			name:   "pending to running",
			mutate: toRunning,
		},
		{
			name: "pending to cancelled",
			mutate: func(r *Record) error {
				r.State = StateCancelled
				r.ErrorKind = domain.KindCancelled
				return nil
			},
		},
		{
			name:    "pending to succeeded",
			mutate:  toSucceeded(map[string]any{}),
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "pending to failed",
			mutate:  toFailed("boom"),
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:   "running to failed",
			setup:  []Mutation{toRunning},
			mutate: toFailed("boom"),
		},
		{
			name:  "running back to pending",
			setup: []Mutation{toRunning},
			mutate: func(r *Record) error {
				r.State = StatePending
				return nil
			},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "failed without detail",
			setup:   []Mutation{toRunning},
			mutate:  toFailed(""),
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:  "result and error together",
			setup: []Mutation{toRunning},
			mutate: func(r *Record) error {
				r.State = StateFailed
				r.Result = map[string]any{"rows": 1}
				r.ErrorDetail = "boom"
				return nil
			},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:  "result while still running",
			setup: []Mutation{toRunning},
			mutate: func(r *Record) error {
				r.Result = map[string]any{"rows": 1}
				return nil
			},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name: "pending cancelled with error detail",
			mutate: func(r *Record) error {
				r.State = StateCancelled
				r.ErrorDetail = "nope"
				return nil
			},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "terminal is final",
			setup:   []Mutation{toRunning, toSucceeded(nil)},
			mutate:  toRunning,
			wantErr: domain.ErrTaskFinished,
		},
		{
			name:  "id is immutable",
			setup: []Mutation{toRunning},
			mutate: func(r *Record) error {
				r.ID = "other"
				return nil
			},
			wantErr: domain.ErrInvalidTransition,
		},
	}

	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t, 10)
			id := fmt.Sprintf("task_%d", i)
			_, err := s.Create(id, testSpec("sales"))
			require.NoError(t, err)
			for _, m := range tc.setup {
				_, err := s.Update(id, m)
				require.NoError(t, err)
			}
			before, err := s.Get(id)
			require.NoError(t, err)

			_, err = s.Update(id, tc.mutate)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				after, getErr := s.Get(id)
				require.NoError(t, getErr)
				assert.Equal(t, before, after, "rejected mutation must not change the record")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStore_Update_Timestamps(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	_, err := s.Create("sales_1", testSpec("sales"))
	require.NoError(t, err)

	running, err := s.Update("sales_1", toRunning)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	assert.Nil(t, running.FinishedAt)

	// A mutation cannot move started_at.
	running, err = s.Update("sales_1", func(r *Record) error {
		r.StartedAt = nil
		r.Progress = 10
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	done, err := s.Update("sales_1", toSucceeded(map[string]any{}))
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, *running.StartedAt, *done.StartedAt)
	assert.False(t, done.FinishedAt.Before(*done.StartedAt))
	assert.False(t, done.StartedAt.Before(done.CreatedAt))
}

func TestStore_Update_Progress(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	_, err := s.Create("sales_1", testSpec("sales"))
	require.NoError(t, err)

	rec, err := s.Update("sales_1", setProgress(40))
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Progress, "pending tasks do not report progress")

	_, err = s.Update("sales_1", toRunning)
	require.NoError(t, err)

	steps := []struct {
		report int
		want   int
	}{
		{report: 40, want: 40},
		{report: 20, want: 40},
		{report: -5, want: 40},
		{report: 75, want: 75},
		{report: 100, want: 99},
		{report: 250, want: 99},
	}
	for _, step := range steps {
		rec, err := s.Update("sales_1", setProgress(step.report))
		require.NoError(t, err)
		assert.Equal(t, step.want, rec.Progress, "after reporting %d", step.report)
	}

	t.Run("success forces completion", func(t *testing.T) {
		_, err := s.Create("sales_2", testSpec("sales"))
		require.NoError(t, err)
		_, err = s.Update("sales_2", toRunning)
		require.NoError(t, err)

		rec, err := s.Update("sales_2", toSucceeded(map[string]any{}))
		require.NoError(t, err)
		assert.Equal(t, 100, rec.Progress)
	})
}

func TestStore_Update_MutationError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	_, err := s.Create("sales_1", testSpec("sales"))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update("sales_1", func(r *Record) error {
		r.State = StateRunning
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := s.Get("sales_1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, rec.State)
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	_, err := s.Create("pending_1", testSpec("pending"))
	require.NoError(t, err)
	_, err = s.Create("running_1", testSpec("running"))
	require.NoError(t, err)
	_, err = s.Update("running_1", toRunning)
	require.NoError(t, err)

	s.Remove("pending_1")
	s.Remove("running_1")
	s.Remove("missing")

	_, err = s.Get("pending_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get("running_1")
	assert.NoError(t, err)

	// A removed id can be used again.
	_, err = s.Create("pending_1", testSpec("pending"))
	assert.NoError(t, err)
}

func TestStore_Retention(t *testing.T) {
	t.Parallel()

	metrics := newRecordingMetrics()
	s := newTestStore(t, 2)
	s.SetMetrics(metrics)

	_, err := s.Create("active_1", testSpec("active"))
	require.NoError(t, err)

	finish(t, s, "done_1")
	finish(t, s, "done_2")
	finish(t, s, "done_3")

	_, err = s.Get("done_1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "oldest finished record is evicted")
	_, err = s.Get("done_3")
	assert.NoError(t, err)
	_, err = s.Get("active_1")
	assert.NoError(t, err, "active records are never evicted")

	assert.Equal(t, 1, metrics.evictedCount())

	counts := s.Snapshot()
	assert.Equal(t, 1, counts.Pending)
	assert.Equal(t, 2, counts.Succeeded)
	assert.Equal(t, 3, counts.Total())
}

func TestStore_List(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 10)
	finish(t, s, "b_1")
	_, err := s.Create("a_1", testSpec("a"))
	require.NoError(t, err)
	_, err = s.Create("c_1", testSpec("c"))
	require.NoError(t, err)

	all := s.List("")
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}

	pending := s.List(StatePending)
	require.Len(t, pending, 2)
	for _, r := range pending {
		assert.Equal(t, StatePending, r.State)
	}

	succeeded := s.List(StateSucceeded)
	require.Len(t, succeeded, 1)
	assert.Equal(t, "b_1", succeeded[0].ID)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 1000)
	const tasks = 50

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ds%d_1", i)
			if _, err := s.Create(id, testSpec(fmt.Sprintf("ds%d", i))); err != nil {
				t.Error(err)
				return
			}
			if _, err := s.Update(id, toRunning); err != nil {
				t.Error(err)
				return
			}
			for p := 0; p <= 100; p += 10 {
				if _, err := s.Update(id, setProgress(p)); err != nil {
					t.Error(err)
					return
				}
			}
			if _, err := s.Update(id, toSucceeded(map[string]any{"i": i})); err != nil {
				t.Error(err)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		c := s.Snapshot()
		assert.Equal(t, c.Active()+c.Completed(), c.Total())
		select {
		case <-done:
			final := s.Snapshot()
			assert.Equal(t, tasks, final.Succeeded)
			assert.Equal(t, 0, final.Active())
			return
		default:
		}
	}
}
