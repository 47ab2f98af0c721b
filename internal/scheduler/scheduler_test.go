package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDriverRunOnceHandlesPendingAndPersistsState(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Enqueue("test", "input", "hello", nil)
	require.NoError(t, err)

	calls := 0
	d := &Driver{
		Name:  "brain",
		Store: st,
		Cycle: func(ctx context.Context, s *runtimestate.State) (int, error) {
			calls++
			s.Cycle++
			return 1, nil
		},
	}

	s := runtimestate.Default()
	handled, err := d.Run(context.Background(), &s, true)
	require.NoError(t, err)
	require.Equal(t, 1, handled)
	require.Equal(t, 1, calls)

	raw, err := st.LoadRuntimeState()
	require.NoError(t, err)
	require.NotNil(t, raw)
}

func TestDriverRunOnceStopsImmediatelyWhenIdle(t *testing.T) {
	st := newTestStore(t)

	calls := 0
	d := &Driver{
		Name:  "worker",
		Store: st,
		Cycle: func(ctx context.Context, s *runtimestate.State) (int, error) {
			calls++
			return 0, nil
		},
	}

	s := runtimestate.Default()
	handled, err := d.Run(context.Background(), &s, true)
	require.NoError(t, err)
	require.Equal(t, 0, handled)
	require.Equal(t, 1, calls)
}

func TestRunBothMergesIndependentTrackState(t *testing.T) {
	st := newTestStore(t)

	brainDriver := &Driver{
		Name:  "brain",
		Store: st,
		Cycle: func(ctx context.Context, s *runtimestate.State) (int, error) {
			s.Cycle = 7
			return 0, nil
		},
	}
	workerDriver := &Driver{
		Name:  "worker",
		Store: st,
		Cycle: func(ctx context.Context, s *runtimestate.State) (int, error) {
			s.RewardRepDreamWorker = 0.42
			return 0, nil
		},
	}

	merged, err := RunBoth(context.Background(), brainDriver, workerDriver, runtimestate.Default(), true)
	require.NoError(t, err)
	require.Equal(t, int64(7), merged.Cycle)
	require.Equal(t, 0.42, merged.RewardRepDreamWorker)
}
