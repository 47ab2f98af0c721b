package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/cortex/internal/router"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/safety"
	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		BaseDir:   t.TempDir(),
		MaxEvents: 5,
		Caller:    router.NewCaller(nil, 5),
		Safety: safety.Options{
			EvalEnabled: false,
			RollbackDir: filepath.Join(t.TempDir(), "rollback"),
			CanaryDir:   filepath.Join(t.TempDir(), "canary"),
		},
	}
}

func TestRunCycleDreamReflectionDoesNotCommit(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()

	_, err := st.Enqueue("brain-loop", "dream_request", "idle reflection window", nil)
	require.NoError(t, err)

	before, err := st.GetStateVersion()
	require.NoError(t, err)

	handled, err := RunCycle(context.Background(), st, &s, testOptions(t))
	require.NoError(t, err)
	require.Equal(t, 1, handled)

	after, err := st.GetStateVersion()
	require.NoError(t, err)
	require.Equal(t, before, after)

	actions, err := st.LastDecisionActions(1)
	require.NoError(t, err)
	require.Equal(t, []string{"dream_reflect"}, actions)
}

func TestRunCycleDeepPublishBlockedWhenEvalDisabled(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()

	_, err := st.Enqueue("brain-loop", "deep_request", "refine the retry backoff logic", nil)
	require.NoError(t, err)

	handled, err := RunCycle(context.Background(), st, &s, testOptions(t))
	require.NoError(t, err)
	require.Equal(t, 1, handled)

	actions, err := st.LastDecisionActions(1)
	require.NoError(t, err)
	require.Equal(t, []string{"rollback"}, actions)
}

func TestRunCycleDeepPublishCommitsWhenGatePasses(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()
	opts := testOptions(t)
	opts.Safety.EvalEnabled = true
	opts.Safety.EvalCommand = []string{"sh", "-c", "echo '1 passed'"}

	_, err := st.Enqueue("brain-loop", "deep_request", "refine the retry backoff logic", nil)
	require.NoError(t, err)

	before, err := st.GetStateVersion()
	require.NoError(t, err)

	handled, err := RunCycle(context.Background(), st, &s, opts)
	require.NoError(t, err)
	require.Equal(t, 1, handled)

	after, err := st.GetStateVersion()
	require.NoError(t, err)
	require.Equal(t, before+1, after)

	actions, err := st.LastDecisionActions(1)
	require.NoError(t, err)
	require.Equal(t, []string{"deep_publish"}, actions)
}

func TestRunCycleNoPendingEventsIsNoop(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()

	handled, err := RunCycle(context.Background(), st, &s, testOptions(t))
	require.NoError(t, err)
	require.Equal(t, 0, handled)
}
