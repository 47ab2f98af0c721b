package brain

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/antigravity-dev/cortex/internal/router"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "brain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testOptions(t *testing.T) Options {
	t.Helper()
	cfg := &config.Config{}
	return Options{
		BaseDir:   t.TempDir(),
		MaxEvents: 5,
		Config:    cfg,
		Caller:    router.NewCaller(nil, 5),
	}
}

func TestRunCycleHandlesPlainEventAndPersistsDecision(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()

	_, err := st.Enqueue("web-scraper", "note", "observed a routine status update", nil)
	require.NoError(t, err)

	handled, err := RunCycle(context.Background(), st, &s, testOptions(t))
	require.NoError(t, err)
	require.Equal(t, 1, handled)
	require.Equal(t, int64(1), s.Cycle)

	actions, err := st.LastDecisionActions(1)
	require.NoError(t, err)
	require.Len(t, actions, 1)
}

func TestRunCycleEscalatesDeepOnDeepRequestEvent(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()

	_, err := st.Enqueue("brain-loop", "deep_request", "please dig into the recurring timeout", nil)
	require.NoError(t, err)

	handled, err := RunCycle(context.Background(), st, &s, testOptions(t))
	require.NoError(t, err)
	require.Equal(t, 1, handled)
	require.Equal(t, "escalate_deep", s.LastAction)
}

func TestRunCycleEscalatesDreamOnDreamRequestEvent(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()

	_, err := st.Enqueue("brain-loop", "dream_request", "idle reflection window", nil)
	require.NoError(t, err)

	handled, err := RunCycle(context.Background(), st, &s, testOptions(t))
	require.NoError(t, err)
	require.Equal(t, 1, handled)
	require.Equal(t, "escalate_dream", s.LastAction)
}

func TestRunCycleHaltsAndGuardsImmutablePathEdits(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()
	opts := testOptions(t)
	opts.Config.Safety.ImmutablePaths = []string{"run.ps1"}

	_, err := st.Enqueue("web-scraper", "note", "please patch run.ps1 directly", nil)
	require.NoError(t, err)

	handled, err := RunCycle(context.Background(), st, &s, opts)
	require.NoError(t, err)
	require.Equal(t, 1, handled)
	require.Equal(t, "halt_and_fallback", s.LastAction)
}

func TestRunCycleRequiresApprovalForHighRiskAction(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()

	_, err := st.Enqueue("web-scraper", "note", "drop table users; shutdown the service now", nil)
	require.NoError(t, err)

	handled, err := RunCycle(context.Background(), st, &s, testOptions(t))
	require.NoError(t, err)
	require.Equal(t, 1, handled)
	require.Equal(t, "await_approval", s.LastAction)
}

func TestRunCycleApprovalOverrideAllowsHighRiskAction(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()
	opts := testOptions(t)

	id, err := st.Enqueue("web-scraper", "note", "drop table users; shutdown the service now", nil)
	require.NoError(t, err)

	approvalsPath := filepath.Join(opts.BaseDir, "approvals.json")
	require.NoError(t, writeApprovals(approvalsPath, id))
	opts.ApprovalsFile = approvalsPath

	handled, err := RunCycle(context.Background(), st, &s, opts)
	require.NoError(t, err)
	require.Equal(t, 1, handled)
	require.NotEqual(t, "await_approval", s.LastAction)
}

func TestRunCycleNoPendingEventsIsNoop(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()

	handled, err := RunCycle(context.Background(), st, &s, testOptions(t))
	require.NoError(t, err)
	require.Equal(t, 0, handled)
	require.Equal(t, int64(0), s.Cycle)
}

func writeApprovals(path string, eventID int64) error {
	return os.WriteFile(path, []byte(`{"approved_event_ids": [`+strconv.FormatInt(eventID, 10)+`]}`), 0o644)
}
