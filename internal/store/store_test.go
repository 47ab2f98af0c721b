package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEnqueueAndFetchPending(t *testing.T) {
	st := openTestStore(t)

	id, err := st.Enqueue("test", "health", "ping", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Positive(t, id)

	pending, err := st.FetchPendingBrain(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "ping", pending[0].Content)
	require.Equal(t, "v", pending[0].Meta["k"])

	require.NoError(t, st.MarkBrainDone(id))
	pending, err = st.FetchPendingBrain(10)
	require.NoError(t, err)
	require.Empty(t, pending)

	workerPending, err := st.FetchPendingWorker(10)
	require.NoError(t, err)
	require.Len(t, workerPending, 1, "worker track is independent of brain track")
}

func TestStateVersionCAS(t *testing.T) {
	st := openTestStore(t)

	v, err := st.GetStateVersion()
	require.NoError(t, err)
	require.Equal(t, int64(0), v)

	committed, newVersion, err := st.AdvanceStateVersionIfMatch(0, "brain-loop", "event#1:plan_next")
	require.NoError(t, err)
	require.True(t, committed)
	require.Equal(t, int64(1), newVersion)

	// stale expected version: CAS fails, returns current version
	committed, newVersion, err = st.AdvanceStateVersionIfMatch(0, "brain-loop", "event#2:stale")
	require.NoError(t, err)
	require.False(t, committed)
	require.Equal(t, int64(1), newVersion)
}

func TestRuntimeStateRoundTrip(t *testing.T) {
	st := openTestStore(t)

	loaded, err := st.LoadRuntimeState()
	require.NoError(t, err)
	require.Nil(t, loaded)

	require.NoError(t, st.SaveRuntimeState(map[string]any{"cycle": float64(1), "energy": 0.8}))
	loaded, err = st.LoadRuntimeState()
	require.NoError(t, err)
	require.Equal(t, float64(1), loaded["cycle"])
}

func TestFactUpsertAndConflict(t *testing.T) {
	st := openTestStore(t)

	id, err := st.InsertFact(Fact{
		ClaimKey: "k1", Subject: "a", Predicate: "is", Object: "b",
		ClaimText: "a is b", Confidence: 0.6, SupportCount: 1, Tier: "warm",
		LastSeenEventID: 1,
	})
	require.NoError(t, err)

	existing, err := st.GetFactByKey("k1")
	require.NoError(t, err)
	require.Equal(t, id, existing.ID)

	require.NoError(t, st.InsertFactConflict(id, 2, "a is b", "a is c"))
	existing.ConflictCount++
	existing.ClaimText = "a is c"
	require.NoError(t, st.UpdateFact(*existing))

	updated, err := st.GetFactByKey("k1")
	require.NoError(t, err)
	require.Equal(t, 1, updated.ConflictCount)
}

func TestLastDecisionActions(t *testing.T) {
	st := openTestStore(t)
	for _, action := range []string{"plan_next", "plan_next", "stabilize"} {
		require.NoError(t, st.InsertDecision(1, action, "r", "s", nil))
	}
	actions, err := st.LastDecisionActions(2)
	require.NoError(t, err)
	require.Equal(t, []string{"stabilize", "plan_next"}, actions)
}
