package health

import (
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCheckReportsBacklogAndCooldowns(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()
	_, err := st.Enqueue("brain-loop", "input", "hello", nil)
	require.NoError(t, err)

	s.Stability.RouteCooldownUntil = map[string]int{"deep_chain": 9999999999}
	m := NewMonitor(st, &s, 0, nil)

	snap := m.Check()
	require.True(t, snap.OK)
	require.Equal(t, 1, snap.BrainBacklog)
	require.Equal(t, 1, snap.WorkerBacklog)
	require.Equal(t, []string{"deep_chain"}, snap.ActiveCooldowns)
}

func TestCheckFlagsCriticalBacklog(t *testing.T) {
	st := newTestStore(t)
	s := runtimestate.Default()
	m := NewMonitor(st, &s, 0, nil)
	m.thresholds.BrainBacklogCritical = 1

	_, err := st.Enqueue("brain-loop", "input", "hello", nil)
	require.NoError(t, err)

	snap := m.Check()
	require.False(t, snap.OK)
	require.Equal(t, 1, snap.BrainBacklog)
}
