package governance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/stretchr/testify/require"
)

func TestAssessRiskKeyword(t *testing.T) {
	a := AssessRisk("patch", "please rm -rf the build cache", "brain-loop", 0.8)
	require.Equal(t, RiskMid, a.RiskLevel)
	require.False(t, a.RequiresApproval)
}

func TestAssessRiskHighFromMultipleSignals(t *testing.T) {
	a := AssessRisk("drop table", "drop table users; shutdown now", "web-scraper", 0.3)
	require.Equal(t, RiskHigh, a.RiskLevel)
	require.True(t, a.RequiresApproval)
}

func TestCheckImmutableGuard(t *testing.T) {
	r := CheckImmutableGuard("please edit RUN.PS1 now", []string{"run.ps1"})
	require.True(t, r.Blocked)
}

func TestLoadApprovalOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"approved_event_ids": [5, 9]}`), 0o644))
	require.True(t, LoadApprovalOverride(path, 5))
	require.False(t, LoadApprovalOverride(path, 6))
	require.False(t, LoadApprovalOverride(filepath.Join(t.TempDir(), "missing.json"), 5))
}

func TestEmergenceGuardTripsOnRepeatedAction(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "g.db"))
	require.NoError(t, err)
	defer st.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.InsertDecision(int64(i), "plan_next", "", "", nil))
	}
	result, err := EmergenceGuard(st)
	require.NoError(t, err)
	require.True(t, result.Alert)
}

func TestEmergenceGuardQuietBelowThreshold(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "g2.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.InsertDecision(1, "plan_next", "", "", nil))
	result, err := EmergenceGuard(st)
	require.NoError(t, err)
	require.False(t, result.Alert)
}

func TestToRiskLevel(t *testing.T) {
	require.Equal(t, "L3", ToRiskLevel(RiskHigh, true))
	require.Equal(t, "L2", ToRiskLevel(RiskHigh, false))
	require.Equal(t, "L1", ToRiskLevel(RiskMid, false))
	require.Equal(t, "L0", ToRiskLevel(RiskLow, false))
}
