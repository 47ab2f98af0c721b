package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchItemClampsTimeout(t *testing.T) {
	item := NewDispatchItem("shallow", "shallow_chain", "brain_loop.run_once", "in", "out", 2, true)
	require.Equal(t, 5, item.TimeoutSec)

	item = NewDispatchItem("shallow", "shallow_chain", "brain_loop.run_once", "in", "out", 5000, true)
	require.Equal(t, 900, item.TimeoutSec)
}

func TestToRowRoundTrips(t *testing.T) {
	plan := NewPlan(7, "brain-loop", "goal text", []PlanStep{{StepID: "7-1", Action: "analyze_event"}}, []string{"prefer_reversible_changes"})
	kind, payload, err := ToRow("plan", plan)
	require.NoError(t, err)
	require.Equal(t, "plan", kind)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	require.Equal(t, "goal text", decoded["goal"])
	require.Equal(t, SchemaVersion, decoded["schema_version"])
}

func TestRiskReportForbiddenRequiresApprovalPermission(t *testing.T) {
	r := NewRiskReport(1, "gatekeeper", RiskL3, []string{"immutable_guard"}, true, true)
	require.True(t, r.Forbidden)
	require.Equal(t, "approval", r.RequiredPermission)
}

func TestDigestTextIsStable(t *testing.T) {
	require.Equal(t, DigestText("hello"), DigestText("hello"))
	require.Len(t, DigestText("hello"), 16)
}
