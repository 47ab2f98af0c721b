package brain

import (
	"github.com/antigravity-dev/cortex/internal/diagnose"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/store"
)

// updateRuntimeState replicates _update_runtime_state: a small per-action,
// per-outcome scalar drift applied to energy/stress/uncertainty/integrity/
// continuity after every handled event.
func updateRuntimeState(s *runtimestate.State, eventID int64, action string, diag diagnose.Diagnosis) {
	st := s.EnsureStability()

	energyDelta := -0.03
	stressDelta := 0.02
	continuityDelta := 0.01
	uncertaintyDelta := -0.01
	integrityDelta := 0.005

	switch action {
	case "escalate_deep":
		energyDelta -= 0.03
		stressDelta += 0.03
	case "escalate_dream":
		energyDelta -= 0.015
		stressDelta -= 0.01
		continuityDelta += 0.015
		uncertaintyDelta -= 0.015
	case "halt_and_fallback":
		stressDelta -= 0.05
		continuityDelta -= 0.02
		uncertaintyDelta += 0.04
	case "stabilize":
		stressDelta -= 0.04
		continuityDelta += 0.02
		uncertaintyDelta -= 0.02
	}

	if st.Mode == "degraded" {
		stressDelta += 0.01
		continuityDelta -= 0.005
		uncertaintyDelta += 0.01
	}
	if len(diag.ActionableAdvice) > 0 {
		uncertaintyDelta -= 0.02
		continuityDelta += 0.01
	}
	if diag.Halt {
		uncertaintyDelta += 0.06
		integrityDelta -= 0.01
	}

	s.Cycle++
	s.Energy = clampUnit(s.Energy + energyDelta)
	s.Stress = clampUnit(s.Stress + stressDelta)
	s.Uncertainty = clampUnit(s.Uncertainty + uncertaintyDelta)
	s.Integrity = clampUnit(s.Integrity + integrityDelta)
	s.Continuity = clampUnit(s.Continuity + continuityDelta)
	s.LastEventID = eventID
	s.LastAction = action
	s.LastReason = truncateStr(diag.Diagnosis, 220)
	st.LastUpdated = runtimestate.NowISO()
}

func clampUnit(v float64) float64 {
	return clamp(v, 0.0, 1.0)
}

// runtimeGC delegates to the store's retention sweep every 40 cycles,
// mirroring the original's call site (run_single_brain_cycle invoking
// runtime_gc(conn) when state["cycle"] % 40 == 0). Passing 0 makes the
// store's RuntimeGC use its 30-day default: it deletes events done by both
// tracks and commit-window rows older than that cutoff.
func runtimeGC(st *store.Store, cycle int64) error {
	if cycle%40 != 0 {
		return nil
	}
	return st.RuntimeGC(0)
}
