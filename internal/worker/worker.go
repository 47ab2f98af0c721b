// Package worker implements C8: the deep/dream worker cycle. Per pending
// worker-track event it either composes a dream replay (memory-only,
// non-publishing reflection) or runs the deep safety chain and publishes
// under MVCC if the sandbox/eval/canary gate passes. Grounded on
// run_single_worker_cycle in original_source/azi_rebuild/runtime.py.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/cortex/internal/brain"
	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/antigravity-dev/cortex/internal/contracts"
	"github.com/antigravity-dev/cortex/internal/router"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/safety"
	"github.com/antigravity-dev/cortex/internal/store"
)

// Options configures one RunCycle invocation.
type Options struct {
	BaseDir    string
	MaxEvents  int
	Caller     *router.Caller
	Safety     safety.Options
	ForceDream bool // force every event through the dream-replay branch
	ForceDeep  bool // force every event through the deep safety-chain branch; ForceDream wins if both are set
}

// RunCycle replicates run_single_worker_cycle: it drains up to the budget
// law's effective worker-event quota and, per event, either reflects
// (dream_request) or runs the deep safety chain and attempts an MVCC
// publish.
func RunCycle(ctx context.Context, st *store.Store, s *runtimestate.State, opts Options) (int, error) {
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 6
	}
	llmCfg := config.LoadLLMConfig(filepath.Join(opts.BaseDir, "llm_config.json"))

	s.EnsureStability()
	s.EnsureOrchestration()
	s.EnsureWorkMemory()

	effectiveMax := s.ComputeWorkerEventBudget(opts.MaxEvents)
	rows, err := st.FetchPendingWorker(effectiveMax)
	if err != nil {
		return 0, fmt.Errorf("worker: fetch pending: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	handled := 0
	for _, row := range rows {
		var runErr error
		if opts.ForceDream || (!opts.ForceDeep && row.EventType == "dream_request") {
			runErr = runDream(st, s, row, llmCfg, ctx, opts)
		} else {
			runErr = runDeep(ctx, st, s, row, opts)
		}
		if runErr != nil {
			return handled, fmt.Errorf("worker: event#%d: %w", row.ID, runErr)
		}
		handled++
	}

	if err := runtimeGC(st, s.Cycle); err != nil {
		return handled, fmt.Errorf("worker: runtime gc: %w", err)
	}
	return handled, nil
}

// runDream replicates the dream_request branch of run_single_worker_cycle:
// a memory-only reflection that never advances the MVCC state version.
func runDream(st *store.Store, s *runtimestate.State, row store.Event, llmCfg *config.LLMConfig, ctx context.Context, opts Options) error {
	eventID := row.ID
	baseVersion, err := st.GetStateVersion()
	if err != nil {
		return err
	}

	draft, err := composeDreamReplay(st, row.Content, 12)
	if err != nil {
		return err
	}

	routeCtx := router.RouteContext{
		Action: "escalate_dream", RiskLevel: "mid", EventType: row.EventType,
		Prompt: draft, Objective: "dream replay",
	}
	taskType := router.InferTaskType(routeCtx)
	llmCfgRoute, memoryPrefGroups := brain.MemoryBiasedLLMConfig(s, llmCfg, string(taskType))

	decision := router.ChooseProviderGroup(routeCtx, llmCfgRoute, brain.ToRouterOrchestration(s.Orchestration))
	routeGroupRequested := decision.Group
	routeGroup, routeOverrideReason := brain.ApplyRouteCooldownOverride(s, llmCfgRoute, routeGroupRequested)

	generated := opts.Caller.GenerateStructuredResponse(ctx, routeGroup, draft, "Turn dream replay fragments into one concise actionable insight.", llmCfgRoute, taskType)
	payload := brain.RoutePayload{
		GeneratedResponse: generated,
		RouteReason:       decision.Reason,
		RouteCandidates:   decision.Candidates,
		RouteScores:       decision.Scores,
		RequestedGroup:    routeGroupRequested,
		EffectiveGroup:    routeGroup,
	}
	if routeOverrideReason != "" {
		payload.StabilityOverride = routeOverrideReason
	}
	if len(memoryPrefGroups) > 0 {
		pref := memoryPrefGroups
		if len(pref) > 6 {
			pref = pref[:6]
		}
		payload.MemoryBias = &brain.MemoryBias{
			TaskType:        string(taskType),
			PreferredGroups: pref,
			Strength:        brain.WorkMemoryPolicy(llmCfgRoute).Strength,
		}
	}

	brain.ObserveRouteOutcome(s, routeGroupRequested, routeGroup, payload, llmCfgRoute.APILiveEnabled)
	brain.UpdateOrchestrationMetrics(s, string(taskType), routeGroup, firstNonEmpty(routeOverrideReason, decision.Reason), payload)
	brain.UpdateWorkMemory(s, string(taskType), routeGroupRequested, routeGroup, payload, llmCfgRoute)

	dreamText := strings.TrimSpace(payload.Summary)
	if dreamText == "" {
		dreamText = draft
	}

	if _, err := st.Enqueue("deep-worker", "dream", dreamText, map[string]any{
		"parent_event_id": eventID,
		"seed":            truncateStr(row.Content, 200),
		"provider":        orDash(payload.Provider),
		"model":           orDash(payload.Model),
		"live_api":        payload.LiveAPI,
	}); err != nil {
		return fmt.Errorf("enqueue dream: %w", err)
	}
	if _, err := st.Enqueue("deep-worker", "dream_release",
		fmt.Sprintf("dream replay published for event#%d", eventID),
		map[string]any{"parent_event_id": eventID, "mode": "dream"}); err != nil {
		return fmt.Errorf("enqueue dream release: %w", err)
	}

	if err := st.RecordCommitWindow(eventID, "deep-worker", baseVersion, baseVersion, baseVersion, "dream_no_commit", "memory replay only"); err != nil {
		return fmt.Errorf("record commit window: %w", err)
	}
	if err := st.InsertDecision(eventID, "dream_reflect", "worker dream replay generated", truncateStr(dreamText, 220), map[string]any{
		"worker":          "dream",
		"parent_event_id": eventID,
		"mode":            "dream",
	}); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	score := 0.64
	if payload.LiveAPI {
		score = 0.78
	}
	evalContract := contracts.NewEvalResult(eventID, "deep-worker", "dream_replay", score, true, false, []string{
		"provider=" + orDash(payload.Provider),
		"model=" + orDash(payload.Model),
	})
	if err := insertContract(st, eventID, "eval_result", evalContract); err != nil {
		return err
	}

	repBefore := s.RewardRepDreamWorker
	delta := 0.1
	if payload.LiveAPI {
		delta = 0.35
	}
	repAfter := repBefore + delta
	s.RewardRepDreamWorker = repAfter
	reasonCode := "fallback"
	if payload.LiveAPI {
		reasonCode = "api_live"
	}
	rewardContract := contracts.NewRewardUpdate(eventID, "reward-engine", "dream-worker", repBefore, repAfter, delta, []string{"dream_reflect", reasonCode})
	if err := insertContract(st, eventID, "reward_update", rewardContract); err != nil {
		return err
	}

	return st.MarkWorkerDone(eventID)
}

// runDeep replicates the non-dream branch of run_single_worker_cycle: run
// the deep safety chain, then attempt an MVCC-guarded publish.
func runDeep(ctx context.Context, st *store.Store, s *runtimestate.State, row store.Event, opts Options) error {
	eventID := row.ID
	baseVersion, err := st.GetStateVersion()
	if err != nil {
		return err
	}

	patchPlan := fmt.Sprintf("apply reversible refinement for event#%d; source=%s; type=%s; objective=%s",
		eventID, row.Source, row.EventType, truncateStr(row.Content, 120))

	safetyOpts := opts.Safety
	chain, err := safety.RunChain(ctx, st, eventID, patchPlan, safetyOpts)
	if err != nil {
		return fmt.Errorf("run deep safety chain: %w", err)
	}
	chainOK := chain.OK
	gatePass := chainOK && chain.PublishAllowed

	observedVersion, err := st.GetStateVersion()
	if err != nil {
		return err
	}
	commitStatus := "blocked_eval_gate"
	publishAllowed := false
	publishReason := chain.EvalGateStatus
	if publishReason == "" {
		publishReason = "failed"
	}
	finalVersion := observedVersion

	if gatePass {
		if observedVersion != baseVersion {
			commitStatus = "drift_rebase_required"
			publishReason = fmt.Sprintf("mvcc drift: base=%d, observed=%d", baseVersion, observedVersion)
			safety.RollbackStage(safetyOpts.RollbackDir, eventID, publishReason)
		} else {
			committed, newVersion, err := st.AdvanceStateVersionIfMatch(baseVersion, "deep-worker", fmt.Sprintf("event#%d:deep_publish", eventID))
			if err != nil {
				return err
			}
			if committed {
				commitStatus = "committed"
				publishAllowed = true
				publishReason = fmt.Sprintf("published@v%d", newVersion)
				finalVersion = newVersion
			} else {
				commitStatus = "drift_commit_race"
				publishReason = "mvcc commit race"
				safety.RollbackStage(safetyOpts.RollbackDir, eventID, publishReason)
			}
		}
	}

	if err := st.RecordCommitWindow(eventID, "deep-worker", baseVersion, observedVersion, finalVersion, commitStatus, publishReason); err != nil {
		return fmt.Errorf("record commit window: %w", err)
	}

	proposal := fmt.Sprintf("proposal: %s safe plan for `%s`", publishVerb(publishAllowed), truncateStr(row.Content, 120))
	evidence := fmt.Sprintf("evidence: source=%s, type=%s, cycle=%d, safety=%s, publish=%t, status=%s",
		row.Source, row.EventType, s.Cycle, okWord(chainOK), publishAllowed, commitStatus)

	if _, err := st.Enqueue("deep-worker", "evidence", evidence, map[string]any{
		"parent_event_id": eventID,
		"safety_chain":    chain,
		"commit_window": map[string]any{
			"base_version":     baseVersion,
			"observed_version": observedVersion,
			"status":           commitStatus,
		},
	}); err != nil {
		return fmt.Errorf("enqueue evidence: %w", err)
	}

	if publishAllowed {
		if _, err := st.Enqueue("deep-worker", "proposal", proposal, map[string]any{"parent_event_id": eventID, "safety_chain": chain}); err != nil {
			return fmt.Errorf("enqueue proposal: %w", err)
		}
		if _, err := st.Enqueue("deep-worker", "deep_release", fmt.Sprintf("deep release published for event#%d", eventID),
			map[string]any{"parent_event_id": eventID, "commit_status": commitStatus}); err != nil {
			return fmt.Errorf("enqueue deep release: %w", err)
		}
	} else {
		if _, err := st.Enqueue("deep-worker", "guard", fmt.Sprintf("deep publish blocked for event#%d: %s", eventID, publishReason),
			map[string]any{"parent_event_id": eventID, "commit_status": commitStatus, "eval_gate_status": chain.EvalGateStatus}); err != nil {
			return fmt.Errorf("enqueue guard: %w", err)
		}
	}

	if _, err := st.Enqueue("deep-worker", "trace", fmt.Sprintf("deep safety chain event#%d", eventID),
		map[string]any{"parent_event_id": eventID, "safety_chain": chain}); err != nil {
		return fmt.Errorf("enqueue trace: %w", err)
	}

	decisionAction := "rollback"
	decisionSummary := truncateStr("blocked: "+publishReason, 220)
	if publishAllowed {
		decisionAction = "deep_publish"
		decisionSummary = truncateStr(proposal, 220)
	}
	if err := st.InsertDecision(eventID, decisionAction, "worker gate+mvcc checked", decisionSummary, map[string]any{
		"worker":           "deep",
		"parent_event_id":  eventID,
		"safety_chain":     chain,
		"eval_gate_status": chain.EvalGateStatus,
		"commit_window": map[string]any{
			"base_version":     baseVersion,
			"observed_version": observedVersion,
			"status":           commitStatus,
		},
	}); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	evalScore := 0.3
	switch {
	case publishAllowed:
		evalScore = 0.92
	case chainOK:
		evalScore = 0.66
	}
	evalContract := contracts.NewEvalResult(eventID, "deep-worker", "deep_eval_harness", evalScore, publishAllowed, !chainOK, []string{
		chain.EvalGateStatus,
		truncateStr(publishReason, 180),
	})
	if err := insertContract(st, eventID, "eval_result", evalContract); err != nil {
		return err
	}

	repBefore := s.RewardRepDeepWorker
	delta := -0.25
	if publishAllowed {
		delta = 0.45
	}
	repAfter := repBefore + delta
	s.RewardRepDeepWorker = repAfter
	publishReasonCode := "publish_blocked"
	if publishAllowed {
		publishReasonCode = "publish_allowed"
	}
	rewardContract := contracts.NewRewardUpdate(eventID, "reward-engine", "deep-worker", repBefore, repAfter, delta, []string{commitStatus, publishReasonCode})
	if err := insertContract(st, eventID, "reward_update", rewardContract); err != nil {
		return err
	}

	return st.MarkWorkerDone(eventID)
}

func publishVerb(allowed bool) string {
	if allowed {
		return "apply"
	}
	return "hold"
}

func okWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func runtimeGC(st *store.Store, cycle int64) error {
	if cycle%40 != 0 {
		return nil
	}
	return st.RuntimeGC(0)
}

func insertContract(st *store.Store, eventID int64, kind string, obj any) error {
	k, payload, err := contracts.ToRow(kind, obj)
	if err != nil {
		return fmt.Errorf("to row %s: %w", kind, err)
	}
	if err := st.InsertContract(eventID, k, payload); err != nil {
		return fmt.Errorf("insert contract %s: %w", kind, err)
	}
	return nil
}
