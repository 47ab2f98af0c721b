// Package brain implements C7: the brain cycle. Per pending brain-track
// event it ingests memory, projects runtime state into the ten-dimensional
// diagnosis shape, chooses an action, assesses risk, routes to a provider
// group, persists the resulting contracts and protocol-flow records, and
// commits the MVCC state version with rebase-on-conflict. Grounded on
// run_single_brain_cycle in original_source/azi_rebuild/runtime.py.
package brain

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/antigravity-dev/cortex/internal/contracts"
	"github.com/antigravity-dev/cortex/internal/diagnose"
	"github.com/antigravity-dev/cortex/internal/governance"
	"github.com/antigravity-dev/cortex/internal/memory"
	"github.com/antigravity-dev/cortex/internal/router"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/store"
)

// Options configures one RunCycle invocation.
type Options struct {
	BaseDir       string
	MaxEvents     int
	ForceDeep     bool
	ForceDream    bool
	Config        *config.Config
	Caller        *router.Caller
	Diagnoser     diagnose.Diagnoser
	ApprovalsFile string // defaults to <BaseDir>/resident_output/approvals.json
}

// RunCycle replicates run_single_brain_cycle: it drains up to the budget
// law's effective brain-event quota from the pending queue and runs each
// through the full diagnose -> risk -> route -> dispatch -> commit
// pipeline, mutating state in place.
func RunCycle(ctx context.Context, st *store.Store, s *runtimestate.State, opts Options) (int, error) {
	if opts.Diagnoser == nil {
		opts.Diagnoser = diagnose.Reference{}
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 12
	}
	approvalsFile := opts.ApprovalsFile
	if approvalsFile == "" {
		approvalsFile = filepath.Join(opts.BaseDir, "resident_output", "approvals.json")
	}

	llmCfg := config.LoadLLMConfig(filepath.Join(opts.BaseDir, "llm_config.json"))
	permissions := config.LoadPermissions(filepath.Join(opts.BaseDir, "permissions.json"))
	var configuredDefaults []string
	if opts.Config != nil {
		configuredDefaults = opts.Config.Safety.ImmutablePaths
	}
	immutablePaths := governance.LoadImmutablePaths(configuredDefaults, permissions.ImmutablePaths)

	s.EnsureStability()
	s.EnsureOrchestration()
	s.EnsureWorkMemory()

	effectiveMax := s.ComputeBrainEventBudget(opts.MaxEvents)
	rows, err := st.FetchPendingBrain(effectiveMax)
	if err != nil {
		return 0, fmt.Errorf("brain: fetch pending: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	handled := 0
	for _, row := range rows {
		if err := runOne(ctx, st, s, row, llmCfg, immutablePaths, approvalsFile, opts); err != nil {
			return handled, fmt.Errorf("brain: event#%d: %w", row.ID, err)
		}
		handled++
	}

	if err := runtimeGC(st, s.Cycle); err != nil {
		return handled, fmt.Errorf("brain: runtime gc: %w", err)
	}
	return handled, nil
}

func runOne(ctx context.Context, st *store.Store, s *runtimestate.State, row store.Event, llmCfg *config.LLMConfig, immutablePaths []string, approvalsFile string, opts Options) error {
	eventID := row.ID
	baseVersion, err := st.GetStateVersion()
	if err != nil {
		return err
	}

	memStats, err := memory.IngestEvent(st, eventID, row.Source, row.Content, row.Meta)
	if err != nil {
		return fmt.Errorf("ingest memory: %w", err)
	}
	retrieved, err := memory.HybridRetrieve(st, row.Content, 8)
	if err != nil {
		return fmt.Errorf("hybrid retrieve: %w", err)
	}

	state10d := diagnose.ToState10D(diagnose.ScalarState{
		Energy: s.Energy, Stress: s.Stress, Uncertainty: s.Uncertainty, Integrity: s.Integrity, Continuity: s.Continuity,
	})
	diag := opts.Diagnoser.Diagnose(row.Content, state10d)
	action := chooseAction(diag.Halt, row.EventType, opts.ForceDeep, opts.ForceDream, row.Meta)

	trust, err := memory.SourceTrustScore(st, row.Source, 0.6)
	if err != nil {
		return fmt.Errorf("source trust score: %w", err)
	}
	risk := governance.AssessRisk(action, row.Content, row.Source, trust)

	immutable := governance.CheckImmutableGuard(row.Content, immutablePaths)
	if immutable.Blocked {
		action = "halt_and_fallback"
		if err := governance.RecordGuardEvent(st, "immutable", "high",
			fmt.Sprintf("event#%d blocked paths=%v", eventID, immutable.Hits)); err != nil {
			return fmt.Errorf("record guard event: %w", err)
		}
	}

	requiresApproval := risk.RequiresApproval
	approved := !requiresApproval || governance.LoadApprovalOverride(approvalsFile, eventID)
	if requiresApproval && !approved {
		action = "await_approval"
	}

	routeCtx := router.RouteContext{
		Action: action, RiskLevel: string(risk.RiskLevel), EventType: row.EventType,
		Prompt: row.Content, Objective: diag.Diagnosis,
	}
	taskTypeHint := router.InferTaskType(routeCtx)
	llmCfgRoute, memoryPrefGroups := MemoryBiasedLLMConfig(s, llmCfg, string(taskTypeHint))

	decision := router.ChooseProviderGroup(routeCtx, llmCfgRoute, ToRouterOrchestration(s.Orchestration))
	routeGroupRequested := decision.Group
	taskType := string(decision.TaskType)
	routeGroup, routeOverrideReason := ApplyRouteCooldownOverride(s, llmCfgRoute, routeGroupRequested)

	generated := opts.Caller.GenerateStructuredResponse(ctx, routeGroup, row.Content, diag.Diagnosis, llmCfgRoute, decision.TaskType)
	payload := RoutePayload{
		GeneratedResponse: generated,
		RouteReason:       decision.Reason,
		RouteCandidates:   decision.Candidates,
		RouteScores:       decision.Scores,
	}
	if routeOverrideReason != "" {
		payload.StabilityOverride = routeOverrideReason
	}
	if len(memoryPrefGroups) > 0 {
		pref := memoryPrefGroups
		if len(pref) > 6 {
			pref = pref[:6]
		}
		payload.MemoryBias = &MemoryBias{
			TaskType:        string(taskTypeHint),
			PreferredGroups: pref,
			Strength:        WorkMemoryPolicy(llmCfgRoute).Strength,
		}
	}

	ObserveRouteOutcome(s, routeGroupRequested, routeGroup, payload, llmCfgRoute.APILiveEnabled)
	payload.RequestedGroup = routeGroupRequested
	payload.EffectiveGroup = routeGroup

	UpdateOrchestrationMetrics(s, taskType, routeGroup, firstNonEmpty(routeOverrideReason, decision.Reason), payload)
	UpdateWorkMemory(s, taskType, routeGroupRequested, routeGroup, payload, llmCfgRoute)

	if err := st.InsertProviderRoute(eventID, action, routeGroup, mustJSON(payload)); err != nil {
		return fmt.Errorf("insert provider route: %w", err)
	}

	planContract := contracts.NewPlan(eventID, "brain-loop", firstNonEmpty(row.Content, fmt.Sprintf("event#%d", eventID)), []contracts.PlanStep{
		{StepID: fmt.Sprintf("%d-1", eventID), Action: "analyze_event", Tool: "diagnose+memory", ExpectedOutput: "diagnosis+risk"},
		{StepID: fmt.Sprintf("%d-2", eventID), Action: action, Tool: "provider_group:" + routeGroup, ExpectedOutput: truncateStr(firstNonEmpty(payload.Summary, "-"), 180)},
	}, []string{"prefer_reversible_changes", "risk_checked_before_execution"})
	if err := insertContract(st, eventID, "plan", planContract); err != nil {
		return err
	}

	riskContractLevel := contracts.RiskLevel(governance.ToRiskLevel(risk.RiskLevel, immutable.Blocked))
	riskContract := contracts.NewRiskReport(eventID, "gatekeeper", riskContractLevel, risk.Reasons, requiresApproval, immutable.Blocked)
	if err := insertContract(st, eventID, "risk_report", riskContract); err != nil {
		return err
	}

	if requiresApproval {
		approvalContract := contracts.NewApproval(eventID, "risk-gate", approved, []string{action})
		if err := insertContract(st, eventID, "approval", approvalContract); err != nil {
			return err
		}
	}

	dispatchContract := buildDispatchContract(dispatchContractInput{
		EventID: eventID, State: *s, Content: row.Content, EventType: row.EventType, Meta: row.Meta,
		Action: action, TaskType: taskType, RouteGroup: routeGroup, RoutePayload: payload,
		Diagnosis: diag.Diagnosis, Risk: risk, RequiresApproval: requiresApproval, Approved: approved,
		LLMConfig: llmCfgRoute,
	})
	if err := insertContract(st, eventID, "dispatch_plan", dispatchContract); err != nil {
		return err
	}

	traceStatus := contracts.ExecSuccess
	if action == "await_approval" || action == "halt_and_fallback" {
		traceStatus = contracts.ExecBlocked
	}
	tsStarted := runtimestate.NowISO()
	execTrace := contracts.NewExecTrace(eventID, "brain-loop", planContract.ID, riskContract.ID,
		[]contracts.ToolCallTrace{contracts.NewToolCallTrace(
			"provider_group:"+routeGroup,
			contracts.DigestText(fmt.Sprintf("%d|%s|%s|%s", eventID, action, routeGroup, truncateStr(row.Content, 120))),
			tsStarted,
			runtimestate.NowISO(),
			contracts.DigestText(payload.Summary),
		)},
		[]string{"action:" + action, "provider_group:" + routeGroup}, traceStatus)
	if err := insertContract(st, eventID, "exec_trace", execTrace); err != nil {
		return err
	}

	taskPriority := "mid"
	if risk.RiskLevel == governance.RiskHigh {
		taskPriority = "high"
	}
	task := contracts.MakeTask(eventID, row.Content, row.Source, taskPriority)
	evidencePack := contracts.MakeEvidencePack(task.TaskID, factsToAny(retrieved), vectorsToAny(retrieved), row.Content, eventID)
	proposal := contracts.MakeProposal(task.TaskID, action,
		fmt.Sprintf("%s; diagnosis=%s", firstNonEmpty(payload.NextStep, "-"), firstNonEmpty(diag.Diagnosis, "-")),
		string(risk.RiskLevel), requiresApproval, "fallback_to_previous_state + reopen_at_7d")

	if err := insertProtocolFlow(st, eventID, "task", task); err != nil {
		return err
	}
	if err := insertProtocolFlow(st, eventID, "evidence", evidencePack); err != nil {
		return err
	}
	if err := insertProtocolFlow(st, eventID, "proposal", proposal); err != nil {
		return err
	}

	summary := truncateStr(diag.Diagnosis, 240)
	if len(diag.ActionableAdvice) > 0 {
		summary = truncateStr(diag.ActionableAdvice[0], 240)
	}
	if action == "await_approval" {
		summary = "high-risk action pending approval"
	}

	if err := st.InsertDecision(eventID, action, truncateStr(diag.Diagnosis, 240), summary, map[string]any{
		"result":       diag,
		"event_meta":   row.Meta,
		"memory_stats": memStats,
		"retrieve":     retrieved,
		"risk":         risk,
		"route":        payload,
		"dispatch":     dispatchContract,
	}); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	if err := governance.RecordRiskGate(st, eventID, action, risk, approved); err != nil {
		return fmt.Errorf("record risk gate: %w", err)
	}

	if action == "escalate_deep" && approved && row.EventType != "deep_request" {
		if _, err := st.Enqueue("brain-loop", "deep_request",
			fmt.Sprintf("deep request from event %d: %s", eventID, truncateStr(row.Content, 200)),
			map[string]any{"parent_event_id": eventID}); err != nil {
			return fmt.Errorf("enqueue deep request: %w", err)
		}
	}
	if action == "escalate_dream" && approved && row.EventType != "dream_request" {
		if _, err := st.Enqueue("brain-loop", "dream_request",
			fmt.Sprintf("dream request from event %d: %s", eventID, truncateStr(row.Content, 200)),
			map[string]any{"parent_event_id": eventID}); err != nil {
			return fmt.Errorf("enqueue dream request: %w", err)
		}
	}
	if action == "await_approval" {
		if _, err := st.Enqueue("risk-gate", "risk",
			fmt.Sprintf("approval required for event %d: %s", eventID, truncateStr(row.Content, 180)),
			map[string]any{"parent_event_id": eventID, "risk": risk}); err != nil {
			return fmt.Errorf("enqueue approval risk event: %w", err)
		}
	}

	observedVersion, err := st.GetStateVersion()
	if err != nil {
		return err
	}
	committed, newVersion, err := st.AdvanceStateVersionIfMatch(baseVersion, "brain-loop", fmt.Sprintf("event#%d:%s", eventID, action))
	if err != nil {
		return err
	}
	commitStatus := "committed"
	if !committed {
		commitStatus = "rebase_committed"
		rebaseOK, rebaseVersion, err := st.AdvanceStateVersionIfMatch(observedVersion, "brain-loop", fmt.Sprintf("event#%d:%s:rebase", eventID, action))
		if err != nil {
			return err
		}
		newVersion = rebaseVersion
		if !rebaseOK {
			commitStatus = "drift_unresolved"
			newVersion, err = st.GetStateVersion()
			if err != nil {
				return err
			}
		}
	}
	if err := st.RecordCommitWindow(eventID, "brain-loop", baseVersion, observedVersion, newVersion, commitStatus, "action="+action); err != nil {
		return fmt.Errorf("record commit window: %w", err)
	}

	updateRuntimeState(s, eventID, action, diag)
	if err := st.MarkBrainDone(eventID); err != nil {
		return fmt.Errorf("mark brain done: %w", err)
	}

	emergence, err := governance.EmergenceGuard(st)
	if err != nil {
		return fmt.Errorf("emergence guard: %w", err)
	}
	if emergence.Alert {
		if _, err := st.Enqueue("emergence-guard", "guard", emergence.Reason, map[string]any{"event_id": eventID}); err != nil {
			return fmt.Errorf("enqueue emergence alert: %w", err)
		}
	}
	return nil
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

func insertProtocolFlow(st *store.Store, eventID int64, kind string, obj any) error {
	k, payload, err := contracts.ToRow(kind, obj)
	if err != nil {
		return fmt.Errorf("to row %s: %w", kind, err)
	}
	if err := st.InsertProtocolFlow(eventID, k, payload); err != nil {
		return fmt.Errorf("insert protocol flow %s: %w", kind, err)
	}
	return nil
}

func factsToAny(r memory.Retrieved) []any {
	out := make([]any, 0, len(r.Facts))
	for _, f := range r.Facts {
		out = append(out, f)
	}
	return out
}

func vectorsToAny(r memory.Retrieved) []any {
	out := make([]any, 0, len(r.Vectors))
	for _, v := range r.Vectors {
		out = append(out, v)
	}
	return out
}

func mustJSON(v any) string {
	k, payload, err := contracts.ToRow("route", v)
	_ = k
	if err != nil {
		return "{}"
	}
	return payload
}
