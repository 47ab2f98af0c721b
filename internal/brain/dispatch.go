package brain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/antigravity-dev/cortex/internal/contracts"
	"github.com/antigravity-dev/cortex/internal/governance"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
)

// chooseAction replicates _choose_action: halt first, then dream/deep
// escalation, then health stabilization, else the default plan_next.
func chooseAction(diagHalt bool, eventType string, forceDeep, forceDream bool, meta map[string]any) string {
	mode := strings.ToLower(strings.TrimSpace(metaString(meta, "mode")))
	switch {
	case diagHalt:
		return "halt_and_fallback"
	case forceDream || eventType == "dream_request" || mode == "dream":
		return "escalate_dream"
	case forceDeep || eventType == "iteration" || eventType == "deep_request":
		return "escalate_deep"
	case eventType == "health":
		return "stabilize"
	default:
		return "plan_next"
	}
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func metaBool(meta map[string]any, key string) bool {
	if meta == nil {
		return false
	}
	v, ok := meta[key]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

// normalizeDispatchTaskType replicates _normalize_dispatch_task_type.
func normalizeDispatchTaskType(taskType string) string {
	switch strings.ToLower(strings.TrimSpace(taskType)) {
	case "shallow_reaction", "analysis":
		return "shallow"
	case "deep_reflection":
		return "deep"
	case "dream":
		return "dream"
	case "coding":
		return "coding"
	case "risk_control":
		return "ops"
	default:
		return "shallow"
	}
}

// issueDetection is the result of detectActionableIssue.
type issueDetection struct {
	IssueDetected bool
	IssueReason   string
	Confidence    float64
}

var nonworkTokens = []string{"你好", "hi", "hello", "谢谢", "ok", "好的", "收到", "在吗"}

var workTokens = []string{
	"修复", "重构", "实现", "排查", "分析", "优化", "部署", "编写", "生成", "写一个", "计划", "执行",
	"debug", "bug", "error", "traceback", "fix", "refactor", "implement", "build", "todo",
}

// detectActionableIssue replicates _detect_actionable_issue's scoring
// cascade exactly.
func detectActionableIssue(content, eventType string, meta map[string]any, action string) issueDetection {
	text := strings.ToLower(strings.TrimSpace(content))
	evt := strings.ToLower(strings.TrimSpace(eventType))
	act := strings.ToLower(strings.TrimSpace(action))

	switch evt {
	case "iteration", "deep_request", "dream_request":
		return issueDetection{true, "event_type=" + evt, 0.92}
	}
	switch act {
	case "escalate_deep", "escalate_dream", "await_approval":
		return issueDetection{true, "action=" + act, 0.88}
	}
	if text == "" {
		return issueDetection{false, "empty_input", 0.28}
	}

	if len(text) <= 24 {
		for _, tok := range nonworkTokens {
			if strings.Contains(text, tok) {
				return issueDetection{false, "smalltalk", 0.33}
			}
		}
	}

	score := 0.0
	for _, tok := range workTokens {
		if strings.Contains(text, tok) {
			score += 0.55
			break
		}
	}
	if strings.Contains(text, "?") || strings.Contains(text, "？") {
		score += 0.16
	}
	if metaBool(meta, "trigger_update") || metaBool(meta, "run_once") {
		score += 0.12
	}
	if len([]rune(text)) >= 40 {
		score += 0.08
	}

	issue := score >= 0.45
	reason := "insufficient_action_signal"
	if issue {
		reason = "explicit_work_signal"
	}
	confidence := clamp(0.32+score, 0.0, 0.96)
	return issueDetection{issue, reason, confidence}
}

// dispatchWorker replicates _dispatch_worker.
func dispatchWorker(taskType, content, eventType string, meta map[string]any) string {
	text := strings.ToLower(content)
	evt := strings.ToLower(eventType)
	connector := strings.ToLower(metaString(meta, "connector_id"))
	switch {
	case connector != "" && strings.Contains(connector, "mcp"):
		return "mcp"
	case strings.Contains(text, "mcp") || strings.HasPrefix(evt, "mcp"):
		return "mcp"
	case strings.Contains(text, "api") || evt == "api_bridge":
		return "api"
	case taskType == "coding":
		return "coder"
	case taskType == "deep" || taskType == "dream":
		return "deep"
	default:
		return "shallow"
	}
}

// dispatchModelGroup replicates _dispatch_model_group.
func dispatchModelGroup(taskType, routeGroup string) string {
	if rg := strings.TrimSpace(routeGroup); rg != "" {
		return rg
	}
	switch taskType {
	case "coding":
		return "coder_chain"
	case "deep", "dream":
		return "deep_chain"
	default:
		return "shallow_chain"
	}
}

// dispatchTool replicates _dispatch_tool.
func dispatchTool(worker, taskType string) string {
	switch {
	case worker == "coder":
		return "deep_coder_worker.run_once"
	case worker == "deep" && taskType == "dream":
		return "deep_worker.dream_replay_once"
	case worker == "deep":
		return "deep_worker.run_once"
	case worker == "mcp":
		return "panel_connector.call_mcp_tool"
	case worker == "api":
		return "panel_connector.call_api_connector"
	default:
		return "brain_loop.run_once"
	}
}

// dispatchTimeout replicates _dispatch_timeout.
func dispatchTimeout(worker, taskType string) int {
	switch {
	case worker == "coder":
		return 240
	case worker == "deep" && taskType == "dream":
		return 120
	case worker == "deep":
		return 180
	case worker == "mcp" || worker == "api":
		return 90
	default:
		return 45
	}
}

// buildHubDispatchPrompt replicates _build_hub_dispatch_prompt's
// Chinese-language dispatch-hub prompt template verbatim.
func buildHubDispatchPrompt(goal, eventSummary string, state runtimestate.State, riskLevel, routeGroup string, requiresApproval bool) string {
	workers := "shallow, deep, coder, mcp, api"
	tools := "brain_loop.run_once, deep_worker.run_once, deep_worker.dream_replay_once, " +
		"deep_coder_worker.run_once, panel_connector.call_mcp_tool, panel_connector.call_api_connector"
	constraints := []string{
		"中枢只做调度，不直接执行",
		"输出必须是可执行任务单（1-3条）",
		fmt.Sprintf("当前风险=%s", riskLevel),
		fmt.Sprintf("当前路由组=%s", orDash(routeGroup)),
		fmt.Sprintf("requires_approval=%v", requiresApproval),
		"默认优先可回滚动作",
	}
	stateBrief := fmt.Sprintf("cycle=%d, energy=%.2f, stress=%.2f, continuity=%.2f",
		state.Cycle, state.Energy, state.Stress, state.Continuity)
	return "你是阿紫调度中枢，不直接执行，只产出可执行任务单。\n" +
		"目标：" + truncateStr(goal, 220) + "\n" +
		"输入事件流：" + truncateStr(eventSummary, 420) + "\n" +
		"状态：" + stateBrief + "\n" +
		"可用执行单元：" + workers + "\n" +
		"可用工具：" + tools + "\n" +
		"约束：" + strings.Join(constraints, "；")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// taskSkillPack replicates _task_skill_pack: a config-file lookup with a
// hardcoded creative-skill-pack fallback for task_type=="dream".
func taskSkillPack(taskType string, llmCfg *config.LLMConfig) []string {
	var raw []string
	if llmCfg != nil && llmCfg.RoutingPolicy.TaskSkillPacks != nil {
		if v, ok := llmCfg.RoutingPolicy.TaskSkillPacks[taskType]; ok {
			raw = v
		} else if v, ok := llmCfg.RoutingPolicy.TaskSkillPacks["*"]; ok {
			raw = v
		}
	}
	items := make([]string, 0, len(raw))
	for _, x := range raw {
		x = strings.ToLower(strings.TrimSpace(x))
		if x != "" {
			items = append(items, x)
		}
	}
	if len(items) == 0 && taskType == "dream" {
		items = []string{
			"algorithmic-art", "generative-art", "canvas-design", "theme-factory",
			"artifacts-builder", "web-artifacts-builder", "slack-gif-creator",
			"imagegen", "sora", "speech", "transcribe",
		}
	}
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, x := range items {
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
		if len(out) == 16 {
			break
		}
	}
	return out
}

// dispatchContractInput bundles the arguments buildDispatchContract needs,
// mirroring _build_dispatch_contract's keyword arguments.
type dispatchContractInput struct {
	EventID          int64
	State            runtimestate.State
	Content          string
	EventType        string
	Meta             map[string]any
	Action           string
	TaskType         string
	RouteGroup       string
	RoutePayload     RoutePayload
	Diagnosis        string
	Risk             governance.RiskAssessment
	RequiresApproval bool
	Approved         bool
	LLMConfig        *config.LLMConfig
}

// buildDispatchContract replicates _build_dispatch_contract in full.
func buildDispatchContract(in dispatchContractInput) contracts.DispatchPlan {
	dispatchTaskType := normalizeDispatchTaskType(in.TaskType)
	riskLevel := contracts.RiskLevel(governance.ToRiskLevel(in.Risk.RiskLevel, false))
	issue := detectActionableIssue(in.Content, in.EventType, in.Meta, in.Action)

	worker := dispatchWorker(dispatchTaskType, in.Content, in.EventType, in.Meta)
	modelGroup := dispatchModelGroup(dispatchTaskType, in.RouteGroup)
	tool := dispatchTool(worker, dispatchTaskType)
	timeoutSec := dispatchTimeout(worker, dispatchTaskType)
	reversible := riskLevel == contracts.RiskL0 || riskLevel == contracts.RiskL1

	primaryExpected := firstNonEmpty(truncateStr(in.RoutePayload.Summary, 180), truncateStr(in.Diagnosis, 180), "actionable output")
	items := []contracts.DispatchItem{
		contracts.NewDispatchItem(worker, modelGroup, tool, truncateStr(in.Content, 360), primaryExpected, timeoutSec, reversible),
	}

	if issue.IssueDetected {
		switch in.Action {
		case "escalate_deep":
			items = append(items, contracts.NewDispatchItem(
				"deep", "deep_chain", "deep_worker.run_once",
				fmt.Sprintf("deep request for event#%d: %s", in.EventID, truncateStr(in.Content, 220)),
				"evidence + proposal + deep_release", 180, true))
		case "escalate_dream":
			items = append(items, contracts.NewDispatchItem(
				"deep", "deep_chain", "deep_worker.dream_replay_once",
				fmt.Sprintf("dream replay for event#%d: %s", in.EventID, truncateStr(in.Content, 220)),
				"dream insight + dream_release", 120, true))
		}
		if dispatchTaskType == "coding" && worker != "coder" {
			items = append(items, contracts.NewDispatchItem(
				"coder", "coder_chain", "deep_coder_worker.run_once",
				truncateStr(in.Content, 260), "patch proposal + test hints", 240, true))
		}
	}
	if len(items) > 3 {
		items = items[:3]
	}
	if in.RequiresApproval && !in.Approved {
		for i := range items {
			items[i].ExpectedOutput = "[待审批] " + truncateStr(items[i].ExpectedOutput, 150)
		}
	}

	recommendedSkills := taskSkillPack(dispatchTaskType, in.LLMConfig)

	successCriteria := []string{
		"至少生成 1 条可执行任务单",
		"执行单包含 worker/model_group/tool/timeout/reversible",
		"输出可用于下一轮调度",
	}
	if issue.IssueDetected {
		successCriteria = append(successCriteria, "任务单覆盖当前事件的核心意图")
	} else {
		successCriteria = append(successCriteria, "识别为非执行型输入并保持系统稳定")
	}
	if in.RequiresApproval {
		successCriteria = append(successCriteria, "高风险任务进入审批流程")
	}

	rollbackPlan := "fallback_to_previous_state + reopen_at_7d"
	if riskLevel == contracts.RiskL2 || riskLevel == contracts.RiskL3 || in.RequiresApproval {
		rollbackPlan = "block_external_side_effects + fallback_to_previous_state + require_human_review"
	}

	confidence := issue.Confidence
	if in.RoutePayload.LiveAPI {
		confidence += 0.08
	}
	confidence = clamp(confidence, 0.05, 0.98)
	if !issue.IssueDetected {
		confidence = minF(confidence, 0.58)
	}

	eventSummary := fmt.Sprintf("event_type=%s; action=%s; diagnosis=%s; route=%s; next=%s",
		in.EventType, in.Action, truncateStr(in.Diagnosis, 200), in.RouteGroup, truncateStr(in.RoutePayload.NextStep, 140))
	hubPrompt := buildHubDispatchPrompt(truncateStr(in.Content, 220), eventSummary, in.State, string(riskLevel), in.RouteGroup, in.RequiresApproval)

	intent := strings.TrimSpace(in.Diagnosis)
	if intent == "" {
		intent = truncateStr(in.Content, 180)
	}

	return contracts.NewDispatchPlan(in.EventID, "brain-loop", contracts.DispatchPlan{
		Intent:            truncateStr(intent, 220),
		TaskType:          dispatchTaskType,
		RiskLevel:         riskLevel,
		DispatchPlan:      items,
		RecommendedSkills: recommendedSkills,
		SuccessCriteria:   firstN(successCriteria, 6),
		RollbackPlan:      truncateStr(rollbackPlan, 280),
		Confidence:        roundTo4(confidence),
		IssueDetected:     issue.IssueDetected,
		IssueReason:       truncateStr(issue.IssueReason, 160),
		HubPrompt:         truncateStr(hubPrompt, 1200),
	})
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncateStr(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func roundTo4(v float64) float64 {
	return float64(int64(v*10000+sign4(v)*0.5)) / 10000
}

func sign4(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
