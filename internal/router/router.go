// Package router implements C5: the policy router that infers a task type
// from an event, ranks candidate provider groups against a rolling
// scoreboard, and invokes the chosen provider over HTTP. Grounded on
// original_source/azi_rebuild/routing.py.
package router

import (
	"strconv"
	"strings"

	"github.com/antigravity-dev/cortex/internal/config"
)

// TaskType is the coarse category infer_task_type resolves an event into.
type TaskType string

const (
	TaskDream           TaskType = "dream"
	TaskDeepReflection   TaskType = "deep_reflection"
	TaskCoding           TaskType = "coding"
	TaskRiskControl      TaskType = "risk_control"
	TaskShallowReaction  TaskType = "shallow_reaction"
	TaskAnalysis         TaskType = "analysis"
)

// RouteContext carries the signals infer_task_type and route_candidates_for_task
// read off the triggering event.
type RouteContext struct {
	Action    string
	RiskLevel string
	EventType string
	Prompt    string
	Objective string
}

var codingSignals = []string{
	"code", "patch", "refactor", "bug", "test", "pytest", "traceback", ".py",
	"函数", "重构", "修复", "测试", "代码",
}

// InferTaskType replicates infer_task_type's decision cascade exactly.
func InferTaskType(ctx RouteContext) TaskType {
	evt := strings.ToLower(strings.TrimSpace(ctx.EventType))
	act := strings.ToLower(strings.TrimSpace(ctx.Action))
	risk := strings.ToLower(strings.TrimSpace(ctx.RiskLevel))
	text := strings.ToLower(ctx.Prompt + " " + ctx.Objective)

	if evt == "dream_request" || act == "escalate_dream" {
		return TaskDream
	}
	if evt == "iteration" || evt == "deep_request" || act == "escalate_deep" || act == "deep_reflect" {
		return TaskDeepReflection
	}
	for _, sig := range codingSignals {
		if strings.Contains(text, sig) {
			return TaskCoding
		}
	}
	if risk == "high" {
		return TaskRiskControl
	}
	shortText := len(strings.TrimSpace(ctx.Prompt)) <= 120 && len(strings.TrimSpace(ctx.Objective)) <= 160
	if (act == "stabilize" || act == "plan_next") && shortText {
		return TaskShallowReaction
	}
	return TaskAnalysis
}

var analysisFallback = []string{"medium_chain", "shallow_chain", "deep_chain", "fast_chain"}

var prefMap = map[TaskType][]string{
	TaskDream:          {"dream_chain", "deep_chain", "medium_chain", "shallow_chain", "fast_chain"},
	TaskDeepReflection: {"deep_chain", "medium_chain", "shallow_chain", "fast_chain"},
	TaskCoding:         {"coder_chain", "deep_chain", "medium_chain", "shallow_chain"},
	TaskRiskControl:    {"deep_chain", "medium_chain", "shallow_chain", "fast_chain"},
	TaskShallowReaction: {"shallow_chain", "fast_chain", "medium_chain", "deep_chain"},
	TaskAnalysis:       analysisFallback,
}

// RouteCandidatesForTask replicates route_candidates_for_task: custom
// per-task_type overrides from the routing policy take priority, falling
// back to the wildcard override, then the built-in preference map, then
// whatever provider groups happen to be configured.
func RouteCandidatesForTask(taskType TaskType, llmConfig *config.LLMConfig) []string {
	available := llmConfig.GroupNames()
	if len(available) == 0 {
		return []string{"fallback-local"}
	}
	availableSet := toSet(available)

	customPref := llmConfig.RoutingPolicy.TaskPreferences[string(taskType)]
	if len(customPref) == 0 {
		customPref = llmConfig.RoutingPolicy.TaskPreferences["*"]
	}

	preferred := filterAvailable(prefMap[taskType], availableSet)
	if len(preferred) == 0 {
		preferred = filterAvailable(analysisFallback, availableSet)
	}
	if len(customPref) > 0 {
		custom := filterAvailable(customPref, availableSet)
		rest := excludeAll(preferred, custom)
		preferred = append(append([]string{}, custom...), rest...)
	}
	if len(preferred) == 0 {
		preferred = filterAvailable(analysisFallback, availableSet)
	}
	if len(preferred) == 0 {
		preferred = append([]string{}, available...)
	}
	if len(preferred) == 0 {
		return []string{"fallback-local"}
	}
	return preferred
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

func filterAvailable(candidates []string, available map[string]struct{}) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := available[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func excludeAll(items, exclude []string) []string {
	excluded := toSet(exclude)
	out := make([]string, 0, len(items))
	for _, i := range items {
		if _, ok := excluded[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// GroupMetrics is the rolling per-group orchestration scoreboard entry.
type GroupMetrics struct {
	Total          int
	Success        int
	LatencyMsEMA   float64
	CostUSDEMA     float64
	FallbackRatio  float64
}

// GroupScore replicates _group_score: a weighted blend of success rate,
// latency, cost, and a fallback penalty, plus a small exploration bonus
// for groups with fewer than 3 samples.
func GroupScore(m GroupMetrics) float64 {
	total := m.Total
	if total < 0 {
		total = 0
	}
	success := m.Success
	if success < 0 {
		success = 0
	}
	successRate := 0.5
	if total > 0 {
		successRate = float64(success) / float64(total)
	}
	latencyMs := m.LatencyMsEMA
	if latencyMs == 0 {
		latencyMs = 1800.0
	}
	fallbackPenalty := m.FallbackRatio
	if fallbackPenalty > 1.0 {
		fallbackPenalty = 1.0
	}
	if fallbackPenalty < 0 {
		fallbackPenalty = 0
	}

	latencyScore := 1.0 - minF(latencyMs/10000.0, 1.0)
	costScore := 1.0 - minF(m.CostUSDEMA/0.02, 1.0)
	explorationBonus := 0.0
	if total < 3 {
		explorationBonus = 0.06
	}
	return successRate*0.62 + latencyScore*0.24 + costScore*0.12 - fallbackPenalty*0.08 + explorationBonus
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Decision is the result of ChooseProviderGroup.
type Decision struct {
	Group      string             `json:"group"`
	TaskType   TaskType           `json:"task_type"`
	Reason     string             `json:"reason"`
	Candidates []string           `json:"candidates"`
	Scores     map[string]float64 `json:"scores"`
}

// Orchestration is the rolling scoreboard read by GroupScore, keyed by
// provider group name.
type Orchestration map[string]GroupMetrics

// ChooseProviderGroup replicates choose_provider_group_with_meta: it
// infers the task type, ranks the task's candidate groups, force-promotes
// deep_chain on high risk, and picks the top scorer.
func ChooseProviderGroup(ctx RouteContext, llmConfig *config.LLMConfig, orch Orchestration) Decision {
	available := toSet(llmConfig.GroupNames())
	if len(available) == 0 {
		return Decision{
			Group:      "fallback-local",
			TaskType:   TaskAnalysis,
			Reason:     "no_provider_groups",
			Candidates: []string{"fallback-local"},
			Scores:     map[string]float64{"fallback-local": 1.0},
		}
	}

	taskType := InferTaskType(ctx)
	candidates := RouteCandidatesForTask(taskType, llmConfig)

	riskHigh := strings.EqualFold(strings.TrimSpace(ctx.RiskLevel), "high")
	if _, deepAvailable := available["deep_chain"]; riskHigh && deepAvailable {
		if containsStr(candidates, "deep_chain") {
			rest := excludeAll(candidates, []string{"deep_chain"})
			candidates = append([]string{"deep_chain"}, rest...)
		} else {
			candidates = append([]string{"deep_chain"}, candidates...)
		}
	}

	scores := map[string]float64{}
	for _, g := range candidates {
		if _, ok := available[g]; ok {
			scores[g] = GroupScore(orch[g])
		}
	}
	if len(scores) == 0 {
		return Decision{
			Group:      "fallback-local",
			TaskType:   taskType,
			Reason:     "empty_scoreboard",
			Candidates: candidates,
			Scores:     map[string]float64{"fallback-local": 1.0},
		}
	}

	if riskHigh {
		if _, ok := scores["deep_chain"]; ok {
			return Decision{Group: "deep_chain", TaskType: taskType, Reason: "risk_high_force_deep", Candidates: candidates, Scores: scores}
		}
	}

	best, bestScore := "", -1.0
	for g, s := range scores {
		if s > bestScore {
			best, bestScore = g, s
		}
	}
	return Decision{Group: best, TaskType: taskType, Reason: "task_policy+score", Candidates: candidates, Scores: scores}
}

func containsStr(items []string, target string) bool {
	for _, i := range items {
		if i == target {
			return true
		}
	}
	return false
}

var costTiers = []struct {
	substr string
	in     float64
	out    float64
}{
	{"gpt-5.3-codex-xhigh", 0.015, 0.06},
	{"gpt-5.2-codex-high", 0.012, 0.05},
	{"claude-opus", 0.015, 0.075},
	{"deepseek", 0.002, 0.008},
	{"gemini", 0.0012, 0.004},
	{"glm-4.5", 0.0008, 0.002},
	{"glm-4", 0.0006, 0.0018},
	{"nano", 0.00015, 0.0006},
	{"qwen", 0.0004, 0.0012},
}

// EstimateCostUSD replicates estimate_cost_usd's substring-matched rate
// tiers and char/4 token approximation.
func EstimateCostUSD(model, promptText, outputText string) float64 {
	name := strings.ToLower(model)
	inRate, outRate := 0.0008, 0.0024
	for _, tier := range costTiers {
		if strings.Contains(name, tier.substr) {
			inRate, outRate = tier.in, tier.out
			break
		}
	}
	inTokens := maxF(1.0, float64(len(promptText))/4.0)
	outTokens := maxF(1.0, float64(len(outputText))/4.0)
	cost := (inTokens/1000.0)*inRate + (outTokens/1000.0)*outRate
	return roundTo(cost, 6)
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func roundTo(v float64, places int) float64 {
	shift := pow10(places)
	return float64(int64(v*shift+sign(v)*0.5)) / shift
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func pow10(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}

// CoerceTimeoutSeconds clamps a configured timeout into [3, 90] seconds,
// using fallback (also clamped) when raw is empty or does not parse, as
// _coerce_timeout does.
func CoerceTimeoutSeconds(raw string, fallback float64) float64 {
	if raw == "" {
		return clampTimeout(fallback)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return clampTimeout(fallback)
	}
	return clampTimeout(v)
}

func clampTimeout(v float64) float64 {
	if v < 3.0 {
		return 3.0
	}
	if v > 90.0 {
		return 90.0
	}
	return v
}
