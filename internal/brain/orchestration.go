package brain

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/antigravity-dev/cortex/internal/router"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
)

// RoutePayload is the brain cycle's augmented route_payload: a provider
// call's GeneratedResponse plus the routing annotations the cycle layers on
// top of it (route reason/candidates/scores, stability override, memory
// bias, requested vs. effective group).
type RoutePayload struct {
	router.GeneratedResponse
	RouteReason       string             `json:"route_reason"`
	RouteCandidates   []string           `json:"route_candidates"`
	RouteScores       map[string]float64 `json:"route_scores"`
	StabilityOverride string             `json:"stability_override,omitempty"`
	MemoryBias        *MemoryBias        `json:"memory_bias,omitempty"`
	RequestedGroup    string             `json:"requested_group"`
	EffectiveGroup    string             `json:"effective_group"`
}

// MemoryBias is route_payload's memory_bias annotation.
type MemoryBias struct {
	TaskType        string   `json:"task_type"`
	PreferredGroups []string `json:"preferred_groups"`
	Strength        string   `json:"strength"`
}

// ToRouterOrchestration projects the durable scoreboard into the shape
// router.ChooseProviderGroup/GroupScore read.
func ToRouterOrchestration(o runtimestate.Orchestration) router.Orchestration {
	out := router.Orchestration{}
	for group, m := range o.GroupMetrics {
		out[group] = router.GroupMetrics{
			Total:         m.Total,
			Success:       m.Success,
			LatencyMsEMA:  m.LatencyMsEMA,
			CostUSDEMA:    m.CostUSDEMA,
			FallbackRatio: m.FallbackRatio,
		}
	}
	return out
}

// FallbackGroup replicates _fallback_group.
func FallbackGroup(llmCfg *config.LLMConfig) string {
	if llmCfg != nil {
		if _, ok := llmCfg.ProviderGroups["shallow_chain"]; ok {
			return "shallow_chain"
		}
		if _, ok := llmCfg.ProviderGroups["fast_chain"]; ok {
			return "fast_chain"
		}
		if _, ok := llmCfg.ProviderGroups["medium_chain"]; ok {
			return "medium_chain"
		}
	}
	return "fallback-local"
}

// ApplyRouteCooldownOverride replicates _apply_route_cooldown_override,
// substituting a cooled-down route group for its configured fallback and
// flipping stability into degraded mode.
func ApplyRouteCooldownOverride(s *runtimestate.State, llmCfg *config.LLMConfig, routeGroup string) (string, string) {
	st := s.EnsureStability()
	cycle := int(s.Cycle)
	key := strings.TrimSpace(routeGroup)
	if key == "" {
		return FallbackGroup(llmCfg), "empty_route_group"
	}
	if until := st.RouteCooldownUntil[key]; until > cycle {
		fb := FallbackGroup(llmCfg)
		reason := truncateStr(fmt.Sprintf("cooldown:%s->%s@%d", key, fb, until), 220)
		st.Mode = "degraded"
		st.LastRouteOverride = reason
		st.LastUpdated = runtimestate.NowISO()
		return fb, reason
	}
	st.LastRouteOverride = ""
	return key, ""
}

// ObserveRouteOutcome replicates _observe_route_outcome: tracks per-group
// fail streaks and consecutive fallbacks, tripping a cooldown and degraded
// mode once either threshold is reached, and recovering to normal mode once
// no cooldown remains active.
func ObserveRouteOutcome(s *runtimestate.State, requestedGroup, actualGroup string, payload RoutePayload, liveEnabled bool) {
	st := s.EnsureStability()
	cycle := int(s.Cycle)
	key := firstNonEmpty(requestedGroup, actualGroup, "-")

	routeError := strings.TrimSpace(payload.Error)
	failed := liveEnabled && (!payload.LiveAPI || routeError != "")
	if failed {
		st.RouteFailStreak[key]++
		st.LastRouteError = truncateStr(firstNonEmpty(routeError, "live_route_failed"), 320)
		if st.RouteFailStreak[key] >= 3 {
			st.RouteCooldownUntil[key] = cycle + 15
			st.PanicCount++
			st.Mode = "degraded"
		}
	} else {
		st.RouteFailStreak[key] = 0
		st.RouteSuccessCount[key]++
		st.LastRouteError = ""
	}

	if payload.Provider == "fallback-local" {
		st.ConsecutiveFallbacks++
		if st.ConsecutiveFallbacks == 3 {
			if cur := st.RouteCooldownUntil[key]; cycle+12 > cur {
				st.RouteCooldownUntil[key] = cycle + 12
			}
			st.PanicCount++
			st.Mode = "degraded"
		}
	} else {
		st.ConsecutiveFallbacks = 0
	}

	activeCooldowns := 0
	for _, until := range st.RouteCooldownUntil {
		if until > cycle {
			activeCooldowns++
		}
	}
	if activeCooldowns == 0 && st.Mode == "degraded" && !failed && st.ConsecutiveFallbacks <= 1 {
		st.Mode = "normal"
	}

	st.LastRouteGroup = truncateStr(firstNonEmpty(actualGroup, key), 120)
	st.LastUpdated = runtimestate.NowISO()
}

func ema(oldValue, newValue, alpha float64) float64 {
	if oldValue <= 0 {
		return newValue
	}
	a := clamp(alpha, 0.05, 0.95)
	return oldValue*(1-a) + newValue*a
}

// UpdateOrchestrationMetrics replicates _update_orchestration_metrics: an
// EMA-smoothed per-group and per-model scoreboard, plus the last task type
// and route; no per-task-type history is kept.
func UpdateOrchestrationMetrics(s *runtimestate.State, taskType, routeGroup, routeReason string, payload RoutePayload) {
	orch := s.EnsureOrchestration()

	groupKey := truncateStr(orDash(routeGroup), 80)
	provider := truncateStr(orDash(payload.Provider), 80)
	model := truncateStr(orDash(payload.Model), 120)
	modelKey := provider + ":" + model
	latencyMs := maxF(0, float64(payload.LatencyMs))
	costUSD := maxF(0, payload.EstimatedCostUSD)
	routeError := strings.TrimSpace(payload.Error)
	success := payload.LiveAPI && routeError == "" && provider != "fallback-local" && provider != "-"
	fallbackUsed := provider == "fallback-local" || provider == "-" || !payload.LiveAPI

	g := orch.GroupMetrics[groupKey]
	g.Total++
	if success {
		g.Success++
	} else {
		g.Fail++
	}
	if fallbackUsed {
		g.Fallback++
	}
	g.FallbackRatio = roundTo(float64(g.Fallback)/float64(maxInt(1, g.Total)), 4)
	g.SuccessRate = roundTo(float64(g.Success)/float64(maxInt(1, g.Total)), 4)
	g.LatencyMsEMA = roundTo(ema(g.LatencyMsEMA, latencyMs, 0.3), 2)
	g.CostUSDEMA = roundTo(ema(g.CostUSDEMA, costUSD, 0.3), 6)
	g.LastProvider = provider
	g.LastModel = model
	g.LastError = truncateStr(routeError, 220)
	g.UpdatedAt = runtimestate.NowISO()
	orch.GroupMetrics[groupKey] = g

	m := orch.ModelMetrics[modelKey]
	m.Total++
	if success {
		m.Success++
	}
	m.SuccessRate = roundTo(float64(m.Success)/float64(maxInt(1, m.Total)), 4)
	m.LatencyMsEMA = roundTo(ema(m.LatencyMsEMA, latencyMs, 0.3), 2)
	m.CostUSDEMA = roundTo(ema(m.CostUSDEMA, costUSD, 0.3), 6)
	m.LastProvider = provider
	m.LastModel = model
	m.UpdatedAt = runtimestate.NowISO()
	orch.ModelMetrics[modelKey] = m

	tt := truncateStr(orDash(taskType), 80)
	orch.LastTaskType = tt
	orch.LastRouteGroup = groupKey
	orch.LastRouteReason = truncateStr(orDash(routeReason), 220)
	orch.LastProvider = provider
	orch.LastModel = model
	orch.LastError = truncateStr(routeError, 320)
	orch.LastLatencyMs = int64(latencyMs + 0.5)
	orch.LastCostUSD = roundTo(costUSD, 6)
	orch.UpdatedAt = runtimestate.NowISO()
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	shifted := v * p
	if shifted >= 0 {
		return float64(int64(shifted+0.5)) / p
	}
	return float64(int64(shifted-0.5)) / p
}

// MemPolicy mirrors _work_memory_policy_from_llm_cfg's returned tuning knobs.
type MemPolicy struct {
	Strength        string
	BiasLimit       int
	MinTotalForPref int
	MinScoreForPref float64
	MaxPrefGroups   int
}

func normalizeMemoryStrength(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "conservative", "cautious", "safe":
		return "conservative"
	case "aggressive", "exploratory", "bold":
		return "aggressive"
	default:
		return "balanced"
	}
}

// WorkMemoryPolicy replicates _work_memory_policy_from_llm_cfg.
func WorkMemoryPolicy(llmCfg *config.LLMConfig) MemPolicy {
	strength := "balanced"
	if llmCfg != nil {
		raw := llmCfg.RoutingPolicy.WorkMemoryStrength
		if raw == "" {
			raw = llmCfg.RoutingPolicy.MemoryStrength
		}
		strength = normalizeMemoryStrength(raw)
	}
	switch strength {
	case "conservative":
		return MemPolicy{Strength: strength, BiasLimit: 2, MinTotalForPref: 4, MinScoreForPref: 0.68, MaxPrefGroups: 2}
	case "aggressive":
		return MemPolicy{Strength: strength, BiasLimit: 6, MinTotalForPref: 1, MinScoreForPref: 0.35, MaxPrefGroups: 6}
	default:
		return MemPolicy{Strength: "balanced", BiasLimit: 4, MinTotalForPref: 2, MinScoreForPref: 0.5, MaxPrefGroups: 4}
	}
}

// MemoryBiasedLLMConfig replicates _memory_biased_llm_config: it layers the
// work memory's learned per-task-type preferred groups onto a copy of
// llmCfg's routing policy, merging ahead of any config-file preference.
func MemoryBiasedLLMConfig(s *runtimestate.State, llmCfg *config.LLMConfig, taskType string) (*config.LLMConfig, []string) {
	wm := s.EnsureWorkMemory()
	policy := WorkMemoryPolicy(llmCfg)
	preferred := wm.TaskPreferences[taskType]
	if len(preferred) > policy.BiasLimit {
		preferred = preferred[:policy.BiasLimit]
	}
	if len(preferred) == 0 {
		return llmCfg, nil
	}

	cfg := *llmCfg
	existing := cfg.RoutingPolicy.TaskPreferences[taskType]
	merged := make([]string, 0, len(preferred)+len(existing))
	seen := map[string]struct{}{}
	for _, g := range append(append([]string{}, preferred...), existing...) {
		if _, dup := seen[g]; dup || g == "" {
			continue
		}
		seen[g] = struct{}{}
		merged = append(merged, g)
	}
	if len(merged) > 8 {
		merged = merged[:8]
	}
	newPrefs := map[string][]string{}
	for k, v := range cfg.RoutingPolicy.TaskPreferences {
		newPrefs[k] = v
	}
	newPrefs[taskType] = merged
	cfg.RoutingPolicy.TaskPreferences = newPrefs
	return &cfg, merged
}

// UpdateWorkMemory replicates _update_work_memory: a per (task_type,
// group) route-outcome ledger that derives a ranked preferred-group list
// feeding MemoryBiasedLLMConfig on future cycles.
func UpdateWorkMemory(s *runtimestate.State, taskType, requestedGroup, actualGroup string, payload RoutePayload, llmCfg *config.LLMConfig) {
	wm := s.EnsureWorkMemory()
	policy := WorkMemoryPolicy(llmCfg)
	wm.Strength = policy.Strength

	tt := truncateStr(orDash(taskType), 80)
	groupKey := truncateStr(firstNonEmpty(actualGroup, requestedGroup, "-"), 80)
	provider := truncateStr(orDash(payload.Provider), 80)
	model := truncateStr(orDash(payload.Model), 120)
	routeError := strings.TrimSpace(payload.Error)
	success := payload.LiveAPI && routeError == "" && provider != "fallback-local" && provider != "-"
	fallbackUsed := provider == "fallback-local" || provider == "-" || !payload.LiveAPI

	row, ok := wm.TaskRouteStats[tt]
	if !ok {
		row = map[string]runtimestate.TaskGroupStat{}
	}
	item := row[groupKey]
	item.Total++
	if success {
		item.Success++
	} else {
		item.Fail++
	}
	if fallbackUsed {
		item.Fallback++
	}
	item.SuccessRate = roundTo(float64(item.Success)/float64(maxInt(1, item.Total)), 4)
	item.FallbackRatio = roundTo(float64(item.Fallback)/float64(maxInt(1, item.Total)), 4)
	item.LastProvider = provider
	item.LastModel = model
	item.LastError = truncateStr(routeError, 220)
	item.LastSeen = runtimestate.NowISO()
	row[groupKey] = item
	wm.TaskRouteStats[tt] = row

	type ranked struct {
		group string
		score float64
		total int
	}
	var scored []ranked
	for g, m := range row {
		if m.Total <= 0 {
			continue
		}
		sr := clamp(m.SuccessRate, 0, 1)
		fr := clamp(m.FallbackRatio, 0, 1)
		confidence := minF(1.0, float64(m.Total)/10.0)
		scored = append(scored, ranked{g, sr*0.72 + (1-fr)*0.18 + confidence*0.1, m.Total})
	}
	for i := 0; i < len(scored); i++ {
		for j := i + 1; j < len(scored); j++ {
			if scored[j].score > scored[i].score || (scored[j].score == scored[i].score && scored[j].total > scored[i].total) {
				scored[i], scored[j] = scored[j], scored[i]
			}
		}
	}
	var preferredGroups []string
	for _, r := range scored {
		if r.total >= policy.MinTotalForPref && r.score >= policy.MinScoreForPref {
			preferredGroups = append(preferredGroups, r.group)
		}
		if len(preferredGroups) == policy.MaxPrefGroups {
			break
		}
	}
	if len(preferredGroups) == 0 && success {
		if policy.Strength == "aggressive" {
			preferredGroups = []string{groupKey}
		} else if policy.Strength == "balanced" && item.Total >= 2 {
			preferredGroups = []string{groupKey}
		}
	}
	if len(preferredGroups) > 0 {
		wm.TaskPreferences[tt] = preferredGroups
	}

	if success {
		wm.RecentSuccesses = append(wm.RecentSuccesses, runtimestate.RecentSuccess{
			TS:       runtimestate.NowISO(),
			TaskType: tt,
			Group:    groupKey,
			Provider: provider,
			Model:    model,
			Summary:  truncateStr(payload.Summary, 180),
		})
		if len(wm.RecentSuccesses) > 30 {
			wm.RecentSuccesses = wm.RecentSuccesses[len(wm.RecentSuccesses)-30:]
		}
	}

	wm.UpdatedAt = runtimestate.NowISO()
}
