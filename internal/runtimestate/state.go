// Package runtimestate defines the runtime's scalar state (energy,
// stress, uncertainty, integrity, continuity), its stability/orchestration/
// work-memory sub-states, and the budget law that scales dispatch volume
// under pressure. Grounded on original_source/azi_rebuild/runtime.py's
// DEFAULT_RUNTIME_STATE / _ensure_stability_state / _compute_*_event_budget.
package runtimestate

import (
	"encoding/json"
	"time"
)

// State is the durable runtime_state row, round-tripped through
// internal/store as JSON.
type State struct {
	Cycle           int64   `json:"cycle"`
	Energy          float64 `json:"energy"`
	Stress          float64 `json:"stress"`
	Uncertainty     float64 `json:"uncertainty"`
	Integrity       float64 `json:"integrity"`
	Continuity      float64 `json:"continuity"`
	PermissionLevel int     `json:"permission_level"`
	LastEventID     int64   `json:"last_event_id"`
	RoleID          string  `json:"role_id"`
	LastAction      string  `json:"last_action"`
	LastReason      string  `json:"last_reason"`

	Stability     Stability     `json:"stability"`
	Orchestration Orchestration `json:"orchestration"`
	WorkMemory    WorkMemory    `json:"work_memory"`

	RewardRepDreamWorker float64 `json:"reward_rep_dream_worker"`
	RewardRepDeepWorker  float64 `json:"reward_rep_deep_worker"`
}

// Default mirrors DEFAULT_RUNTIME_STATE.
func Default() State {
	return State{
		Energy:          0.8,
		Stress:          0.2,
		Uncertainty:     0.3,
		Integrity:       0.85,
		Continuity:      0.7,
		PermissionLevel: 1,
		RoleID:          "operator",
		LastAction:      "-",
		LastReason:      "-",
		Stability:       defaultStability(),
		Orchestration:   defaultOrchestration(),
		WorkMemory:      defaultWorkMemory(),

		RewardRepDreamWorker: 50.0,
		RewardRepDeepWorker:  50.0,
	}
}

// Stability tracks the budget law's mode and rolling route health.
type Stability struct {
	Mode                  string         `json:"mode"`
	PanicCount            int            `json:"panic_count"`
	DegradedCycles        int            `json:"degraded_cycles"`
	RequestedBrainEvents  int            `json:"requested_brain_events"`
	EffectiveBrainEvents  int            `json:"effective_brain_events"`
	RequestedWorkerEvents int            `json:"requested_worker_events"`
	EffectiveWorkerEvents int            `json:"effective_worker_events"`
	LastBudgetReason      string         `json:"last_budget_reason"`
	LastRouteGroup        string         `json:"last_route_group"`
	LastRouteOverride     string         `json:"last_route_override"`
	LastRouteError        string         `json:"last_route_error"`
	ConsecutiveFallbacks  int            `json:"consecutive_fallbacks"`
	RouteFailStreak       map[string]int `json:"route_fail_streak"`
	RouteSuccessCount     map[string]int `json:"route_success_count"`
	RouteCooldownUntil    map[string]int `json:"route_cooldown_until"`
	LastUpdated           string         `json:"last_updated"`
}

func defaultStability() Stability {
	return Stability{
		Mode:                  "normal",
		RequestedBrainEvents:  12,
		EffectiveBrainEvents:  12,
		RequestedWorkerEvents: 6,
		EffectiveWorkerEvents: 6,
		LastBudgetReason:      "normal",
		LastRouteGroup:        "-",
		RouteFailStreak:       map[string]int{},
		RouteSuccessCount:     map[string]int{},
		RouteCooldownUntil:    map[string]int{},
		LastUpdated:           "-",
	}
}

// Orchestration is the rolling per-group/per-model routing scoreboard.
type Orchestration struct {
	LastTaskType    string             `json:"last_task_type"`
	LastRouteGroup  string             `json:"last_route_group"`
	LastRouteReason string             `json:"last_route_reason"`
	LastProvider    string             `json:"last_provider"`
	LastModel       string             `json:"last_model"`
	LastError       string             `json:"last_error"`
	LastLatencyMs   int64              `json:"last_latency_ms"`
	LastCostUSD     float64            `json:"last_cost_usd"`
	UpdatedAt       string             `json:"updated_at"`
	GroupMetrics    map[string]Metrics `json:"group_metrics"`
	ModelMetrics    map[string]Metrics `json:"model_metrics"`
}

func defaultOrchestration() Orchestration {
	return Orchestration{
		LastTaskType:   "-",
		LastRouteGroup: "-",
		UpdatedAt:      "-",
		GroupMetrics:   map[string]Metrics{},
		ModelMetrics:   map[string]Metrics{},
	}
}

// Metrics is one scoreboard entry. It holds a superset of router.GroupMetrics's
// fields; converting to router.GroupMetrics keeps only the fields GroupScore
// reads.
type Metrics struct {
	Total         int     `json:"total"`
	Success       int     `json:"success"`
	Fail          int     `json:"fail"`
	Fallback      int     `json:"fallback"`
	SuccessRate   float64 `json:"success_rate"`
	LatencyMsEMA  float64 `json:"latency_ms_ema"`
	CostUSDEMA    float64 `json:"cost_usd_ema"`
	FallbackRatio float64 `json:"fallback_ratio"`
	LastProvider  string  `json:"last_provider"`
	LastModel     string  `json:"last_model"`
	LastError     string  `json:"last_error"`
	UpdatedAt     string  `json:"updated_at"`
}

// ToGroupMetrics projects a Metrics row down to the fields GroupScore reads.
func (m Metrics) ToGroupMetrics() GroupMetricsView {
	return GroupMetricsView{Total: m.Total, Success: m.Success, LatencyMsEMA: m.LatencyMsEMA, CostUSDEMA: m.CostUSDEMA, FallbackRatio: m.FallbackRatio}
}

// GroupMetricsView mirrors router.GroupMetrics's field shape to avoid an
// import cycle between runtimestate and router.
type GroupMetricsView struct {
	Total         int
	Success       int
	LatencyMsEMA  float64
	CostUSDEMA    float64
	FallbackRatio float64
}

// WorkMemory tracks cross-cycle preference drift.
type WorkMemory struct {
	TaskRouteStats  map[string]map[string]TaskGroupStat `json:"task_route_stats"`
	TaskPreferences map[string][]string                 `json:"task_preferences"`
	RecentSuccesses []RecentSuccess                      `json:"recent_successes"`
	Strength        string                                `json:"strength"`
	UpdatedAt       string                                `json:"updated_at"`
}

// TaskGroupStat is one (task_type, provider_group) row in the work-memory
// route stats table.
type TaskGroupStat struct {
	Total         int     `json:"total"`
	Success       int     `json:"success"`
	Fail          int     `json:"fail"`
	Fallback      int     `json:"fallback"`
	SuccessRate   float64 `json:"success_rate"`
	FallbackRatio float64 `json:"fallback_ratio"`
	LastProvider  string  `json:"last_provider"`
	LastModel     string  `json:"last_model"`
	LastError     string  `json:"last_error"`
	LastSeen      string  `json:"last_seen"`
}

// RecentSuccess is one entry in work_memory.recent_successes.
type RecentSuccess struct {
	TS       string `json:"ts"`
	TaskType string `json:"task_type"`
	Group    string `json:"group"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Summary  string `json:"summary"`
}

func defaultWorkMemory() WorkMemory {
	return WorkMemory{
		TaskRouteStats:  map[string]map[string]TaskGroupStat{},
		TaskPreferences: map[string][]string{},
		Strength:        "balanced",
		UpdatedAt:       "-",
	}
}

// FromMap converts the store's raw JSON blob (nil on first run) into a
// State, applying defaults for anything absent.
func FromMap(raw map[string]any) (State, error) {
	s := Default()
	if raw == nil {
		return s, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, err
	}
	s.EnsureStability()
	return s, nil
}

// ToMap converts State back into the map[string]any shape store.SaveRuntimeState expects.
func (s State) ToMap() (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NowISO matches the original's now_iso format ("%Y-%m-%dT%H:%M:%S").
func NowISO() string {
	return time.Now().Format("2006-01-02T15:04:05")
}

// EnsureStability fills in any zero-value stability sub-maps and clamps
// fields into range, exactly as _ensure_stability_state.
func (s *State) EnsureStability() *Stability {
	st := &s.Stability
	if st.Mode == "" {
		st.Mode = "normal"
	}
	if st.RouteFailStreak == nil {
		st.RouteFailStreak = map[string]int{}
	}
	if st.RouteSuccessCount == nil {
		st.RouteSuccessCount = map[string]int{}
	}
	if st.RouteCooldownUntil == nil {
		st.RouteCooldownUntil = map[string]int{}
	}
	if st.PanicCount < 0 {
		st.PanicCount = 0
	}
	if st.DegradedCycles < 0 {
		st.DegradedCycles = 0
	}
	if st.RequestedBrainEvents < 1 {
		st.RequestedBrainEvents = 12
	}
	if st.EffectiveBrainEvents < 1 {
		st.EffectiveBrainEvents = 12
	}
	if st.RequestedWorkerEvents < 1 {
		st.RequestedWorkerEvents = 6
	}
	if st.EffectiveWorkerEvents < 1 {
		st.EffectiveWorkerEvents = 6
	}
	if st.ConsecutiveFallbacks < 0 {
		st.ConsecutiveFallbacks = 0
	}
	if st.LastBudgetReason == "" {
		st.LastBudgetReason = "normal"
	}
	if st.LastRouteGroup == "" {
		st.LastRouteGroup = "-"
	}
	if st.LastUpdated == "" {
		st.LastUpdated = "-"
	}
	return st
}

// EnsureOrchestration fills nil scoreboard maps, mirroring
// _ensure_orchestration_state.
func (s *State) EnsureOrchestration() *Orchestration {
	o := &s.Orchestration
	if o.GroupMetrics == nil {
		o.GroupMetrics = map[string]Metrics{}
	}
	if o.ModelMetrics == nil {
		o.ModelMetrics = map[string]Metrics{}
	}
	if o.LastTaskType == "" {
		o.LastTaskType = "-"
	}
	if o.LastRouteGroup == "" {
		o.LastRouteGroup = "-"
	}
	if o.UpdatedAt == "" {
		o.UpdatedAt = "-"
	}
	return o
}

// EnsureWorkMemory fills nil work-memory maps, mirroring
// _ensure_work_memory_state.
func (s *State) EnsureWorkMemory() *WorkMemory {
	wm := &s.WorkMemory
	if wm.TaskRouteStats == nil {
		wm.TaskRouteStats = map[string]map[string]TaskGroupStat{}
	}
	if wm.TaskPreferences == nil {
		wm.TaskPreferences = map[string][]string{}
	}
	if wm.Strength == "" {
		wm.Strength = "balanced"
	}
	if wm.UpdatedAt == "" {
		wm.UpdatedAt = "-"
	}
	return wm
}

// ComputeBrainEventBudget replicates _compute_brain_event_budget: a
// multiplicative reducer over stress/energy/uncertainty/continuity and
// degraded mode, applied to the requested max.
func (s *State) ComputeBrainEventBudget(requestedMax int) int {
	st := s.EnsureStability()
	requested := clampInt(requestedMax, 1, 200)

	scale := 1.0
	var reasons []string
	switch {
	case s.Stress >= 0.8:
		scale *= 0.45
		reasons = append(reasons, "stress_high")
	case s.Stress >= 0.65:
		scale *= 0.7
		reasons = append(reasons, "stress_up")
	}
	switch {
	case s.Energy <= 0.2:
		scale *= 0.6
		reasons = append(reasons, "energy_low")
	case s.Energy <= 0.35:
		scale *= 0.8
		reasons = append(reasons, "energy_down")
	}
	if s.Uncertainty >= 0.75 {
		scale *= 0.8
		reasons = append(reasons, "uncertainty_high")
	}
	if s.Continuity <= 0.3 {
		scale *= 0.8
		reasons = append(reasons, "continuity_low")
	}
	if st.Mode == "degraded" {
		scale *= 0.8
		reasons = append(reasons, "degraded_mode")
	}

	effective := clampInt(int(roundHalfAwayFromZero(float64(requested)*scale)), 1, requested)
	st.RequestedBrainEvents = requested
	st.EffectiveBrainEvents = effective
	st.LastBudgetReason = joinOrNormal(reasons)
	st.LastUpdated = NowISO()
	if effective < requested {
		st.DegradedCycles++
	}
	return effective
}

// ComputeWorkerEventBudget replicates _compute_worker_event_budget.
func (s *State) ComputeWorkerEventBudget(requestedMax int) int {
	st := s.EnsureStability()
	requested := clampInt(requestedMax, 1, 200)

	scale := 1.0
	var reasons []string
	if s.Stress >= 0.85 {
		scale *= 0.6
		reasons = append(reasons, "worker_stress_high")
	}
	if s.Energy <= 0.15 {
		scale *= 0.7
		reasons = append(reasons, "worker_energy_low")
	}
	if st.Mode == "degraded" {
		scale *= 0.8
		reasons = append(reasons, "worker_degraded_mode")
	}

	effective := clampInt(int(roundHalfAwayFromZero(float64(requested)*scale)), 1, requested)
	st.RequestedWorkerEvents = requested
	st.EffectiveWorkerEvents = effective
	if len(reasons) > 0 {
		st.LastBudgetReason = st.LastBudgetReason + "|" + joinOrNormal(reasons)
	}
	st.LastUpdated = NowISO()
	return effective
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}

func joinOrNormal(reasons []string) string {
	if len(reasons) == 0 {
		return "normal"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "," + r
	}
	return out
}
