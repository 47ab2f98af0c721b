// Package health adapts the teacher's systemd-unit health monitor into the
// runtime's own operational surface: it watches event-log backlog depth and
// provider-group cooldown state instead of gateway units, exposes them as
// Prometheus gauges, and serves them over HTTP the way the teacher's
// Monitor serves CheckGateway/runSystemHealthChecks results. Grounded on
// Heikkila-Pty-Ltd-cortex's internal/health.Monitor (ticker loop, per-scope
// sub-loggers, HealthEvent-style recording via the guard_events table).
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/antigravity-dev/cortex/internal/governance"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot is the JSON body served at /healthz — the same fields the
// teacher's HealthStatus return value carried, retargeted at backlog and
// cooldown instead of gateway-unit liveness.
type Snapshot struct {
	OK                bool     `json:"ok"`
	BrainBacklog      int      `json:"brain_backlog"`
	WorkerBacklog     int      `json:"worker_backlog"`
	StabilityMode     string   `json:"stability_mode"`
	ActiveCooldowns   []string `json:"active_cooldowns"`
	LastOrchError     string   `json:"last_orchestration_error"`
	RewardRepDream    float64  `json:"reward_rep_dream_worker"`
	RewardRepDeep     float64  `json:"reward_rep_deep_worker"`
}

// Thresholds gates when a backlog is considered critical enough to log a
// guard_events row, mirroring the teacher's "3+ restart failures" critical
// threshold shape applied to our own domain.
type Thresholds struct {
	BrainBacklogCritical  int
	WorkerBacklogCritical int
}

func defaultThresholds() Thresholds {
	return Thresholds{BrainBacklogCritical: 500, WorkerBacklogCritical: 250}
}

// Metrics holds the Prometheus collectors the Monitor updates every tick —
// the orchestration-metrics HTTP surface SPEC_FULL.md's ambient stack calls
// for, registered against a private registry so tests can construct
// independent Monitors without colliding on the default global registry.
type Metrics struct {
	registry      *prometheus.Registry
	brainBacklog  prometheus.Gauge
	workerBacklog prometheus.Gauge
	cooldownCount prometheus.Gauge
	rewardDream   prometheus.Gauge
	rewardDeep    prometheus.Gauge
}

// NewMetrics constructs and registers the gauges against a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		brainBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_brain_backlog", Help: "Pending brain-track events awaiting a cycle.",
		}),
		workerBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_worker_backlog", Help: "Pending worker-track events awaiting a cycle.",
		}),
		cooldownCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_active_route_cooldowns", Help: "Provider groups currently in cooldown.",
		}),
		rewardDream: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_reward_rep_dream_worker", Help: "Dream-worker reward reputation score.",
		}),
		rewardDeep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_reward_rep_deep_worker", Help: "Deep-worker reward reputation score.",
		}),
	}
	reg.MustRegister(m.brainBacklog, m.workerBacklog, m.cooldownCount, m.rewardDream, m.rewardDeep)
	return m
}

// Handler exposes the registered collectors over /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Monitor runs periodic backlog/cooldown health checks, mirroring the
// teacher's Monitor.Start ticker loop shape.
type Monitor struct {
	st         *store.Store
	state      *runtimestate.State
	interval   time.Duration
	thresholds Thresholds
	metrics    *Metrics
	logger     *slog.Logger

	lastSnapshot Snapshot
}

// NewMonitor constructs a health Monitor over the shared store/state pair.
func NewMonitor(st *store.Store, state *runtimestate.State, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		st: st, state: state, interval: interval,
		thresholds: defaultThresholds(),
		metrics:    NewMetrics(),
		logger:     logger.With("scope", "health"),
	}
}

// Metrics returns the Monitor's Prometheus collector set so callers can
// mount its Handler on an HTTP server alongside /healthz.
func (m *Monitor) Metrics() *Metrics { return m.metrics }

// Start runs health checks on the configured interval until ctx is done,
// matching the teacher's Monitor.Start(ctx) shape: one immediate check at
// startup, then one per tick.
func (m *Monitor) Start(ctx context.Context) {
	m.Check()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check runs one backlog/cooldown sweep, updates the Prometheus gauges, and
// records a guard_events row if either backlog crosses its critical
// threshold — the retargeted analogue of CheckGateway's restart-failure
// critical path.
func (m *Monitor) Check() Snapshot {
	snap := Snapshot{OK: true}

	if n, err := m.st.CountPendingBrain(); err == nil {
		snap.BrainBacklog = n
	} else {
		m.logger.Error("count pending brain backlog failed", "error", err)
	}
	if n, err := m.st.CountPendingWorker(); err == nil {
		snap.WorkerBacklog = n
	} else {
		m.logger.Error("count pending worker backlog failed", "error", err)
	}

	st := m.state.EnsureStability()
	snap.StabilityMode = st.Mode
	orch := m.state.EnsureOrchestration()
	snap.LastOrchError = orch.LastError
	snap.RewardRepDream = m.state.RewardRepDreamWorker
	snap.RewardRepDeep = m.state.RewardRepDeepWorker

	now := int(m.state.Cycle)
	for group, until := range st.RouteCooldownUntil {
		if until > now {
			snap.ActiveCooldowns = append(snap.ActiveCooldowns, group)
		}
	}

	m.metrics.brainBacklog.Set(float64(snap.BrainBacklog))
	m.metrics.workerBacklog.Set(float64(snap.WorkerBacklog))
	m.metrics.cooldownCount.Set(float64(len(snap.ActiveCooldowns)))
	m.metrics.rewardDream.Set(snap.RewardRepDream)
	m.metrics.rewardDeep.Set(snap.RewardRepDeep)

	if snap.BrainBacklog >= m.thresholds.BrainBacklogCritical {
		snap.OK = false
		m.logger.Error("brain backlog critical", "backlog", snap.BrainBacklog)
		_ = governance.RecordGuardEvent(m.st, "brain_backlog_critical", "high", "brain backlog above threshold")
	}
	if snap.WorkerBacklog >= m.thresholds.WorkerBacklogCritical {
		snap.OK = false
		m.logger.Error("worker backlog critical", "backlog", snap.WorkerBacklog)
		_ = governance.RecordGuardEvent(m.st, "worker_backlog_critical", "high", "worker backlog above threshold")
	}

	m.lastSnapshot = snap
	return snap
}

// HealthzHandler serves the last computed Snapshot as JSON, 200 when OK and
// 503 when a backlog is critical.
func (m *Monitor) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := m.lastSnapshot
		w.Header().Set("Content-Type", "application/json")
		if !snap.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	}
}
