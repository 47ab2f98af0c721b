// Package config loads and validates the runtime's process configuration
// and the separate JSON policy files (LLM routing, permissions) it reads
// on every brain/worker cycle.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the process-level runtime.toml: database location, cadence,
// budgets, and logging — everything that is awkward to hot-reload as JSON
// because it gates process identity (db path, bind address).
type Config struct {
	General General `toml:"general"`
	Budgets Budgets `toml:"budgets"`
	Safety  Safety  `toml:"safety"`
	Health  Health  `toml:"health"`
	Policy  Policy  `toml:"policy"`
}

type General struct {
	TickInterval Duration `toml:"tick_interval"`
	LogLevel     string   `toml:"log_level"`
	StateDB      string   `toml:"state_db"`
	LockFile     string   `toml:"lock_file"`
	BaseDir      string   `toml:"base_dir"`
	LLMConfig    string   `toml:"llm_config"`  // path to llm_config.json
	Permissions  string   `toml:"permissions"` // path to permissions.json
	InstanceID   string   `toml:"instance_id"`
}

// Budgets holds C10's requested per-cycle maxima and the GC cadence; the
// reducers that scale the maxima down under stress/energy/uncertainty/
// continuity pressure are fixed in runtimestate's budget functions.
type Budgets struct {
	RequestedBrainEvents  int `toml:"requested_brain_events"`
	RequestedWorkerEvents int `toml:"requested_worker_events"`
	GCEveryNCycles        int `toml:"gc_every_n_cycles"`
}

type Safety struct {
	ImmutablePaths []string `toml:"immutable_paths"`
	EvalEnabled    bool     `toml:"eval_enabled"`
	EvalTimeout    Duration `toml:"eval_timeout"`
	EvalCommand    []string `toml:"eval_command"`
	CanaryDir      string   `toml:"canary_dir"`
	RollbackDir    string   `toml:"rollback_dir"`
	ApprovalsFile  string   `toml:"approvals_file"`
}

type Health struct {
	CheckInterval Duration `toml:"check_interval"`
	Bind          string   `toml:"bind"` // metrics/healthz bind address, e.g. ":9090"
}

// Policy holds knobs for the router that are process-level rather than
// part of the hot-reloadable llm_config.json (cooldown durations, breaker
// thresholds).
type Policy struct {
	CooldownCycles    int      `toml:"cooldown_cycles"`
	FailStreakTrip    int      `toml:"fail_streak_trip"`
	FallbackTripCount int      `toml:"fallback_trip_count"`
	ProviderTimeout   Duration `toml:"provider_timeout"`
}

func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Safety.ImmutablePaths = cloneStringSlice(cfg.Safety.ImmutablePaths)
	cloned.Safety.EvalCommand = cloneStringSlice(cfg.Safety.EvalCommand)
	return &cloned
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads and validates runtime.toml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// LoadManager reads config from path and returns an RWMutex-backed thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.TickInterval.Duration == 0 {
		cfg.General.TickInterval.Duration = 30 * time.Second
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LockFile == "" {
		cfg.General.LockFile = "/tmp/cortex-runtime.lock"
	}
	if cfg.General.BaseDir == "" {
		cfg.General.BaseDir = "."
	}
	if cfg.General.LLMConfig == "" {
		cfg.General.LLMConfig = "llm_config.json"
	}
	if cfg.General.Permissions == "" {
		cfg.General.Permissions = "permissions.json"
	}
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "runtime-0"
	}
	if cfg.Budgets.RequestedBrainEvents == 0 {
		cfg.Budgets.RequestedBrainEvents = 12
	}
	if cfg.Budgets.RequestedWorkerEvents == 0 {
		cfg.Budgets.RequestedWorkerEvents = 6
	}
	if cfg.Budgets.GCEveryNCycles == 0 {
		cfg.Budgets.GCEveryNCycles = 40
	}
	if len(cfg.Safety.ImmutablePaths) == 0 {
		cfg.Safety.ImmutablePaths = []string{"run.ps1", "brain_loop.py", "runtime.go"}
	}
	if cfg.Safety.EvalTimeout.Duration == 0 {
		cfg.Safety.EvalTimeout.Duration = 120 * time.Second
	}
	if cfg.Safety.CanaryDir == "" {
		cfg.Safety.CanaryDir = "resident_output/canary"
	}
	if cfg.Safety.RollbackDir == "" {
		cfg.Safety.RollbackDir = "resident_output/rollback"
	}
	if cfg.Safety.ApprovalsFile == "" {
		cfg.Safety.ApprovalsFile = "resident_output/approvals.json"
	}
	if cfg.Health.CheckInterval.Duration == 0 {
		cfg.Health.CheckInterval.Duration = 60 * time.Second
	}
	if cfg.Health.Bind == "" {
		cfg.Health.Bind = ":9090"
	}
	if cfg.Policy.CooldownCycles == 0 {
		cfg.Policy.CooldownCycles = 15
	}
	if cfg.Policy.FailStreakTrip == 0 {
		cfg.Policy.FailStreakTrip = 3
	}
	if cfg.Policy.FallbackTripCount == 0 {
		cfg.Policy.FallbackTripCount = 3
	}
	if cfg.Policy.ProviderTimeout.Duration == 0 {
		cfg.Policy.ProviderTimeout.Duration = 20 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.General.TickInterval.Duration <= 0 {
		return fmt.Errorf("general.tick_interval must be positive")
	}
	if cfg.General.StateDB == "" {
		return fmt.Errorf("general.state_db is required")
	}
	if cfg.Budgets.RequestedBrainEvents <= 0 || cfg.Budgets.RequestedBrainEvents > 200 {
		return fmt.Errorf("budgets.requested_brain_events must be in (0,200]")
	}
	if cfg.Budgets.RequestedWorkerEvents <= 0 || cfg.Budgets.RequestedWorkerEvents > 200 {
		return fmt.Errorf("budgets.requested_worker_events must be in (0,200]")
	}
	return nil
}

// LLMConfig is the hot-reloadable provider/routing policy file
// (llm_config.json), read fresh on most cycles rather than cached in the
// process Config — it changes far more often than general/budgets/safety.
type LLMConfig struct {
	ProviderGroups map[string][]ProviderRef `json:"provider_groups"`
	Providers      map[string]ProviderSpec  `json:"providers"`
	RoutingPolicy  RoutingPolicy            `json:"routing_policy"`
	APILiveEnabled bool                     `json:"api_live_enabled"`
}

type ProviderRef struct {
	Name string `json:"name"`
}

type ProviderSpec struct {
	Type      string `json:"type"` // "api", "zhipu", "anthropic"
	Enabled   bool   `json:"enabled"`
	Model     string `json:"model"`
	Endpoint  string `json:"endpoint"`
	APIKeyEnv string `json:"api_key_env"`
	APIKey    string `json:"api_key"`
}

type RoutingPolicy struct {
	TaskPreferences    map[string][]string `json:"task_preferences"`
	TaskSkillPacks     map[string][]string `json:"task_skill_packs"`
	WorkMemoryStrength string              `json:"work_memory_strength"`
	MemoryStrength     string              `json:"memory_strength"`
}

// GroupNames returns the configured provider group names.
func (c *LLMConfig) GroupNames() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.ProviderGroups))
	for name := range c.ProviderGroups {
		if strings.TrimSpace(name) != "" {
			out = append(out, name)
		}
	}
	return out
}

// LoadLLMConfig reads path and returns an empty config (not an error) on
// any failure, matching the original's load_llm_config: routing must keep
// working with the fallback-local path even if the policy file is absent
// or malformed.
func LoadLLMConfig(path string) *LLMConfig {
	cfg := &LLMConfig{
		ProviderGroups: map[string][]ProviderRef{},
		Providers:      map[string]ProviderSpec{},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	var loaded LLMConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return cfg
	}
	return &loaded
}

// Permissions is permissions.json: additional immutable paths layered on
// top of the hardcoded defaults, never replacing them.
type Permissions struct {
	ImmutablePaths []string `json:"immutable_paths"`
}

func LoadPermissions(path string) *Permissions {
	p := &Permissions{}
	data, err := os.ReadFile(path)
	if err != nil {
		return p
	}
	_ = json.Unmarshal(data, p)
	return p
}
