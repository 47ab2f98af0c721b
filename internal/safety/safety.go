// Package safety implements C9: the deep-patch safety chain — a sandbox
// pattern screen, an eval harness run, a canary snapshot artifact, and a
// rollback log on failure. Grounded on
// original_source/azi_rebuild/deep_safety.py.
package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/google/uuid"
)

// ForbiddenPatchPatterns is the exact sandbox blocklist from the original.
var ForbiddenPatchPatterns = []string{
	"rm -rf", "drop table", "del /f", "format c:", "git reset --hard",
}

// StageResult is the outcome of one safety-chain stage.
type StageResult struct {
	Stage  string         `json:"stage"`
	Status string         `json:"status"`
	Reason string         `json:"reason"`
	Detail map[string]any `json:"detail,omitempty"`
}

// ChainResult is the outcome of RunChain.
type ChainResult struct {
	OK              bool          `json:"ok"`
	Stages          []StageResult `json:"stages"`
	PublishAllowed  bool          `json:"publish_allowed"`
	EvalGateStatus  string        `json:"eval_gate_status"`
}

// Options configures a chain run.
type Options struct {
	BaseDir     string
	CanaryDir   string
	RollbackDir string
	EvalEnabled bool
	EvalTimeout time.Duration
	EvalCommand []string // defaults to `go test ./...` if empty
}

// RunChain replicates run_deep_safety_chain: sandbox screen -> eval harness
// -> canary snapshot, short-circuiting to a rollback log the moment any
// stage fails.
func RunChain(ctx context.Context, st *store.Store, eventID int64, patchPlan string, opts Options) (ChainResult, error) {
	var stages []StageResult

	sandbox := SandboxStage(patchPlan)
	stages = append(stages, sandbox)
	if err := recordStage(st, eventID, sandbox); err != nil {
		return ChainResult{}, err
	}
	if sandbox.Status != "ok" {
		rollback := RollbackStage(opts.RollbackDir, eventID, sandbox.Reason)
		stages = append(stages, rollback)
		if err := recordStage(st, eventID, rollback); err != nil {
			return ChainResult{}, err
		}
		return ChainResult{OK: false, Stages: stages}, nil
	}

	evalRes := EvalStage(ctx, opts)
	stages = append(stages, evalRes)
	if err := recordStage(st, eventID, evalRes); err != nil {
		return ChainResult{}, err
	}
	passed := evalRes.Status == "ok"
	if err := st.RecordEvalGate(eventID, "deep_eval_harness", passed, detailJSON(evalRes.Detail)); err != nil {
		return ChainResult{}, fmt.Errorf("safety: record eval gate: %w", err)
	}
	if !passed {
		rollback := RollbackStage(opts.RollbackDir, eventID, evalRes.Reason)
		stages = append(stages, rollback)
		if err := recordStage(st, eventID, rollback); err != nil {
			return ChainResult{}, err
		}
		return ChainResult{OK: false, Stages: stages, EvalGateStatus: "failed"}, nil
	}

	canary, err := CanaryStage(st, opts.CanaryDir, eventID, patchPlan)
	if err != nil {
		return ChainResult{}, err
	}
	stages = append(stages, canary)
	if err := recordStage(st, eventID, canary); err != nil {
		return ChainResult{}, err
	}

	publishAllowed := canary.Status == "ok"
	return ChainResult{OK: publishAllowed, Stages: stages, PublishAllowed: publishAllowed, EvalGateStatus: "passed"}, nil
}

// SandboxStage replicates sandbox_stage's forbidden-pattern substring screen.
func SandboxStage(patchPlan string) StageResult {
	low := strings.ToLower(patchPlan)
	for _, pat := range ForbiddenPatchPatterns {
		if strings.Contains(low, pat) {
			return StageResult{Stage: "sandbox", Status: "blocked", Reason: "forbidden_pattern:" + pat}
		}
	}
	return StageResult{Stage: "sandbox", Status: "ok", Reason: "passed"}
}

var passedCountRe = regexp.MustCompile(`(\d+)\s+passed`)

// EvalStage runs the configured eval command (defaulting to `go test ./...`
// in opts.BaseDir) and requires at least one passed test, parsed from
// stdout's "<n> passed" summary line the same way the original parses
// pytest's.
func EvalStage(ctx context.Context, opts Options) StageResult {
	if !opts.EvalEnabled {
		return StageResult{Stage: "eval", Status: "failed", Reason: "eval_required"}
	}

	cmd := opts.EvalCommand
	if len(cmd) == 0 {
		cmd = []string{"go", "test", "./..."}
	}
	timeout := opts.EvalTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd[0], cmd[1:]...)
	c.Dir = opts.BaseDir
	stdout, err := c.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		} else {
			return StageResult{Stage: "eval", Status: "failed", Reason: "eval_exception:" + err.Error()}
		}
		return StageResult{Stage: "eval", Status: "failed", Reason: "eval_failed", Detail: map[string]any{
			"stdout": truncate(string(stdout), 800),
			"stderr": truncate(stderr, 800),
		}}
	}

	out := string(stdout)
	matches := passedCountRe.FindStringSubmatch(out)
	passedCount := 0
	if len(matches) == 2 {
		passedCount, _ = strconv.Atoi(matches[1])
	}
	if passedCount <= 0 {
		return StageResult{Stage: "eval", Status: "failed", Reason: "eval_no_passed_tests", Detail: map[string]any{
			"stdout": truncate(out, 800),
		}}
	}
	return StageResult{Stage: "eval", Status: "ok", Reason: "eval_passed", Detail: map[string]any{
		"passed_count": passedCount,
		"suite":        strings.Join(cmd[1:], " "),
	}}
}

// CanaryStage writes a JSON snapshot artifact recording the patch plan and
// records it in the store, replicating canary_stage.
func CanaryStage(st *store.Store, canaryDir string, eventID int64, patchPlan string) (StageResult, error) {
	if canaryDir == "" {
		canaryDir = "resident_output/canary"
	}
	if err := os.MkdirAll(canaryDir, 0o755); err != nil {
		return StageResult{}, fmt.Errorf("safety: mkdir canary dir: %w", err)
	}
	ts := time.Now().Format("20060102150405")
	path := filepath.Join(canaryDir, fmt.Sprintf("canary_%d_%s.json", eventID, ts))

	payload := map[string]any{
		"event_id":   eventID,
		"created_at": time.Now().Format("2006-01-02T15:04:05"),
		"patch_plan": truncate(patchPlan, 4000),
		"status":     "canary_passed",
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return StageResult{}, fmt.Errorf("safety: marshal canary payload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return StageResult{}, fmt.Errorf("safety: write canary snapshot: %w", err)
	}
	if err := st.RecordCanarySnapshot(eventID, path, "ok"); err != nil {
		return StageResult{}, fmt.Errorf("safety: record canary snapshot: %w", err)
	}
	return StageResult{Stage: "canary", Status: "ok", Reason: "canary_saved", Detail: map[string]any{"snapshot_path": path}}, nil
}

// RollbackStage writes a rollback log line, replicating rollback_stage.
func RollbackStage(rollbackDir string, eventID int64, reason string) StageResult {
	if rollbackDir == "" {
		rollbackDir = "resident_output/rollback"
	}
	if err := os.MkdirAll(rollbackDir, 0o755); err != nil {
		return StageResult{Stage: "rollback", Status: "failed", Reason: "mkdir_failed:" + err.Error()}
	}
	path := filepath.Join(rollbackDir, fmt.Sprintf("rollback_%d_%d_%s.log", eventID, time.Now().Unix(), uuid.NewString()[:8]))
	line := fmt.Sprintf("%s rollback triggered: %s\n", time.Now().Format("2006-01-02T15:04:05"), reason)
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return StageResult{Stage: "rollback", Status: "failed", Reason: "write_failed:" + err.Error()}
	}
	return StageResult{Stage: "rollback", Status: "ok", Reason: reason, Detail: map[string]any{"rollback_log": path}}
}

func recordStage(st *store.Store, eventID int64, res StageResult) error {
	if err := st.RecordSafetyStage(eventID, res.Stage, res.Status, detailJSON(res.Detail)); err != nil {
		return fmt.Errorf("safety: record stage %s: %w", res.Stage, err)
	}
	return nil
}

func detailJSON(detail map[string]any) string {
	if detail == nil {
		detail = map[string]any{}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
