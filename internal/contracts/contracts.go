// Package contracts implements the runtime's typed, immutable JSON-payload
// contracts (C6): Plan, RiskReport, Approval, DispatchPlan, ExecTrace,
// EvalResult, and RewardUpdate. Grounded on
// original_source/azi_rebuild/contracts.py, translated from pydantic models
// into plain Go structs with `json` tags and a shared ToRow serializer.
package contracts

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every contract so downstream readers can
// detect a shape change.
const SchemaVersion = "cos.v0.1"

// MakeID builds the deterministic contract id scheme: prefix-eventID-tsMS.
func MakeID(prefix string, eventID int64) string {
	return fmt.Sprintf("%s-%d-%d", prefix, eventID, time.Now().UnixMilli())
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// Base is embedded by every contract.
type Base struct {
	SchemaVersion string `json:"schema_version"`
	ID            string `json:"id"`
	TS            string `json:"ts"`
	Source        string `json:"source"`
}

func newBase(id, source string) Base {
	return Base{SchemaVersion: SchemaVersion, ID: id, TS: nowISO(), Source: source}
}

type PlanStep struct {
	StepID         string `json:"step_id"`
	Action         string `json:"action"`
	Tool           string `json:"tool"`
	ExpectedOutput string `json:"expected_output"`
}

type Plan struct {
	Base
	Goal        string     `json:"goal"`
	Steps       []PlanStep `json:"steps"`
	Assumptions []string   `json:"assumptions"`
	RollbackPlan string    `json:"rollback_plan"`
}

func NewPlan(eventID int64, source, goal string, steps []PlanStep, assumptions []string) Plan {
	return Plan{
		Base:         newBase(MakeID("plan", eventID), source),
		Goal:         truncate(goal, 260),
		Steps:        steps,
		Assumptions:  assumptions,
		RollbackPlan: "fallback_to_previous_state + reopen_at_7d",
	}
}

// RiskLevel is one of L0 (none) .. L3 (forbidden).
type RiskLevel string

const (
	RiskL0 RiskLevel = "L0"
	RiskL1 RiskLevel = "L1"
	RiskL2 RiskLevel = "L2"
	RiskL3 RiskLevel = "L3"
)

type RiskReport struct {
	Base
	RiskLevel        RiskLevel `json:"risk_level"`
	Reasons          []string  `json:"reasons"`
	RequiredPermission string  `json:"required_permission"`
	RequiresApproval bool      `json:"requires_approval"`
	Forbidden        bool      `json:"forbidden"`
}

func NewRiskReport(eventID int64, source string, level RiskLevel, reasons []string, requiresApproval, forbidden bool) RiskReport {
	perm := "none"
	if requiresApproval {
		perm = "approval"
	}
	if reasons == nil {
		reasons = []string{}
	}
	return RiskReport{
		Base:               newBase(MakeID("risk", eventID), source),
		RiskLevel:          level,
		Reasons:            reasons,
		RequiredPermission: perm,
		RequiresApproval:   requiresApproval,
		Forbidden:          forbidden,
	}
}

type Approval struct {
	Base
	Decision string   `json:"decision"` // approve|reject
	Approver string   `json:"approver"`
	Reason   string   `json:"reason"`
	Scope    []string `json:"scope"`
}

func NewApproval(eventID int64, source string, approved bool, scope []string) Approval {
	decision, approver, reason := "reject", "policy", "approval_required"
	if approved {
		decision, approver, reason = "approve", "override", "override_approved"
	}
	return Approval{
		Base:     newBase(MakeID("approval", eventID), source),
		Decision: decision,
		Approver: approver,
		Reason:   reason,
		Scope:    scope,
	}
}

type ToolCallTrace struct {
	CallID       string `json:"call_id"`
	Tool         string `json:"tool"`
	ArgsHash     string `json:"args_hash"`
	StartedTS    string `json:"started_ts"`
	EndedTS      string `json:"ended_ts"`
	ResultDigest string `json:"result_digest"`
}

// NewToolCallTrace stamps a random call_id — unlike the contract's own
// deterministic prefix-eventID-tsMS scheme, sub-call identifiers need no
// cross-run determinism and benefit from collision-free generation when
// several tool calls land in the same millisecond.
func NewToolCallTrace(tool, argsHash, startedTS, endedTS, resultDigest string) ToolCallTrace {
	return ToolCallTrace{
		CallID:       uuid.NewString(),
		Tool:         tool,
		ArgsHash:     argsHash,
		StartedTS:    startedTS,
		EndedTS:      endedTS,
		ResultDigest: resultDigest,
	}
}

type ExecStatus string

const (
	ExecSuccess    ExecStatus = "success"
	ExecFailed     ExecStatus = "failed"
	ExecBlocked    ExecStatus = "blocked"
	ExecRolledBack ExecStatus = "rolled_back"
)

type ExecTrace struct {
	Base
	TraceID      string          `json:"trace_id"`
	PlanID       string          `json:"plan_id"`
	RiskReportID string          `json:"risk_report_id"`
	ToolCalls    []ToolCallTrace `json:"tool_calls"`
	Artifacts    []string        `json:"artifacts"`
	Status       ExecStatus      `json:"status"`
}

func NewExecTrace(eventID int64, source, planID, riskReportID string, calls []ToolCallTrace, artifacts []string, status ExecStatus) ExecTrace {
	return ExecTrace{
		Base:         newBase(MakeID("trace", eventID), source),
		TraceID:      MakeID("trace-ref", eventID),
		PlanID:       planID,
		RiskReportID: riskReportID,
		ToolCalls:    calls,
		Artifacts:    artifacts,
		Status:       status,
	}
}

type EvalResult struct {
	Base
	Suite      string   `json:"suite"`
	Score      float64  `json:"score"`
	Pass       bool     `json:"pass"`
	Regression bool     `json:"regression"`
	Findings   []string `json:"findings"`
}

func NewEvalResult(eventID int64, source, suite string, score float64, pass, regression bool, findings []string) EvalResult {
	return EvalResult{
		Base:       newBase(MakeID("eval", eventID), source),
		Suite:      suite,
		Score:      score,
		Pass:       pass,
		Regression: regression,
		Findings:   findings,
	}
}

type RewardUpdate struct {
	Base
	ActorID     string   `json:"actor_id"`
	RepBefore   float64  `json:"rep_before"`
	RepAfter    float64  `json:"rep_after"`
	Delta       float64  `json:"delta"`
	ReasonCodes []string `json:"reason_codes"`
}

func NewRewardUpdate(eventID int64, source, actorID string, repBefore, repAfter, delta float64, reasonCodes []string) RewardUpdate {
	return RewardUpdate{
		Base:        newBase(MakeID("reward", eventID), source),
		ActorID:     actorID,
		RepBefore:   repBefore,
		RepAfter:    repAfter,
		Delta:       delta,
		ReasonCodes: reasonCodes,
	}
}

// DispatchItem is one entry in a DispatchPlan's dispatch_plan list.
type DispatchItem struct {
	Worker         string `json:"worker"` // shallow|deep|coder|mcp|api
	ModelGroup     string `json:"model_group"`
	Tool           string `json:"tool"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	TimeoutSec     int    `json:"timeout_sec"` // clamped to [5,900]
	Reversible     bool   `json:"reversible"`
}

func NewDispatchItem(worker, modelGroup, tool, input, expectedOutput string, timeoutSec int, reversible bool) DispatchItem {
	if timeoutSec < 5 {
		timeoutSec = 5
	}
	if timeoutSec > 900 {
		timeoutSec = 900
	}
	return DispatchItem{
		Worker: worker, ModelGroup: modelGroup, Tool: tool,
		Input: input, ExpectedOutput: expectedOutput,
		TimeoutSec: timeoutSec, Reversible: reversible,
	}
}

type DispatchPlan struct {
	Base
	Intent            string         `json:"intent"`
	TaskType          string         `json:"task_type"` // shallow|deep|dream|coding|ops
	RiskLevel         RiskLevel      `json:"risk_level"`
	DispatchPlan      []DispatchItem `json:"dispatch_plan"`
	RecommendedSkills []string       `json:"recommended_skills"`
	SuccessCriteria   []string       `json:"success_criteria"`
	RollbackPlan      string         `json:"rollback_plan"`
	Confidence        float64        `json:"confidence"`
	IssueDetected     bool           `json:"issue_detected"`
	IssueReason       string         `json:"issue_reason"`
	HubPrompt         string         `json:"hub_prompt"`
}

// NewDispatchPlan stamps a fresh Base (id/ts/source) onto a DispatchPlan
// built by the caller, mirroring how the other New* constructors work.
func NewDispatchPlan(eventID int64, source string, plan DispatchPlan) DispatchPlan {
	plan.Base = newBase(MakeID("dispatch", eventID), source)
	return plan
}

// ToRow serializes any contract to the (kind, json-string) pair the store
// persists, mirroring contract_to_row in the original.
func ToRow(kind string, obj any) (string, string, error) {
	payload, err := json.Marshal(obj)
	if err != nil {
		return "", "", fmt.Errorf("contracts: to row %s: %w", kind, err)
	}
	return kind, string(payload), nil
}

// DigestText returns the first 16 hex chars of the sha1 of text, used for
// args_hash/result_digest fields.
func DigestText(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
