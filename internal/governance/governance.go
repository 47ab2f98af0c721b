// Package governance implements C4: keyword-based risk scoring, the
// immutable-path guard, approval overrides, and the emergence/loop guard.
// Grounded on original_source/azi_rebuild/governance.py.
package governance

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/antigravity-dev/cortex/internal/store"
)

// HighRiskKeywords is the exact blocklist from the original.
var HighRiskKeywords = []string{
	"delete", "drop table", "rm -rf", "format", "shutdown",
	"override policy", "destructive", "生产", "删除", "覆盖", "重置",
}

// RiskLevel is a coarse risk bucket before translation to a contract RiskLevel.
type RiskLevel string

const (
	RiskHigh RiskLevel = "high"
	RiskMid  RiskLevel = "mid"
	RiskLow  RiskLevel = "low"
)

// RiskAssessment is the result of AssessRisk.
type RiskAssessment struct {
	RiskLevel        RiskLevel `json:"risk_level"`
	Score            float64   `json:"score"`
	Reasons          []string  `json:"reasons"`
	RequiresApproval bool      `json:"requires_approval"`
}

// AssessRisk scores action+content against the keyword blocklist plus
// source-trust and source-type penalties, exactly as assess_risk.
func AssessRisk(action, content, source string, sourceTrust float64) RiskAssessment {
	text := strings.ToLower(action + " " + content)
	var reasons []string
	score := 0.0

	for _, kw := range HighRiskKeywords {
		if strings.Contains(text, kw) {
			score += 0.35
			reasons = append(reasons, "keyword:"+kw)
		}
	}
	if sourceTrust < 0.45 {
		score += 0.20
		reasons = append(reasons, "low_source_trust")
	}
	lowerSource := strings.ToLower(source)
	if strings.HasPrefix(lowerSource, "web") || strings.HasPrefix(lowerSource, "social") || strings.HasPrefix(lowerSource, "device") {
		score += 0.10
		reasons = append(reasons, "untrusted_source_class")
	}

	level := RiskLow
	switch {
	case score >= 0.55:
		level = RiskHigh
	case score >= 0.25:
		level = RiskMid
	}

	return RiskAssessment{
		RiskLevel:        level,
		Score:            score,
		Reasons:          reasons,
		RequiresApproval: level == RiskHigh,
	}
}

// RecordRiskGate persists the assessment and its resolution.
func RecordRiskGate(st *store.Store, eventID int64, action string, assessment RiskAssessment, approved bool) error {
	return st.RecordRiskGate(eventID, action, string(assessment.RiskLevel), assessment.RequiresApproval, approved, assessment.Reasons)
}

// ImmutableGuardResult reports whether content references a protected path.
type ImmutableGuardResult struct {
	Blocked bool     `json:"blocked"`
	Hits    []string `json:"hits"`
}

// CheckImmutableGuard does a lowercase substring match of content against
// the immutable path list.
func CheckImmutableGuard(content string, immutablePaths []string) ImmutableGuardResult {
	lower := strings.ToLower(content)
	var hits []string
	for _, p := range immutablePaths {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			hits = append(hits, p)
		}
	}
	return ImmutableGuardResult{Blocked: len(hits) > 0, Hits: hits}
}

// RecordGuardEvent persists an immutable/emergence guard trip.
func RecordGuardEvent(st *store.Store, guardType, severity, detail string) error {
	return st.RecordGuardEvent(guardType, severity, detail)
}

// approvalsFile is the JSON shape of resident_output/approvals.json.
type approvalsFile struct {
	ApprovedEventIDs []int64 `json:"approved_event_ids"`
}

// LoadApprovalOverride reports whether eventID appears in the approvals
// override file at path; any read/parse error is treated as "not approved".
func LoadApprovalOverride(path string, eventID int64) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var parsed approvalsFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return false
	}
	for _, id := range parsed.ApprovedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// EmergenceGuardResult reports a detected repeated-action loop.
type EmergenceGuardResult struct {
	Alert  bool   `json:"alert"`
	Reason string `json:"reason"`
}

// EmergenceGuard inspects the last 6 decisions and alerts if any single
// action repeats at least 5 times (the original's "emergence"/loop guard).
func EmergenceGuard(st *store.Store) (EmergenceGuardResult, error) {
	actions, err := st.LastDecisionActions(6)
	if err != nil {
		return EmergenceGuardResult{}, err
	}
	if len(actions) < 4 {
		return EmergenceGuardResult{}, nil
	}

	counts := map[string]int{}
	for _, a := range actions {
		counts[a]++
	}
	var top string
	var topCount int
	for a, c := range counts {
		if c > topCount {
			top, topCount = a, c
		}
	}
	if topCount >= 5 {
		return EmergenceGuardResult{Alert: true, Reason: fmt.Sprintf("repeated_action_loop:%s", top)}, nil
	}
	return EmergenceGuardResult{}, nil
}

// ToRiskLevel translates a RiskAssessment level plus the forbidden flag
// into the contract's L0..L3 scale.
func ToRiskLevel(level RiskLevel, forbidden bool) string {
	switch {
	case forbidden:
		return "L3"
	case level == RiskHigh:
		return "L2"
	case level == RiskMid:
		return "L1"
	default:
		return "L0"
	}
}

// LoadImmutablePaths returns the hardcoded defaults plus any extra paths
// from permissions.json, never replacing the defaults.
func LoadImmutablePaths(defaults, extra []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range append(append([]string{}, defaults...), extra...) {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
