package contracts

import (
	"fmt"
	"time"
)

// Task, EvidencePack, and Proposal are the brain/worker protocol-flow
// payloads referenced by the brain cycle (grounded on the make_task /
// make_evidence_pack / make_proposal calls in the original runtime, whose
// own definitions live in protocol.py).

type Task struct {
	TaskID   string `json:"task_id"`
	EventID  int64  `json:"event_id"`
	Content  string `json:"content"`
	Source   string `json:"source"`
	Priority string `json:"priority"`
	TS       string `json:"ts"`
}

func MakeTask(eventID int64, content, source, priority string) Task {
	return Task{
		TaskID:   fmt.Sprintf("task-%d-%d", eventID, nowUnixMilli()),
		EventID:  eventID,
		Content:  truncate(content, 400),
		Source:   source,
		Priority: priority,
		TS:       nowISO(),
	}
}

type EvidencePack struct {
	SourceTaskID string   `json:"source_task_id"`
	EventID      int64    `json:"event_id"`
	Facts        []any    `json:"facts"`
	Vectors      []any    `json:"vectors"`
	Observation  string   `json:"observation"`
	TS           string   `json:"ts"`
}

func MakeEvidencePack(sourceTaskID string, facts, vectors []any, observation string, eventID int64) EvidencePack {
	if facts == nil {
		facts = []any{}
	}
	if vectors == nil {
		vectors = []any{}
	}
	return EvidencePack{
		SourceTaskID: sourceTaskID,
		EventID:      eventID,
		Facts:        facts,
		Vectors:      vectors,
		Observation:  truncate(observation, 400),
		TS:           nowISO(),
	}
}

type Proposal struct {
	SourceTaskID     string  `json:"source_task_id"`
	Action           string  `json:"action"`
	Rationale        string  `json:"rationale"`
	RiskLevel        string  `json:"risk_level"`
	RequiresApproval bool    `json:"requires_approval"`
	RollbackPlan     string  `json:"rollback_plan"`
	TS               string  `json:"ts"`
}

func MakeProposal(sourceTaskID, action, rationale, riskLevel string, requiresApproval bool, rollbackPlan string) Proposal {
	return Proposal{
		SourceTaskID:     sourceTaskID,
		Action:           action,
		Rationale:        truncate(rationale, 400),
		RiskLevel:        riskLevel,
		RequiresApproval: requiresApproval,
		RollbackPlan:     rollbackPlan,
		TS:               nowISO(),
	}
}

func nowUnixMilli() int64 { return time.Now().UnixMilli() }
