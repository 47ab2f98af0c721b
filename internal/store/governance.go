package store

import (
	"encoding/json"
	"fmt"
)

// RecordRiskGate persists the risk assessment for an event.
func (s *Store) RecordRiskGate(eventID int64, action, riskLevel string, requiresApproval, approved bool, reasons []string) error {
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("store: record risk gate: marshal reasons: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO risk_gate(event_id, action, risk_level, requires_approval, approved, reasons_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventID, action, riskLevel, boolToInt(requiresApproval), boolToInt(approved), string(reasonsJSON), nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: record risk gate: %w", err)
	}
	return nil
}

// RecordGuardEvent logs an immutable-path or emergence-guard trip.
func (s *Store) RecordGuardEvent(guardType, severity, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO guard_events(guard_type, severity, detail, created_at) VALUES (?, ?, ?, ?)`,
		guardType, severity, detail, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: record guard event: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
