package store

import "fmt"

// RecordSafetyStage logs one stage of the safety chain (sandbox/eval/canary/rollback).
func (s *Store) RecordSafetyStage(eventID int64, stage, status, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO deep_runs(event_id, stage, status, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		eventID, stage, status, detail, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: record safety stage: %w", err)
	}
	return nil
}

// RecordCanarySnapshot records a written canary artifact's path and status.
func (s *Store) RecordCanarySnapshot(eventID int64, path, status string) error {
	_, err := s.db.Exec(
		`INSERT INTO canary_snapshots(event_id, path, status, created_at) VALUES (?, ?, ?, ?)`,
		eventID, path, status, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: record canary snapshot: %w", err)
	}
	return nil
}

// RecordEvalGate records an eval-harness outcome.
func (s *Store) RecordEvalGate(eventID int64, suite string, passed bool, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO eval_gates(event_id, suite, passed, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		eventID, suite, boolToInt(passed), detail, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: record eval gate: %w", err)
	}
	return nil
}
