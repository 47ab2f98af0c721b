package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// LoadRuntimeState returns the persisted runtime state JSON blob, or nil if
// none has ever been saved (callers apply defaults via runtimestate.FromMap).
func (s *Store) LoadRuntimeState() (map[string]any, error) {
	var raw string
	err := s.db.QueryRow(`SELECT state_json FROM runtime_state WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load runtime state: %w", err)
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("store: load runtime state: unmarshal: %w", err)
	}
	return state, nil
}

// SaveRuntimeState upserts the singleton runtime state row.
func (s *Store) SaveRuntimeState(state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: save runtime state: marshal: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runtime_state(id, state_json, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		string(raw), nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: save runtime state: %w", err)
	}
	return nil
}

// GetStateVersion returns the current MVCC version counter.
func (s *Store) GetStateVersion() (int64, error) {
	var version int64
	err := s.db.QueryRow(`SELECT version FROM state_versions WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: get state version: %w", err)
	}
	return version, nil
}

// AdvanceStateVersionIfMatch performs the MVCC compare-and-swap: it
// advances version only if the current version equals expectedVersion,
// checking affected row count rather than racing a separate read.
// Returns (committed, the version after this call).
func (s *Store) AdvanceStateVersionIfMatch(expectedVersion int64, actor, note string) (bool, int64, error) {
	res, err := s.db.Exec(
		`UPDATE state_versions SET version = version + 1, updated_ts = ?, actor = ?, note = ? WHERE id = 1 AND version = ?`,
		nowISO(), actor, note, expectedVersion,
	)
	if err != nil {
		return false, 0, fmt.Errorf("store: advance state version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("store: advance state version: rows affected: %w", err)
	}
	current, err := s.GetStateVersion()
	if err != nil {
		return false, 0, err
	}
	return affected == 1, current, nil
}

// RecordCommitWindow writes an audit row for one brain/worker cycle's
// version-commit attempt.
func (s *Store) RecordCommitWindow(eventID int64, actor string, baseVersion, observedVersion, finalVersion int64, status, note string) error {
	_, err := s.db.Exec(
		`INSERT INTO commit_windows(event_id, actor, base_version, observed_version, final_version, status, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, actor, baseVersion, observedVersion, finalVersion, status, note, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: record commit window: %w", err)
	}
	return nil
}

// InsertDecision records the per-event decision row (C7/C8's output).
func (s *Store) InsertDecision(eventID int64, action, reason, summary string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: insert decision: marshal meta: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO decisions(event_id, action, reason, summary, meta_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, action, reason, summary, string(metaJSON), nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: insert decision: %w", err)
	}
	return nil
}

// LastDecisionActions returns the action field of the last n decisions,
// newest-first — used by the emergence/loop guard.
func (s *Store) LastDecisionActions(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT action FROM decisions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: last decision actions: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, fmt.Errorf("store: scan decision action: %w", err)
		}
		out = append(out, action)
	}
	return out, rows.Err()
}
