package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a single append-only event-log row (C1).
type Event struct {
	ID           int64
	Source       string
	EventType    string
	Content      string
	Meta         map[string]any
	CreatedAt    time.Time
	BrainDoneAt  sql.NullTime
	WorkerDoneAt sql.NullTime
}

// Enqueue appends a new event and returns its id.
func (s *Store) Enqueue(source, eventType, content string, meta map[string]any) (int64, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue: marshal meta: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO events(source, event_type, content, meta_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		source, eventType, content, string(metaJSON), nowISO(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue: %w", err)
	}
	return res.LastInsertId()
}

func scanEvent(row interface {
	Scan(dest ...any) error
}) (Event, error) {
	var e Event
	var metaJSON string
	var createdAt string
	if err := row.Scan(&e.ID, &e.Source, &e.EventType, &e.Content, &metaJSON, &createdAt, &e.BrainDoneAt, &e.WorkerDoneAt); err != nil {
		return Event{}, err
	}
	e.Meta = map[string]any{}
	_ = json.Unmarshal([]byte(metaJSON), &e.Meta)
	e.CreatedAt, _ = time.Parse("2006-01-02T15:04:05Z", createdAt)
	return e, nil
}

// FetchPendingBrain returns up to maxEvents events not yet brain-processed,
// oldest first.
func (s *Store) FetchPendingBrain(maxEvents int) ([]Event, error) {
	return s.fetchPending("brain_done_at", maxEvents)
}

// FetchPendingWorker returns up to maxEvents events not yet worker-processed,
// oldest first.
func (s *Store) FetchPendingWorker(maxEvents int) ([]Event, error) {
	return s.fetchPending("worker_done_at", maxEvents)
}

func (s *Store) fetchPending(doneCol string, maxEvents int) ([]Event, error) {
	if maxEvents <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT id, source, event_type, content, meta_json, created_at, brain_done_at, worker_done_at
		 FROM events WHERE %s IS NULL ORDER BY id ASC LIMIT ?`, doneCol)
	rows, err := s.db.Query(query, maxEvents)
	if err != nil {
		return nil, fmt.Errorf("store: fetch pending (%s): %w", doneCol, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan pending event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountPendingBrain returns the number of events not yet brain-processed —
// the backlog depth the health monitor's gauges track.
func (s *Store) CountPendingBrain() (int, error) {
	return s.countPending("brain_done_at")
}

// CountPendingWorker returns the number of events not yet worker-processed.
func (s *Store) CountPendingWorker() (int, error) {
	return s.countPending("worker_done_at")
}

func (s *Store) countPending(doneCol string) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM events WHERE %s IS NULL`, doneCol)
	if err := s.db.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count pending (%s): %w", doneCol, err)
	}
	return n, nil
}

// MarkBrainDone marks an event as processed by the brain track.
func (s *Store) MarkBrainDone(eventID int64) error {
	if _, err := s.db.Exec(`UPDATE events SET brain_done_at = ? WHERE id = ?`, nowISO(), eventID); err != nil {
		return fmt.Errorf("store: mark brain done: %w", err)
	}
	return nil
}

// MarkWorkerDone marks an event as processed by the worker track.
func (s *Store) MarkWorkerDone(eventID int64) error {
	if _, err := s.db.Exec(`UPDATE events SET worker_done_at = ? WHERE id = ?`, nowISO(), eventID); err != nil {
		return fmt.Errorf("store: mark worker done: %w", err)
	}
	return nil
}

// RecentEventsByTypes returns up to limit events (newest-first in storage
// order, then reversed to chronological) whose event_type is in types —
// used by the Dream Worker's replay composition.
func (s *Store) RecentEventsByTypes(types []string, limit int) ([]Event, error) {
	if limit <= 0 || len(types) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(types)+1)
	for i, t := range types {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, t)
	}
	args = append(args, limit)
	query := fmt.Sprintf(
		`SELECT id, source, event_type, content, meta_json, created_at, brain_done_at, worker_done_at
		 FROM events WHERE event_type IN (%s) ORDER BY id DESC LIMIT ?`, placeholders)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent events by type: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan recent event: %w", err)
		}
		out = append(out, e)
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// RuntimeGC prunes fully-processed events and stale commit-window rows past
// retentionDays, bounding the append-only log's growth (supplemented
// feature, grounded on runtime_gc in the original implementation).
func (s *Store) RuntimeGC(retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).UTC().Format("2006-01-02T15:04:05Z")
	if _, err := s.db.Exec(
		`DELETE FROM events WHERE brain_done_at IS NOT NULL AND worker_done_at IS NOT NULL AND created_at < ?`,
		cutoff,
	); err != nil {
		return fmt.Errorf("store: gc events: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM commit_windows WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("store: gc commit_windows: %w", err)
	}
	return nil
}
