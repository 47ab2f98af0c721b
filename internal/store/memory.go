package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Fact is one row of fact_memory: a subject/predicate/object claim with
// confidence, support/conflict counters, and a lifecycle tier.
type Fact struct {
	ID              int64
	ClaimKey        string
	Subject         string
	Predicate       string
	Object          string
	ClaimText       string
	Source          string
	Confidence      float64
	SupportCount    int
	ConflictCount   int
	Tier            string
	LastSeenEventID int64
}

// GetFactByKey looks up a fact by its sha1 claim key.
func (s *Store) GetFactByKey(claimKey string) (*Fact, error) {
	var f Fact
	err := s.db.QueryRow(
		`SELECT id, claim_key, subject, predicate, object, claim_text, source, confidence, support_count, conflict_count, tier, last_seen_event_id
		 FROM fact_memory WHERE claim_key = ?`, claimKey,
	).Scan(&f.ID, &f.ClaimKey, &f.Subject, &f.Predicate, &f.Object, &f.ClaimText, &f.Source, &f.Confidence, &f.SupportCount, &f.ConflictCount, &f.Tier, &f.LastSeenEventID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get fact: %w", err)
	}
	return &f, nil
}

// InsertFact creates a brand-new fact row.
func (s *Store) InsertFact(f Fact) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO fact_memory(claim_key, subject, predicate, object, claim_text, source, confidence, support_count, conflict_count, tier, last_seen_event_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ClaimKey, f.Subject, f.Predicate, f.Object, f.ClaimText, f.Source, f.Confidence, f.SupportCount, f.ConflictCount, f.Tier, f.LastSeenEventID, nowISO(), nowISO(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert fact: %w", err)
	}
	return res.LastInsertId()
}

// UpdateFact updates an existing fact's mutable fields after a re-upsert.
func (s *Store) UpdateFact(f Fact) error {
	_, err := s.db.Exec(
		`UPDATE fact_memory SET claim_text = ?, confidence = ?, support_count = ?, conflict_count = ?, tier = ?, last_seen_event_id = ?, updated_at = ?
		 WHERE id = ?`,
		f.ClaimText, f.Confidence, f.SupportCount, f.ConflictCount, f.Tier, f.LastSeenEventID, nowISO(), f.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update fact: %w", err)
	}
	return nil
}

// InsertFactConflict records a conflicting re-claim for audit purposes.
func (s *Store) InsertFactConflict(factID, eventID int64, previousClaim, newClaim string) error {
	_, err := s.db.Exec(
		`INSERT INTO fact_conflicts(fact_id, event_id, previous_claim, new_claim, created_at) VALUES (?, ?, ?, ?, ?)`,
		factID, eventID, previousClaim, newClaim, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: insert fact conflict: %w", err)
	}
	return nil
}

// RecentFacts returns up to limit non-archive-tier facts, newest-seen-first.
func (s *Store) RecentFacts(limit int) ([]Fact, error) {
	rows, err := s.db.Query(
		`SELECT id, claim_key, subject, predicate, object, claim_text, source, confidence, support_count, conflict_count, tier, last_seen_event_id
		 FROM fact_memory WHERE tier != 'archive' ORDER BY last_seen_event_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent facts: %w", err)
	}
	defer rows.Close()
	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.ClaimKey, &f.Subject, &f.Predicate, &f.Object, &f.ClaimText, &f.Source, &f.Confidence, &f.SupportCount, &f.ConflictCount, &f.Tier, &f.LastSeenEventID); err != nil {
			return nil, fmt.Errorf("store: scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AllFactsForLifecycle returns every fact row (used by the periodic tiering
// pass, which needs the full set to compute max last_seen_event_id).
func (s *Store) AllFactsForLifecycle() ([]Fact, error) {
	rows, err := s.db.Query(
		`SELECT id, claim_key, subject, predicate, object, claim_text, source, confidence, support_count, conflict_count, tier, last_seen_event_id FROM fact_memory`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: all facts: %w", err)
	}
	defer rows.Close()
	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.ClaimKey, &f.Subject, &f.Predicate, &f.Object, &f.ClaimText, &f.Source, &f.Confidence, &f.SupportCount, &f.ConflictCount, &f.Tier, &f.LastSeenEventID); err != nil {
			return nil, fmt.Errorf("store: scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFactTier is used by the lifecycle pass to retier a fact without
// touching its other fields.
func (s *Store) UpdateFactTier(id int64, tier string) error {
	if _, err := s.db.Exec(`UPDATE fact_memory SET tier = ? WHERE id = ?`, tier, id); err != nil {
		return fmt.Errorf("store: update fact tier: %w", err)
	}
	return nil
}

// MemoryVector is one row of memory_vectors: a hashed bag-of-tokens
// embedding for a piece of ingested text.
type MemoryVector struct {
	ID     int64
	Source string
	Text   string
	Vector []float64
	Tier   string
}

// InsertMemoryVector stores a new vector row.
func (s *Store) InsertMemoryVector(eventID int64, source, text string, vector []float64, tier string) (int64, error) {
	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return 0, fmt.Errorf("store: insert memory vector: marshal: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO memory_vectors(event_id, source, text, vector_json, tier, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, source, text, string(vecJSON), tier, nowISO(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert memory vector: %w", err)
	}
	return res.LastInsertId()
}

// RecentVectors returns up to limit vectors, newest id first.
func (s *Store) RecentVectors(limit int) ([]MemoryVector, error) {
	rows, err := s.db.Query(
		`SELECT id, source, text, vector_json, tier FROM memory_vectors ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent vectors: %w", err)
	}
	defer rows.Close()
	var out []MemoryVector
	for rows.Next() {
		var v MemoryVector
		var vecJSON string
		if err := rows.Scan(&v.ID, &v.Source, &v.Text, &vecJSON, &v.Tier); err != nil {
			return nil, fmt.Errorf("store: scan vector: %w", err)
		}
		_ = json.Unmarshal([]byte(vecJSON), &v.Vector)
		out = append(out, v)
	}
	return out, rows.Err()
}

// AllVectorsForLifecycle returns id+tier for every vector, for the
// periodic tiering pass.
func (s *Store) AllVectorsForLifecycle() ([]MemoryVector, error) {
	rows, err := s.db.Query(`SELECT id, tier FROM memory_vectors`)
	if err != nil {
		return nil, fmt.Errorf("store: all vectors: %w", err)
	}
	defer rows.Close()
	var out []MemoryVector
	for rows.Next() {
		var v MemoryVector
		if err := rows.Scan(&v.ID, &v.Tier); err != nil {
			return nil, fmt.Errorf("store: scan vector: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateVectorTier(id int64, tier string) error {
	if _, err := s.db.Exec(`UPDATE memory_vectors SET tier = ? WHERE id = ?`, tier, id); err != nil {
		return fmt.Errorf("store: update vector tier: %w", err)
	}
	return nil
}

// SourceTrustScore returns the EMA trust score for source, or def if unseen.
func (s *Store) SourceTrustScore(source string, def float64) (float64, error) {
	var score float64
	err := s.db.QueryRow(`SELECT trust_score FROM source_trust WHERE source = ?`, source).Scan(&score)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("store: source trust: %w", err)
	}
	return score, nil
}

// UpsertSourceTrust writes the new EMA trust score and sample count.
func (s *Store) UpsertSourceTrust(source string, score float64, samples int) error {
	_, err := s.db.Exec(
		`INSERT INTO source_trust(source, trust_score, samples, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET trust_score = excluded.trust_score, samples = excluded.samples, updated_at = excluded.updated_at`,
		source, score, samples, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert source trust: %w", err)
	}
	return nil
}

// SourceTrustSamples returns the current sample count for source (0 if unseen).
func (s *Store) SourceTrustSamples(source string) (int, error) {
	var samples int
	err := s.db.QueryRow(`SELECT samples FROM source_trust WHERE source = ?`, source).Scan(&samples)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: source trust samples: %w", err)
	}
	return samples, nil
}

// InsertCausalEdge records a cause -> effect claim extracted from an event.
func (s *Store) InsertCausalEdge(eventID int64, source, cause, effect, relation string, weight float64) error {
	_, err := s.db.Exec(
		`INSERT INTO causal_edges(event_id, source, cause, effect, relation, weight, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventID, source, cause, effect, relation, weight, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: insert causal edge: %w", err)
	}
	return nil
}
