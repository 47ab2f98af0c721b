package store

import "fmt"

// InsertContract persists a contract row in its serialized (kind, json) form
// — the kind/payload pair produced by contracts.ToRow.
func (s *Store) InsertContract(eventID int64, kind, payloadJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO contracts(event_id, kind, payload_json, created_at) VALUES (?, ?, ?, ?)`,
		eventID, kind, payloadJSON, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: insert contract: %w", err)
	}
	return nil
}

// InsertProtocolFlow persists a protocol-flow row (task/evidence/proposal).
func (s *Store) InsertProtocolFlow(eventID int64, kind, payloadJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO protocol_flows(event_id, kind, payload_json, created_at) VALUES (?, ?, ?, ?)`,
		eventID, kind, payloadJSON, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: insert protocol flow: %w", err)
	}
	return nil
}

// InsertProviderRoute records the routing decision/outcome made for an event.
func (s *Store) InsertProviderRoute(eventID int64, action, providerGroup, detailJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO provider_routes(event_id, action, provider_group, detail_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		eventID, action, providerGroup, detailJSON, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: insert provider route: %w", err)
	}
	return nil
}
