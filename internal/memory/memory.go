package memory

import (
	"strings"

	"github.com/antigravity-dev/cortex/internal/store"
)

// VectorDim is the fixed dimensionality of memory vectors.
const VectorDim = 64

// Stats summarizes one IngestEvent call, recorded into the decision row's
// meta for observability.
type Stats struct {
	ClaimsExtracted int `json:"claims_extracted"`
	FactsUpserted   int `json:"facts_upserted"`
	ConflictsFound  int `json:"conflicts_found"`
	VectorsIndexed  int `json:"vectors_indexed"`
	CausalEdges     int `json:"causal_edges"`
}

// IngestEvent runs the full memory pipeline for one event: extract claims,
// upsert facts (capped at 24), index a vector for the raw content, extract
// causal edges (capped at 16), update source trust, and run the lifecycle
// tiering pass.
func IngestEvent(st *store.Store, eventID int64, source, content string, meta map[string]any) (Stats, error) {
	var stats Stats

	claims := ExtractClaims(content, 24)
	stats.ClaimsExtracted = len(claims)
	for _, claim := range claims {
		conflicted, err := upsertFact(st, eventID, source, claim)
		if err != nil {
			return stats, err
		}
		stats.FactsUpserted++
		if conflicted {
			stats.ConflictsFound++
		}
	}

	vec := TextToVector(content, VectorDim)
	if _, err := st.InsertMemoryVector(eventID, source, truncateRunes(content, 400), vec, "short"); err != nil {
		return stats, err
	}
	stats.VectorsIndexed = 1

	edges, err := upsertCausalEdges(st, eventID, source, content)
	if err != nil {
		return stats, err
	}
	stats.CausalEdges = edges

	qualitySignal := sourceQuality(source)
	if err := updateSourceTrust(st, source, qualitySignal); err != nil {
		return stats, err
	}

	if err := RunLifecycle(st); err != nil {
		return stats, err
	}

	return stats, nil
}

func upsertFact(st *store.Store, eventID int64, source, claim string) (bool, error) {
	t := SplitClaimTriplet(claim)
	key := FactKey(t.Subject, t.Predicate, t.Object)

	existing, err := st.GetFactByKey(key)
	if err != nil {
		return false, err
	}

	if existing == nil {
		_, err := st.InsertFact(store.Fact{
			ClaimKey: key, Subject: t.Subject, Predicate: t.Predicate, Object: t.Object,
			ClaimText: claim, Source: source, Confidence: ClaimConfidence(claim),
			SupportCount: 1, ConflictCount: 0, Tier: "warm", LastSeenEventID: eventID,
		})
		return false, err
	}

	conflicted := false
	if NormalizeClaim(existing.ClaimText) != NormalizeClaim(claim) {
		if err := st.InsertFactConflict(existing.ID, eventID, existing.ClaimText, claim); err != nil {
			return false, err
		}
		existing.ConflictCount++
		conflicted = true
	}
	existing.Confidence = Blend(ClaimConfidence(claim), existing.ConflictCount)
	existing.SupportCount++
	existing.LastSeenEventID = eventID
	if len(claim) > len(existing.ClaimText) {
		existing.ClaimText = claim
	}
	return conflicted, st.UpdateFact(*existing)
}

func upsertCausalEdges(st *store.Store, eventID int64, source, content string) (int, error) {
	claims := ExtractClaims(content, 16)
	count := 0
	for _, claim := range claims {
		t := SplitClaimTriplet(claim)
		if t.Relation != "causes" && t.Relation != "leads_to" && t.Relation != "therefore" {
			continue
		}
		if t.Subject == "" || t.Object == "" {
			continue
		}
		if err := st.InsertCausalEdge(eventID, source, t.Subject, t.Object, t.Relation, 0.5); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// sourceQuality maps a source name to a prior quality signal, per the
// original's _source_quality table.
func sourceQuality(source string) float64 {
	lower := strings.ToLower(source)
	switch {
	case lower == "manual" || lower == "brain" || lower == "brain-loop" || strings.HasPrefix(lower, "deep-worker") || lower == "health":
		return 0.80
	case strings.HasPrefix(lower, "web"):
		return 0.55
	case lower == "social":
		return 0.52
	case lower == "device":
		return 0.50
	default:
		return 0.60
	}
}

func updateSourceTrust(st *store.Store, source string, qualitySignal float64) error {
	samples, err := st.SourceTrustSamples(source)
	if err != nil {
		return err
	}
	current, err := st.SourceTrustScore(source, 0.6)
	if err != nil {
		return err
	}
	denom := samples + 1
	if denom < 3 {
		denom = 3
	}
	if denom > 50 {
		denom = 50
	}
	alpha := 1.0 / float64(denom)
	updated := current + alpha*(qualitySignal-current)
	return st.UpsertSourceTrust(source, updated, samples+1)
}

// SourceTrustScore exposes the lookup used by the brain cycle's risk gate.
func SourceTrustScore(st *store.Store, source string, def float64) (float64, error) {
	return st.SourceTrustScore(source, def)
}
