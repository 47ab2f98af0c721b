package memory

import (
	"sort"
	"strings"

	"github.com/antigravity-dev/cortex/internal/store"
)

// Retrieved is the hybrid_retrieve result: scored facts and vectors.
type Retrieved struct {
	Facts   []ScoredFact   `json:"facts"`
	Vectors []ScoredVector `json:"vectors"`
}

type ScoredFact struct {
	ClaimText string  `json:"claim_text"`
	Score     float64 `json:"score"`
}

type ScoredVector struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// FactFirstRetrieve scans the last 800 non-archive facts and scores each by
// 0.50*jaccard + 0.30*confidence + 0.20*trust, returning the top_k.
func FactFirstRetrieve(st *store.Store, query string, topK int) ([]ScoredFact, error) {
	facts, err := st.RecentFacts(800)
	if err != nil {
		return nil, err
	}
	queryTokens := tokenSet(query)
	scored := make([]ScoredFact, 0, len(facts))
	for _, f := range facts {
		overlap := jaccardOverlap(queryTokens, tokenSet(f.ClaimText))
		trust, err := st.SourceTrustScore(f.Source, 0.6)
		if err != nil {
			return nil, err
		}
		score := 0.50*overlap + 0.30*f.Confidence + 0.20*trust
		scored = append(scored, ScoredFact{ClaimText: f.ClaimText, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// VectorRetrieve scans the last 1000 vectors and returns the top_k by
// cosine similarity to query's own hashed vector.
func VectorRetrieve(st *store.Store, query string, topK int) ([]ScoredVector, error) {
	vectors, err := st.RecentVectors(1000)
	if err != nil {
		return nil, err
	}
	qv := TextToVector(query, VectorDim)
	scored := make([]ScoredVector, 0, len(vectors))
	for _, v := range vectors {
		scored = append(scored, ScoredVector{Text: v.Text, Score: Cosine(qv, v.Vector)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// HybridRetrieve combines fact-first and vector retrieval.
func HybridRetrieve(st *store.Store, query string, topK int) (Retrieved, error) {
	facts, err := FactFirstRetrieve(st, query, topK)
	if err != nil {
		return Retrieved{}, err
	}
	vectors, err := VectorRetrieve(st, query, topK)
	if err != nil {
		return Retrieved{}, err
	}
	return Retrieved{Facts: facts, Vectors: vectors}, nil
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		out[tok] = struct{}{}
	}
	return out
}

func jaccardOverlap(query, candidate map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if _, ok := candidate[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
