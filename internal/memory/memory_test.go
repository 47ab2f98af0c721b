package memory

import (
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/stretchr/testify/require"
)

func TestSplitClaimTripletConnectives(t *testing.T) {
	tr := SplitClaimTriplet("rain -> flooding")
	require.Equal(t, "leads_to", tr.Relation)

	tr = SplitClaimTriplet("疲劳导致效率下降")
	require.Equal(t, "causes", tr.Relation)

	tr = SplitClaimTriplet("因为下雨所以取消")
	require.Equal(t, "therefore", tr.Relation)

	tr = SplitClaimTriplet("天空是蓝色")
	require.Equal(t, "is", tr.Relation)
}

func TestTextToVectorIsNormalized(t *testing.T) {
	v := TextToVector("the quick brown fox jumps", 64)
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	require.InDelta(t, 1.0, norm, 0.0001)
}

func TestCosineSelfSimilarityIsOne(t *testing.T) {
	v := TextToVector("repeat token token token", 64)
	require.InDelta(t, 1.0, Cosine(v, v), 0.0001)
}

func TestIngestEventUpsertsAndRetrieves(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "mem.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = IngestEvent(st, 1, "manual", "the build is failing because the tests are broken", nil)
	require.NoError(t, err)

	stats, err := IngestEvent(st, 2, "manual", "the build is stable now", nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.FactsUpserted, 1)

	retrieved, err := HybridRetrieve(st, "build failing", 5)
	require.NoError(t, err)
	require.NotEmpty(t, retrieved.Facts)
}

func TestClaimConfidenceHedged(t *testing.T) {
	hedged := ClaimConfidence("maybe this is true")
	plain := ClaimConfidence("this is definitely true and confirmed")
	require.Less(t, hedged, plain)
}
