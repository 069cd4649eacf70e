package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/AssistSupport-sub002/internal/store"
)

func keywordList(ids ...string) []*store.BM25Result {
	out := make([]*store.BM25Result, len(ids))
	for i, id := range ids {
		out[i] = &store.BM25Result{DocID: id, Score: float64(len(ids) - i), MatchedTerms: []string{"term"}}
	}
	return out
}

func vectorList(ids ...string) []*store.VectorResult {
	out := make([]*store.VectorResult, len(ids))
	for i, id := range ids {
		out[i] = &store.VectorResult{ID: id, Score: 0.9 - float32(i)*0.1}
	}
	return out
}

func byID(results []*FusedResult) map[string]*FusedResult {
	m := make(map[string]*FusedResult, len(results))
	for _, r := range results {
		m[r.ChunkID] = r
	}
	return m
}

func TestFuse_TopOfBothListsScoresOne(t *testing.T) {
	// Given: A ranks first in both lists
	f := NewRRFFusion()

	// When: fusing
	results := f.Fuse(keywordList("A", "B"), vectorList("A", "C"), DefaultWeights())

	// Then: A reaches the best possible score
	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, MatchBoth, results[0].MatchSource())
}

func TestFuse_NormalizesByBestPossibleScore(t *testing.T) {
	// Given: B is second in keyword and first in vector
	f := NewRRFFusion()
	w := DefaultWeights()

	// When: fusing
	results := byID(f.Fuse(keywordList("A", "B"), vectorList("B", "A"), w))

	// Then: the score is the weighted sum over (w_v + w_k)/(k+1)
	best := (w.Vector + w.Keyword) / 61
	want := (w.Keyword/62 + w.Vector/61) / best
	assert.InDelta(t, want, results["B"].Score, 1e-9)
	assert.Equal(t, 2, results["B"].KeywordRank)
	assert.Equal(t, 1, results["B"].VectorRank)
}

func TestFuse_SingleListChunksAreCapped(t *testing.T) {
	// Given: V only in vector at rank 1, K only in keyword at rank 1
	f := NewRRFFusion()

	// When: fusing
	results := byID(f.Fuse(keywordList("K"), vectorList("V"), DefaultWeights()))

	// Then: V would score 0.6 uncapped and is held at 0.5; K scores 0.4
	assert.InDelta(t, 0.5, results["V"].Score, 1e-9)
	assert.InDelta(t, 0.4, results["K"].Score, 1e-9)
	assert.Equal(t, MatchVector, results["V"].MatchSource())
	assert.Equal(t, MatchKeyword, results["K"].MatchSource())
}

func TestFuse_AbsenceIsNotAPenalty(t *testing.T) {
	// Given: the same keyword list fused with and without a disjoint vector list
	f := NewRRFFusion()
	alone := byID(f.Fuse(keywordList("A", "B"), nil, DefaultWeights()))
	mixed := byID(f.Fuse(keywordList("A", "B"), vectorList("X", "Y"), DefaultWeights()))

	// Then: keyword-only chunks keep the same score
	assert.InDelta(t, alone["A"].Score, mixed["A"].Score, 1e-9)
	assert.InDelta(t, alone["B"].Score, mixed["B"].Score, 1e-9)
	for _, r := range mixed {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestFuse_StrongKeywordMatchOutranksWeakVector(t *testing.T) {
	// Given: keyword weight dominates
	f := NewRRFFusion()
	w := Weights{Vector: 0.2, Keyword: 0.8}

	// When: K is keyword-only at rank 1 and V vector-only at rank 1
	results := f.Fuse(keywordList("K"), vectorList("V"), w)

	// Then: K ranks first
	require.Len(t, results, 2)
	assert.Equal(t, "K", results[0].ChunkID)
}

func TestFuse_SingleActiveListIsNotCapped(t *testing.T) {
	// Given: the vector side is disabled
	f := NewRRFFusion()
	w := Weights{Vector: 0, Keyword: 0.4}

	// When: fusing keyword results alone
	results := f.Fuse(keywordList("A", "B"), nil, w)

	// Then: the top keyword hit reaches 1.0
	require.Len(t, results, 2)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestFuse_Empty(t *testing.T) {
	results := NewRRFFusion().Fuse(nil, nil, DefaultWeights())
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFuse_DuplicateIDsKeepBestRank(t *testing.T) {
	// Given: A appears twice in the keyword list
	f := NewRRFFusion()

	// When: fusing
	results := byID(f.Fuse(keywordList("A", "B", "A"), nil, DefaultWeights()))

	// Then: A counts once, at rank 1
	assert.Equal(t, 1, results["A"].KeywordRank)
	assert.Len(t, results, 2)
}

func TestFuse_TieBreaksByBothListsThenID(t *testing.T) {
	// Given: equal weights so a keyword rank 1 equals a vector rank 1
	f := NewRRFFusionWith(60, 1)
	w := Weights{Vector: 0.5, Keyword: 0.5}

	// When: Y and X are single-list hits at rank 1
	results := f.Fuse(keywordList("Y"), vectorList("X"), w)

	// Then: the tie falls back to chunk ID
	require.Len(t, results, 2)
	assert.Equal(t, "X", results[0].ChunkID)
	assert.Equal(t, "Y", results[1].ChunkID)
}

func TestNewRRFFusionWith_Defaults(t *testing.T) {
	f := NewRRFFusionWith(0, 0)
	assert.Equal(t, DefaultRRFConstant, f.K)
	assert.Equal(t, DefaultPartialCap, f.PartialCap)

	f = NewRRFFusionWith(10, 2)
	assert.Equal(t, 10, f.K)
	assert.Equal(t, DefaultPartialCap, f.PartialCap)
}

func TestFuse_SortedDescending(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(keywordList("A", "B", "C", "D"), vectorList("D", "C", "E"), DefaultWeights())
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}
