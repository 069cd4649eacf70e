package search

import (
	"sort"

	"github.com/saagar210/AssistSupport-sub002/internal/store"
)

// DefaultRRFConstant is the rank smoothing constant k.
const DefaultRRFConstant = 60

// DefaultPartialCap caps the normalized score of a chunk that only one of
// the two indexes returned.
const DefaultPartialCap = 0.5

// FusedResult is one chunk after rank fusion.
type FusedResult struct {
	ChunkID      string
	Score        float64 // normalized to 0-1
	KeywordScore float64
	KeywordRank  int // 1-indexed, 0 if absent
	VectorScore  float64
	VectorRank   int // 1-indexed, 0 if absent
	MatchedTerms []string
}

// MatchSource reports which lists the chunk appeared in.
func (r *FusedResult) MatchSource() MatchSource {
	switch {
	case r.KeywordRank > 0 && r.VectorRank > 0:
		return MatchBoth
	case r.VectorRank > 0:
		return MatchVector
	default:
		return MatchKeyword
	}
}

// RRFFusion combines keyword and vector results with weighted Reciprocal
// Rank Fusion:
//
//	score(d) = Σ weight_i / (k + rank_i)
//
// summed only over the lists d appears in, then divided by the best score a
// chunk could reach, (w_vector + w_keyword) / (k + 1). A chunk absent from a
// list gets nothing from it. When both weights are positive a chunk found by
// one list alone is capped at PartialCap.
type RRFFusion struct {
	K          int
	PartialCap float64
}

// NewRRFFusion returns a fusion with k=60 and a partial cap of 0.5.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant, PartialCap: DefaultPartialCap}
}

// NewRRFFusionWith returns a fusion with the given constants. Out of range
// values fall back to the defaults.
func NewRRFFusionWith(k int, partialCap float64) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if partialCap <= 0 || partialCap > 1 {
		partialCap = DefaultPartialCap
	}
	return &RRFFusion{K: k, PartialCap: partialCap}
}

// Fuse merges the two ranked lists. Results are sorted by score, then by
// presence in both lists, then by chunk ID. Duplicate IDs within one list
// keep their best rank.
func (f *RRFFusion) Fuse(keyword []*store.BM25Result, vector []*store.VectorResult, weights Weights) []*FusedResult {
	if len(keyword) == 0 && len(vector) == 0 {
		return []*FusedResult{}
	}

	raw := make(map[string]float64, len(keyword)+len(vector))
	scores := make(map[string]*FusedResult, len(keyword)+len(vector))

	for i, r := range keyword {
		if r == nil {
			continue
		}
		res := getOrCreate(scores, r.DocID)
		if res.KeywordRank > 0 {
			continue
		}
		res.KeywordRank = i + 1
		res.KeywordScore = r.Score
		res.MatchedTerms = r.MatchedTerms
		raw[r.DocID] += weights.Keyword / float64(f.K+i+1)
	}

	for i, r := range vector {
		if r == nil {
			continue
		}
		res := getOrCreate(scores, r.ID)
		if res.VectorRank > 0 {
			continue
		}
		res.VectorRank = i + 1
		res.VectorScore = float64(r.Score)
		raw[r.ID] += weights.Vector / float64(f.K+i+1)
	}

	best := (weights.Vector + weights.Keyword) / float64(f.K+1)
	capPartial := weights.Vector > 0 && weights.Keyword > 0
	for id, res := range scores {
		if best <= 0 {
			break
		}
		s := raw[id] / best
		if capPartial && res.MatchSource() != MatchBoth && s > f.PartialCap {
			s = f.PartialCap
		}
		res.Score = s
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return compare(results[i], results[j])
	})
	return results
}

func getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

func compare(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	aBoth, bBoth := a.MatchSource() == MatchBoth, b.MatchSource() == MatchBoth
	if aBoth != bBoth {
		return aBoth
	}
	return a.ChunkID < b.ChunkID
}
