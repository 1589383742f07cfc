package retrieval

import (
	"sort"
)

const rrfK = 60 // RRF constant (standard value from literature)

// FusedResultInfo holds per-result method contribution metadata.
type FusedResultInfo struct {
	Methods []string `json:"methods"`
	FTSRank int      `json:"fts_rank,omitempty"` // 1-based, 0 = not present
	VecRank int      `json:"vec_rank,omitempty"` // 1-based, 0 = not present
}

type fused struct {
	id    string
	score float64
	info  FusedResultInfo
}

// fuseRRF implements Reciprocal Rank Fusion over two ranked lists of
// reading ids: score = sum(weight_i / (k + rank_i)). Ties keep the order
// in which ids were first seen, FTS before vector.
func fuseRRF(ftsIDs, vecIDs []string, weightFTS, weightVec float64, maxResults int) []fused {
	index := make(map[string]int)
	var entries []*fused

	add := func(ids []string, weight float64, method string, setRank func(*FusedResultInfo, int)) {
		for rank, id := range ids {
			i, ok := index[id]
			if !ok {
				i = len(entries)
				index[id] = i
				entries = append(entries, &fused{id: id})
			}
			e := entries[i]
			e.score += weight / float64(rrfK+rank+1)
			e.info.Methods = append(e.info.Methods, method)
			setRank(&e.info, rank+1)
		}
	}
	add(ftsIDs, weightFTS, "fts", func(info *FusedResultInfo, r int) { info.FTSRank = r })
	add(vecIDs, weightVec, "vector", func(info *FusedResultInfo, r int) { info.VecRank = r })

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	out := make([]fused, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}
