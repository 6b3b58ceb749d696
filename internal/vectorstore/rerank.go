package vectorstore

import (
	"context"
	"sort"
)

const (
	// maxExpandWindow bounds how far sibling expansion reaches on each side.
	maxExpandWindow = 3

	// expandScoreDecay is the score penalty per step of index distance for
	// expanded siblings.
	expandScoreDecay = 0.03
)

// NeighborFetcher is the slice of Store the rerank needs.
type NeighborFetcher interface {
	Neighbors(ctx context.Context, documentID string, fromIndex, toIndex int) ([]Hit, error)
}

// rerankGroupKey scopes parent identity by document so synthesized range
// keys (and reused parent labels) from different documents never collapse
// into one group.
func rerankGroupKey(h Hit) string {
	return h.DocumentID + "\x00" + h.ParentChunkID
}

// rerankParentChild reorders candidates parent-first and expands each hit
// with adjacent sibling chunks from the same parent.
//
// A nil result (with nil error) means the rerank stood down: either no
// candidate carries a parent key, or fewer than two hits fall under the
// ranked parents. Callers fall back to the plain score ordering.
func rerankParentChild(ctx context.Context, fetcher NeighborFetcher, base []Hit, topK, window int) ([]Hit, error) {
	grouped := make(map[string][]Hit)
	var groupOrder []string
	for _, h := range base {
		if h.ParentChunkID == "" {
			continue
		}
		key := rerankGroupKey(h)
		if _, seen := grouped[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		grouped[key] = append(grouped[key], h)
	}
	if len(grouped) == 0 {
		return nil, nil
	}

	// Rank groups by their best child score; ties keep first-seen order.
	type rankedGroup struct {
		key  string
		best float64
	}
	ranking := make([]rankedGroup, 0, len(groupOrder))
	for _, key := range groupOrder {
		best := grouped[key][0].Score
		for _, h := range grouped[key][1:] {
			if h.Score > best {
				best = h.Score
			}
		}
		ranking = append(ranking, rankedGroup{key: key, best: best})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].best > ranking[j].best
	})
	if len(ranking) > topK {
		ranking = ranking[:topK]
	}

	groupRank := make(map[string]int, len(ranking))
	for i, g := range ranking {
		groupRank[g.key] = i
	}

	var selected []Hit
	for _, h := range base {
		if h.ParentChunkID == "" {
			continue
		}
		if _, ok := groupRank[rerankGroupKey(h)]; ok {
			selected = append(selected, h)
		}
	}
	if len(selected) < 2 {
		return nil, nil
	}

	if window < 0 {
		window = 0
	}
	if window > maxExpandWindow {
		window = maxExpandWindow
	}

	merged := make(map[string]Hit, len(selected))
	var mergedOrder []string
	for _, h := range selected {
		if _, ok := merged[h.ChunkID]; !ok {
			mergedOrder = append(mergedOrder, h.ChunkID)
		}
		merged[h.ChunkID] = h
	}

	for _, hit := range selected {
		if window <= 0 {
			continue
		}
		from := hit.ChunkIndex - window
		if from < 1 {
			from = 1
		}
		neighbors, err := fetcher.Neighbors(ctx, hit.DocumentID, from, hit.ChunkIndex+window)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if _, ok := merged[n.ChunkID]; ok {
				continue
			}
			parent := n.ParentChunkID
			if parent == "" {
				parent = hit.ParentChunkID
			}
			if parent != hit.ParentChunkID {
				continue
			}
			dist := n.ChunkIndex - hit.ChunkIndex
			if dist < 0 {
				dist = -dist
			}
			score := hit.Score - expandScoreDecay*float64(dist)
			if score < 0 {
				score = 0
			}
			n.ParentChunkID = parent
			n.Score = score
			n.Expanded = true
			merged[n.ChunkID] = n
			mergedOrder = append(mergedOrder, n.ChunkID)
		}
	}

	results := make([]Hit, 0, len(mergedOrder))
	for _, id := range mergedOrder {
		results = append(results, merged[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		ra, okA := groupRank[rerankGroupKey(a)]
		if !okA {
			ra = len(ranking)
		}
		rb, okB := groupRank[rerankGroupKey(b)]
		if !okB {
			rb = len(ranking)
		}
		if ra != rb {
			return ra < rb
		}
		if a.Expanded != b.Expanded {
			return !a.Expanded // original hits before expanded siblings
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ChunkIndex < b.ChunkIndex
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// finishSearch applies the shared tail of every driver's Search: rerank
// when enabled, otherwise (or when the rerank stands down) plain score
// order truncated to topK.
func finishSearch(ctx context.Context, fetcher NeighborFetcher, candidates []Hit, opts SearchOptions) ([]Hit, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	topK, _ := searchBounds(opts)
	if !opts.DisableRerank {
		reranked, err := rerankParentChild(ctx, fetcher, candidates, topK, opts.ExpandWindow)
		if err != nil {
			return nil, err
		}
		if len(reranked) > 0 {
			observeExpanded(reranked)
			return reranked, nil
		}
	}
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}
