package vectorstore

import (
	"testing"
)

func TestParentChunkKey(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want string
	}{
		{
			name: "camel case key",
			meta: map[string]any{"parentChunkId": "parent-3"},
			want: "parent-3",
		},
		{
			name: "snake case key",
			meta: map[string]any{"parent_chunk_id": "parent-1"},
			want: "parent-1",
		},
		{
			name: "short camel key",
			meta: map[string]any{"parentId": "p9"},
			want: "p9",
		},
		{
			name: "short snake key",
			meta: map[string]any{"parent_id": "p2"},
			want: "p2",
		},
		{
			name: "explicit key wins over span",
			meta: map[string]any{"parentChunkId": "parent-1", "parentStart": 0, "parentEnd": 100},
			want: "parent-1",
		},
		{
			name: "blank explicit key is skipped",
			meta: map[string]any{"parentChunkId": "   ", "parent_chunk_id": "parent-7"},
			want: "parent-7",
		},
		{
			name: "key is trimmed",
			meta: map[string]any{"parentChunkId": " parent-4 "},
			want: "parent-4",
		},
		{
			name: "span synthesizes range key",
			meta: map[string]any{"parentStart": float64(120), "parentEnd": float64(400)},
			want: "range:120:400",
		},
		{
			name: "snake case span",
			meta: map[string]any{"parent_start": 0, "parent_end": 960},
			want: "range:0:960",
		},
		{
			name: "span needs both ends",
			meta: map[string]any{"parentStart": 120},
			want: "",
		},
		{
			name: "no parent info",
			meta: map[string]any{"strategy": "fixed"},
			want: "",
		},
		{
			name: "nil metadata",
			meta: nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parentChunkKey(tt.meta); got != tt.want {
				t.Errorf("parentChunkKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeDimension(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
		dim  int
		want []float32
	}{
		{
			name: "exact dimension unchanged",
			vec:  []float32{1, 2, 3},
			dim:  3,
			want: []float32{1, 2, 3},
		},
		{
			name: "oversized truncated",
			vec:  []float32{1, 2, 3, 4, 5},
			dim:  3,
			want: []float32{1, 2, 3},
		},
		{
			name: "undersized zero padded",
			vec:  []float32{1, 2},
			dim:  4,
			want: []float32{1, 2, 0, 0},
		},
		{
			name: "zero dimension passes through",
			vec:  []float32{1, 2},
			dim:  0,
			want: []float32{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeDimension(tt.vec, tt.dim)
			if len(got) != len(tt.want) {
				t.Fatalf("NormalizeDimension() len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("NormalizeDimension()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSearchBounds(t *testing.T) {
	tests := []struct {
		name           string
		topK           int
		multiplier     int
		wantTopK       int
		wantCandidateK int
	}{
		{name: "defaults", topK: 5, multiplier: 6, wantTopK: 5, wantCandidateK: 30},
		{name: "zero topK clamps to one", topK: 0, multiplier: 6, wantTopK: 1, wantCandidateK: 6},
		{name: "topK capped at fifty", topK: 100, multiplier: 1, wantTopK: 50, wantCandidateK: 50},
		{name: "zero multiplier clamps to one", topK: 5, multiplier: 0, wantTopK: 5, wantCandidateK: 5},
		{name: "multiplier capped at twenty", topK: 5, multiplier: 100, wantTopK: 5, wantCandidateK: 100},
		{name: "candidates capped at two hundred", topK: 50, multiplier: 20, wantTopK: 50, wantCandidateK: 200},
		{name: "negative values clamp", topK: -3, multiplier: -1, wantTopK: 1, wantCandidateK: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topK, candidateK := searchBounds(SearchOptions{TopK: tt.topK, CandidateMultiplier: tt.multiplier})
			if topK != tt.wantTopK {
				t.Errorf("searchBounds() topK = %d, want %d", topK, tt.wantTopK)
			}
			if candidateK != tt.wantCandidateK {
				t.Errorf("searchBounds() candidateK = %d, want %d", candidateK, tt.wantCandidateK)
			}
		})
	}
}
