package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRF(t *testing.T) {
	results := fuseRRF([]string{"b", "c"}, []string{"a", "b"}, 1.0, 0.5, 10)
	require.Len(t, results, 3)

	// b: fts rank 1 -> 1/61, vec rank 2 -> 0.5/62
	// c: fts rank 2 -> 1/62
	// a: vec rank 1 -> 0.5/61
	assert.Equal(t, "b", results[0].id)
	assert.Equal(t, "c", results[1].id)
	assert.Equal(t, "a", results[2].id)
	assert.InDelta(t, 1.0/61+0.5/62, results[0].score, 1e-12)
	assert.InDelta(t, 0.5/61, results[2].score, 1e-12)

	assert.Equal(t, FusedResultInfo{Methods: []string{"fts", "vector"}, FTSRank: 1, VecRank: 2}, results[0].info)
	assert.Equal(t, FusedResultInfo{Methods: []string{"vector"}, VecRank: 1}, results[2].info)
}

func TestFuseRRFMaxResults(t *testing.T) {
	results := fuseRRF([]string{"a", "b", "c"}, nil, 1, 1, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].id)
	assert.Equal(t, "b", results[1].id)
}

func TestFuseRRFEmptyInputs(t *testing.T) {
	assert.Empty(t, fuseRRF(nil, nil, 1, 1, 10))
}

func TestFuseRRFWeightZero(t *testing.T) {
	results := fuseRRF([]string{"fts"}, []string{"vec"}, 1, 0, 10)
	require.Len(t, results, 2)
	assert.Equal(t, "fts", results[0].id)
	assert.Zero(t, results[1].score)
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"tower", "tower"},
		{"the tower", `"the tower" OR tower`},
		{`"Knight-of-Cups" (reversed)*`, `"Knight of Cups reversed" OR Knight OR Cups OR reversed`},
		{"what is my path?", `"what is my path" OR path`},
		{"a to be", `"a to be"`},
		{"?!.", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeFTSQuery(tt.input)
			assert.Equal(t, tt.want, got)
			for _, ch := range []string{"*", "(", ")", "+", "^", ":", "?"} {
				assert.False(t, strings.Contains(got, ch), "still contains %q", ch)
			}
		})
	}
}
