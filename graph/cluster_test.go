package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodes(ids ...string) []Node {
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = Node{ID: NodeID(id), Label: "L" + id, Type: NodeTheme}
	}
	return out
}

func TestClustersComponents(t *testing.T) {
	s := State{
		Nodes: nodes("a", "b", "c", "d"),
		Edges: []Edge{
			{From: "a", To: "c", Relationship: "mirrors"},
			{From: "b", To: "ghost", Relationship: "dangling"},
		},
	}

	got := Clusters(s)
	require.Len(t, got, 3)
	assert.Equal(t, Cluster{Level: 0, Nodes: []NodeID{"a", "c"}, Labels: []string{"La", "Lc"}}, got[0])
	assert.Equal(t, []NodeID{"b"}, got[1].Nodes)
	assert.Equal(t, []NodeID{"d"}, got[2].Nodes)
}

func TestClustersSplitsBridgedCliques(t *testing.T) {
	ids := []string{"0", "1", "2", "3", "4", "5", "6", "7"}
	var edges []Edge
	for _, group := range [][]string{ids[:4], ids[4:]} {
		for i := range group {
			for j := i + 1; j < len(group); j++ {
				edges = append(edges, Edge{From: NodeID(group[i]), To: NodeID(group[j])})
			}
		}
	}
	edges = append(edges, Edge{From: "3", To: "4", Relationship: "bridge"})

	got := Clusters(State{Nodes: nodes(ids...), Edges: edges})
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Level)
	assert.Len(t, got[0].Nodes, 8)
	assert.Equal(t, Cluster{Level: 1, Nodes: []NodeID{"0", "1", "2", "3"}, Labels: []string{"L0", "L1", "L2", "L3"}}, got[1])
	assert.Equal(t, []NodeID{"4", "5", "6", "7"}, got[2].Nodes)
}

func TestClustersSmallComponentNotSplit(t *testing.T) {
	s := State{
		Nodes: nodes("a", "b", "c"),
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}
	got := Clusters(s)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Level)
}

func TestClustersEmpty(t *testing.T) {
	assert.Nil(t, Clusters(State{}))
}

func TestClustersDuplicateIDs(t *testing.T) {
	// Unmerged graphs may hold two nodes with one id; an edge to that id
	// reaches both.
	s := State{
		Nodes: []Node{{ID: "x", Label: "First"}, {ID: "y", Label: "Other"}, {ID: "x", Label: "Second"}},
		Edges: []Edge{{From: "y", To: "x"}},
	}
	got := Clusters(s)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"First", "Other", "Second"}, got[0].Labels)
}

func TestNeighborhood(t *testing.T) {
	s := State{
		Nodes: nodes("a", "b", "c", "d", "e"),
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "c", To: "b"},
			{From: "c", To: "d"},
		},
	}

	labels := func(ns []Node) []string {
		out := make([]string, len(ns))
		for i, n := range ns {
			out[i] = n.Label
		}
		return out
	}

	tests := []struct {
		depth int
		want  []string
	}{
		{0, []string{"La"}},
		{1, []string{"La", "Lb"}},
		{2, []string{"La", "Lb", "Lc"}},
		{5, []string{"La", "Lb", "Lc", "Ld"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("depth %d", tt.depth), func(t *testing.T) {
			assert.Equal(t, tt.want, labels(Neighborhood(s, "a", tt.depth)))
		})
	}

	assert.Nil(t, Neighborhood(s, "zzz", 2))
	assert.Equal(t, []string{"Le"}, labels(Neighborhood(s, "e", 3)))
}
