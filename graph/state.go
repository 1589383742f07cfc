package graph

import "slices"

// State is the cumulative graph of one mapping run. It only grows: Merge
// appends and nothing removes or edits prior entries.
type State struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NewState returns a state seeded with the extracted nodes.
func NewState(nodes []Node) State {
	return State{Nodes: slices.Clone(nodes)}
}

// Merge appends edges and nodes verbatim, in order. There is no
// deduplication by id or label: near-duplicate nodes from different rounds
// coexist and are counted separately.
func (s State) Merge(edges []Edge, nodes []Node) State {
	out := s.Clone()
	out.Edges = append(out.Edges, edges...)
	out.Nodes = append(out.Nodes, nodes...)
	return out
}

// Clone returns a deep copy. Node and Edge hold only strings, so copying
// the slices is sufficient.
func (s State) Clone() State {
	return State{
		Nodes: slices.Clone(s.Nodes),
		Edges: slices.Clone(s.Edges),
	}
}

// Checkpoint snapshots the state after a round.
func (s State) Checkpoint(round int, insights string) Checkpoint {
	c := s.Clone()
	if c.Nodes == nil {
		c.Nodes = []Node{}
	}
	if c.Edges == nil {
		c.Edges = []Edge{}
	}
	return Checkpoint{
		Round:     round,
		Insights:  insights,
		NodeCount: len(s.Nodes),
		EdgeCount: len(s.Edges),
		Nodes:     c.Nodes,
		Edges:     c.Edges,
	}
}

// Checkpoint is the immutable record of one enrichment round. Nodes and
// Edges are copies taken at the time the round finished; later growth of
// the State does not show through.
type Checkpoint struct {
	Round     int    `json:"cycle"`
	Insights  string `json:"insights"`
	NodeCount int    `json:"nodeCount"`
	EdgeCount int    `json:"edgeCount"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
}
