package graph

import (
	"slices"
)

// minClusterSplit is the minimum component size eligible for further
// modularity-based splitting.
const minClusterSplit = 6

// maxModularityNodes caps the node count for the modularity optimisation.
// Components larger than this are kept as level-0 only.
const maxModularityNodes = 200

// Cluster is a group of connected nodes. Level 0 clusters are connected
// components; level 1 clusters split a large component by modularity.
type Cluster struct {
	Level  int      `json:"level"`
	Nodes  []NodeID `json:"nodes"`
	Labels []string `json:"labels"`
}

// adjacency is an undirected multigraph over node positions. Edges whose
// endpoints name no node are dropped. A node id shared by several nodes
// connects all of them.
type adjacency struct {
	adj   [][]int
	edges int
}

func buildAdjacency(s State) adjacency {
	byID := make(map[NodeID][]int, len(s.Nodes))
	for i, n := range s.Nodes {
		byID[n.ID] = append(byID[n.ID], i)
	}
	a := adjacency{adj: make([][]int, len(s.Nodes))}
	for _, e := range s.Edges {
		for _, si := range byID[e.From] {
			for _, ti := range byID[e.To] {
				if si == ti {
					continue
				}
				a.adj[si] = append(a.adj[si], ti)
				a.adj[ti] = append(a.adj[ti], si)
				a.edges++
			}
		}
	}
	return a
}

// Clusters groups the nodes of s. Every node appears in exactly one level-0
// cluster, isolated nodes included. Components of at least six nodes are
// additionally split by greedy modularity optimisation when that yields more
// than one group. Clusters are ordered by the position of their first node.
func Clusters(s State) []Cluster {
	if len(s.Nodes) == 0 {
		return nil
	}
	a := buildAdjacency(s)

	// Level 0: connected components via BFS.
	visited := make([]bool, len(s.Nodes))
	var components [][]int
	for i := range s.Nodes {
		if visited[i] {
			continue
		}
		var comp []int
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for _, to := range a.adj[node] {
				if !visited[to] {
					visited[to] = true
					queue = append(queue, to)
				}
			}
		}
		slices.Sort(comp)
		components = append(components, comp)
	}

	var out []Cluster
	for _, comp := range components {
		out = append(out, s.cluster(0, comp))
		if len(comp) >= minClusterSplit && len(comp) <= maxModularityNodes && a.edges > 0 {
			subs := modularitySplit(comp, a.adj, float64(a.edges))
			if len(subs) > 1 {
				for _, sub := range subs {
					out = append(out, s.cluster(1, sub))
				}
			}
		}
	}
	return out
}

func (s State) cluster(level int, members []int) Cluster {
	c := Cluster{Level: level, Nodes: make([]NodeID, len(members)), Labels: make([]string, len(members))}
	for i, idx := range members {
		c.Nodes[i] = s.Nodes[idx].ID
		c.Labels[i] = s.Nodes[idx].Label
	}
	return c
}

// modularitySplit applies a greedy modularity optimisation (simplified
// Louvain) with unit edge weights. If the split does not improve modularity
// the original component is returned as-is.
func modularitySplit(comp []int, adj [][]int, totalWeight float64) [][]int {
	n := len(comp)
	if n < minClusterSplit {
		return [][]int{comp}
	}

	localIdx := make(map[int]int, n)
	for i, node := range comp {
		localIdx[node] = i
	}

	// community[i] is the community label for local node i.
	community := make([]int, n)
	for i := range community {
		community[i] = i
	}

	strength := make([]float64, n)
	for i, node := range comp {
		for _, to := range adj[node] {
			if _, ok := localIdx[to]; ok {
				strength[i]++
			}
		}
	}

	m2 := 2.0 * totalWeight
	commStrength := make(map[int]float64, n)
	for i := range comp {
		commStrength[community[i]] += strength[i]
	}

	const maxPasses = 20
	for pass := 0; pass < maxPasses; pass++ {
		moved := false
		for i, node := range comp {
			commWeights := make(map[int]float64)
			for _, to := range adj[node] {
				li, ok := localIdx[to]
				if !ok {
					continue
				}
				commWeights[community[li]]++
			}

			currentComm := community[i]
			bestComm := currentComm
			bestGain := 0.0

			kiIn := commWeights[currentComm]
			ki := strength[i]
			removeDelta := kiIn/m2 - (commStrength[currentComm]*ki)/(m2*m2)

			// Visit candidate communities in a fixed order so ties resolve
			// the same way on every run.
			candidates := make([]int, 0, len(commWeights))
			for c := range commWeights {
				candidates = append(candidates, c)
			}
			slices.Sort(candidates)
			for _, c := range candidates {
				if c == currentComm {
					continue
				}
				gain := (commWeights[c]/m2 - (commStrength[c]*ki)/(m2*m2)) - removeDelta
				if gain > bestGain {
					bestGain = gain
					bestComm = c
				}
			}

			if bestComm != currentComm {
				commStrength[currentComm] -= ki
				commStrength[bestComm] += ki
				community[i] = bestComm
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	// Group by label, ordered by first member.
	var order []int
	groups := make(map[int][]int)
	for i, node := range comp {
		c := community[i]
		if _, ok := groups[c]; !ok {
			order = append(order, c)
		}
		groups[c] = append(groups[c], node)
	}
	if len(order) <= 1 {
		return [][]int{comp}
	}
	result := make([][]int, len(order))
	for i, c := range order {
		result[i] = groups[c]
	}
	return result
}
