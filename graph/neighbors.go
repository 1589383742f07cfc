package graph

// Neighborhood returns the nodes within maxDepth hops of the nodes whose
// id is seed, following edges in both directions. The seed nodes come
// first, then each ring in state order. It returns nil when no node has
// the seed id.
func Neighborhood(s State, seed NodeID, maxDepth int) []Node {
	a := buildAdjacency(s)

	visited := make([]bool, len(s.Nodes))
	var queue []int
	for i, n := range s.Nodes {
		if n.ID == seed {
			visited[i] = true
			queue = append(queue, i)
		}
	}
	if len(queue) == 0 {
		return nil
	}

	out := make([]Node, 0, len(queue))
	for _, i := range queue {
		out = append(out, s.Nodes[i])
	}

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		ring := make([]bool, len(s.Nodes))
		for _, i := range queue {
			for _, to := range a.adj[i] {
				if !visited[to] {
					visited[to] = true
					ring[to] = true
				}
			}
		}
		queue = queue[:0]
		for i, in := range ring {
			if in {
				queue = append(queue, i)
				out = append(out, s.Nodes[i])
			}
		}
	}
	return out
}
