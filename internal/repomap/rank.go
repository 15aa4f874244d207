package repomap

import (
	"math"
	"sort"
)

type rankEdge struct {
	from   string
	to     string
	weight float64
}

// pageRank runs standard PageRank over a weighted multi-digraph given as an
// edge list. Parallel edge weights are summed. Node iteration order is
// sorted, so results are deterministic.
func pageRank(edges []rankEdge) map[string]float64 {
	const (
		alpha   = 0.85
		maxIter = 100
	)

	nodeSet := make(map[string]bool)
	for _, e := range edges {
		nodeSet[e.from] = true
		nodeSet[e.to] = true
	}
	if len(nodeSet) == 0 {
		return nil
	}

	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	idx := make(map[string]int, len(nodes))
	for i, n := range nodes {
		idx[n] = i
	}
	n := len(nodes)

	// Aggregate parallel edges, track out-strength per node.
	out := make([]map[int]float64, n)
	outStrength := make([]float64, n)
	for _, e := range edges {
		if e.weight <= 0 || math.IsNaN(e.weight) || math.IsInf(e.weight, 0) {
			continue
		}
		u, v := idx[e.from], idx[e.to]
		if out[u] == nil {
			out[u] = make(map[int]float64)
		}
		out[u][v] += e.weight
		outStrength[u] += e.weight
	}

	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	tol := 1e-6 * float64(n)
	next := make([]float64, n)
	for iter := 0; iter < maxIter; iter++ {
		dangling := 0.0
		for i := range next {
			next[i] = 0
		}
		for u := 0; u < n; u++ {
			if outStrength[u] == 0 {
				dangling += rank[u]
				continue
			}
			for v, w := range out[u] {
				next[v] += alpha * rank[u] * w / outStrength[u]
			}
		}
		base := (1-alpha)/float64(n) + alpha*dangling/float64(n)
		diff := 0.0
		for i := 0; i < n; i++ {
			next[i] += base
			diff += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank
		if diff < tol {
			break
		}
	}

	result := make(map[string]float64, n)
	for i, name := range nodes {
		if math.IsNaN(rank[i]) || math.IsInf(rank[i], 0) {
			// Numeric failure degrades to an empty ranking; file structure
			// and active context are still emitted.
			return nil
		}
		result[name] = rank[i]
	}
	return result
}
