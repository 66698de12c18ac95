package similarity

import (
	"math"
	"sort"
)

// minLinkDistance bounds lambda (1/distance) for coincident vectors.
const minLinkDistance = 1e-10

type mstEdge struct {
	from, to int
	weight   float64
}

type linkNode struct {
	left, right int
	dist        float64
	size        int
}

type condensedEdge struct {
	parent, child int
	lambda        float64
	size          int
}

func mutualReachability(points [][]float32, core []float64, a, b int) float64 {
	d := EuclideanDistance(points[a], points[b])
	if core[a] > d {
		d = core[a]
	}
	if core[b] > d {
		d = core[b]
	}
	return d
}

// minimumSpanningTree runs Prim's algorithm over the mutual reachability graph.
func minimumSpanningTree(points [][]float32, core []float64) []mstEdge {
	n := len(points)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[current] = true
	for len(edges) < n-1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			if d := mutualReachability(points, core, current, j); d < best[j] {
				best[j] = d
				from[j] = current
			}
			if next == -1 || best[j] < best[next] {
				next = j
			}
		}
		edges = append(edges, mstEdge{from: from[next], to: next, weight: best[next]})
		inTree[next] = true
		current = next
	}
	return edges
}

// singleLinkage turns MST edges into a merge tree. Leaves are 0..n-1 and the
// i-th merge creates node n+i, so the root is 2n-2.
func singleLinkage(edges []mstEdge, n int) []linkNode {
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })

	parent := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		root := x
		for parent[root] != root {
			root = parent[root]
		}
		for parent[x] != root {
			next := parent[x]
			parent[x] = root
			x = next
		}
		return root
	}

	nodes := make([]linkNode, len(edges))
	size := func(x int) int {
		if x < n {
			return 1
		}
		return nodes[x-n].size
	}
	for i, e := range edges {
		a, b := find(e.from), find(e.to)
		id := n + i
		nodes[i] = linkNode{left: a, right: b, dist: e.weight, size: size(a) + size(b)}
		parent[a] = id
		parent[b] = id
	}
	return nodes
}

// condenseTree walks the merge tree from the root and keeps only splits where
// both sides reach minClusterSize. Condensed cluster ids start at n (the root).
func condenseTree(nodes []linkNode, n, minClusterSize int) ([]condensedEdge, int) {
	root := 2*n - 2
	relabel := make([]int, 2*n-1)
	ignore := make([]bool, 2*n-1)
	relabel[root] = n
	next := n + 1

	size := func(x int) int {
		if x < n {
			return 1
		}
		return nodes[x-n].size
	}
	subtree := func(x int, visit func(int)) {
		stack := []int{x}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			visit(top)
			if top >= n {
				stack = append(stack, nodes[top-n].left, nodes[top-n].right)
			}
		}
	}

	var edges []condensedEdge
	fallOut := func(parent, x int, lambda float64) {
		subtree(x, func(v int) {
			ignore[v] = true
			if v < n {
				edges = append(edges, condensedEdge{parent: parent, child: v, lambda: lambda, size: 1})
			}
		})
	}

	queue := []int{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node < n || ignore[node] {
			continue
		}
		ln := nodes[node-n]
		queue = append(queue, ln.left, ln.right)

		lambda := 1 / math.Max(ln.dist, minLinkDistance)
		ls, rs := size(ln.left), size(ln.right)
		current := relabel[node]

		switch {
		case ls >= minClusterSize && rs >= minClusterSize:
			relabel[ln.left] = next
			edges = append(edges, condensedEdge{parent: current, child: next, lambda: lambda, size: ls})
			next++
			relabel[ln.right] = next
			edges = append(edges, condensedEdge{parent: current, child: next, lambda: lambda, size: rs})
			next++
		case ls < minClusterSize && rs < minClusterSize:
			fallOut(current, ln.left, lambda)
			fallOut(current, ln.right, lambda)
		case ls < minClusterSize:
			relabel[ln.right] = current
			fallOut(current, ln.left, lambda)
		default:
			relabel[ln.left] = current
			fallOut(current, ln.right, lambda)
		}
	}
	return edges, next - n
}

// hierarchy indexes condensed clusters from 0 (the root).
type hierarchy struct {
	birth         []float64
	stability     []float64
	parent        []int
	children      [][]int
	pointLambda   []float64
	pointParent   []int
	rootMaxLambda float64
	n             int
}

func newHierarchy(edges []condensedEdge, n, numClusters int) *hierarchy {
	h := &hierarchy{
		n:           n,
		birth:       make([]float64, numClusters),
		stability:   make([]float64, numClusters),
		parent:      make([]int, numClusters),
		children:    make([][]int, numClusters),
		pointLambda: make([]float64, n),
		pointParent: make([]int, n),
	}
	h.parent[0] = -1

	for _, e := range edges {
		p := e.parent - n
		if e.child >= n {
			c := e.child - n
			h.birth[c] = e.lambda
			h.parent[c] = p
			h.children[p] = append(h.children[p], c)
			continue
		}
		h.pointLambda[e.child] = e.lambda
		h.pointParent[e.child] = p
	}

	for _, e := range edges {
		p := e.parent - n
		h.stability[p] += (e.lambda - h.birth[p]) * float64(e.size)
		if p == 0 && e.lambda > h.rootMaxLambda {
			h.rootMaxLambda = e.lambda
		}
	}
	return h
}

func (h *hierarchy) descendants(c int, visit func(int)) {
	stack := append([]int(nil), h.children[c]...)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(top)
		stack = append(stack, h.children[top]...)
	}
}

// selectByStability picks the excess-of-mass cluster set: a cluster survives
// when it is more stable than the sum of its selected descendants.
func (h *hierarchy) selectByStability(allowSingle bool) []bool {
	selected := make([]bool, len(h.stability))
	stability := append([]float64(nil), h.stability...)

	last := 1
	if allowSingle {
		last = 0
	}
	for c := len(stability) - 1; c >= last; c-- {
		var childSum float64
		for _, child := range h.children[c] {
			childSum += stability[child]
		}
		if childSum > stability[c] {
			stability[c] = childSum
			continue
		}
		selected[c] = true
		h.descendants(c, func(d int) { selected[d] = false })
	}
	return selected
}

func (h *hierarchy) epsilon(c int) float64 {
	if h.birth[c] == 0 {
		return math.Inf(1)
	}
	return 1 / h.birth[c]
}

// mergeBelowEpsilon replaces selected clusters born below epsilon with their
// closest ancestor born above it.
func (h *hierarchy) mergeBelowEpsilon(selected []bool, eps float64, allowSingle bool) []bool {
	merged := make([]bool, len(selected))
	processed := make([]bool, len(selected))
	for c, ok := range selected {
		if !ok || processed[c] {
			continue
		}
		if h.epsilon(c) >= eps {
			merged[c] = true
			continue
		}
		target := h.ancestorAboveEpsilon(c, eps, allowSingle)
		merged[target] = true
		processed[target] = true
		h.descendants(target, func(d int) {
			processed[d] = true
			merged[d] = false
		})
	}
	return merged
}

func (h *hierarchy) ancestorAboveEpsilon(c int, eps float64, allowSingle bool) int {
	for {
		p := h.parent[c]
		if p == 0 {
			if allowSingle {
				return p
			}
			return c
		}
		if h.epsilon(p) > eps {
			return p
		}
		c = p
	}
}

// label maps every point to its nearest selected ancestor. Points that only
// reach a selected root keep a label when they persist past epsilon, or past
// the last point falling out of the root when epsilon is zero.
func (h *hierarchy) label(selected []bool, eps float64) []int {
	labelOf := make([]int, len(selected))
	count := 0
	for c, ok := range selected {
		labelOf[c] = NoiseLabel
		if ok {
			labelOf[c] = count
			count++
		}
	}

	labels := make([]int, h.n)
	for p := range labels {
		labels[p] = NoiseLabel
		c := h.pointParent[p]
		for c > 0 && !selected[c] {
			c = h.parent[c]
		}
		if c > 0 {
			labels[p] = labelOf[c]
			continue
		}
		if !selected[0] {
			continue
		}
		threshold := h.rootMaxLambda
		if eps != 0 {
			threshold = 1 / eps
		}
		if h.pointLambda[p] >= threshold {
			labels[p] = labelOf[0]
		}
	}
	return labels
}
