package layout

import (
	"cmp"
	"slices"

	"github.com/daviddao/traceviz/internal/graph"
)

// sweeps is the number of down/up barycenter passes used for ordering.
const sweeps = 4

// Layered is a Sugiyama-style layout: rank assignment, crossing reduction
// within ranks, then coordinate assignment. Only call edges shape the
// drawing; return edges mirror them.
type Layered struct{}

// Name implements Strategy.
func (Layered) Name() string { return "layered" }

// layeredGraph is the working state of one layout run.
type layeredGraph struct {
	nodes    []graph.Node
	parents  [][]int // call-edge predecessors by node index
	children [][]int
	rank     []int
	layers   [][]int // node indices per rank, in drawing order
}

// Layout implements Strategy.
func (Layered) Layout(nodes []graph.Node, edges []graph.Edge, opts Options) []graph.Node {
	out := make([]graph.Node, len(nodes))
	copy(out, nodes)
	if len(out) == 0 {
		return out
	}

	lg := newLayeredGraph(out, edges)
	lg.assignRanks()
	lg.orderLayers()
	lg.assignCoordinates(opts)
	return lg.nodes
}

func newLayeredGraph(nodes []graph.Node, edges []graph.Edge) *layeredGraph {
	idx := make(map[graph.NodeID]int, len(nodes))
	for i, n := range nodes {
		idx[n.ID] = i
	}
	lg := &layeredGraph{
		nodes:    nodes,
		parents:  make([][]int, len(nodes)),
		children: make([][]int, len(nodes)),
	}
	for _, e := range edges {
		if e.Kind != graph.EdgeCall {
			continue
		}
		s, ok1 := idx[e.Source]
		t, ok2 := idx[e.Target]
		if !ok1 || !ok2 || s == t {
			continue
		}
		lg.parents[t] = append(lg.parents[t], s)
		lg.children[s] = append(lg.children[s], t)
	}
	return lg
}

// creationOrder returns node indices sorted by slot, then by input position.
func (lg *layeredGraph) creationOrder() []int {
	order := make([]int, len(lg.nodes))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(lg.nodes[a].Slot, lg.nodes[b].Slot)
	})
	return order
}

// assignRanks places roots on rank 0 and every callee one rank below the
// first caller that reaches it. Nodes unreachable from a root (only possible
// for cyclic input) fall back to their depth.
func (lg *layeredGraph) assignRanks() {
	lg.rank = make([]int, len(lg.nodes))
	for i := range lg.rank {
		lg.rank[i] = -1
	}
	var queue []int
	for _, i := range lg.creationOrder() {
		if len(lg.parents[i]) == 0 {
			lg.rank[i] = 0
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range lg.children[u] {
			if lg.rank[v] >= 0 {
				continue
			}
			lg.rank[v] = lg.rank[u] + 1
			queue = append(queue, v)
		}
	}
	maxRank := 0
	for i, r := range lg.rank {
		if r < 0 {
			lg.rank[i] = lg.nodes[i].Depth
		}
		maxRank = max(maxRank, lg.rank[i])
	}

	lg.layers = make([][]int, maxRank+1)
	for _, i := range lg.creationOrder() {
		r := lg.rank[i]
		lg.layers[r] = append(lg.layers[r], i)
	}
}

// orderLayers reduces crossings with alternating barycenter sweeps, keeping
// the best ordering seen.
func (lg *layeredGraph) orderLayers() {
	best := cloneLayers(lg.layers)
	bestCrossings := lg.crossings()
	for s := 0; s < sweeps && bestCrossings > 0; s++ {
		for r := 1; r < len(lg.layers); r++ {
			lg.sortByBarycenter(r, lg.parents)
		}
		for r := len(lg.layers) - 2; r >= 0; r-- {
			lg.sortByBarycenter(r, lg.children)
		}
		if c := lg.crossings(); c < bestCrossings {
			best, bestCrossings = cloneLayers(lg.layers), c
		}
	}
	lg.layers = best
}

// sortByBarycenter reorders rank r by the mean position of each node's
// neighbours in the adjacent rank. Nodes without neighbours keep their
// current position as their weight.
func (lg *layeredGraph) sortByBarycenter(r int, neighbours [][]int) {
	pos := lg.positions()
	layer := lg.layers[r]
	bary := make(map[int]float64, len(layer))
	for _, v := range layer {
		sum, n := 0.0, 0
		for _, u := range neighbours[v] {
			if lg.rank[u] == r {
				continue
			}
			sum += float64(pos[u])
			n++
		}
		if n == 0 {
			bary[v] = float64(pos[v])
			continue
		}
		bary[v] = sum / float64(n)
	}
	slices.SortStableFunc(layer, func(a, b int) int {
		if c := cmp.Compare(bary[a], bary[b]); c != 0 {
			return c
		}
		return cmp.Compare(lg.nodes[a].Slot, lg.nodes[b].Slot)
	})
}

// positions maps node index to its position within its rank.
func (lg *layeredGraph) positions() []int {
	pos := make([]int, len(lg.nodes))
	for _, layer := range lg.layers {
		for p, v := range layer {
			pos[v] = p
		}
	}
	return pos
}

// crossings counts call edges that cross between adjacent ranks.
func (lg *layeredGraph) crossings() int {
	pos := lg.positions()
	type seg struct{ a, b int }
	byRank := make([][]seg, len(lg.layers))
	for v, ps := range lg.parents {
		for _, u := range ps {
			if lg.rank[v] != lg.rank[u]+1 {
				continue
			}
			byRank[lg.rank[u]] = append(byRank[lg.rank[u]], seg{pos[u], pos[v]})
		}
	}
	total := 0
	for _, segs := range byRank {
		for i := 0; i < len(segs); i++ {
			for j := i + 1; j < len(segs); j++ {
				x, y := segs[i], segs[j]
				if (x.a < y.a && x.b > y.b) || (x.a > y.a && x.b < y.b) {
					total++
				}
			}
		}
	}
	return total
}

// assignCoordinates stacks ranks along the primary axis and, within a rank,
// centres each node under its callers while keeping NodeSpacing between
// neighbours.
func (lg *layeredGraph) assignCoordinates(opts Options) {
	lr := opts.Direction == LeftRight
	extent := func(i int) (along, across float64) {
		w, h := size(lg.nodes[i])
		if lr {
			return w, h
		}
		return h, w
	}

	primary := make([]float64, len(lg.nodes))
	secondary := make([]float64, len(lg.nodes))

	offset := 0.0
	for _, layer := range lg.layers {
		thick := 0.0
		for _, v := range layer {
			along, _ := extent(v)
			thick = max(thick, along)
		}
		for _, v := range layer {
			primary[v] = offset
		}
		offset += thick + opts.RankSpacing
	}

	for r, layer := range lg.layers {
		desired := make([]float64, len(layer))
		hasDesired := make([]bool, len(layer))
		for p, v := range layer {
			_, across := extent(v)
			sum, n := 0.0, 0
			for _, u := range lg.parents[v] {
				if lg.rank[u] >= r {
					continue
				}
				_, uAcross := extent(u)
				sum += secondary[u] + uAcross/2
				n++
			}
			if n > 0 {
				desired[p] = sum/float64(n) - across/2
				hasDesired[p] = true
			}
		}

		// Left to right, never closer than NodeSpacing.
		next := 0.0
		shift, shifted := 0.0, 0
		for p, v := range layer {
			_, across := extent(v)
			x := next
			if hasDesired[p] && desired[p] > x {
				x = desired[p]
			}
			secondary[v] = x
			if hasDesired[p] {
				shift += x - desired[p]
				shifted++
			}
			next = x + across + opts.NodeSpacing
		}
		// Pull the whole rank back towards its callers.
		if shifted > 0 {
			delta := shift / float64(shifted)
			for _, v := range layer {
				secondary[v] -= delta
			}
		}
	}

	minSecondary := 0.0
	for i := range secondary {
		if i == 0 || secondary[i] < minSecondary {
			minSecondary = secondary[i]
		}
	}
	for i := range lg.nodes {
		s := secondary[i] - minSecondary
		if lr {
			lg.nodes[i].Position = graph.Position{X: primary[i], Y: s}
		} else {
			lg.nodes[i].Position = graph.Position{X: s, Y: primary[i]}
		}
	}
}

func cloneLayers(layers [][]int) [][]int {
	out := make([][]int, len(layers))
	for i, l := range layers {
		out[i] = slices.Clone(l)
	}
	return out
}

// Crossings reports how many call edges cross between adjacent ranks when
// the given nodes are drawn with the Layered strategy's ranks and the order
// implied by their positions.
func Crossings(nodes []graph.Node, edges []graph.Edge, opts Options) int {
	lg := newLayeredGraph(slices.Clone(nodes), edges)
	lg.assignRanks()
	lr := opts.Direction == LeftRight
	for _, layer := range lg.layers {
		slices.SortStableFunc(layer, func(a, b int) int {
			pa, pb := lg.nodes[a].Position, lg.nodes[b].Position
			if lr {
				return cmp.Compare(pa.Y, pb.Y)
			}
			return cmp.Compare(pa.X, pb.X)
		})
	}
	return lg.crossings()
}
