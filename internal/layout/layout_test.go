package layout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/trace"
)

func fibGraph(n int) *graph.Graph {
	var events []trace.Event
	var walk func(k, depth int) int
	walk = func(k, depth int) int {
		events = append(events, trace.Event{
			Index: len(events), Kind: trace.KindCall, Func: "fib", Depth: depth,
			Args: trace.Args{{Name: "n", Value: float64(k)}},
		})
		v := k
		if k >= 2 {
			v = walk(k-1, depth+1) + walk(k-2, depth+1)
		}
		events = append(events, trace.Event{Index: len(events), Kind: trace.KindReturn, Value: float64(v), HasValue: true})
		return v
	}
	walk(n, 0)
	return graph.Build(events, graph.Options{}).Graph
}

func byID(nodes []graph.Node) map[graph.NodeID]graph.Node {
	m := make(map[graph.NodeID]graph.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

func TestLayeredParentsAboveChildren(t *testing.T) {
	g := fibGraph(5)
	out := Layered{}.Layout(g.Nodes, g.Edges, DefaultOptions())
	require.Len(t, out, len(g.Nodes))
	pos := byID(out)
	for _, e := range g.Edges {
		if e.Kind != graph.EdgeCall {
			continue
		}
		require.Less(t, pos[e.Source].Position.Y, pos[e.Target].Position.Y, "edge %s", e.ID)
	}
}

func TestLayeredNoOverlapWithinRank(t *testing.T) {
	g := fibGraph(6)
	opts := DefaultOptions()
	out := Layered{}.Layout(g.Nodes, g.Edges, opts)
	for i := range out {
		for j := range out {
			if i == j || out[i].Position.Y != out[j].Position.Y {
				continue
			}
			a, b := out[i].Position.X, out[j].Position.X
			if a > b {
				continue
			}
			require.GreaterOrEqual(t, b-a, float64(DefaultNodeWidth)+opts.NodeSpacing-1e-9,
				"%s and %s overlap", out[i].ID, out[j].ID)
		}
	}
}

func TestLayeredDeterministic(t *testing.T) {
	g := fibGraph(6)
	a := Layered{}.Layout(g.Nodes, g.Edges, DefaultOptions())
	b := Layered{}.Layout(g.Nodes, g.Edges, DefaultOptions())
	require.Equal(t, a, b)
}

func TestLayeredDoesNotMutateInput(t *testing.T) {
	g := fibGraph(3)
	before := append([]graph.Node(nil), g.Nodes...)
	_ = Layered{}.Layout(g.Nodes, g.Edges, DefaultOptions())
	require.Equal(t, before, g.Nodes)
}

func TestLayeredTreeHasNoCrossings(t *testing.T) {
	g := fibGraph(6)
	opts := DefaultOptions()
	out := Layered{}.Layout(g.Nodes, g.Edges, opts)
	require.Zero(t, Crossings(out, g.Edges, opts))
}

func TestLayeredReducesCrossings(t *testing.T) {
	// Two roots whose children were created in the opposite order.
	nodes := []graph.Node{
		{ID: "a", Slot: 0},
		{ID: "b", Slot: 1},
		{ID: "c", Slot: 2, Depth: 1},
		{ID: "d", Slot: 3, Depth: 1},
	}
	edges := []graph.Edge{
		{ID: "call:b->c", Kind: graph.EdgeCall, Source: "b", Target: "c"},
		{ID: "call:a->d", Kind: graph.EdgeCall, Source: "a", Target: "d"},
	}
	opts := DefaultOptions()
	out := Layered{}.Layout(nodes, edges, opts)
	require.Zero(t, Crossings(out, edges, opts))
	pos := byID(out)
	require.Less(t, pos["d"].Position.X, pos["c"].Position.X)
}

func TestLayeredDefaultBoxAndExplicitSize(t *testing.T) {
	nodes := []graph.Node{
		{ID: "a", Slot: 0, Width: 300, Height: 50},
		{ID: "b", Slot: 1, Depth: 1},
	}
	edges := []graph.Edge{{ID: "call:a->b", Kind: graph.EdgeCall, Source: "a", Target: "b"}}
	opts := Options{NodeSpacing: 10, RankSpacing: 20}
	out := Layered{}.Layout(nodes, edges, opts)
	pos := byID(out)
	// Rank 1 starts below the tallest node of rank 0.
	require.Equal(t, 50.0+20.0, pos["b"].Position.Y)
	// The child is centred under its caller.
	require.InDelta(t, 150.0, pos["b"].Position.X+DefaultNodeWidth/2, 1e-9)
}

func TestLayeredLeftRight(t *testing.T) {
	g := fibGraph(3)
	opts := DefaultOptions()
	opts.Direction = LeftRight
	out := Layered{}.Layout(g.Nodes, g.Edges, opts)
	pos := byID(out)
	for _, e := range g.Edges {
		if e.Kind == graph.EdgeCall {
			require.Less(t, pos[e.Source].Position.X, pos[e.Target].Position.X)
		}
	}
}

func TestLayeredCyclicInputTerminates(t *testing.T) {
	nodes := []graph.Node{{ID: "a", Slot: 0}, {ID: "b", Slot: 1, Depth: 1}}
	edges := []graph.Edge{
		{ID: "call:a->b", Kind: graph.EdgeCall, Source: "a", Target: "b"},
		{ID: "call:b->a", Kind: graph.EdgeCall, Source: "b", Target: "a"},
	}
	out := Layered{}.Layout(nodes, edges, DefaultOptions())
	require.Len(t, out, 2)
}

func TestLayeredEmpty(t *testing.T) {
	require.Empty(t, Layered{}.Layout(nil, nil, DefaultOptions()))
}

func TestSlotted(t *testing.T) {
	g := fibGraph(3)
	opts := DefaultOptions()
	out := Slotted{}.Layout(g.Nodes, g.Edges, opts)
	for i := 1; i < len(out); i++ {
		require.Greater(t, out[i].Position.Y, out[i-1].Position.Y)
	}
	require.Zero(t, out[0].Position.X)
	require.Equal(t, (DefaultNodeWidth+opts.NodeSpacing)/2, out[1].Position.X)
}

func TestByName(t *testing.T) {
	tests := []struct {
		name string
		want string
		err  bool
	}{
		{"layered", "layered", false},
		{"", "layered", false},
		{"Slotted", "slotted", false},
		{"force", "", true},
	}
	for _, tt := range tests {
		s, err := ByName(tt.name)
		if tt.err {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, s.Name())
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("lr")
	require.NoError(t, err)
	require.Equal(t, LeftRight, d)
	d, err = ParseDirection("")
	require.NoError(t, err)
	require.Equal(t, TopBottom, d)
	_, err = ParseDirection("diagonal")
	require.Error(t, err)
}
