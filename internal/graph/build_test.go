package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daviddao/traceviz/internal/trace"
)

func call(index int, fn string, depth int, args ...trace.Arg) trace.Event {
	return trace.Event{Index: index, Kind: trace.KindCall, Func: fn, Depth: depth, Args: args}
}

func ret(index int, v any) trace.Event {
	return trace.Event{Index: index, Kind: trace.KindReturn, Value: v, HasValue: true}
}

func arg(name string, v any) trace.Arg { return trace.Arg{Name: name, Value: v} }

// scenarioTrace is f(3) calling f(2).
func scenarioTrace() []trace.Event {
	return []trace.Event{
		call(0, "f", 0, arg("n", float64(3))),
		call(1, "f", 1, arg("n", float64(2))),
		ret(2, float64(2)),
		ret(3, float64(3)),
	}
}

func TestBuildScenario(t *testing.T) {
	res := Build(scenarioTrace(), Options{})
	g := res.Graph

	require.Len(t, g.Nodes, 2)
	require.Equal(t, "f(n=3)", g.Nodes[0].Signature())
	require.Equal(t, "f(n=2)", g.Nodes[1].Signature())

	require.Len(t, g.Edges, 2)
	callEdge, ok := g.Edge(CallEdgeID("n0", "n1"))
	require.True(t, ok)
	require.Equal(t, EdgeCall, callEdge.Kind)
	require.Equal(t, NodeID("n0"), callEdge.Source)
	require.Equal(t, NodeID("n1"), callEdge.Target)

	retEdge, ok := g.Edge(ReturnEdgeID("n1", "n0"))
	require.True(t, ok)
	require.Equal(t, EdgeReturn, retEdge.Kind)
	require.Equal(t, "return 2", retEdge.Label)

	// Return values are attached to the returning node.
	n1, _ := g.Node("n1")
	require.True(t, n1.Returned)
	require.Equal(t, float64(2), n1.ReturnValue)
	n0, _ := g.Node("n0")
	require.True(t, n0.Returned)
	require.Equal(t, float64(3), n0.ReturnValue)

	require.Empty(t, res.Diagnostics)
	require.Equal(t, Stats{Calls: 2, Returns: 2, MaxDepth: 1}, res.Stats)
}

func TestBuildAnnotatesTrace(t *testing.T) {
	in := scenarioTrace()
	res := Build(in, Options{})
	require.Len(t, res.Trace, 4)

	// After a return control is back in the caller, which becomes the
	// event's node; the root's return keeps the root.
	want := []struct{ node, parent, from, fn string }{
		{"n0", "", "", "f"},
		{"n1", "n0", "", "f"},
		{"n0", "n0", "n1", "f"},
		{"n0", "", "n0", "f"},
	}
	for i, w := range want {
		require.Equal(t, w.node, res.Trace[i].NodeID, "step %d", i)
		require.Equal(t, w.parent, res.Trace[i].ParentID, "step %d", i)
		require.Equal(t, w.from, res.Trace[i].ReturnFrom, "step %d", i)
		require.Equal(t, w.fn, res.Trace[i].Func, "step %d", i)
	}

	// The caller's slice is untouched.
	for _, ev := range in {
		require.Empty(t, ev.NodeID)
		require.Empty(t, ev.ParentID)
	}
	require.Empty(t, in[2].Func)
}

func TestBuildUnderflowOnly(t *testing.T) {
	res := Build([]trace.Event{ret(0, float64(1))}, Options{})
	require.Empty(t, res.Graph.Nodes)
	require.Empty(t, res.Graph.Edges)
	require.Len(t, res.Diagnostics, 1)
	require.Equal(t, trace.DiagUnderflow, res.Diagnostics[0].Kind)
	require.Len(t, res.Trace, 1)
	require.Empty(t, res.Trace[0].NodeID)
}

func TestBuildUnderflowMidTrace(t *testing.T) {
	events := []trace.Event{
		call(0, "a", 0),
		ret(1, nil),
		ret(2, float64(9)),
		call(3, "b", 0),
		call(4, "c", 1),
		ret(5, "x"),
		ret(6, nil),
	}
	res := Build(events, Options{})
	require.Len(t, res.Graph.Nodes, 3)
	require.Len(t, res.Diagnostics, 1)
	require.Equal(t, 2, res.Diagnostics[0].Index)

	var calls, returns int
	for _, e := range res.Graph.Edges {
		switch e.Kind {
		case EdgeCall:
			calls++
		case EdgeReturn:
			returns++
			require.Equal(t, `return "x"`, e.Label)
		}
	}
	require.Equal(t, 1, calls)
	require.Equal(t, 1, returns)
}

func TestBuildSkipsMalformedCalls(t *testing.T) {
	events := []trace.Event{
		call(0, "", 0),
		call(1, "g", -1),
		call(2, "h", 0),
		ret(3, nil),
	}
	res := Build(events, Options{})
	require.Len(t, res.Graph.Nodes, 1)
	require.Equal(t, NodeID("n2"), res.Graph.Nodes[0].ID)
	require.Len(t, res.Diagnostics, 2)
	for _, d := range res.Diagnostics {
		require.Equal(t, trace.DiagMalformed, d.Kind)
	}
	require.Len(t, res.Trace, 2)
	require.Equal(t, 0, res.Graph.Nodes[0].Slot)
}

func TestBuildUnterminated(t *testing.T) {
	res := Build([]trace.Event{call(0, "a", 0), call(1, "b", 1)}, Options{})
	require.Len(t, res.Graph.Nodes, 2)
	require.Len(t, res.Diagnostics, 2)
	require.Equal(t, trace.DiagUnterminated, res.Diagnostics[0].Kind)
	require.Equal(t, 1, res.Diagnostics[0].Index)
	require.Equal(t, 0, res.Diagnostics[1].Index)
}

func TestBuildPalette(t *testing.T) {
	var events []trace.Event
	for d := 0; d < 8; d++ {
		events = append(events, call(d, "r", d))
	}
	res := Build(events, Options{PaletteSize: 3})
	for _, n := range res.Graph.Nodes {
		require.Equal(t, n.Depth%3, n.Palette)
	}
	res = Build(events, Options{})
	require.Equal(t, 7%DefaultPaletteSize, res.Graph.Nodes[7].Palette)
}

// fib builds the trace of a naive fib(n).
func fib(n int) []trace.Event {
	var events []trace.Event
	var walk func(k, depth int) int
	walk = func(k, depth int) int {
		events = append(events, call(len(events), "fib", depth, arg("n", float64(k))))
		v := k
		if k >= 2 {
			v = walk(k-1, depth+1) + walk(k-2, depth+1)
		}
		events = append(events, ret(len(events), float64(v)))
		return v
	}
	walk(n, 0)
	return events
}

func TestBuildCountsAndReturnEdges(t *testing.T) {
	events := fib(6)
	res := Build(events, Options{})

	var calls, returns int
	for _, ev := range events {
		if ev.Kind == trace.KindCall {
			calls++
		} else {
			returns++
		}
	}
	require.Len(t, res.Graph.Nodes, calls)

	var returnEdges int
	for _, e := range res.Graph.Edges {
		if e.Kind == EdgeReturn {
			returnEdges++
		}
	}
	// Every return except the root's has a caller left on the stack.
	require.Equal(t, returns-1, returnEdges)
	requireAcyclic(t, res.Graph)
}

func TestBuildDeterministic(t *testing.T) {
	events := fib(5)
	a := Build(events, Options{})
	b := Build(events, Options{})
	require.Equal(t, a.Graph.Nodes, b.Graph.Nodes)
	require.Equal(t, a.Graph.Edges, b.Graph.Edges)
	require.Equal(t, a.Trace, b.Trace)
}

func TestBuildEdgesReferenceNodes(t *testing.T) {
	res := Build(fib(5), Options{})
	for _, e := range res.Graph.Edges {
		_, ok := res.Graph.Node(e.Source)
		require.True(t, ok, "edge %s source", e.ID)
		_, ok = res.Graph.Node(e.Target)
		require.True(t, ok, "edge %s target", e.ID)
	}
}

func TestChildren(t *testing.T) {
	res := Build(fib(3), Options{})
	root := res.Graph.Nodes[0].ID
	kids := res.Graph.Children(root)
	require.Len(t, kids, 2)
	for _, k := range kids {
		n, _ := res.Graph.Node(k)
		require.Equal(t, 1, n.Depth)
	}
}

// requireAcyclic checks that call edges form a forest: every node has at most
// one incoming call edge and walking parents always reaches a root.
func requireAcyclic(t *testing.T, g *Graph) {
	t.Helper()
	parent := make(map[NodeID]NodeID)
	for _, e := range g.Edges {
		if e.Kind != EdgeCall {
			continue
		}
		_, dup := parent[e.Target]
		require.False(t, dup, "node %s has two callers", e.Target)
		parent[e.Target] = e.Source
	}
	for _, n := range g.Nodes {
		seen := map[NodeID]bool{}
		for id := n.ID; ; {
			require.False(t, seen[id], "cycle through %s", id)
			seen[id] = true
			p, ok := parent[id]
			if !ok {
				break
			}
			id = p
		}
	}
}

func TestBuildReturnWithUnusableDepth(t *testing.T) {
	events, diags, err := trace.DecodeBytes([]byte(`[
		{"event": "call", "func": "f", "depth": 0, "args": {"n": 2}},
		{"event": "call", "func": "f", "depth": 1, "args": {"n": 1}},
		{"event": "return", "depth": 1.5, "value": 1},
		{"event": "return", "depth": -1, "value": 2}
	]`))
	require.NoError(t, err)
	require.Empty(t, diags)
	require.Len(t, events, 4)

	res := Build(events, Options{})
	require.Empty(t, res.Diagnostics)

	n1, _ := res.Graph.Node("n1")
	require.Equal(t, float64(1), n1.ReturnValue)
	n0, _ := res.Graph.Node("n0")
	require.True(t, n0.Returned)
	require.Equal(t, float64(2), n0.ReturnValue)

	e, ok := res.Graph.Edge(ReturnEdgeID("n1", "n0"))
	require.True(t, ok)
	require.Equal(t, "return 1", e.Label)
	require.Equal(t, 1, res.Trace[2].Depth)
}
