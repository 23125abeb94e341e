package graph

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/daviddao/traceviz/internal/trace"
)

// Options configures graph construction.
type Options struct {
	PaletteSize int // number of depth colours; <= 0 uses DefaultPaletteSize
}

// Stats summarizes a build.
type Stats struct {
	Calls    int
	Returns  int
	MaxDepth int
	Skipped  int // events that produced no graph change
}

// Result is the output of Build.
type Result struct {
	Graph       *Graph
	Trace       []trace.Event // annotated copy of the usable input events
	Diagnostics []trace.Diagnostic
	Stats       Stats
}

// frame is one open call.
type frame struct {
	id    NodeID
	index int // raw index of the call event
}

// callStack holds the currently open calls. It lives only for the duration
// of one Build.
type callStack []frame

func (s callStack) top() (NodeID, bool) {
	if len(s) == 0 {
		return "", false
	}
	return s[len(s)-1].id, true
}

func (s callStack) push(f frame) callStack { return append(s, f) }

func (s callStack) pop() (callStack, NodeID, bool) {
	if len(s) == 0 {
		return s, "", false
	}
	return s[:len(s)-1], s[len(s)-1].id, true
}

// Build converts events into a call-tree graph. It never fails: malformed
// events and unmatched returns are skipped and reported as diagnostics. The
// input slice is not modified.
func Build(events []trace.Event, opts Options) *Result {
	palette := opts.PaletteSize
	if palette <= 0 {
		palette = DefaultPaletteSize
	}

	g := &Graph{
		nodeIdx: make(map[NodeID]int),
		edgeIdx: make(map[EdgeID]int),
	}
	res := &Result{Graph: g, Trace: make([]trace.Event, 0, len(events))}

	var stack callStack
	slot := 0

	for _, ev := range events {
		ev.NodeID, ev.ParentID, ev.ReturnFrom = "", "", ""
		switch ev.Kind {
		case trace.KindCall:
			if ev.Func == "" || ev.Depth < 0 {
				res.Diagnostics = append(res.Diagnostics, trace.Diagnostic{
					Index: ev.Index, Kind: trace.DiagMalformed, Reason: "call without func or with negative depth",
				})
				res.Stats.Skipped++
				continue
			}
			id := nodeIDFor(ev.Index)
			if _, dup := g.nodeIdx[id]; dup {
				res.Diagnostics = append(res.Diagnostics, trace.Diagnostic{
					Index: ev.Index, Kind: trace.DiagMalformed, Reason: "duplicate event index",
				})
				res.Stats.Skipped++
				continue
			}
			g.addNode(Node{
				ID:      id,
				Func:    ev.Func,
				Args:    ev.Args,
				Depth:   ev.Depth,
				Slot:    slot,
				Palette: ev.Depth % palette,
			})
			slot++
			if parent, ok := stack.top(); ok {
				ev.ParentID = string(parent)
				g.addEdge(Edge{
					ID:     CallEdgeID(parent, id),
					Kind:   EdgeCall,
					Source: parent,
					Target: id,
					Label:  "call",
				})
			}
			stack = stack.push(frame{id: id, index: ev.Index})
			ev.NodeID = string(id)
			res.Stats.Calls++
			res.Stats.MaxDepth = max(res.Stats.MaxDepth, ev.Depth)

		case trace.KindReturn:
			var child NodeID
			var ok bool
			stack, child, ok = stack.pop()
			if !ok {
				res.Diagnostics = append(res.Diagnostics, trace.Diagnostic{
					Index: ev.Index, Kind: trace.DiagUnderflow, Reason: "return with no open call",
				})
				res.Stats.Skipped++
				res.Trace = append(res.Trace, ev)
				continue
			}
			n := &g.Nodes[g.nodeIdx[child]]
			if ev.HasValue {
				n.ReturnValue = ev.Value
				n.Returned = true
			}
			if ev.Func == "" {
				ev.Func = n.Func
				ev.Depth = n.Depth
				ev.Args = n.Args
			}
			ev.NodeID = string(child)
			ev.ReturnFrom = string(child)
			if parent, ok := stack.top(); ok {
				ev.NodeID = string(parent)
				ev.ParentID = string(parent)
				g.addEdge(Edge{
					ID:     ReturnEdgeID(child, parent),
					Kind:   EdgeReturn,
					Source: child,
					Target: parent,
					Label:  returnLabel(ev),
				})
			}
			res.Stats.Returns++

		default:
			res.Diagnostics = append(res.Diagnostics, trace.Diagnostic{
				Index: ev.Index, Kind: trace.DiagMalformed, Reason: fmt.Sprintf("unknown event kind %d", ev.Kind),
			})
			res.Stats.Skipped++
			continue
		}
		res.Trace = append(res.Trace, ev)
	}

	// Calls still open at the end keep their nodes; only report them.
	for i := len(stack) - 1; i >= 0; i-- {
		n, _ := g.Node(stack[i].id)
		res.Diagnostics = append(res.Diagnostics, trace.Diagnostic{
			Index: stack[i].index, Kind: trace.DiagUnterminated, Reason: n.Signature() + " never returned",
		})
	}
	return res
}

func returnLabel(ev trace.Event) string {
	if !ev.HasValue {
		return "return"
	}
	return "return " + trace.FormatValue(ev.Value)
}

func (g *Graph) addNode(n Node) {
	g.nodeIdx[n.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
}

func (g *Graph) addEdge(e Edge) {
	if _, ok := g.nodeIdx[e.Source]; !ok {
		panic(errors.AssertionFailedf("edge %s references missing node %s", e.ID, e.Source))
	}
	if _, ok := g.nodeIdx[e.Target]; !ok {
		panic(errors.AssertionFailedf("edge %s references missing node %s", e.ID, e.Target))
	}
	g.edgeIdx[e.ID] = len(g.Edges)
	g.Edges = append(g.Edges, e)
}
