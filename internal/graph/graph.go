// Package graph turns a call/return trace into a call-tree graph.
//
// Node and edge identities are derived only from event positions, so
// rebuilding the same trace yields the same ids and connections.
package graph

import (
	"fmt"

	"github.com/daviddao/traceviz/internal/trace"
)

// DefaultPaletteSize is the number of depth colours used when Options leaves
// it unset.
const DefaultPaletteSize = 6

// NodeID identifies a node. It is derived from the raw index of the call that
// created it.
type NodeID string

// EdgeID identifies an edge.
type EdgeID string

// EdgeKind distinguishes call edges from return edges.
type EdgeKind uint8

const (
	// EdgeCall connects a caller to its callee.
	EdgeCall EdgeKind = iota + 1
	// EdgeReturn connects a callee back to its caller.
	EdgeReturn
)

// String returns the string representation of EdgeKind.
func (k EdgeKind) String() string {
	switch k {
	case EdgeCall:
		return "call"
	case EdgeReturn:
		return "return"
	default:
		return "unknown"
	}
}

// Position is the top-left corner of a node box.
type Position struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Node is one function invocation.
type Node struct {
	ID          NodeID
	Func        string
	Args        trace.Args
	Depth       int
	ReturnValue any
	Returned    bool // ReturnValue was attached by a return event
	Slot        int  // creation order, a vertical placement hint
	Palette     int  // Depth mod palette size
	Position    Position
	Width       float64 // 0 means the layout default
	Height      float64
}

// Signature renders "func(args)".
func (n Node) Signature() string {
	return fmt.Sprintf("%s(%s)", n.Func, n.Args)
}

// Edge links two nodes.
type Edge struct {
	ID     EdgeID
	Kind   EdgeKind
	Source NodeID
	Target NodeID
	Label  string
}

// CallEdgeID returns the id of the call edge parent -> child.
func CallEdgeID(parent, child NodeID) EdgeID {
	return EdgeID("call:" + string(parent) + "->" + string(child))
}

// ReturnEdgeID returns the id of the return edge child -> parent.
func ReturnEdgeID(child, parent NodeID) EdgeID {
	return EdgeID("return:" + string(child) + "->" + string(parent))
}

func nodeIDFor(index int) NodeID {
	return NodeID(fmt.Sprintf("n%d", index))
}

// Graph is the node and edge collection of one trace.
type Graph struct {
	Nodes []Node
	Edges []Edge

	nodeIdx map[NodeID]int
	edgeIdx map[EdgeID]int
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	i, ok := g.nodeIndex()[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// Edge returns the edge with the given id.
func (g *Graph) Edge(id EdgeID) (Edge, bool) {
	i, ok := g.edgeIndex()[id]
	if !ok {
		return Edge{}, false
	}
	return g.Edges[i], true
}

// WithNodes returns a graph sharing the edges of g with nodes replaced. The
// replacement must carry the same ids in the same order.
func (g *Graph) WithNodes(nodes []Node) *Graph {
	return &Graph{Nodes: nodes, Edges: g.Edges, nodeIdx: g.nodeIdx, edgeIdx: g.edgeIdx}
}

func (g *Graph) nodeIndex() map[NodeID]int {
	if g.nodeIdx == nil {
		g.nodeIdx = make(map[NodeID]int, len(g.Nodes))
		for i, n := range g.Nodes {
			g.nodeIdx[n.ID] = i
		}
	}
	return g.nodeIdx
}

func (g *Graph) edgeIndex() map[EdgeID]int {
	if g.edgeIdx == nil {
		g.edgeIdx = make(map[EdgeID]int, len(g.Edges))
		for i, e := range g.Edges {
			g.edgeIdx[e.ID] = i
		}
	}
	return g.edgeIdx
}

// Children returns the call-tree children of id in creation order.
func (g *Graph) Children(id NodeID) []NodeID {
	var out []NodeID
	for _, e := range g.Edges {
		if e.Kind == EdgeCall && e.Source == id {
			out = append(out, e.Target)
		}
	}
	return out
}
