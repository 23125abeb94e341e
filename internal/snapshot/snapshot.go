// Package snapshot builds immutable, laid-out call graphs from traces.
//
// A Snapshot captures the graph, annotated trace and node positions of one
// execution run. Snapshots are rebuilt wholesale for every new trace (or
// layout change) and swapped into the visualizer; they are never edited in
// place, so anything holding an older snapshot keeps a consistent view.
package snapshot

import (
	"time"

	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/layout"
	"github.com/daviddao/traceviz/internal/trace"
)

// MeasureFunc returns the box size of a node. A zero dimension falls back to
// the layout default.
type MeasureFunc func(n graph.Node) (w, h float64)

// Options configures snapshot construction.
type Options struct {
	Layout        layout.Strategy // nil uses layout.Layered
	LayoutOptions layout.Options
	PaletteSize   int
	Measure       MeasureFunc // nil leaves sizes to the layout default
}

// Snapshot is an immutable, self-contained view of one trace.
type Snapshot struct {
	Graph       *graph.Graph
	Trace       []trace.Event // annotated; one playback step per element
	Diagnostics []trace.Diagnostic
	Stats       graph.Stats

	Layout        string
	LayoutOptions layout.Options

	// Counts.
	TotalNodes int
	TotalEdges int
	TotalSteps int

	// Timestamp of snapshot creation.
	BuiltAt time.Time
}

// Build ingests events and lays out the resulting graph. Construction has no
// failure mode: bad events surface as Diagnostics.
func Build(events []trace.Event, opts Options) *Snapshot {
	res := graph.Build(events, graph.Options{PaletteSize: opts.PaletteSize})

	g := res.Graph
	if opts.Measure != nil {
		nodes := make([]graph.Node, len(g.Nodes))
		copy(nodes, g.Nodes)
		for i := range nodes {
			nodes[i].Width, nodes[i].Height = opts.Measure(nodes[i])
		}
		g = g.WithNodes(nodes)
	}

	snap := &Snapshot{
		Graph:       g,
		Trace:       res.Trace,
		Diagnostics: res.Diagnostics,
		Stats:       res.Stats,
		TotalNodes:  len(g.Nodes),
		TotalEdges:  len(g.Edges),
		TotalSteps:  len(res.Trace),
	}
	return snap.place(opts.Layout, opts.LayoutOptions)
}

// Relayout returns a new snapshot with the same graph and trace laid out
// again. Node and edge identities are unchanged.
func (s *Snapshot) Relayout(strategy layout.Strategy, opts layout.Options) *Snapshot {
	cp := *s
	return cp.place(strategy, opts)
}

func (s *Snapshot) place(strategy layout.Strategy, opts layout.Options) *Snapshot {
	if strategy == nil {
		strategy = layout.Layered{}
	}
	s.Graph = s.Graph.WithNodes(strategy.Layout(s.Graph.Nodes, s.Graph.Edges, opts))
	s.Layout = strategy.Name()
	s.LayoutOptions = opts
	s.BuiltAt = time.Now()
	return s
}

// Position returns the laid-out position of a node.
func (s *Snapshot) Position(id graph.NodeID) (graph.Position, bool) {
	n, ok := s.Node(id)
	return n.Position, ok
}

// Node returns the laid-out node with the given id.
func (s *Snapshot) Node(id graph.NodeID) (graph.Node, bool) {
	if s == nil || s.Graph == nil {
		return graph.Node{}, false
	}
	return s.Graph.Node(id)
}

// Empty reports whether the snapshot has no playback steps.
func (s *Snapshot) Empty() bool {
	return s == nil || s.TotalSteps == 0
}
