// Package layout assigns 2D positions to call-tree graphs.
//
// Layouts are pure: the same nodes, edges and options always produce the same
// positions, and the input slices are never modified. Positions are the
// top-left corner of each node box.
package layout

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/daviddao/traceviz/internal/graph"
)

// Default box size for nodes that carry no explicit size.
const (
	DefaultNodeWidth  = 172
	DefaultNodeHeight = 36
)

// Direction is the primary axis of the drawing.
type Direction uint8

const (
	// TopBottom puts callers above callees.
	TopBottom Direction = iota
	// LeftRight puts callers left of callees.
	LeftRight
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case TopBottom:
		return "TB"
	case LeftRight:
		return "LR"
	default:
		return "unknown"
	}
}

// ParseDirection converts "TB" or "LR" (case-insensitive) to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TB", "":
		return TopBottom, nil
	case "LR":
		return LeftRight, nil
	default:
		return TopBottom, errors.Newf("invalid direction %q (expected: TB|LR)", s)
	}
}

// Options control spacing and orientation.
type Options struct {
	Direction   Direction
	NodeSpacing float64 // gap between neighbours in a rank
	RankSpacing float64 // gap between ranks
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{Direction: TopBottom, NodeSpacing: 40, RankSpacing: 60}
}

// Strategy places nodes.
type Strategy interface {
	Name() string
	Layout(nodes []graph.Node, edges []graph.Edge, opts Options) []graph.Node
}

// ByName returns the strategy registered under name.
func ByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "layered", "":
		return Layered{}, nil
	case "slotted":
		return Slotted{}, nil
	default:
		return nil, errors.Newf("unknown layout %q (expected: layered|slotted)", name)
	}
}

// size returns the box size of n, falling back to the default box.
func size(n graph.Node) (w, h float64) {
	w, h = n.Width, n.Height
	if w <= 0 {
		w = DefaultNodeWidth
	}
	if h <= 0 {
		h = DefaultNodeHeight
	}
	return w, h
}

// Slotted is the indented view: one row per call in creation order, indented
// by depth.
type Slotted struct{}

// Name implements Strategy.
func (Slotted) Name() string { return "slotted" }

// Layout implements Strategy.
func (Slotted) Layout(nodes []graph.Node, _ []graph.Edge, opts Options) []graph.Node {
	out := make([]graph.Node, len(nodes))
	copy(out, nodes)
	for i := range out {
		w, h := size(out[i])
		indent := float64(out[i].Depth) * (w + opts.NodeSpacing) / 2
		row := float64(out[i].Slot) * (h + opts.RankSpacing)
		if opts.Direction == LeftRight {
			out[i].Position = graph.Position{X: row, Y: indent}
		} else {
			out[i].Position = graph.Position{X: indent, Y: row}
		}
	}
	return out
}
