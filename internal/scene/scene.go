// Package scene turns a laid-out graph and a playback frame into the render
// model consumed by a render surface.
package scene

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/playback"
	"github.com/daviddao/traceviz/internal/trace"
)

// DefaultPalette colours nodes by depth, cycling.
var DefaultPalette = []string{"#4c78a8", "#f58518", "#54a24b", "#b279a2", "#e45756", "#72b7b2"}

// Colours of the highlighted node and the animated edge, and the stroke of
// every other edge.
const (
	ActiveFill   = "#ffd54f"
	ActiveStroke = "#ff6f00"
	EdgeColor    = "#9e9e9e"
	ActiveEdge   = "#ff6f00"
)

// Style is how one element is drawn.
type Style struct {
	Fill      string `json:"fill,omitempty" msgpack:"fill,omitempty"`
	Stroke    string `json:"stroke" msgpack:"stroke"`
	Highlight bool   `json:"highlight" msgpack:"highlight"`
}

// Node is a drawable node.
type Node struct {
	ID       graph.NodeID   `json:"id" msgpack:"id"`
	Label    string         `json:"label" msgpack:"label"`
	Position graph.Position `json:"position" msgpack:"position"`
	Width    float64        `json:"width" msgpack:"width"`
	Height   float64        `json:"height" msgpack:"height"`
	Depth    int            `json:"depth" msgpack:"depth"`
	Style    Style          `json:"style" msgpack:"style"`
}

// Edge is a drawable edge.
type Edge struct {
	ID       graph.EdgeID `json:"id" msgpack:"id"`
	Kind     string       `json:"kind" msgpack:"kind"`
	Source   graph.NodeID `json:"source" msgpack:"source"`
	Target   graph.NodeID `json:"target" msgpack:"target"`
	Label    string       `json:"label" msgpack:"label"`
	Style    Style        `json:"style" msgpack:"style"`
	Animated bool         `json:"animated" msgpack:"animated"`
}

// Scene is everything a render surface needs for one step.
type Scene struct {
	Step       int          `json:"step" msgpack:"step"`
	Steps      int          `json:"steps" msgpack:"steps"`
	ActiveNode graph.NodeID `json:"activeNode,omitempty" msgpack:"activeNode,omitempty"`
	ActiveEdge graph.EdgeID `json:"activeEdge,omitempty" msgpack:"activeEdge,omitempty"`
	Line       int          `json:"line,omitempty" msgpack:"line,omitempty"`
	Nodes      []Node       `json:"nodes" msgpack:"nodes"`
	Edges      []Edge       `json:"edges" msgpack:"edges"`
}

// Label renders "f(a=1, b=\"x\") => value", dropping the value part for
// nodes that have not returned one.
func Label(n graph.Node) string {
	var b strings.Builder
	b.WriteString(n.Signature())
	if n.Returned {
		b.WriteString(" => ")
		b.WriteString(trace.FormatValue(n.ReturnValue))
	}
	return b.String()
}

// Compose styles every node and edge for frame. A nil or empty palette uses
// DefaultPalette.
func Compose(g *graph.Graph, f playback.Frame, steps int, palette []string) Scene {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	s := Scene{
		Step:       f.Step,
		Steps:      steps,
		ActiveNode: f.ActiveNode,
		ActiveEdge: f.ActiveEdge,
		Line:       f.Line,
	}
	if g == nil {
		return s
	}
	s.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		st := Style{Fill: palette[n.Palette%len(palette)], Stroke: EdgeColor}
		if n.ID == f.ActiveNode {
			st = Style{Fill: ActiveFill, Stroke: ActiveStroke, Highlight: true}
		}
		s.Nodes[i] = Node{
			ID:       n.ID,
			Label:    Label(n),
			Position: n.Position,
			Width:    n.Width,
			Height:   n.Height,
			Depth:    n.Depth,
			Style:    st,
		}
	}
	s.Edges = make([]Edge, len(g.Edges))
	for i, e := range g.Edges {
		out := Edge{
			ID:     e.ID,
			Kind:   e.Kind.String(),
			Source: e.Source,
			Target: e.Target,
			Label:  e.Label,
			Style:  Style{Stroke: EdgeColor},
		}
		if e.ID == f.ActiveEdge {
			out.Style = Style{Stroke: ActiveEdge, Highlight: true}
			out.Animated = true
		}
		s.Edges[i] = out
	}
	return s
}

// Format is a scene encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat accepts "json" and "msgpack".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatMsgpack:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", errors.Newf("unknown format %q (expected: json|msgpack)", s)
	}
}

// Encode writes s to w.
func Encode(w io.Writer, s Scene, format Format) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return errors.Wrap(enc.Encode(s), "encode scene as json")
	case FormatMsgpack:
		return errors.Wrap(msgpack.NewEncoder(w).Encode(s), "encode scene as msgpack")
	default:
		return errors.Newf("unknown format %q", format)
	}
}

// Decode reads a scene written by Encode.
func Decode(r io.Reader, format Format) (Scene, error) {
	var s Scene
	switch format {
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&s); err != nil {
			return Scene{}, errors.Wrap(err, "decode json scene")
		}
	case FormatMsgpack:
		if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
			return Scene{}, errors.Wrap(err, "decode msgpack scene")
		}
	default:
		return Scene{}, errors.Newf("unknown format %q", format)
	}
	return s, nil
}
