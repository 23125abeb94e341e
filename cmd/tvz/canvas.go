package main

import (
	"strings"

	"fortio.org/safecast"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/layout"
	"github.com/daviddao/traceviz/internal/scene"
	"github.com/daviddao/traceviz/internal/viewport"
)

// Layout units covered by one terminal cell at zoom 1.
const (
	cellWidth  = 8.0
	cellHeight = 18.0
)

// offscreen is where coordinates that do not fit an int are pushed.
const offscreen = 1 << 30

type cell struct {
	r     rune // 0 is the trailing half of a wide rune
	color string
	bold  bool
}

// canvas is a character grid the diagram is drawn onto. Drawing outside the
// grid is clipped.
type canvas struct {
	w, h  int
	cells []cell
}

func newCanvas(w, h int) *canvas {
	w, h = max(w, 0), max(h, 0)
	c := &canvas{w: w, h: h, cells: make([]cell, w*h)}
	for i := range c.cells {
		c.cells[i].r = ' '
	}
	return c
}

func (c *canvas) in(x, y int) bool { return x >= 0 && y >= 0 && x < c.w && y < c.h }

func (c *canvas) set(x, y int, r rune, color string, bold bool) {
	if !c.in(x, y) {
		return
	}
	c.cells[y*c.w+x] = cell{r: r, color: color, bold: bold}
}

// text writes s from column x, stopping before limit.
func (c *canvas) text(x, y, limit int, s, color string, bold bool) {
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if rw == 0 {
			continue
		}
		if x+rw > limit {
			return
		}
		c.set(x, y, r, color, bold)
		if rw == 2 {
			c.set(x+1, y, 0, color, bold)
		}
		x += rw
	}
}

func (c *canvas) hline(x0, x1, y int, r rune, color string, bold bool) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	for x := max(x0, 0); x <= min(x1, c.w-1); x++ {
		c.set(x, y, r, color, bold)
	}
}

func (c *canvas) vline(x, y0, y1 int, r rune, color string, bold bool) {
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for y := max(y0, 0); y <= min(y1, c.h-1); y++ {
		c.set(x, y, r, color, bold)
	}
}

func (c *canvas) fill(x0, y0, x1, y1 int) {
	for y := max(y0, 0); y <= min(y1, c.h-1); y++ {
		for x := max(x0, 0); x <= min(x1, c.w-1); x++ {
			c.set(x, y, ' ', "", false)
		}
	}
}

// String renders the grid, one styled run per colour change.
func (c *canvas) String() string {
	styles := make(map[cell]lipgloss.Style)
	style := func(k cell) lipgloss.Style {
		k.r = 0
		st, ok := styles[k]
		if !ok {
			st = lipgloss.NewStyle().Bold(k.bold)
			if k.color != "" {
				st = st.Foreground(lipgloss.Color(k.color))
			}
			styles[k] = st
		}
		return st
	}

	var b strings.Builder
	var run strings.Builder
	for y := 0; y < c.h; y++ {
		if y > 0 {
			b.WriteByte('\n')
		}
		cur := cell{}
		flush := func() {
			if run.Len() == 0 {
				return
			}
			if cur.color == "" && !cur.bold {
				b.WriteString(run.String())
			} else {
				b.WriteString(style(cur).Render(run.String()))
			}
			run.Reset()
		}
		for x := 0; x < c.w; x++ {
			k := c.cells[y*c.w+x]
			if k.r == 0 {
				continue
			}
			if k.color != cur.color || k.bold != cur.bold {
				flush()
				cur = cell{color: k.color, bold: k.bold}
			}
			run.WriteRune(k.r)
		}
		flush()
	}
	return b.String()
}

// projection maps layout coordinates onto the grid. The camera point lands on
// the centre cell.
type projection struct {
	cam  viewport.Camera
	w, h int
}

func (p projection) zoom() float64 {
	if p.cam.Zoom <= 0 {
		return 1
	}
	return p.cam.Zoom
}

func (p projection) col(x float64) int {
	return toCell((x-p.cam.X)*p.zoom()/cellWidth) + p.w/2
}

func (p projection) row(y float64) int {
	return toCell((y-p.cam.Y)*p.zoom()/cellHeight) + p.h/2
}

func toCell(f float64) int {
	v, err := safecast.Round[int](f)
	if err != nil {
		if f < 0 {
			return -offscreen
		}
		return offscreen
	}
	return min(max(v, -offscreen), offscreen)
}

// box is a node projected onto the grid; x1 and y1 are inclusive.
type box struct {
	x0, y0, x1, y1 int
}

func (b box) centreX() int { return (b.x0 + b.x1) / 2 }
func (b box) centreY() int { return (b.y0 + b.y1) / 2 }

func (p projection) box(n scene.Node) box {
	w, h := n.Width, n.Height
	if w <= 0 {
		w = layout.DefaultNodeWidth
	}
	if h <= 0 {
		h = layout.DefaultNodeHeight
	}
	b := box{
		x0: p.col(n.Position.X),
		y0: p.row(n.Position.Y),
		x1: p.col(n.Position.X+w) - 1,
		y1: p.row(n.Position.Y+h) - 1,
	}
	b.x1 = max(b.x1, b.x0+2)
	b.y1 = max(b.y1, b.y0)
	return b
}

// renderScene draws s as seen through cam onto a w x h grid.
func renderScene(s scene.Scene, cam viewport.Camera, w, h int) string {
	c := newCanvas(w, h)
	if w <= 0 || h <= 0 {
		return ""
	}
	p := projection{cam: cam, w: w, h: h}

	boxes := make(map[graph.NodeID]box, len(s.Nodes))
	for _, n := range s.Nodes {
		boxes[n.ID] = p.box(n)
	}

	// Return edges share the route of their call edge, so only call edges
	// are drawn; an active return edge repaints the route pointing back.
	var active *scene.Edge
	for i, e := range s.Edges {
		if e.Animated {
			active = &s.Edges[i]
		}
		if e.Kind != graph.EdgeCall.String() {
			continue
		}
		from, ok1 := boxes[e.Source]
		to, ok2 := boxes[e.Target]
		if ok1 && ok2 {
			drawRoute(c, from, to, e.Style.Stroke, false)
		}
	}
	if active != nil {
		parent, child := active.Source, active.Target
		if active.Kind == graph.EdgeReturn.String() {
			parent, child = child, parent
		}
		from, ok1 := boxes[parent]
		to, ok2 := boxes[child]
		if ok1 && ok2 {
			x, y := drawRoute(c, from, to, active.Style.Stroke, true)
			if active.Kind == graph.EdgeReturn.String() {
				x, y = routeStart(from, to)
			}
			arrowAt(c, x, y, from, to, active.Kind == graph.EdgeReturn.String(), active.Style.Stroke)
			if active.Label != "" {
				lx, ly := labelAt(from, to)
				c.text(lx, ly, w, active.Label, active.Style.Stroke, true)
			}
		}
	}

	for _, n := range s.Nodes {
		if !n.Style.Highlight {
			drawNode(c, boxes[n.ID], n)
		}
	}
	for _, n := range s.Nodes {
		if n.Style.Highlight {
			drawNode(c, boxes[n.ID], n)
		}
	}
	return c.String()
}

// vertical reports whether the route from parent to child runs top to
// bottom rather than left to right.
func vertical(from, to box) bool {
	return to.y0 > from.y1
}

func routeStart(from, to box) (x, y int) {
	if vertical(from, to) {
		return from.centreX(), from.y1 + 1
	}
	return from.x1 + 1, from.centreY()
}

// drawRoute draws an orthogonal connector and returns the cell next to the
// child box.
func drawRoute(c *canvas, from, to box, color string, bold bool) (x, y int) {
	if vertical(from, to) {
		x0, y0 := from.centreX(), from.y1+1
		x1, y1 := to.centreX(), to.y0-1
		mid := (y0 + y1) / 2
		c.vline(x0, y0, mid, '│', color, bold)
		c.vline(x1, mid, y1, '│', color, bold)
		if x1 != x0 {
			c.hline(x0, x1, mid, '─', color, bold)
		}
		switch {
		case x1 > x0:
			c.set(x0, mid, '└', color, bold)
			c.set(x1, mid, '┐', color, bold)
		case x1 < x0:
			c.set(x0, mid, '┘', color, bold)
			c.set(x1, mid, '┌', color, bold)
		}
		return x1, y1
	}
	x0, y0 := from.x1+1, from.centreY()
	x1, y1 := to.x0-1, to.centreY()
	mid := (x0 + x1) / 2
	c.hline(x0, mid, y0, '─', color, bold)
	c.hline(mid, x1, y1, '─', color, bold)
	if y1 != y0 {
		c.vline(mid, y0, y1, '│', color, bold)
	}
	switch {
	case y1 > y0:
		c.set(mid, y0, '┐', color, bold)
		c.set(mid, y1, '└', color, bold)
	case y1 < y0:
		c.set(mid, y0, '┘', color, bold)
		c.set(mid, y1, '┌', color, bold)
	}
	return x1, y1
}

func arrowAt(c *canvas, x, y int, from, to box, back bool, color string) {
	var r rune
	switch {
	case vertical(from, to) && back:
		r = '▲'
	case vertical(from, to):
		r = '▼'
	case back:
		r = '◀'
	default:
		r = '▶'
	}
	c.set(x, y, r, color, true)
}

func labelAt(from, to box) (x, y int) {
	if vertical(from, to) {
		y0, y1 := from.y1+1, to.y0-1
		return max(from.centreX(), to.centreX()) + 2, (y0 + y1) / 2
	}
	return (from.x1 + to.x0) / 2, min(from.centreY(), to.centreY()) - 1
}

func drawNode(c *canvas, b box, n scene.Node) {
	color, bold := n.Style.Fill, false
	if n.Style.Highlight {
		color, bold = n.Style.Stroke, true
	}
	inner := b.x1 - b.x0 - 1

	if b.y1-b.y0 < 2 {
		// Too small for a frame: a bracketed label on one row.
		c.fill(b.x0, b.y0, b.x1, b.y0)
		c.set(b.x0, b.y0, '[', color, bold)
		c.set(b.x1, b.y0, ']', color, bold)
		c.text(b.x0+1, b.y0, b.x1, runewidth.Truncate(n.Label, inner, "…"), labelColor(n), bold)
		return
	}

	c.fill(b.x0, b.y0, b.x1, b.y1)
	c.hline(b.x0, b.x1, b.y0, '─', color, bold)
	c.hline(b.x0, b.x1, b.y1, '─', color, bold)
	c.vline(b.x0, b.y0, b.y1, '│', color, bold)
	c.vline(b.x1, b.y0, b.y1, '│', color, bold)
	c.set(b.x0, b.y0, '┌', color, bold)
	c.set(b.x1, b.y0, '┐', color, bold)
	c.set(b.x0, b.y1, '└', color, bold)
	c.set(b.x1, b.y1, '┘', color, bold)

	label := runewidth.Truncate(n.Label, inner, "…")
	x := b.x0 + 1 + max(0, (inner-runewidth.StringWidth(label))/2)
	c.text(x, b.centreY(), b.x1, label, labelColor(n), bold)
}

func labelColor(n scene.Node) string {
	if n.Style.Highlight {
		return n.Style.Fill
	}
	return ""
}
