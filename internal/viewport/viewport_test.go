package viewport

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daviddao/traceviz/internal/graph"
)

func TestDefaults(t *testing.T) {
	c := New(Options{})
	o := c.Options()
	require.Equal(t, DefaultZoom, o.Zoom)
	require.Equal(t, DefaultDuration, o.Duration)
	require.Equal(t, graph.Position{X: 86, Y: 18}, o.Offset)
	require.Equal(t, DefaultFPS, o.FPS)

	require.Equal(t, MaxDuration, New(Options{Duration: time.Hour}).Options().Duration)
	require.Zero(t, New(Options{Duration: -time.Second}).Options().Duration)
}

func TestTargetCentresOnNode(t *testing.T) {
	c := New(Options{})
	r := c.Target(graph.Position{X: 100, Y: 200})
	require.Equal(t, Camera{X: 186, Y: 218, Zoom: DefaultZoom}, r.Target)
	require.Equal(t, DefaultDuration, r.Duration)
	require.Equal(t, uint64(1), r.Generation)
	require.True(t, c.Current(r))
}

func TestTargetNodeUsesBoxSize(t *testing.T) {
	c := New(Options{})
	r := c.TargetNode(graph.Node{Position: graph.Position{X: 100, Y: 200}, Width: 300, Height: 40})
	require.Equal(t, Camera{X: 250, Y: 220, Zoom: DefaultZoom}, r.Target)

	r = c.TargetNode(graph.Node{Position: graph.Position{X: 100, Y: 200}})
	require.Equal(t, Camera{X: 186, Y: 218, Zoom: DefaultZoom}, r.Target, "unsized nodes use the offset")
	require.Equal(t, uint64(2), r.Generation)
}

func TestNewerRequestsWin(t *testing.T) {
	c := New(Options{})
	first := c.Target(graph.Position{})
	second := c.Target(graph.Position{X: 10})
	require.Greater(t, second.Generation, first.Generation)
	require.False(t, c.Current(first))
	require.True(t, c.Current(second))

	gen := c.Manual()
	require.Equal(t, gen, c.Generation())
	require.False(t, c.Current(second), "a manual pan stops the running transition")

	third := c.Target(graph.Position{X: 20})
	require.True(t, c.Current(third), "a later step change always issues a newer request")
}

func TestTransitionLandsOnTarget(t *testing.T) {
	c := New(Options{Duration: 500 * time.Millisecond, FPS: 60})
	r := c.Target(graph.Position{X: 1000, Y: -400})
	tr := c.NewTransition(Camera{Zoom: 1}, r)

	var frames int
	prev := math.Abs(r.Target.X)
	for !tr.Done() {
		cam := tr.Step()
		frames++
		dist := math.Abs(r.Target.X - cam.X)
		require.LessOrEqual(t, dist, prev+1e-9, "frame %d moved away from the target", frames)
		prev = dist
		require.LessOrEqual(t, frames, 30)
	}
	require.Equal(t, 30, frames)
	require.Equal(t, r.Target, tr.Camera())
	require.Equal(t, r.Target, tr.Step(), "stepping a finished transition stays put")
}

func TestTransitionEasesOut(t *testing.T) {
	c := New(Options{Duration: time.Second, FPS: 60})
	r := c.Target(graph.Position{X: 1000})
	tr := c.NewTransition(Camera{X: r.Target.X - 1000, Y: r.Target.Y, Zoom: r.Target.Zoom}, r)

	var deltas []float64
	last := tr.Camera().X
	for i := 0; i < 40; i++ {
		x := tr.Step().X
		deltas = append(deltas, x-last)
		last = x
	}
	// Early frames cover more ground than later ones.
	require.Greater(t, deltas[5], deltas[35])
}

func TestZeroDurationJumps(t *testing.T) {
	c := New(Options{})
	r := Request{Generation: 1, Target: Camera{X: 5, Y: 6, Zoom: 2}}
	tr := c.NewTransition(Camera{}, r)
	require.True(t, tr.Done())
	require.Equal(t, r.Target, tr.Step())
}
