// Package visualizer owns the state of one trace view: the current snapshot,
// the playback position, the camera and the status of the latest run.
//
// A run is started with Begin and finished with Complete or Fail. Runs are
// ordered by a generation number carried in their Ticket; a result whose
// ticket is older than the latest Begin is dropped, so a slow fetch can never
// overwrite a newer one.
package visualizer

import (
	"log/slog"

	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/layout"
	"github.com/daviddao/traceviz/internal/playback"
	"github.com/daviddao/traceviz/internal/scene"
	"github.com/daviddao/traceviz/internal/snapshot"
	"github.com/daviddao/traceviz/internal/trace"
	"github.com/daviddao/traceviz/internal/viewport"
)

// Status is the state of the latest run.
type Status uint8

const (
	// StatusIdle means no run has started.
	StatusIdle Status = iota
	// StatusLoading means a run is in flight; commands are rejected.
	StatusLoading
	// StatusReady means the latest run completed.
	StatusReady
	// StatusError means the latest run failed. The previous graph, if any,
	// is kept.
	StatusError
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Ticket identifies one run.
type Ticket struct {
	gen uint64
}

// Generation returns the run number.
func (t Ticket) Generation() uint64 { return t.gen }

// Options configures a TraceVisualizer.
type Options struct {
	Layout        layout.Strategy // nil uses layout.Layered
	LayoutOptions layout.Options
	PaletteSize   int
	Palette       []string // scene colours; nil uses scene.DefaultPalette
	Viewport      viewport.Options
	Measure       snapshot.MeasureFunc
	Logger        *slog.Logger // nil discards
}

// State is a serializable summary of the visualizer.
type State struct {
	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
	Generation  uint64 `json:"generation"`
	Step        int    `json:"step"`
	Len         int    `json:"len"`
	Diagnostics int    `json:"diagnostics"`
	Layout      string `json:"layout,omitempty"`
	Direction   string `json:"direction"`
}

// Change is the outcome of a state transition that moved the playback
// position.
type Change struct {
	Frame playback.Frame
	// Camera is set when the active node has a position to move to.
	Camera    viewport.Request
	HasCamera bool
}

// TraceVisualizer is the single owner of view state. It is not safe for
// concurrent use; callers serialize access (the TUI does so by only touching
// it from its update loop).
type TraceVisualizer struct {
	opts Options
	log  *slog.Logger

	gen    uint64
	status Status
	err    error

	snap   *snapshot.Snapshot
	play   *playback.Controller
	cam    *viewport.Controller
	target viewport.Request
}

// New returns an idle visualizer with no snapshot.
func New(opts Options) *TraceVisualizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Layout == nil {
		opts.Layout = layout.Layered{}
	}
	return &TraceVisualizer{
		opts: opts,
		log:  logger,
		cam:  viewport.New(opts.Viewport),
		play: playback.New(nil, nil),
	}
}

// Begin starts a new run. The previous snapshot stays visible until the run
// completes.
func (v *TraceVisualizer) Begin() Ticket {
	v.gen++
	v.status = StatusLoading
	v.err = nil
	v.log.Debug("run started", "generation", v.gen)
	return Ticket{gen: v.gen}
}

// Current reports whether t belongs to the latest run.
func (v *TraceVisualizer) Current(t Ticket) bool { return t.gen == v.gen }

// Complete ingests the events of run t, resets playback to the first step and
// targets the camera on it. Results of a stale run are dropped and ok is
// false.
func (v *TraceVisualizer) Complete(t Ticket, events []trace.Event) (c Change, ok bool) {
	if !v.Current(t) {
		v.log.Debug("dropping stale run", "generation", t.gen, "latest", v.gen)
		return Change{}, false
	}
	snap := snapshot.Build(events, snapshot.Options{
		Layout:        v.opts.Layout,
		LayoutOptions: v.opts.LayoutOptions,
		PaletteSize:   v.opts.PaletteSize,
		Measure:       v.opts.Measure,
	})
	for _, d := range snap.Diagnostics {
		v.log.Warn("trace diagnostic", "diag", d)
	}
	v.log.Info("trace loaded",
		"generation", t.gen,
		"nodes", snap.TotalNodes,
		"edges", snap.TotalEdges,
		"steps", snap.TotalSteps,
		"diagnostics", len(snap.Diagnostics),
		"layout", snap.Layout,
	)

	v.snap = snap
	v.play = playback.New(snap.Trace, snap.Graph)
	v.status = StatusReady
	v.err = nil
	return v.change(), true
}

// Fail records the failure of run t. The previous snapshot is kept. It
// returns false for a stale run.
func (v *TraceVisualizer) Fail(t Ticket, err error) bool {
	if !v.Current(t) {
		v.log.Debug("dropping stale failure", "generation", t.gen, "latest", v.gen, "err", err)
		return false
	}
	v.status = StatusError
	v.err = err
	v.log.Error("run failed", "generation", t.gen, "err", err)
	return true
}

// Do applies a playback command. Commands are rejected while a run is
// loading and when there is nothing to play; ok is also false when the step
// did not change.
func (v *TraceVisualizer) Do(cmd playback.Command) (c Change, ok bool) {
	if v.status == StatusLoading || v.snap.Empty() {
		return Change{}, false
	}
	if !v.play.Do(cmd) {
		return Change{}, false
	}
	return v.change(), true
}

// Relayout lays the current graph out again with opts, keeping node
// identities and the playback position. The camera is re-targeted because
// the active node moved.
func (v *TraceVisualizer) Relayout(opts layout.Options) (c Change, ok bool) {
	v.opts.LayoutOptions = opts
	if v.snap == nil {
		return Change{}, false
	}
	state := v.play.State()
	v.snap = v.snap.Relayout(v.opts.Layout, opts)
	v.play = playback.New(v.snap.Trace, v.snap.Graph)
	v.play.Restore(state)
	return v.change(), true
}

// Recenter issues a fresh camera request for the active node without moving
// the playback position.
func (v *TraceVisualizer) Recenter() (c Change, ok bool) {
	if v.snap.Empty() {
		return Change{}, false
	}
	c = v.change()
	return c, c.HasCamera
}

// Manual records a manual camera move, stopping any running transition.
func (v *TraceVisualizer) Manual() uint64 { return v.cam.Manual() }

// CameraCurrent reports whether r is still the newest camera request.
func (v *TraceVisualizer) CameraCurrent(r viewport.Request) bool { return v.cam.Current(r) }

// NewTransition starts animating from the camera at from toward r.
func (v *TraceVisualizer) NewTransition(from viewport.Camera, r viewport.Request) *viewport.Transition {
	return v.cam.NewTransition(from, r)
}

func (v *TraceVisualizer) change() Change {
	c := Change{Frame: v.play.Frame()}
	if n, ok := v.snap.Node(c.Frame.ActiveNode); ok {
		c.Camera = v.cam.TargetNode(n)
		c.HasCamera = true
		v.target = c.Camera
	}
	return c
}

// State returns a serializable summary.
func (v *TraceVisualizer) State() State {
	ps := v.play.State()
	s := State{
		Status:     v.status,
		Generation: v.gen,
		Step:       ps.Step,
		Len:        ps.Len,
		Direction:  v.opts.LayoutOptions.Direction.String(),
	}
	if v.err != nil {
		s.Error = v.err.Error()
	}
	if v.snap != nil {
		s.Diagnostics = len(v.snap.Diagnostics)
		s.Layout = v.snap.Layout
	}
	return s
}

// Status returns the status of the latest run.
func (v *TraceVisualizer) Status() Status { return v.status }

// Err returns the error of the latest run, if it failed.
func (v *TraceVisualizer) Err() error { return v.err }

// Snapshot returns the current snapshot, or nil before the first run
// completes.
func (v *TraceVisualizer) Snapshot() *snapshot.Snapshot { return v.snap }

// LayoutOptions returns the layout options used for the next layout.
func (v *TraceVisualizer) LayoutOptions() layout.Options { return v.opts.LayoutOptions }

// Frame returns the active node and edge.
func (v *TraceVisualizer) Frame() playback.Frame { return v.play.Frame() }

// Scene composes the render model for the current step.
func (v *TraceVisualizer) Scene() scene.Scene {
	var g *graph.Graph
	var steps int
	if v.snap != nil {
		g, steps = v.snap.Graph, v.snap.TotalSteps
	}
	return scene.Compose(g, v.play.Frame(), steps, v.opts.Palette)
}

// Step returns the side-panel model for the current step.
func (v *TraceVisualizer) Step() (playback.StepView, bool) { return v.play.View() }

// Camera returns the latest camera request, if any was issued.
func (v *TraceVisualizer) Camera() (viewport.Request, bool) {
	return v.target, v.target.Generation != 0
}
