// Package viewport computes where the camera should look after each playback
// step and animates it there.
package viewport

import (
	"math"
	"time"

	"github.com/charmbracelet/harmonica"

	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/layout"
)

// Camera defaults. Durations above MaxDuration are clamped.
const (
	DefaultZoom     = 1.5
	DefaultDuration = 800 * time.Millisecond
	MaxDuration     = 2 * time.Second
	DefaultFPS      = 60
)

// DefaultOffset centres the camera on a default-sized node box.
var DefaultOffset = graph.Position{X: layout.DefaultNodeWidth / 2, Y: layout.DefaultNodeHeight / 2}

// Camera is a point in layout space plus a zoom factor.
type Camera struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Options configures the controller. Zero values take the defaults.
type Options struct {
	Zoom     float64
	Duration time.Duration
	Offset   graph.Position
	FPS      int
}

func (o Options) withDefaults() Options {
	if o.Zoom <= 0 {
		o.Zoom = DefaultZoom
	}
	if o.Duration == 0 {
		o.Duration = DefaultDuration
	}
	o.Duration = min(MaxDuration, max(0, o.Duration))
	if o.Offset == (graph.Position{}) {
		o.Offset = DefaultOffset
	}
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	return o
}

// Request asks the render surface to move the camera. Generation orders
// requests: only the newest one may drive the camera.
type Request struct {
	Generation uint64
	Target     Camera
	Duration   time.Duration
}

// Controller issues camera requests. It is not safe for concurrent use.
type Controller struct {
	opts Options
	gen  uint64
}

// New returns a controller with opts filled in from the defaults.
func New(opts Options) *Controller {
	return &Controller{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (c *Controller) Options() Options { return c.opts }

// Target returns a request centring the camera on a node at pos. Callers
// issue one request per step change.
func (c *Controller) Target(pos graph.Position) Request {
	return c.target(pos, c.opts.Offset)
}

// TargetNode is Target for a node whose box may have been measured. A sized
// node is framed on its own centre; an unsized one uses the offset.
func (c *Controller) TargetNode(n graph.Node) Request {
	off := c.opts.Offset
	if n.Width > 0 && n.Height > 0 {
		off = graph.Position{X: n.Width / 2, Y: n.Height / 2}
	}
	return c.target(n.Position, off)
}

func (c *Controller) target(pos, off graph.Position) Request {
	c.gen++
	return Request{
		Generation: c.gen,
		Target: Camera{
			X:    pos.X + off.X,
			Y:    pos.Y + off.Y,
			Zoom: c.opts.Zoom,
		},
		Duration: c.opts.Duration,
	}
}

// Manual records that the user moved the camera by hand. Any transition
// already running becomes stale.
func (c *Controller) Manual() uint64 {
	c.gen++
	return c.gen
}

// Generation is the generation of the newest request.
func (c *Controller) Generation() uint64 { return c.gen }

// Current reports whether a request is still the newest one.
func (c *Controller) Current(r Request) bool { return r.Generation == c.gen }

// Transition animates a camera toward a request's target.
type Transition struct {
	req    Request
	cam    Camera
	vel    Camera
	spring harmonica.Spring
	frames int
	frame  int
}

// NewTransition starts a transition from the camera at from. A zero duration
// jumps on the first frame.
func (c *Controller) NewTransition(from Camera, r Request) *Transition {
	frames := int(math.Ceil(r.Duration.Seconds() * float64(c.opts.FPS)))
	t := &Transition{req: r, cam: from, frames: frames}
	if frames > 0 {
		// A critically damped spring settles within roughly 6/ω seconds.
		omega := 6 / r.Duration.Seconds()
		t.spring = harmonica.NewSpring(harmonica.FPS(c.opts.FPS), omega, 1.0)
	}
	return t
}

// Request returns the request this transition animates.
func (t *Transition) Request() Request { return t.req }

// Done reports whether the camera reached the target.
func (t *Transition) Done() bool { return t.frame >= t.frames }

// Step advances one frame and returns the new camera. The last frame lands
// exactly on the target.
func (t *Transition) Step() Camera {
	if t.Done() {
		t.cam = t.req.Target
		return t.cam
	}
	t.frame++
	if t.frame >= t.frames {
		t.cam, t.vel = t.req.Target, Camera{}
		return t.cam
	}
	tgt := t.req.Target
	t.cam.X, t.vel.X = t.spring.Update(t.cam.X, t.vel.X, tgt.X)
	t.cam.Y, t.vel.Y = t.spring.Update(t.cam.Y, t.vel.Y, tgt.Y)
	t.cam.Zoom, t.vel.Zoom = t.spring.Update(t.cam.Zoom, t.vel.Zoom, tgt.Zoom)
	return t.cam
}

// Camera returns the camera after the last Step.
func (t *Transition) Camera() Camera { return t.cam }
