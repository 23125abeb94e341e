// Package playback steps through an annotated trace one event at a time and
// derives which node and edge are active at each step.
package playback

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/trace"
)

// Op is a playback command.
type Op uint8

const (
	OpFirst Op = iota + 1 // go to step 0
	OpPrev                // one step back
	OpNext                // one step forward
	OpLast                // go to the final step
	OpSeek                // go to Command.Step, clamped
)

// String returns the string representation of Op.
func (o Op) String() string {
	switch o {
	case OpFirst:
		return "first"
	case OpPrev:
		return "prev"
	case OpNext:
		return "next"
	case OpLast:
		return "last"
	case OpSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// Command is an Op with its argument. Step is only read by OpSeek.
type Command struct {
	Op   Op
	Step int
}

// Convenience commands.
var (
	First = Command{Op: OpFirst}
	Prev  = Command{Op: OpPrev}
	Next  = Command{Op: OpNext}
	Last  = Command{Op: OpLast}
)

// Seek returns a command that jumps to step i (clamped to the trace).
func Seek(i int) Command { return Command{Op: OpSeek, Step: i} }

// ParseCommand parses "first", "prev", "next", "last" or "seek N".
func ParseCommand(s string) (Command, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return Command{}, errors.New("empty playback command")
	}
	switch fields[0] {
	case "first":
		return First, nil
	case "prev":
		return Prev, nil
	case "next":
		return Next, nil
	case "last":
		return Last, nil
	case "seek":
		if len(fields) != 2 {
			return Command{}, errors.Newf("seek needs a step: %q", s)
		}
		var n int
		if _, err := fmt.Sscanf(fields[1], "%d", &n); err != nil {
			return Command{}, errors.Wrapf(err, "seek step %q", fields[1])
		}
		return Seek(n), nil
	default:
		return Command{}, errors.Newf("unknown playback command %q", s)
	}
}

// State is the serializable playback position. Step is -1 exactly when Len
// is 0.
type State struct {
	Step int `json:"step"`
	Len  int `json:"len"`
}

// NewState returns the state for a trace of n steps, positioned at the first
// step (or empty).
func NewState(n int) State {
	if n <= 0 {
		return State{Step: -1, Len: 0}
	}
	return State{Step: 0, Len: n}
}

// Empty reports whether there is nothing to play.
func (s State) Empty() bool { return s.Len <= 0 }

// Apply returns the state after cmd. Boundary moves and any command on an
// empty state return s unchanged.
func (s State) Apply(cmd Command) State {
	if s.Empty() {
		return State{Step: -1, Len: 0}
	}
	next := s.Step
	switch cmd.Op {
	case OpFirst:
		next = 0
	case OpLast:
		next = s.Len - 1
	case OpNext:
		next = min(s.Len-1, s.Step+1)
	case OpPrev:
		next = max(0, s.Step-1)
	case OpSeek:
		next = min(s.Len-1, max(0, cmd.Step))
	}
	return State{Step: next, Len: s.Len}
}

// Frame is what is active at one step.
type Frame struct {
	Step       int // -1 when empty
	ActiveNode graph.NodeID
	ActiveEdge graph.EdgeID
	Line       int // editor line to highlight, 0 if unknown
}

// StepView is the side-panel read model for one step.
type StepView struct {
	Step   int         `json:"step"`
	Kind   string      `json:"type"`
	Func   string      `json:"functionName"`
	Args   trace.Args  `json:"args"`
	Return ReturnValue `json:"returnValue,omitzero"`
	Note   string      `json:"note,omitempty"`
	Line   int         `json:"line,omitempty"`
}

// ReturnValue is the value a return step carries. Set tells an explicit null
// apart from no value at all.
type ReturnValue struct {
	Value any
	Set   bool
}

// IsZero reports whether there is no value, which omits it from JSON.
func (r ReturnValue) IsZero() bool { return !r.Set }

// MarshalJSON encodes the bare value.
func (r ReturnValue) MarshalJSON() ([]byte, error) {
	b, err := trace.MarshalValue(r.Value)
	return b, errors.Wrap(err, "return value")
}

// Controller owns a playback State over one annotated trace.
type Controller struct {
	trace []trace.Event
	edges func(graph.EdgeID) bool
	state State
}

// New returns a controller positioned at the first step. g is used to check
// that derived edges exist; it may be nil for a trace without edges.
func New(tr []trace.Event, g *graph.Graph) *Controller {
	c := &Controller{trace: tr, state: NewState(len(tr))}
	c.edges = func(id graph.EdgeID) bool {
		if g == nil {
			return false
		}
		_, ok := g.Edge(id)
		return ok
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Restore sets the state, clamped to this trace. It reports whether the step
// changed.
func (c *Controller) Restore(s State) bool {
	if c.state.Empty() {
		return false
	}
	return c.Do(Seek(s.Step))
}

// Do applies cmd and reports whether the step changed.
func (c *Controller) Do(cmd Command) bool {
	next := c.state.Apply(cmd)
	changed := next != c.state
	c.state = next
	return changed
}

// Frame derives the active node and edge for the current step.
func (c *Controller) Frame() Frame {
	if c.state.Empty() {
		return Frame{Step: -1}
	}
	ev := c.trace[c.state.Step]
	f := Frame{Step: c.state.Step, ActiveNode: graph.NodeID(ev.NodeID), Line: ev.Line}
	if ev.NodeID == "" || ev.ParentID == "" {
		return f
	}
	var id graph.EdgeID
	switch ev.Kind {
	case trace.KindCall:
		id = graph.CallEdgeID(graph.NodeID(ev.ParentID), graph.NodeID(ev.NodeID))
	case trace.KindReturn:
		if ev.ReturnFrom != "" {
			id = graph.ReturnEdgeID(graph.NodeID(ev.ReturnFrom), graph.NodeID(ev.ParentID))
		}
	}
	if id != "" && c.edges(id) {
		f.ActiveEdge = id
	}
	return f
}

// View returns the side-panel model for the current step. ok is false when the
// trace is empty.
func (c *Controller) View() (v StepView, ok bool) {
	if c.state.Empty() {
		return StepView{}, false
	}
	ev := c.trace[c.state.Step]
	v = StepView{
		Step: c.state.Step,
		Kind: ev.Kind.String(),
		Func: ev.Func,
		Args: ev.Args,
		Note: ev.Note,
		Line: ev.Line,
	}
	if ev.Kind == trace.KindReturn && ev.HasValue {
		v.Return = ReturnValue{Value: ev.Value, Set: true}
	}
	return v, true
}
