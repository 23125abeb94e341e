package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/daviddao/traceviz/internal/config"
	"github.com/daviddao/traceviz/internal/datasource"
	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/playback"
	"github.com/daviddao/traceviz/internal/trace"
	"github.com/daviddao/traceviz/internal/visualizer"
)

var (
	stepsColor string
	stepsJSON  bool
)

func init() {
	stepsCmd.Flags().StringVar(&stepsColor, "color", "auto", "colorize output (auto|always|never)")
	stepsCmd.Flags().BoolVar(&stepsJSON, "json", false, "print one JSON object per step")
}

var stepsCmd = &cobra.Command{
	Use:   "steps [trace.json]",
	Short: "Print the playback steps of a trace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closer, err := newLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closer.Close()

		path, err := tracePath(args)
		if err != nil {
			return err
		}
		v, err := loadVisualizer(cfg, logger, path)
		if err != nil {
			return err
		}
		if stepsJSON {
			return writeStepsJSON(cmd.OutOrStdout(), v)
		}

		var enabled bool
		switch stepsColor {
		case "always":
			enabled = true
		case "never":
			enabled = false
		case "auto", "":
			enabled = !color.NoColor && isTerminal(os.Stdout)
		default:
			return errors.Newf("unknown color mode %q (expected: auto|always|never)", stepsColor)
		}
		return writeSteps(cmd.OutOrStdout(), v, newStepColors(enabled))
	},
}

// tracePath returns the trace named on the command line, or the discovered
// one.
func tracePath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return datasource.Discover()
}

// loadVisualizer reads the trace at path into a ready visualizer.
func loadVisualizer(cfg config.Config, logger *slog.Logger, path string) (*visualizer.TraceVisualizer, error) {
	events, diags, err := datasource.LoadFile(path)
	if err != nil {
		return nil, err
	}
	logDecodeDiagnostics(logger.With("trace", path), diags)

	opts, err := visualizerOptions(cfg, logger.With("trace", path))
	if err != nil {
		return nil, err
	}
	v := visualizer.New(opts)
	if _, ok := v.Complete(v.Begin(), events); !ok {
		return nil, errors.AssertionFailedf("fresh run reported stale")
	}
	return v, nil
}

type stepColors struct {
	index, call, ret, value, dim *color.Color
}

func newStepColors(enabled bool) stepColors {
	c := stepColors{
		index: color.New(color.Faint),
		call:  color.New(color.FgGreen),
		ret:   color.New(color.FgYellow),
		value: color.New(color.FgCyan, color.Bold),
		dim:   color.New(color.Faint),
	}
	for _, col := range []*color.Color{c.index, c.call, c.ret, c.value, c.dim} {
		if enabled {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// writeSteps prints one line per step, indented by call depth, followed by
// the active node and edge.
func writeSteps(w io.Writer, v *visualizer.TraceVisualizer, c stepColors) error {
	snap := v.Snapshot()
	if snap.Empty() {
		_, err := fmt.Fprintln(w, c.dim.Sprint("(no steps)"))
		return err
	}
	width := len(fmt.Sprint(snap.TotalSteps - 1))
	for i, ev := range snap.Trace {
		v.Do(playback.Seek(i))
		f := v.Frame()

		indent := strings.Repeat("  ", max(ev.Depth, 0))
		var what string
		switch ev.Kind {
		case trace.KindCall:
			what = c.call.Sprint("call   ") + indent + ev.Signature()
		default:
			what = c.ret.Sprint("return ") + indent + returnLabel(snap.Graph, ev)
			if ev.HasValue {
				what += " " + c.value.Sprint("=> "+trace.FormatValue(ev.Value))
			}
		}
		where := "node=" + string(f.ActiveNode)
		if f.ActiveEdge != "" {
			where += " edge=" + string(f.ActiveEdge)
		}
		if _, err := fmt.Fprintf(w, "%s  %s  %s\n", c.index.Sprintf("%*d", width, i), what, c.dim.Sprint(where)); err != nil {
			return err
		}
	}
	for _, d := range snap.Diagnostics {
		if _, err := fmt.Fprintln(w, c.ret.Sprint("! ")+d.String()); err != nil {
			return err
		}
	}
	return nil
}

// returnLabel names the invocation a return event leaves.
func returnLabel(g *graph.Graph, ev trace.Event) string {
	if n, ok := g.Node(graph.NodeID(ev.ReturnFrom)); ok {
		return n.Signature()
	}
	if ev.Func != "" {
		return ev.Func + "(?)"
	}
	return "?"
}

// stepLine is the JSON form of one step.
type stepLine struct {
	playback.StepView
	Node string `json:"node,omitempty"`
	Edge string `json:"edge,omitempty"`
}

func writeStepsJSON(w io.Writer, v *visualizer.TraceVisualizer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	snap := v.Snapshot()
	for i := 0; i < snap.TotalSteps; i++ {
		v.Do(playback.Seek(i))
		sv, _ := v.Step()
		f := v.Frame()
		if err := enc.Encode(stepLine{StepView: sv, Node: string(f.ActiveNode), Edge: string(f.ActiveEdge)}); err != nil {
			return errors.Wrap(err, "encode step")
		}
	}
	return nil
}
