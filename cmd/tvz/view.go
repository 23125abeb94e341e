package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/daviddao/traceviz/internal/config"
	"github.com/daviddao/traceviz/internal/datasource"
	"github.com/daviddao/traceviz/internal/graph"
	"github.com/daviddao/traceviz/internal/layout"
	"github.com/daviddao/traceviz/internal/scene"
	"github.com/daviddao/traceviz/internal/snapshot"
	"github.com/daviddao/traceviz/internal/trace"
	"github.com/daviddao/traceviz/internal/viewport"
	"github.com/daviddao/traceviz/internal/visualizer"
)

func init() {
	viewCmd.Flags().String("exec", "", "run this source file on the execution service instead of reading a trace")
	viewCmd.Flags().String("language", "", "language of the --exec source (default from config)")
	viewCmd.Flags().String("stdin", "", "text passed to the program's standard input")
	viewCmd.Flags().String("service", "", "execution service URL (default from config)")
	viewCmd.Flags().Bool("watch", true, "reload when the trace or source file changes")
}

var viewCmd = &cobra.Command{
	Use:   "view [trace.json]",
	Short: "Open the interactive call-tree viewer",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runView,
}

// runSource produces the events of one run.
type runSource interface {
	Load(ctx context.Context) ([]trace.Event, []trace.Diagnostic, error)
	// Name is shown in the title bar.
	Name() string
	// WatchPath is the file whose changes trigger a new run.
	WatchPath() string
}

// fileSource reads a trace file.
type fileSource struct {
	path string
}

func (s fileSource) Load(context.Context) ([]trace.Event, []trace.Diagnostic, error) {
	return datasource.LoadFile(s.path)
}

func (s fileSource) Name() string      { return filepath.Base(s.path) }
func (s fileSource) WatchPath() string { return s.path }

// execSource sends a source file to the execution service. The file is read
// again on every run so edits are picked up.
type execSource struct {
	client   *datasource.Client
	path     string
	language string
	stdin    string
}

func (s execSource) Load(ctx context.Context) ([]trace.Event, []trace.Diagnostic, error) {
	code, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", s.path)
	}
	return s.client.Execute(ctx, datasource.ExecuteRequest{
		Code:     string(code),
		Language: s.language,
		Stdin:    s.stdin,
	})
}

func (s execSource) Name() string      { return filepath.Base(s.path) + " (" + s.language + ")" }
func (s execSource) WatchPath() string { return s.path }

// newSource picks the run source from the view flags and arguments.
func newSource(cmd *cobra.Command, cfg config.Config, args []string) (runSource, error) {
	execPath, _ := cmd.Flags().GetString("exec")
	if execPath == "" {
		if len(args) == 1 {
			return fileSource{path: args[0]}, nil
		}
		path, err := datasource.Discover()
		if err != nil {
			return nil, err
		}
		return fileSource{path: path}, nil
	}
	if len(args) > 0 {
		return nil, errors.New("--exec and a trace file are mutually exclusive")
	}

	language, _ := cmd.Flags().GetString("language")
	if language == "" {
		language = cfg.Service.Language
	}
	url, _ := cmd.Flags().GetString("service")
	if url == "" {
		url = cfg.Service.URL
	}
	stdin, _ := cmd.Flags().GetString("stdin")
	abs, err := filepath.Abs(execPath)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", execPath)
	}
	return execSource{
		client:   datasource.NewClient(url, cfg.Service.Timeout.Duration),
		path:     abs,
		language: language,
		stdin:    stdin,
	}, nil
}

// measureLabels sizes each box so its label fits on screen at zoom.
func measureLabels(zoom float64) snapshot.MeasureFunc {
	if zoom <= 0 {
		zoom = viewport.DefaultZoom
	}
	return func(n graph.Node) (w, h float64) {
		cols := runewidth.StringWidth(scene.Label(n)) + 4
		return max(layout.DefaultNodeWidth, float64(cols)*cellWidth/zoom), layout.DefaultNodeHeight
	}
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("watch") {
		cfg.View.Watch, _ = cmd.Flags().GetBool("watch")
	}

	// The TUI owns the terminal, so logs only go somewhere when a file is set.
	logger, closer, err := newLogger(cfg, io.Discard)
	if err != nil {
		return err
	}
	defer closer.Close()

	src, err := newSource(cmd, cfg, args)
	if err != nil {
		return err
	}

	opts, err := visualizerOptions(cfg, logger)
	if err != nil {
		return err
	}
	opts.Measure = measureLabels(opts.Viewport.Zoom)
	vis := visualizer.New(opts)

	var w *datasource.Watcher
	if cfg.View.Watch {
		w, err = datasource.NewWatcher(src.WatchPath(), logger)
		if err != nil {
			return errors.Wrap(err, "watch")
		}
	}

	m := newModel(vis, src, logger)
	m.fps = cfg.Viewport.FPS
	if opts.Viewport.Zoom > 0 {
		m.cam.Zoom = opts.Viewport.Zoom
	}
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Feed file change events into the TUI.
	if w != nil {
		go func() {
			for range w.Changes() {
				p.Send(sourceChangedMsg{})
			}
		}()
	}

	logger.Info("viewer started", "source", src.Name(), "watch", cfg.View.Watch)
	if _, err := p.Run(); err != nil {
		return err
	}
	if w != nil {
		if err := w.Close(); err != nil {
			logger.Warn("closing watcher", "err", err)
		}
	}
	return nil
}

// logDecodeDiagnostics reports events the decoder skipped.
func logDecodeDiagnostics(logger *slog.Logger, diags []trace.Diagnostic) {
	for _, d := range diags {
		logger.Warn("trace diagnostic", "diag", d)
	}
}
