// tvz turns function call/return traces into a navigable call-tree diagram.
//
// Usage:
//
//	tvz view                       # Auto-discover a trace and open the TUI
//	tvz view trace.json            # View a specific trace file
//	tvz view --exec fib.py         # Run fib.py on the execution service and view it
//	tvz steps trace.json           # Print the playback steps
//	tvz export --step 3 a.json     # Write the scene at step 3 as JSON
//	tvz version                    # Print version and exit
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/daviddao/traceviz/internal/config"
	"github.com/daviddao/traceviz/internal/visualizer"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "tvz",
	Short:         "Execution trace call-tree visualizer",
	Long:          `tvz lays out the call tree of an execution trace and steps through it call by call`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.Version = Version

	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(stepsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("config", "", "path to .traceviz.toml (default: search from the working directory)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file")

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrf("tvz: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config and applies the global flag
// overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, errors.Wrap(err, "failed to get config flag")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File, _ = cmd.Flags().GetString("log-file")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to the configured file, or to
// fallback when none is set. The returned closer releases the file.
func newLogger(cfg config.Config, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	out, closer := fallback, io.Closer(nopCloser{})
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open log file")
		}
		out, closer = f, f
	}
	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// visualizerOptions maps the config onto the engine.
func visualizerOptions(cfg config.Config, logger *slog.Logger) (visualizer.Options, error) {
	strategy, err := cfg.LayoutStrategy()
	if err != nil {
		return visualizer.Options{}, err
	}
	return visualizer.Options{
		Layout:        strategy,
		LayoutOptions: cfg.LayoutOptions(),
		PaletteSize:   cfg.View.PaletteSize,
		Palette:       cfg.View.Palette,
		Viewport:      cfg.ViewportOptions(),
		Logger:        logger,
	}, nil
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
