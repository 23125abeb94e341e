package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daviddao/traceviz/internal/config"
	"github.com/daviddao/traceviz/internal/playback"
	"github.com/daviddao/traceviz/internal/scene"
)

var (
	exportStep   int
	exportAll    bool
	exportFormat string
	exportOut    string
)

func init() {
	exportCmd.Flags().IntVar(&exportStep, "step", 0, "step to export; negative counts from the end")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every step, one scene after another")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "scene encoding (json|msgpack)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write <name>.scene.<format> files into this directory")
}

var exportCmd = &cobra.Command{
	Use:   "export [trace.json...]",
	Short: "Write the render scene of one or more traces",
	Long: `export builds the call graph of each trace and writes the scene a render
surface would draw. Several traces are processed concurrently and need --out.`,
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

		format, err := scene.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		paths := args
		if len(paths) == 0 {
			p, err := tracePath(nil)
			if err != nil {
				return err
			}
			paths = []string{p}
		}
		if len(paths) > 1 && exportOut == "" {
			return errors.New("exporting several traces needs --out")
		}

		e := exporter{
			cfg:    cfg,
			logger: logger,
			format: format,
			step:   exportStep,
			all:    exportAll,
		}
		if exportOut == "" {
			w := bufio.NewWriter(cmd.OutOrStdout())
			if err := e.export(w, paths[0]); err != nil {
				return err
			}
			return w.Flush()
		}
		if err := os.MkdirAll(exportOut, 0o755); err != nil {
			return errors.Wrap(err, "create output directory")
		}
		return e.exportAll(cmd.Context(), paths, exportOut)
	},
}

// exporter writes scenes for traces. Each trace gets its own visualizer, so
// traces can be exported in parallel.
type exporter struct {
	cfg    config.Config
	logger *slog.Logger
	format scene.Format
	step   int
	all    bool
}

func (e exporter) export(w io.Writer, path string) error {
	v, err := loadVisualizer(e.cfg, e.logger, path)
	if err != nil {
		return err
	}
	if !e.all {
		step := e.step
		if step < 0 {
			step += v.State().Len
		}
		v.Do(playback.Seek(step))
		return scene.Encode(w, v.Scene(), e.format)
	}
	for i := 0; i < v.State().Len; i++ {
		v.Do(playback.Seek(i))
		if err := scene.Encode(w, v.Scene(), e.format); err != nil {
			return err
		}
	}
	return nil
}

// outputName maps trace.json to trace.scene.json.
func outputName(path string, format scene.Format) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return base + ".scene." + string(format)
}

func (e exporter) exportAll(ctx context.Context, paths []string, dir string) error {
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		name := outputName(p, e.format)
		if prev, ok := seen[name]; ok {
			return errors.Newf("%s and %s both export to %s", prev, p, name)
		}
		seen[name] = p
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out := filepath.Join(dir, outputName(p, e.format))
			if err := e.exportFile(p, out); err != nil {
				return errors.Wrapf(err, "export %s", p)
			}
			e.logger.Info("exported", "trace", p, "out", out)
			return nil
		})
	}
	return g.Wait()
}

func (e exporter) exportFile(path, out string) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	if err := e.export(w, path); err != nil {
		return err
	}
	return w.Flush()
}
