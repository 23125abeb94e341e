package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daviddao/traceviz/internal/config"
	"github.com/daviddao/traceviz/internal/visualizer"
)

func writeTrace(t *testing.T, dir, name, raw string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	return path
}

func loadScenario(t *testing.T) *visualizer.TraceVisualizer {
	t.Helper()
	path := writeTrace(t, t.TempDir(), "trace.json", scenarioTrace)
	v, err := loadVisualizer(config.Default(), slog.New(slog.DiscardHandler), path)
	require.NoError(t, err)
	return v
}

func TestWriteSteps(t *testing.T) {
	v := loadScenario(t)
	var buf bytes.Buffer
	require.NoError(t, writeSteps(&buf, v, newStepColors(false)))

	want := strings.Join([]string{
		"0  call   f(n=3)  node=n0",
		"1  call     f(n=2)  node=n1 edge=call:n0->n1",
		"2  return   f(n=2) => 2  node=n0 edge=return:n1->n0",
		"3  return f(n=3) => 3  node=n0",
	}, "\n") + "\n"
	require.Equal(t, want, buf.String())
}

func TestWriteStepsColor(t *testing.T) {
	v := loadScenario(t)
	var plain, colored bytes.Buffer
	require.NoError(t, writeSteps(&plain, v, newStepColors(false)))
	require.NoError(t, writeSteps(&colored, v, newStepColors(true)))
	require.NotContains(t, plain.String(), "\x1b[")
	require.Contains(t, colored.String(), "\x1b[")
}

func TestWriteStepsDiagnostics(t *testing.T) {
	path := writeTrace(t, t.TempDir(), "bad.json", `[
  {"event": "return", "value": 1},
  {"event": "call", "func": "g", "depth": 0, "args": {}}
]`)
	v, err := loadVisualizer(config.Default(), slog.New(slog.DiscardHandler), path)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeSteps(&buf, v, newStepColors(false)))
	out := buf.String()
	require.Contains(t, out, "call   g()")
	require.Contains(t, out, "! ")
}

func TestWriteStepsEmpty(t *testing.T) {
	path := writeTrace(t, t.TempDir(), "empty.json", `[]`)
	v, err := loadVisualizer(config.Default(), slog.New(slog.DiscardHandler), path)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeSteps(&buf, v, newStepColors(false)))
	require.Equal(t, "(no steps)\n", buf.String())
}

func TestWriteStepsJSON(t *testing.T) {
	v := loadScenario(t)
	var buf bytes.Buffer
	require.NoError(t, writeStepsJSON(&buf, v))
	require.Contains(t, buf.String(), `"edge":"return:n1->n0"`)

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)
	require.Equal(t, "call", lines[0]["type"])
	require.Equal(t, "f", lines[0]["functionName"])
	require.Equal(t, "n0", lines[0]["node"])
	require.NotContains(t, lines[0], "edge")
	require.Equal(t, "return", lines[2]["type"])
	require.Equal(t, float64(2), lines[2]["returnValue"])
	require.Equal(t, "return:n1->n0", lines[2]["edge"])
}

func TestLoadVisualizerMissingFile(t *testing.T) {
	_, err := loadVisualizer(config.Default(), slog.New(slog.DiscardHandler), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestTracePath(t *testing.T) {
	p, err := tracePath([]string{"a.json"})
	require.NoError(t, err)
	require.Equal(t, "a.json", p)

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TVZ_TRACE", "")
	_, err = tracePath(nil)
	require.Error(t, err)
}
