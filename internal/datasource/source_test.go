package datasource

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleTrace = `[
  {"event": "call", "func": "f", "depth": 0, "args": {"n": 3}},
  {"event": "call", "func": "f", "depth": 1, "args": {"n": 2}},
  {"event": "return", "value": 2},
  {"event": "return", "value": 3}
]`

func writeTrace(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDiscoverFromEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	writeTrace(t, path, sampleTrace)
	t.Setenv("TVZ_TRACE", path)

	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got != path {
		t.Errorf("Discover() = %q, want %q", got, path)
	}
}

func TestDiscoverEnvVarMissing(t *testing.T) {
	t.Setenv("TVZ_TRACE", "/nonexistent/path/trace.json")

	_, err := Discover()
	if err == nil {
		t.Error("Discover should fail when TVZ_TRACE points to nonexistent file")
	}
}

func TestDiscoverFromCWD(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, filepath.Join(dir, "trace.json"), sampleTrace)
	t.Setenv("TVZ_TRACE", "")
	t.Chdir(dir)

	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover from CWD: %v", err)
	}
	if !filepath.IsAbs(got) || filepath.Base(got) != "trace.json" {
		t.Errorf("expected absolute trace.json path, got %q", got)
	}
}

func TestDiscoverFromParentDir(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, ".traceviz", "trace.json")
	writeTrace(t, want, sampleTrace)

	childDir := filepath.Join(dir, "sub", "deep")
	if err := os.MkdirAll(childDir, 0o755); err != nil {
		t.Fatalf("MkdirAll child: %v", err)
	}
	t.Setenv("TVZ_TRACE", "")
	t.Chdir(childDir)

	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover from parent: %v", err)
	}
	// Resolve symlinks for comparison (macOS /var -> /private/var).
	resolvedGot, _ := filepath.EvalSymlinks(got)
	resolvedWant, _ := filepath.EvalSymlinks(want)
	if resolvedGot != resolvedWant {
		t.Errorf("Discover() = %q, want %q", got, want)
	}
}

func TestDiscoverNoTrace(t *testing.T) {
	t.Setenv("TVZ_TRACE", "")
	t.Chdir(t.TempDir())

	if _, err := Discover(); err == nil {
		t.Error("Discover should fail when no trace exists")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	writeTrace(t, path, `[
  {"event": "call", "func": "f", "depth": 0},
  {"event": "call"},
  {"event": "return", "value": null}
]`)

	events, diags, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
	if len(diags) != 1 || diags[0].Index != 1 {
		t.Errorf("expected one diagnostic for event 1, got %v", diags)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, _, err := LoadFile("/nonexistent/trace.json"); err == nil {
		t.Error("LoadFile should fail for a missing file")
	}

	path := filepath.Join(t.TempDir(), "trace.json")
	writeTrace(t, path, `{"event": "call"}`)
	if _, _, err := LoadFile(path); err == nil {
		t.Error("LoadFile should fail for a document that is not an array")
	}
}
