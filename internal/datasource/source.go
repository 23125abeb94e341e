// Package datasource finds and loads execution traces, watches trace files
// for changes and talks to the code-execution service.
package datasource

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/daviddao/traceviz/internal/trace"
)

const (
	envTrace     = "TVZ_TRACE"
	defaultTrace = "trace.json"
	projectTrace = ".traceviz/trace.json"
)

// Discover finds a trace file.
// Priority: TVZ_TRACE env var > trace.json in CWD > .traceviz/trace.json in
// CWD or any parent.
func Discover() (string, error) {
	if env := os.Getenv(envTrace); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", errors.Wrapf(err, "%s=%q", envTrace, env)
		}
		return env, nil
	}

	if _, err := os.Stat(defaultTrace); err == nil {
		abs, err := filepath.Abs(defaultTrace)
		if err != nil {
			return "", errors.Wrapf(err, "resolve absolute path for %s", defaultTrace)
		}
		return abs, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "get working directory")
	}
	for {
		candidate := filepath.Join(dir, projectTrace)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.Newf("no trace found (looked for $%s, %s and %s)", envTrace, defaultTrace, projectTrace)
}

// LoadFile reads and decodes a complete trace file. Malformed events are
// returned as diagnostics, not errors.
func LoadFile(path string) ([]trace.Event, []trace.Diagnostic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open trace %s", path)
	}
	defer f.Close()

	events, diags, err := trace.Decode(f)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load %s", path)
	}
	return events, diags, nil
}
