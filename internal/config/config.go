// Package config loads traceviz settings from .traceviz.toml with TVZ_*
// environment overrides.
package config

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/daviddao/traceviz/internal/datasource"
	"github.com/daviddao/traceviz/internal/layout"
	"github.com/daviddao/traceviz/internal/viewport"
)

// FileName is the config file looked for in the working directory and its
// parents.
const FileName = ".traceviz.toml"

// Duration is a time.Duration written as a string ("800ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Service locates the execution service used by view --exec.
type Service struct {
	URL      string   `toml:"url"`
	Language string   `toml:"language"`
	Timeout  Duration `toml:"timeout"`
}

// Layout selects the layout strategy and its spacing.
type Layout struct {
	Strategy    string  `toml:"strategy"`
	Direction   string  `toml:"direction"`
	NodeSpacing float64 `toml:"node_spacing"`
	RankSpacing float64 `toml:"rank_spacing"`
}

// Viewport tunes camera transitions.
type Viewport struct {
	Zoom     float64  `toml:"zoom"`
	Duration Duration `toml:"duration"`
	FPS      int      `toml:"fps"`
}

// View holds terminal viewer settings.
type View struct {
	PaletteSize int      `toml:"palette_size"`
	Palette     []string `toml:"palette"`
	Watch       bool     `toml:"watch"`
}

// Log configures the slog handler. An empty File discards records in the
// viewer and writes to stderr elsewhere.
type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Config is the full set of settings.
type Config struct {
	Service  Service  `toml:"service"`
	Layout   Layout   `toml:"layout"`
	Viewport Viewport `toml:"viewport"`
	View     View     `toml:"view"`
	Log      Log      `toml:"log"`

	// Path is the file the config was read from, empty for defaults.
	Path string `toml:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	lo := layout.DefaultOptions()
	return Config{
		Service: Service{
			URL:      "http://localhost:8080",
			Language: "python",
			Timeout:  Duration{datasource.DefaultTimeout},
		},
		Layout: Layout{
			Strategy:    "layered",
			Direction:   lo.Direction.String(),
			NodeSpacing: lo.NodeSpacing,
			RankSpacing: lo.RankSpacing,
		},
		Viewport: Viewport{
			Zoom:     viewport.DefaultZoom,
			Duration: Duration{viewport.DefaultDuration},
			FPS:      viewport.DefaultFPS,
		},
		View: View{PaletteSize: 6, Watch: true},
		Log:  Log{Level: "info"},
	}
}

// Find walks up from dir looking for FileName. ok is false when there is
// none.
func Find(dir string) (path string, ok bool, err error) {
	if dir == "" {
		dir = "."
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", false, errors.Wrap(err, "resolve start directory")
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", false, errors.Wrapf(err, "stat %q", candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// Load reads the config at path on top of the defaults, then applies
// environment overrides. An empty path searches from the working directory;
// finding nothing there is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		found, ok, err := Find(".")
		if err != nil {
			return Config{}, err
		}
		if ok {
			path = found
		}
	}
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s: failed to parse TOML", path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, errors.Newf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
		cfg.Path = path
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		if cfg.Path != "" {
			return Config{}, errors.Wrap(err, cfg.Path)
		}
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from TVZ_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("TVZ_SERVICE_URL", &c.Service.URL)
	str("TVZ_LANGUAGE", &c.Service.Language)
	str("TVZ_LAYOUT", &c.Layout.Strategy)
	str("TVZ_DIRECTION", &c.Layout.Direction)
	str("TVZ_LOG_LEVEL", &c.Log.Level)
	str("TVZ_LOG_FILE", &c.Log.File)

	if v := getenv("TVZ_TIMEOUT"); v != "" {
		if err := c.Service.Timeout.UnmarshalText([]byte(v)); err != nil {
			return errors.Wrapf(err, "TVZ_TIMEOUT=%q", v)
		}
	}
	if v := getenv("TVZ_ZOOM"); v != "" {
		z, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "TVZ_ZOOM=%q", v)
		}
		c.Viewport.Zoom = z
	}
	if v := getenv("TVZ_WATCH"); v != "" {
		w, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "TVZ_WATCH=%q", v)
		}
		c.View.Watch = w
	}
	return nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	if _, err := layout.ByName(c.Layout.Strategy); err != nil {
		return errors.Wrap(err, "[layout].strategy")
	}
	if _, err := layout.ParseDirection(c.Layout.Direction); err != nil {
		return errors.Wrap(err, "[layout].direction")
	}
	if c.Layout.NodeSpacing < 0 || c.Layout.RankSpacing < 0 {
		return errors.New("[layout]: spacing must not be negative")
	}
	if c.Viewport.Zoom <= 0 {
		return errors.Newf("[viewport].zoom must be positive, got %g", c.Viewport.Zoom)
	}
	if d := c.Viewport.Duration.Duration; d < 0 || d > viewport.MaxDuration {
		return errors.Newf("[viewport].duration must be within [0, %s], got %s", viewport.MaxDuration, d)
	}
	if c.Viewport.FPS <= 0 {
		return errors.Newf("[viewport].fps must be positive, got %d", c.Viewport.FPS)
	}
	if c.View.PaletteSize <= 0 {
		return errors.Newf("[view].palette_size must be positive, got %d", c.View.PaletteSize)
	}
	if c.Service.Timeout.Duration <= 0 {
		return errors.Newf("[service].timeout must be positive, got %s", c.Service.Timeout.Duration)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "[log].level")
	}
	return nil
}

// LayoutStrategy resolves the configured strategy.
func (c *Config) LayoutStrategy() (layout.Strategy, error) {
	return layout.ByName(c.Layout.Strategy)
}

// LayoutOptions converts the layout section. Call Validate first; an invalid
// direction falls back to top-to-bottom.
func (c *Config) LayoutOptions() layout.Options {
	dir, _ := layout.ParseDirection(c.Layout.Direction)
	return layout.Options{
		Direction:   dir,
		NodeSpacing: c.Layout.NodeSpacing,
		RankSpacing: c.Layout.RankSpacing,
	}
}

// ViewportOptions converts the viewport section.
func (c *Config) ViewportOptions() viewport.Options {
	d := c.Viewport.Duration.Duration
	if d == 0 {
		// Zero means "jump"; viewport treats zero as "use the default".
		d = time.Nanosecond
	}
	return viewport.Options{
		Zoom:     c.Viewport.Zoom,
		Duration: d,
		FPS:      c.Viewport.FPS,
	}
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Newf("unknown log level %q (expected: debug|info|warn|error)", s)
	}
	return l, nil
}
