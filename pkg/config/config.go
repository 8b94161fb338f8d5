// Package config holds the pipeline settings and their environment
// overrides. Each field names its variable in an env struct tag.
package config

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by the kernel loader table.
const (
	BackendBSP      = "bsp"
	BackendSDFX     = "sdfx"
	BackendManifold = "manifold"
)

// MaxFragments bounds the segment count of any circle.
const MaxFragments = 1 << 16

// Config is the pipeline configuration.
type Config struct {
	Backend string `env:"SCADCSG_BACKEND"`

	// Fragment defaults, in OpenSCAD's $fn/$fa/$fs sense.
	FN int     `env:"SCADCSG_FN"`
	FA float64 `env:"SCADCSG_FA"`
	FS float64 `env:"SCADCSG_FS"`

	// ScaleEpsilon is the magnitude below which a scale component is
	// treated as zero.
	ScaleEpsilon float64 `env:"SCADCSG_SCALE_EPSILON"`

	// MaxDepth bounds module instantiation nesting.
	MaxDepth int `env:"SCADCSG_MAX_DEPTH"`

	EvalTimeout time.Duration `env:"SCADCSG_EVAL_TIMEOUT"`

	LogLevel  string `env:"SCADCSG_LOG_LEVEL"`
	LogFormat string `env:"SCADCSG_LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:      BackendBSP,
		FN:           0,
		FA:           12,
		FS:           2,
		ScaleEpsilon: 1e-9,
		MaxDepth:     256,
		EvalTimeout:  5 * time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// FromEnv returns Default overridden by any variables lookup finds. Pass
// os.LookupEnv for the process environment.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	v := reflect.ValueOf(&cfg).Elem()
	t := v.Type()
	for i := range t.NumField() {
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup(name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := set(v.Field(i), strings.TrimSpace(raw)); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the process environment.
func Load() (Config, error) {
	return FromEnv(os.LookupEnv)
}

func set(f reflect.Value, raw string) error {
	switch f.Interface().(type) {
	case time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
		return nil
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case reflect.Float64:
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		f.SetFloat(x)
	default:
		return fmt.Errorf("unsupported field kind %s", f.Kind())
	}
	return nil
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendBSP, BackendSDFX, BackendManifold:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.FN < 0 || c.FN > MaxFragments {
		return fmt.Errorf("config: $fn must be between 0 and %d, got %d", MaxFragments, c.FN)
	}
	if !(c.FA > 0) || !(c.FS > 0) {
		return fmt.Errorf("config: $fa and $fs must be positive, got %g and %g", c.FA, c.FS)
	}
	if !(c.ScaleEpsilon >= 0) {
		return fmt.Errorf("config: scale epsilon must not be negative, got %g", c.ScaleEpsilon)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("config: max depth must be at least 1, got %d", c.MaxDepth)
	}
	if c.EvalTimeout <= 0 {
		return fmt.Errorf("config: eval timeout must be positive, got %s", c.EvalTimeout)
	}
	return nil
}

// Fragments returns the number of segments for a circle of radius r.
// fn, fa and fs follow OpenSCAD's special variables: a positive fn wins,
// otherwise the count comes from the maximum angle fa (degrees) and the
// minimum edge length fs. The result never exceeds MaxFragments.
func Fragments(r float64, fn int, fa, fs float64) int {
	if r < 1e-10 {
		return 3
	}
	if fn > 0 {
		return min(max(fn, 3), MaxFragments)
	}
	n := math.Ceil(math.Max(math.Min(360/fa, 2*math.Pi*r/fs), 5))
	if !(n <= MaxFragments) {
		return MaxFragments
	}
	return int(n)
}

// Fragments applies the configured defaults, letting a per-node fn
// override them.
func (c Config) Fragments(r float64, fn int) int {
	if fn <= 0 {
		fn = c.FN
	}
	return Fragments(r, fn, c.FA, c.FS)
}
