package convert

import (
	"math"

	"github.com/chazu/scadcsg/pkg/ast"
	"github.com/chazu/scadcsg/pkg/config"
	"github.com/chazu/scadcsg/pkg/csgerr"
)

// number decodes a finite numeric operand. An absent operand (nil) yields
// def; an explicit undef is an error, so unbound module parameters never
// turn into a silent default.
func number(what string, v ast.Value, def float64) (float64, error) {
	switch t := v.(type) {
	case nil:
		return def, nil
	case ast.Number:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, csgerr.New(csgerr.InvalidParameters, "%s must be finite, got %s", what, t)
		}
		return f, nil
	case ast.Undef:
		return 0, csgerr.New(csgerr.InvalidParameters, "%s is undefined", what)
	case ast.Ref:
		return 0, csgerr.New(csgerr.InvalidParameters, "%s refers to unbound name %q", what, string(t))
	default:
		return 0, csgerr.New(csgerr.InvalidParameters, "%s must be a number, got %s", what, v)
	}
}

// optionalNumber is number for operands with no default. ok is false when
// the operand is absent.
func optionalNumber(what string, v ast.Value) (f float64, ok bool, err error) {
	if v == nil {
		return 0, false, nil
	}
	f, err = number(what, v, 0)
	return f, err == nil, err
}

// flag decodes a boolean operand. Absent is false.
func flag(what string, v ast.Value) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case ast.Bool:
		return bool(t), nil
	case ast.Undef:
		return false, csgerr.New(csgerr.InvalidParameters, "%s is undefined", what)
	default:
		return false, csgerr.New(csgerr.InvalidParameters, "%s must be true or false, got %s", what, v)
	}
}

// vector decodes a Vector of numbers with between minLen and 3 elements.
// Missing trailing components take fill.
func vector(what string, v ast.Value, minLen int, fill float64) ([3]float64, error) {
	out := [3]float64{fill, fill, fill}
	vec, ok := v.(ast.Vector)
	if !ok {
		if ast.IsUnset(v) {
			return out, csgerr.New(csgerr.InvalidParameters, "%s is undefined", what)
		}
		return out, csgerr.New(csgerr.InvalidParameters, "%s must be a vector, got %s", what, v)
	}
	if len(vec) < minLen || len(vec) > 3 {
		return out, csgerr.New(csgerr.InvalidParameters, "%s must have %d to 3 components, got %d", what, minLen, len(vec))
	}
	for i, e := range vec {
		if e == nil {
			return out, csgerr.New(csgerr.InvalidParameters, "%s component %d is missing", what, i)
		}
		f, err := number(what, e, 0)
		if err != nil {
			return out, err
		}
		out[i] = f
	}
	return out, nil
}

// scalarOrVector accepts a Number, applied to every axis, or a vector.
func scalarOrVector(what string, v ast.Value, minLen int, fill float64) ([3]float64, error) {
	if n, ok := v.(ast.Number); ok {
		f, err := number(what, n, 0)
		return [3]float64{f, f, f}, err
	}
	return vector(what, v, minLen, fill)
}

// fragments decodes a $fn operand. Absent or zero defers to the configured
// defaults.
func fragments(v ast.Value) (int, error) {
	if v == nil {
		return 0, nil
	}
	f, err := number("$fn", v, 0)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > config.MaxFragments {
		return 0, csgerr.New(csgerr.InvalidParameters, "$fn must be between 0 and %d, got %g", config.MaxFragments, f)
	}
	return int(f), nil
}

func positive(what string, f float64) error {
	if !(f > 0) {
		return csgerr.New(csgerr.InvalidParameters, "%s must be positive, got %g", what, f)
	}
	return nil
}
