package ast

import (
	"strconv"
	"strings"
)

// Value is an operand: a literal, a vector of operands, the undefined
// value, or a reference to a module parameter.
type Value interface {
	String() string
	value()
}

// Number is a numeric literal.
type Number float64

// Vector is an ordered list of values, e.g. [2, 3, 4].
type Vector []Value

// Bool is a boolean literal.
type Bool bool

// String is a string literal.
type String string

// Undef is OpenSCAD's undefined value. Unbound parameters resolve to it.
type Undef struct{}

// Ref names a parameter or variable to be resolved by substitution.
type Ref string

func (Number) value() {}
func (Vector) value() {}
func (Bool) value()   {}
func (String) value() {}
func (Undef) value()  {}
func (Ref) value()    {}

func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'g', -1, 64)
}

func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, e := range v {
		if e == nil {
			parts[i] = "undef"
			continue
		}
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (b Bool) String() string {
	return strconv.FormatBool(bool(b))
}

func (s String) String() string {
	return strconv.Quote(string(s))
}

func (Undef) String() string {
	return "undef"
}

func (r Ref) String() string {
	return string(r)
}

// Vec3 builds a Vector from three numbers.
func Vec3(x, y, z float64) Vector {
	return Vector{Number(x), Number(y), Number(z)}
}

// IsUnset reports whether v carries no value: nil or Undef.
func IsUnset(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Undef)
	return ok
}
