// Package diag scrapes transform operands from OpenSCAD source text and
// compares them with a structured syntax tree. It is a debugging aid for
// front ends whose AST fields are suspect; conversion never consults it.
package diag

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/chazu/scadcsg/pkg/ast"
)

// ScaleFactor is one scale(...) call found in source text. Parsed is false
// when the operand is not a numeric literal, e.g. a variable or expression.
type ScaleFactor struct {
	Line    int
	Text    string
	Factors [3]float64
	Parsed  bool
}

var (
	scaleCall    = regexp.MustCompile(`\bscale\s*\(\s*(\[[^\]]*\]|[^()]*)\s*\)`)
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// ScaleFactors returns the scale calls in source in text order. Comments
// are ignored; line numbers survive block comments.
func ScaleFactors(source string) []ScaleFactor {
	src := blockComment.ReplaceAllStringFunc(source, func(c string) string {
		return strings.Repeat("\n", strings.Count(c, "\n"))
	})
	src = lineComment.ReplaceAllString(src, "")

	var out []ScaleFactor
	for _, m := range scaleCall.FindAllStringSubmatchIndex(src, -1) {
		operand := strings.TrimSpace(src[m[2]:m[3]])
		sf := ScaleFactor{
			Line: 1 + strings.Count(src[:m[0]], "\n"),
			Text: operand,
		}
		sf.Factors, sf.Parsed = parseFactors(operand)
		out = append(out, sf)
	}
	return out
}

// parseFactors reads a scalar or a 2- or 3-element vector of literals.
// A missing z defaults to 1.
func parseFactors(s string) ([3]float64, bool) {
	f := [3]float64{1, 1, 1}
	if !strings.HasPrefix(s, "[") {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return f, false
		}
		return [3]float64{v, v, v}, true
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"), ",")
	if len(parts) < 2 || len(parts) > 3 {
		return f, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return f, false
		}
		f[i] = v
	}
	return f, true
}

// Mismatch is a disagreement between source text and the AST.
type Mismatch struct {
	Index  int // position among scale calls, in text and preorder alike
	Line   int
	Text   string
	Source [3]float64
	AST    [3]float64
	Reason string
}

func (m Mismatch) String() string {
	if m.Line > 0 {
		return fmt.Sprintf("scale #%d (line %d, %q): %s", m.Index, m.Line, m.Text, m.Reason)
	}
	return fmt.Sprintf("scale #%d: %s", m.Index, m.Reason)
}

// tolerance for comparing literal factors.
const tolerance = 1e-9

// CrossCheck compares the scale calls in source with the Scale nodes of
// nodes, visited in preorder. Calls whose text or AST operand is not a
// literal are skipped. A count difference is reported once, after the
// pairwise comparison of the common prefix.
func CrossCheck(source string, nodes []ast.Node) []Mismatch {
	text := ScaleFactors(source)

	var scales []*ast.Scale
	for _, n := range nodes {
		ast.Walk(n, func(n ast.Node) bool {
			if s, ok := n.(*ast.Scale); ok {
				scales = append(scales, s)
			}
			return true
		})
	}

	var out []Mismatch
	for i := 0; i < len(text) && i < len(scales); i++ {
		sf := text[i]
		if !sf.Parsed {
			continue
		}
		f, ok := literalFactors(scales[i].V)
		if !ok {
			continue
		}
		for axis := range f {
			if math.Abs(f[axis]-sf.Factors[axis]) > tolerance {
				out = append(out, Mismatch{
					Index:  i,
					Line:   sf.Line,
					Text:   sf.Text,
					Source: sf.Factors,
					AST:    f,
					Reason: fmt.Sprintf("source has %v, tree has %v", sf.Factors, f),
				})
				break
			}
		}
	}
	if len(text) != len(scales) {
		out = append(out, Mismatch{
			Index:  min(len(text), len(scales)),
			Reason: fmt.Sprintf("source has %d scale calls, tree has %d scale nodes", len(text), len(scales)),
		})
	}
	return out
}

// literalFactors mirrors the converter's reading of a scale operand for
// literal values only.
func literalFactors(v ast.Value) ([3]float64, bool) {
	switch x := v.(type) {
	case nil:
		return [3]float64{1, 1, 1}, true
	case ast.Number:
		f := float64(x)
		return [3]float64{f, f, f}, true
	case ast.Vector:
		if len(x) < 2 || len(x) > 3 {
			return [3]float64{}, false
		}
		f := [3]float64{1, 1, 1}
		for i, e := range x {
			n, ok := e.(ast.Number)
			if !ok {
				return [3]float64{}, false
			}
			f[i] = float64(n)
		}
		return f, true
	}
	return [3]float64{}, false
}
