package graph

import "fmt"

// ValidationSeverity indicates whether a validation finding blocks evaluation
// or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks evaluation
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	Module   string             // module path with the problem (empty if top-level)
	Message  string             // human-readable description
	Severity ValidationSeverity // error or warning
}

func (e ValidationError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] module %s: %s", e.Severity, e.Module, e.Message)
}

// ValidationResult bundles errors (blocking) and warnings (advisory).
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// OK reports whether there are no blocking findings.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Validate runs every check and separates errors from warnings. It is
// read-only and never mutates the graph.
func Validate(g *CallGraph) ValidationResult {
	var all []ValidationError
	all = append(all, validateCycles(g)...)
	all = append(all, validateReferences(g)...)
	all = append(all, validateReachable(g)...)

	var result ValidationResult
	for _, e := range all {
		if e.Severity == SeverityWarning {
			result.Warnings = append(result.Warnings, e)
		} else {
			result.Errors = append(result.Errors, e)
		}
	}
	return result
}

// validateCycles checks for recursive instantiation using DFS with 3-color
// marking. White (0) = unvisited, gray (1) = in current DFS path, black (2)
// = fully explored. Reaching a gray module closes a cycle. Every module
// visits its callees in call order, so the reported path is deterministic.
//
// Only unguarded calls reachable from top-level code are followed. A cycle
// through an if or for body is ordinary guarded recursion, and a cycle among
// modules nothing instantiates never runs.
func validateCycles(g *CallGraph) []ValidationError {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int)
	var stack []string
	var errs []ValidationError

	var visit func(path string)
	visit = func(path string) {
		switch color[path] {
		case black:
			return
		case gray:
			start := 0
			for i, p := range stack {
				if p == path {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), stack[start:]...), path)
			errs = append(errs, ValidationError{
				Module:   path,
				Message:  fmt.Sprintf("recursive instantiation: %v", cycle),
				Severity: SeverityError,
			})
			return
		}

		color[path] = gray
		stack = append(stack, path)
		if m := g.Get(path); m != nil {
			for _, c := range m.Calls {
				visit(c)
			}
		}
		stack = stack[:len(stack)-1]
		color[path] = black
	}

	for _, path := range g.Roots {
		if color[path] == white {
			visit(path)
		}
	}
	return errs
}

// validateReferences warns about calls to modules no scope defines. They
// are warnings because a call inside an untaken branch never runs; the
// converter fails with ModuleNotDefined if one does.
func validateReferences(g *CallGraph) []ValidationError {
	var errs []ValidationError
	for _, ref := range g.Undefined {
		errs = append(errs, ValidationError{
			Module:   ref.Caller,
			Message:  fmt.Sprintf("call to undefined module %q", ref.Name),
			Severity: SeverityWarning,
		})
	}
	return errs
}

// validateReachable warns about modules that top-level code never reaches,
// counting guarded calls as reaching.
func validateReachable(g *CallGraph) []ValidationError {
	reachable := make(map[string]bool)
	var queue []string
	for _, r := range append(append([]string(nil), g.Roots...), g.GuardedRoots...) {
		if !reachable[r] {
			reachable[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		m := g.Get(current)
		if m == nil {
			continue
		}
		for _, c := range append(append([]string(nil), m.Calls...), m.Guarded...) {
			if !reachable[c] {
				reachable[c] = true
				queue = append(queue, c)
			}
		}
	}

	var errs []ValidationError
	for _, path := range g.Order {
		if reachable[path] {
			continue
		}
		msg := "module is never instantiated"
		if callers := g.Callers(path); len(callers) > 0 {
			msg = fmt.Sprintf("module is never instantiated; only called from %v", callers)
		}
		errs = append(errs, ValidationError{
			Module:   path,
			Message:  msg,
			Severity: SeverityWarning,
		})
	}
	return errs
}
