package ast

import (
	"github.com/chazu/scadcsg/pkg/csgerr"
)

// Walk visits n and everything beneath it in source order: geometry
// children, module bodies and control-flow bodies. Returning false from fn
// skips the node's descendants.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
	for _, c := range bodies(n) {
		Walk(c, fn)
	}
}

func bodies(n Node) []Node {
	switch v := n.(type) {
	case *ModuleDef:
		return v.Body
	case *For:
		return v.Body
	case *If:
		out := make([]Node, 0, len(v.Then)+len(v.Else))
		out = append(out, v.Then...)
		return append(out, v.Else...)
	}
	return nil
}

// Validate checks the structural invariants of the tree rooted at n:
// transforms wrap exactly one child, booleans have at least one child,
// module definitions are named and their parameter names are unique.
// The first violation is returned as an InvalidParameters error.
func Validate(n Node) error {
	var err error
	Walk(n, func(n Node) bool {
		if err != nil {
			return false
		}
		err = validateNode(n)
		return err == nil
	})
	return err
}

func validateNode(n Node) error {
	k := n.Kind()
	switch {
	case k.IsTransform():
		if len(Children(n)) != 1 {
			return csgerr.New(csgerr.InvalidParameters, "%s requires exactly one child", k)
		}
	case k.IsBoolean():
		if len(Children(n)) == 0 {
			return csgerr.New(csgerr.InvalidParameters, "%s requires at least one child", k)
		}
		for i, c := range Children(n) {
			if c == nil {
				return csgerr.New(csgerr.InvalidParameters, "%s child %d is nil", k, i)
			}
		}
	}

	switch v := n.(type) {
	case *ModuleDef:
		if v.Name == "" {
			return csgerr.New(csgerr.InvalidParameters, "module definition has no name")
		}
		seen := make(map[string]bool, len(v.Params))
		for _, p := range v.Params {
			if seen[p.Name] {
				return csgerr.New(csgerr.InvalidParameters,
					"module %q declares parameter %q twice", v.Name, p.Name)
			}
			seen[p.Name] = true
		}
	case *ModuleCall:
		if v.Name == "" {
			return csgerr.New(csgerr.InvalidParameters, "module call has no name")
		}
	}
	return nil
}
