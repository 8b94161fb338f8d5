//go:build !manifold

// Package manifold provides a CGo-based geometry kernel binding to the
// Manifold library. When the "manifold" build tag is not set, this stub
// is compiled instead and loading the backend fails.
//
// Build with: go build -tags=manifold
package manifold

import (
	"context"
	"errors"

	"github.com/chazu/scadcsg/pkg/kernel"
)

// ErrUnavailable is returned when the binary was built without Manifold.
var ErrUnavailable = errors.New("manifold kernel not available: build with -tags=manifold")

// Load is a kernel.Loader that always fails without the manifold tag.
func Load(context.Context) (kernel.Kernel, error) {
	return nil, ErrUnavailable
}
