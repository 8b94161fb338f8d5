// Package backend maps backend names to kernel loaders.
package backend

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/chazu/scadcsg/pkg/config"
	"github.com/chazu/scadcsg/pkg/kernel"
	"github.com/chazu/scadcsg/pkg/kernel/bsp"
	"github.com/chazu/scadcsg/pkg/kernel/manifold"
	"github.com/chazu/scadcsg/pkg/kernel/sdfx"
)

// Loaders holds every compiled-in backend. The manifold loader fails at
// load time unless the binary was built with -tags=manifold.
var Loaders = map[string]kernel.Loader{
	config.BackendBSP:      bsp.Load,
	config.BackendSDFX:     sdfx.Load,
	config.BackendManifold: manifold.Load,
}

// Names returns the backend names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Loaders))
	for n := range Loaders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewAdapter returns an uninitialized adapter for the named backend.
func NewAdapter(name string, log *slog.Logger) (*kernel.Adapter, error) {
	loader, ok := Loaders[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (have %v)", name, Names())
	}
	return kernel.NewAdapter(name, loader, kernel.WithLogger(log)), nil
}
