// Package graph builds the module call graph of a design: which modules
// instantiate which, where top-level code enters the graph, and which calls
// name modules that no scope defines. Validate reports cycles and dangling
// references before any geometry is built.
package graph
