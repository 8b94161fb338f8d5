// Command scadcsg evaluates s-expression OpenSCAD designs into triangle
// meshes.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/scadcsg/pkg/config"
	"github.com/chazu/scadcsg/pkg/kernel/backend"
	"github.com/chazu/scadcsg/pkg/logging"
)

const appName = "scadcsg"

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "repl":
			os.Exit(cmdRepl(args[1:]))
		case "-h", "--help", "help":
			usage(os.Stdout)
			os.Exit(0)
		}
	}
	os.Exit(cmdRun(args, os.Stdout))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage:
  %s [flags] <design.lisp>      Evaluate a design and print its parts.
  %s repl [flags]               Evaluate designs interactively.

Flags:
  -backend name     geometry backend %v (default from SCADCSG_BACKEND or bsp)
  -json             print meshes as JSON
  -crosscheck file  compare scale operands with an OpenSCAD source file
  -log-level level  debug, info, warn or error (default from SCADCSG_LOG_LEVEL or info)
`, appName, appName, backend.Names())
}

// options are the flags shared by every command.
type options struct {
	cfg        config.Config
	json       bool
	crosscheck string
}

func parseFlags(name string, args []string) (*options, []string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	opts := &options{cfg: cfg}
	fs := newFlagSet(name, opts)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if err := opts.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return opts, fs.Args(), nil
}

// newFlagSet binds the shared flags to opts, defaulting to its current
// values.
func newFlagSet(name string, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.cfg.Backend, "backend", opts.cfg.Backend, "geometry backend")
	fs.BoolVar(&opts.json, "json", false, "print meshes as JSON")
	fs.StringVar(&opts.crosscheck, "crosscheck", "", "OpenSCAD file to cross-check scale operands against")
	fs.StringVar(&opts.cfg.LogLevel, "log-level", opts.cfg.LogLevel, "log level")
	return fs
}

func newApp(opts *options) (*App, error) {
	logger, err := logging.FromStrings(opts.cfg.LogLevel, opts.cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	return NewApp(opts.cfg, logger)
}

func cmdRun(args []string, stdout io.Writer) int {
	opts, rest, err := parseFlags(appName, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		usage(os.Stderr)
		return 2
	}
	if len(rest) != 1 {
		usage(os.Stderr)
		return 2
	}

	src, err := os.ReadFile(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, rest[0], err)
		return 1
	}

	app, err := newApp(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	defer app.Close()

	if opts.crosscheck != "" {
		scad, err := os.ReadFile(opts.crosscheck)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, opts.crosscheck, err)
			return 1
		}
		mismatches, err := app.CrossCheck(string(scad), string(src))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: crosscheck: %v\n", appName, err)
			return 1
		}
		for _, m := range mismatches {
			fmt.Fprintf(os.Stderr, "crosscheck: %s\n", m)
		}
	}

	result := app.Evaluate(string(src))
	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
			return 1
		}
	} else {
		printResult(stdout, result)
	}
	if len(result.Errors) > 0 {
		return 1
	}
	return 0
}

// printResult writes one line per part, then warnings and errors.
func printResult(w io.Writer, r EvalResult) {
	for _, m := range r.Meshes {
		fmt.Fprintf(w, "%-16s %6d vertices %6d triangles  [%g %g %g] - [%g %g %g]\n",
			m.PartName, m.VertexCount, m.TriangleCount,
			m.Bounds[0][0], m.Bounds[0][1], m.Bounds[0][2],
			m.Bounds[1][0], m.Bounds[1][1], m.Bounds[1][2])
	}
	if r.Empty > 0 {
		fmt.Fprintf(w, "%d statement(s) produced no geometry\n", r.Empty)
	}
	for _, e := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", formatEvalError(e))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "error: %s\n", formatEvalError(e))
	}
}

func formatEvalError(e EvalErrorData) string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}
