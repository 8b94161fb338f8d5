package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

const (
	historyFile = ".scadcsg_history"
	promptMain  = "scad> "
	promptCont  = "....> "
)

// cmdRepl reads statements and keeps them in a session. Each accepted entry
// re-evaluates the whole session, since module definitions and bindings
// from earlier entries must stay visible.
func cmdRepl(args []string) int {
	opts, _, err := parseFlags("repl", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 2
	}
	app, err := newApp(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	defer app.Close()

	fmt.Printf("%s repl (backend %s). Type :help for commands.\n", appName, opts.cfg.Backend)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	var session []string
	for {
		code, ok := readBalanced(ln)
		if !ok {
			fmt.Println()
			return 0
		}
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}

		if strings.HasPrefix(code, ":") {
			switch strings.ToLower(code) {
			case ":quit", ":q":
				return 0
			case ":reset":
				session = nil
				fmt.Println("session cleared")
			case ":show":
				fmt.Println(strings.Join(session, "\n"))
			case ":help":
				fmt.Println(":show  print the session   :reset  clear it   :quit  exit")
			default:
				fmt.Println("unknown command. Type :help for commands.")
			}
			continue
		}

		candidate := append(append([]string(nil), session...), code)
		result := app.Evaluate(strings.Join(candidate, "\n"))
		printResult(os.Stdout, result)
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
		if len(result.Errors) == 0 {
			session = candidate
		}
	}
}

// readBalanced prompts until the parentheses of the entry balance.
func readBalanced(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			// Ctrl-C abandons the current entry.
			return "", true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if depth(b.String()) <= 0 {
			return b.String(), true
		}
	}
}

// depth returns the open parenthesis and bracket nesting at the end of src,
// ignoring strings and ; comments.
func depth(src string) int {
	d := 0
	inString := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '(' || c == '[':
			d++
		case c == ')' || c == ']':
			d--
		}
	}
	return d
}
