// Package shellscan breaks shell scripts into the simple commands they run,
// so each one can be classified on its own.
package shellscan

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is one simple command found in a script.
type Command struct {
	Line uint   `json:"line"`
	Text string `json:"text"`
}

// Parse walks the script and returns every simple command in source order,
// including commands nested in pipelines, subshells, substitutions and
// function bodies.
func Parse(r io.Reader, name string) ([]Command, error) {
	file, err := syntax.NewParser().Parse(r, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	printer := syntax.NewPrinter(syntax.SingleLine(true))
	var (
		commands []Command
		printErr error
	)
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		var buf bytes.Buffer
		if err := printer.Print(&buf, call); err != nil {
			printErr = err
			return false
		}
		commands = append(commands, Command{
			Line: call.Pos().Line(),
			Text: strings.TrimSpace(buf.String()),
		})
		return true
	})
	if printErr != nil {
		return nil, fmt.Errorf("print %s: %w", name, printErr)
	}
	return commands, nil
}

// ParseString is Parse over an in-memory script.
func ParseString(script string) ([]Command, error) {
	return Parse(strings.NewReader(script), "")
}
