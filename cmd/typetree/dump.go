package main

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/derivekit/typetree"
	"github.com/derivekit/typetree/internal/slices"
	"golang.org/x/tools/go/ssa"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiFaint  = "\x1b[2m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func dumpSummaries(w io.Writer, res *typetree.Result, filter *regexp.Regexp, color bool) {
	for _, fn := range res.Functions() {
		if fn.Blocks == nil {
			continue
		}
		if filter != nil && !filter.MatchString(fn.String()) {
			continue
		}
		sum, ok := res.Summary(fn)
		if !ok {
			continue
		}
		printSummary(w, fn, sum, color)
	}
}

func printSummary(w io.Writer, fn *ssa.Function, sum typetree.Summary, color bool) {
	name := fn.String()
	if color {
		name = ansiBold + name + ansiReset
	}
	fmt.Fprintf(w, "%s\n", name)
	for i, t := range sum.Params {
		fmt.Fprintf(w, "  %s: %s\n", fn.Params[i].Name(), renderTree(t, color))
	}
	for i, t := range sum.Results {
		fmt.Fprintf(w, "  ret#%d: %s\n", i, renderTree(t, color))
	}
}

// renderTree prints a tree like TypeTree.String does, with the tags
// colored by kind.
func renderTree(t *typetree.TypeTree, color bool) string {
	if !color {
		return t.String()
	}
	parts := slices.Map(t.Entries(), func(e typetree.Entry) string {
		return e.Path.String() + ":" + paintTag(e.Type)
	})
	return "{" + strings.Join(parts, ", ") + "}"
}

func paintTag(ct typetree.ConcreteType) string {
	var code string
	switch ct.Kind {
	case typetree.KindPointer:
		code = ansiYellow
	case typetree.KindFloat:
		code = ansiGreen
	case typetree.KindInteger:
		code = ansiBlue
	case typetree.KindAnything:
		code = ansiRed
	default:
		code = ansiFaint
	}
	return code + ct.String() + ansiReset
}
