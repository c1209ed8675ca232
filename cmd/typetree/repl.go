package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/derivekit/typetree"
	"github.com/derivekit/typetree/cache"
	"github.com/peterh/liner"
	"golang.org/x/tools/go/ssa"
)

var replCommands = []string{
	"funcs", "summary", "values", "tree", "pointee", "stats", "help", "quit",
}

const replHelp = `Commands:
  funcs [substr]            list reachable functions
  summary <func>            parameter and result trees of a function
  values <func>             trees of every named value in a function
  tree <func> <value>       one entry per line for a single value
  pointee <func> <value> <offset>
                            subtree reachable through the pointer at offset
  stats                     analysis and cache counters
  quit                      leave the prompt`

type repl struct {
	res   *typetree.Result
	store *cache.Store
	out   io.Writer
}

func runREPL(res *typetree.Result, store *cache.Store) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) []string {
		var out []string
		for _, c := range replCommands {
			if strings.HasPrefix(c, strings.ToLower(l)) {
				out = append(out, c+" ")
			}
		}
		return out
	})

	hist := historyPath()
	if f, err := os.Open(hist); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	r := &repl{res: res, store: store, out: os.Stdout}
	for {
		in, err := line.Prompt("typetree> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		in = strings.TrimSpace(in)
		if in == "" {
			continue
		}
		line.AppendHistory(in)
		if r.execute(in) {
			break
		}
	}

	if f, err := os.Create(hist); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
	return nil
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".typetree_history"
	}
	return filepath.Join(home, ".typetree_history")
}

// execute runs one command line and reports whether the prompt should
// exit.
func (r *repl) execute(in string) bool {
	fields := strings.Fields(in)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(r.out, replHelp)
	case "funcs":
		r.funcs(args)
	case "summary":
		r.summary(args)
	case "values":
		r.values(args)
	case "tree":
		r.tree(args)
	case "pointee":
		r.pointee(args)
	case "stats":
		r.stats()
	default:
		fmt.Fprintf(r.out, "unknown command %q, try help\n", cmd)
	}
	return false
}

func (r *repl) funcs(args []string) {
	substr := ""
	if len(args) > 0 {
		substr = args[0]
	}
	n := 0
	for _, fn := range r.res.Functions() {
		if s := fn.String(); strings.Contains(s, substr) {
			fmt.Fprintln(r.out, s)
			n++
		}
	}
	fmt.Fprintf(r.out, "%d functions\n", n)
}

func (r *repl) summary(args []string) {
	fn, err := r.findFun(args)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	sum, ok := r.res.Summary(fn)
	if !ok {
		fmt.Fprintf(r.out, "%s is not reachable\n", fn)
		return
	}
	printSummary(r.out, fn, sum, false)
}

func (r *repl) values(args []string) {
	fn, err := r.findFun(args)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	for _, v := range namedValues(fn) {
		fmt.Fprintf(r.out, "  %s = %s : %s\n", v.Name(), v.Type(), r.res.TypeOf(v))
	}
}

func (r *repl) tree(args []string) {
	v, ok := r.findValue(args)
	if !ok {
		return
	}
	t := r.res.TypeOf(v)
	if t.Len() == 0 {
		fmt.Fprintln(r.out, "{}")
		return
	}
	for _, e := range t.Entries() {
		fmt.Fprintf(r.out, "  %s: %s\n", e.Path, e.Type)
	}
}

func (r *repl) pointee(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(r.out, "usage: pointee <func> <value> <offset>")
		return
	}
	off, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || off < 0 {
		fmt.Fprintf(r.out, "bad offset %q\n", args[2])
		return
	}
	v, ok := r.findValue(args[:2])
	if !ok {
		return
	}
	fmt.Fprintln(r.out, r.res.TypeOf(v).OffsetSubtree(off))
}

func (r *repl) stats() {
	fmt.Fprintf(r.out, "reachable functions: %d\n", len(r.res.Reachable))
	fmt.Fprintf(r.out, "values with trees:   %d\n", r.res.ValueCount())
	if r.store != nil {
		s := r.store.Stats()
		fmt.Fprintf(r.out, "cache: %d hits, %d misses, %d errors\n",
			s.Hits, s.Misses, s.Errors)
	}
}

func (r *repl) findFun(args []string) (*ssa.Function, error) {
	if len(args) == 0 {
		return nil, errors.New("missing function name")
	}
	name := args[0]
	var matches []*ssa.Function
	for _, fn := range r.res.Functions() {
		s := fn.String()
		if s == name {
			return fn, nil
		}
		if strings.HasSuffix(s, "."+name) {
			matches = append(matches, fn)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("no function named %q", name)
	default:
		return nil, fmt.Errorf("%q is ambiguous, %d candidates", name, len(matches))
	}
}

func (r *repl) findValue(args []string) (ssa.Value, bool) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "usage: <command> <func> <value>")
		return nil, false
	}
	fn, err := r.findFun(args)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return nil, false
	}
	for _, v := range namedValues(fn) {
		if v.Name() == args[1] {
			return v, true
		}
	}
	fmt.Fprintf(r.out, "no value %s in %s, try values\n", args[1], fn)
	return nil, false
}

func namedValues(fn *ssa.Function) []ssa.Value {
	var out []ssa.Value
	for _, p := range fn.Params {
		out = append(out, p)
	}
	for _, fv := range fn.FreeVars {
		out = append(out, fv)
	}
	for _, b := range fn.Blocks {
		for _, insn := range b.Instrs {
			if v, ok := insn.(ssa.Value); ok && v.Name() != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
