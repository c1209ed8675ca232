package typetree

import (
	"errors"
	"fmt"
	"go/types"
	"log"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/derivekit/typetree/internal/maps"
	"github.com/derivekit/typetree/internal/worklist"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

func init() {
	log.SetFlags(log.Ltime | log.Lshortfile)
}

// Options controls tree construction, both standalone through [Build] and
// [DescribeType] and inside [Analyze].
type Options struct {
	// MaxDerefDepth bounds how many pointer dereferences a path may take.
	// Non-positive selects DefaultMaxDerefDepth.
	MaxDerefDepth int

	// StrictRecursion makes Build and DescribeType fail with
	// ErrRecursionLimit when a descriptor reaches the depth bound instead
	// of collapsing to Anything there. Analyze under this option refuses
	// programs whose seed types hit the bound.
	StrictRecursion bool

	// Logger receives progress and diagnostics. Nil selects slog.Default().
	Logger *slog.Logger
}

func DefaultOptions() Options {
	return Options{MaxDerefDepth: DefaultMaxDerefDepth}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// SummaryCache persists per-function summaries between runs, keyed by the
// function's [Fingerprint]. Implementations must tolerate arbitrary absence;
// a miss only costs recomputation.
type SummaryCache interface {
	LoadSummary(fingerprint string) (params, results []string, ok bool)
	StoreSummary(fingerprint string, params, results []string)
}

type Config struct {
	Program *ssa.Program

	// EntryPackages restricts root selection to these packages. Empty
	// means all packages of the program.
	EntryPackages []*ssa.Package

	// AnalyzeAllFunctions makes every function in the program a root
	// instead of just main and init of main packages.
	AnalyzeAllFunctions bool

	// CallGraph carries interprocedural flow. Nil selects a class
	// hierarchy analysis graph over the whole program.
	CallGraph *callgraph.Graph

	// Sizes fixes byte offsets and widths. Nil selects the gc layout for
	// amd64.
	Sizes types.Sizes

	// Summaries, when set, warm-starts parameters and results from cached
	// summaries and stores fresh ones after the run.
	Summaries SummaryCache

	Options Options
}

// vnode keys the tree store: a value node when val is set, otherwise the
// idx'th result slot of fn. Result slots give a callee's returns a place
// that all return sites and call sites share.
type vnode struct {
	val ssa.Value
	fn  *ssa.Function
	idx int
}

func valNode(v ssa.Value) vnode { return vnode{val: v} }

func slotNode(fn *ssa.Function, i int) vnode { return vnode{fn: fn, idx: i} }

// trackable reports whether v gets its own tree node. Constants, function
// values and builtins keep their fixed type-derived tree, and tuples are
// never materialized, their parts flow through Extract.
func trackable(v ssa.Value) bool {
	switch v.(type) {
	case *ssa.Const, *ssa.Builtin, *ssa.Function, nil:
		return false
	case *ssa.Parameter, *ssa.FreeVar, *ssa.Global:
		return true
	}
	if _, isTuple := v.Type().(*types.Tuple); isTuple {
		return false
	}
	_, isInstr := v.(ssa.Instruction)
	return isInstr
}

type aContext struct {
	prog  *ssa.Program
	opts  Options
	log   *slog.Logger
	sizes types.Sizes
	ty    *typer
	cg    *callgraph.Graph

	reachable map[*ssa.Function]bool
	trees     map[vnode]*TypeTree
	uses      map[vnode][]ssa.Instruction
	queue     *worklist.Worklist[ssa.Instruction]

	pops int
}

// Analyze infers a type tree for every value of every reachable function.
// Static types seed the trees; the fixpoint then flows evidence across
// assignments, memory operations and calls until nothing changes.
func Analyze(cfg Config) (*Result, error) {
	prog := cfg.Program
	if prog == nil {
		return nil, errors.New("analyze: nil program")
	}
	sizes := cfg.Sizes
	if sizes == nil {
		sizes = types.SizesFor("gc", "amd64")
	}
	cg := cfg.CallGraph
	if cg == nil {
		cg = buildCallGraph(prog)
	}

	ctx := &aContext{
		prog:  prog,
		opts:  cfg.Options,
		log:   cfg.Options.logger().With(slog.String("component", "typetree")),
		sizes: sizes,
		ty:    newTyper(sizes, cfg.Options),
		cg:    cg,
		trees: make(map[vnode]*TypeTree),
		uses:  make(map[vnode][]ssa.Instruction),
		queue: worklist.New[ssa.Instruction](),
	}

	roots, err := analysisRoots(prog, cfg)
	if err != nil {
		return nil, err
	}
	ctx.reachable = reachableFrom(cg, roots)

	start := time.Now()
	fns := sortedFuns(ctx.reachable)
	if cfg.Options.StrictRecursion {
		if err := ctx.strictSeedCheck(fns); err != nil {
			return nil, err
		}
	}
	for _, fun := range fns {
		ctx.wireFun(fun)
	}
	if cfg.Summaries != nil {
		for _, fun := range fns {
			ctx.loadSummary(cfg.Summaries, fun)
		}
	}
	for _, fun := range fns {
		for _, block := range fun.Blocks {
			for _, insn := range block.Instrs {
				ctx.queue.Push(insn)
			}
		}
	}

	for !ctx.queue.Empty() {
		ctx.apply(ctx.queue.Pop())
		ctx.pops++
	}

	res := ctx.result()
	if cfg.Summaries != nil {
		for _, fun := range fns {
			storeSummary(cfg.Summaries, fun, res)
		}
	}

	ctx.log.Info("analysis finished",
		slog.Int("functions", len(fns)),
		slog.Int("values", len(ctx.trees)),
		slog.Int("steps", ctx.pops),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

func analysisRoots(prog *ssa.Program, cfg Config) ([]*ssa.Function, error) {
	if cfg.AnalyzeAllFunctions {
		return sortedFuns(ssautil.AllFunctions(prog)), nil
	}

	pkgs := cfg.EntryPackages
	if len(pkgs) == 0 {
		pkgs = prog.AllPackages()
	}
	// Packages that failed to load come through as nil slots.
	pkgs = slices.DeleteFunc(slices.Clone(pkgs), func(pkg *ssa.Package) bool {
		return pkg == nil
	})
	var roots []*ssa.Function
	for _, pkg := range ssautil.MainPackages(pkgs) {
		for _, name := range [...]string{"main", "init"} {
			if fun := pkg.Func(name); fun != nil {
				roots = append(roots, fun)
			}
		}
	}
	if len(roots) == 0 {
		return nil, errors.New("no main packages among entry packages")
	}
	return roots, nil
}

// wireFun records, for every node a function touches, the instructions
// whose constraints read or write that node. When a node's tree changes,
// exactly those instructions are requeued.
func (ctx *aContext) wireFun(fun *ssa.Function) {
	ctx.log.Debug("wiring", slog.String("func", fun.String()))

	var rands []*ssa.Value
	for _, block := range fun.Blocks {
		for _, insn := range block.Instrs {
			if v, ok := insn.(ssa.Value); ok && trackable(v) {
				ctx.addUse(valNode(v), insn)
			}
			rands = insn.Operands(rands[:0])
			for _, rand := range rands {
				if rand != nil && trackable(*rand) {
					ctx.addUse(valNode(*rand), insn)
				}
			}

			switch t := insn.(type) {
			case *ssa.Return:
				for i := range t.Results {
					ctx.addUse(slotNode(fun, i), insn)
				}

			case *ssa.MakeClosure:
				for _, fv := range t.Fn.(*ssa.Function).FreeVars {
					ctx.addUse(valNode(fv), insn)
				}

			case *ssa.Extract:
				switch d := t.Tuple.(type) {
				case *ssa.TypeAssert:
					ctx.addUse(valNode(d.X), insn)
				case ssa.CallInstruction:
					for _, callee := range calleesAt(ctx.cg, d) {
						ctx.addUse(slotNode(callee, t.Index), insn)
					}
				}

			case ssa.CallInstruction:
				for _, callee := range calleesAt(ctx.cg, t) {
					for _, p := range callee.Params {
						ctx.addUse(valNode(p), insn)
					}
					if callee.Signature.Results().Len() == 1 && t.Value() != nil {
						ctx.addUse(slotNode(callee, 0), insn)
					}
				}
			}
		}
	}
}

func (ctx *aContext) addUse(n vnode, insn ssa.Instruction) {
	ctx.uses[n] = append(ctx.uses[n], insn)
}

// strictSeedCheck rebuilds the descriptor of every type the reachable
// functions touch with strict options, so a configured-fatal depth bound
// aborts the run before any propagation happens. Lazy seeding afterwards
// can no longer hit the bound on a type this pass accepted.
func (ctx *aContext) strictSeedCheck(fns []*ssa.Function) error {
	seen := make(map[types.Type]bool)
	check := func(t types.Type) error {
		if seen[t] {
			return nil
		}
		seen[t] = true
		// Tuples and the synthetic iterator types of range loops have no
		// layout to vet.
		if !materialType(t) {
			return nil
		}
		if _, err := Build(ctx.ty.descriptor(t), ctx.opts); err != nil {
			return err
		}
		return nil
	}

	var rands []*ssa.Value
	for _, fun := range fns {
		checkFun := func(t types.Type) error {
			if err := check(t); err != nil {
				return fmt.Errorf("seeding %s: %w", fun, err)
			}
			return nil
		}
		for _, p := range fun.Params {
			if err := checkFun(p.Type()); err != nil {
				return err
			}
		}
		for _, fv := range fun.FreeVars {
			if err := checkFun(fv.Type()); err != nil {
				return err
			}
		}
		for _, block := range fun.Blocks {
			for _, insn := range block.Instrs {
				if v, ok := insn.(ssa.Value); ok {
					if err := checkFun(v.Type()); err != nil {
						return err
					}
				}
				rands = insn.Operands(rands[:0])
				for _, rand := range rands {
					if *rand == nil {
						continue
					}
					if err := checkFun((*rand).Type()); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// tree returns the mutable working tree for n, seeding it from the static
// type on first access.
func (ctx *aContext) tree(n vnode) *TypeTree {
	if t, ok := ctx.trees[n]; ok {
		return t
	}
	t := ctx.seedTree(n).Clone()
	ctx.trees[n] = t
	return t
}

func (ctx *aContext) seedTree(n vnode) *TypeTree {
	if n.val != nil {
		return ctx.ty.tree(n.val.Type())
	}
	return ctx.ty.tree(n.fn.Signature.Results().At(n.idx).Type())
}

// valueTree is the read side for any operand: tracked values yield their
// working tree, everything else its fixed type-derived tree.
func (ctx *aContext) valueTree(v ssa.Value) *TypeTree {
	if trackable(v) {
		return ctx.tree(valNode(v))
	}
	return ctx.ty.tree(v.Type())
}

// mergeInto joins a contribution into v's tree and requeues the
// instructions touching v when it changed. Contributions into untracked
// values are dropped.
func (ctx *aContext) mergeInto(v ssa.Value, contrib *TypeTree) {
	if contrib == nil || !trackable(v) {
		return
	}
	ctx.mergeNode(valNode(v), contrib)
}

func (ctx *aContext) mergeNode(n vnode, contrib *TypeTree) {
	if contrib == nil {
		return
	}
	if ctx.tree(n).Merge(contrib) {
		for _, insn := range ctx.uses[n] {
			ctx.queue.Push(insn)
		}
	}
}

// link equates the trees of two values in both directions.
func (ctx *aContext) link(a, b ssa.Value) {
	ctx.mergeInto(a, ctx.valueTree(b))
	ctx.mergeInto(b, ctx.valueTree(a))
}

func (ctx *aContext) loadSummary(cache SummaryCache, fun *ssa.Function) {
	params, results, ok := cache.LoadSummary(Fingerprint(fun))
	if !ok {
		return
	}
	if len(params) != len(fun.Params) || len(results) != fun.Signature.Results().Len() {
		ctx.log.Warn("summary shape mismatch, ignoring",
			slog.String("func", fun.String()))
		return
	}
	for i, enc := range params {
		t, err := Decode(enc)
		if err != nil {
			ctx.log.Warn("bad cached summary, ignoring",
				slog.String("func", fun.String()), slog.Any("err", err))
			return
		}
		ctx.mergeNode(valNode(fun.Params[i]), t)
	}
	for i, enc := range results {
		t, err := Decode(enc)
		if err != nil {
			ctx.log.Warn("bad cached summary, ignoring",
				slog.String("func", fun.String()), slog.Any("err", err))
			return
		}
		ctx.mergeNode(slotNode(fun, i), t)
	}
}

func storeSummary(cache SummaryCache, fun *ssa.Function, res *Result) {
	sum, ok := res.Summary(fun)
	if !ok {
		return
	}
	params := make([]string, len(sum.Params))
	for i, t := range sum.Params {
		params[i] = t.String()
	}
	results := make([]string, len(sum.Results))
	for i, t := range sum.Results {
		results[i] = t.String()
	}
	cache.StoreSummary(Fingerprint(fun), params, results)
}

func sortedFuns(set map[*ssa.Function]bool) []*ssa.Function {
	fns := maps.Keys(set)
	sortFuns(fns)
	return fns
}

func sortFuns(fns []*ssa.Function) {
	slices.SortFunc(fns, func(a, b *ssa.Function) int {
		return strings.Compare(a.String(), b.String())
	})
}

// PrintSSAFun renders a function's SSA form, which helps when puzzling
// over an unexpected tree.
func PrintSSAFun(fun *ssa.Function) {
	fmt.Println(fun.Name())
	for bi, b := range fun.Blocks {
		fmt.Println(bi, ":")
		for _, i := range b.Instrs {
			switch v := i.(type) {
			case *ssa.DebugRef:
				// skip
			case ssa.Value:
				fmt.Println(v.Name(), "=", v)
			default:
				fmt.Println(i)
			}
		}
	}
}
