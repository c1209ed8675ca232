package typetree

import (
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
)

// Result holds the trees inferred for every value of every reachable
// function. All returned trees are frozen; Clone before mutating.
type Result struct {
	// Reachable contains the functions the fixpoint processed.
	Reachable map[*ssa.Function]bool

	// CallGraph is the graph interprocedural flow ran over.
	CallGraph *callgraph.Graph

	trees map[vnode]*TypeTree
	ty    *typer
}

// TypeOf returns the tree inferred for v. Values the fixpoint never
// touched, constants among them, fall back to their type-derived tree;
// tuples and range iterators have no tree of their own.
func (r *Result) TypeOf(v ssa.Value) *TypeTree {
	if t, ok := r.trees[valNode(v)]; ok {
		return t
	}
	if !materialType(v.Type()) {
		return noClaim
	}
	return r.ty.tree(v.Type())
}

// ResultOf returns the tree of fn's i'th result, joined over all return
// sites and call sites.
func (r *Result) ResultOf(fn *ssa.Function, i int) *TypeTree {
	if t, ok := r.trees[slotNode(fn, i)]; ok {
		return t
	}
	return noClaim
}

// Summary is what a function boundary looks like to its callers.
type Summary struct {
	Params  []*TypeTree
	Results []*TypeTree
}

// Summary reports the parameter and result trees of a reachable function.
func (r *Result) Summary(fn *ssa.Function) (Summary, bool) {
	if !r.Reachable[fn] {
		return Summary{}, false
	}
	sum := Summary{
		Params:  make([]*TypeTree, len(fn.Params)),
		Results: make([]*TypeTree, fn.Signature.Results().Len()),
	}
	for i, p := range fn.Params {
		sum.Params[i] = r.TypeOf(p)
	}
	for i := range sum.Results {
		sum.Results[i] = r.ResultOf(fn, i)
	}
	return sum, true
}

// Functions lists the reachable functions in a stable order.
func (r *Result) Functions() []*ssa.Function {
	return sortedFuns(r.Reachable)
}

// ValueCount reports how many values the fixpoint assigned a tree.
func (r *Result) ValueCount() int {
	return len(r.trees)
}

func (ctx *aContext) result() *Result {
	for _, t := range ctx.trees {
		t.freeze()
	}
	return &Result{
		Reachable: ctx.reachable,
		CallGraph: ctx.cg,
		trees:     ctx.trees,
		ty:        ctx.ty,
	}
}
