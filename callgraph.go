package typetree

import (
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/ssa"
)

// buildCallGraph returns the call graph interprocedural propagation runs
// over. Class hierarchy analysis over-approximates dynamic dispatch.
func buildCallGraph(prog *ssa.Program) *callgraph.Graph {
	return cha.CallGraph(prog)
}

// reachableFrom collects the functions reachable in cg from the given
// roots, roots included.
func reachableFrom(cg *callgraph.Graph, roots []*ssa.Function) map[*ssa.Function]bool {
	reach := make(map[*ssa.Function]bool, len(roots))
	var stack []*ssa.Function
	visit := func(fn *ssa.Function) {
		if fn != nil && !reach[fn] {
			reach[fn] = true
			stack = append(stack, fn)
		}
	}
	for _, root := range roots {
		visit(root)
	}
	for len(stack) > 0 {
		fn := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := cg.Nodes[fn]
		if n == nil {
			continue
		}
		for _, e := range n.Out {
			visit(e.Callee.Func)
		}
	}
	return reach
}

// calleesAt resolves the possible targets of one call site. For functions
// the graph does not know the static callee is the best answer available.
func calleesAt(cg *callgraph.Graph, site ssa.CallInstruction) []*ssa.Function {
	n := cg.Nodes[site.Parent()]
	if n == nil {
		if sc := site.Common().StaticCallee(); sc != nil {
			return []*ssa.Function{sc}
		}
		return nil
	}
	var callees []*ssa.Function
	for _, e := range n.Out {
		if e.Site == site && e.Callee.Func != nil {
			callees = append(callees, e.Callee.Func)
		}
	}
	return callees
}
