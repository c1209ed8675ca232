package typetree

import (
	"go/token"
	"go/types"
	"log"

	"golang.org/x/tools/go/ssa"
)

// apply replays the constraints one instruction induces, joining each
// contribution into the trees of the values it touches. Applications are
// idempotent, so an instruction can be requeued any number of times.
func (ctx *aContext) apply(insn ssa.Instruction) {
	switch t := insn.(type) {
	case ssa.CallInstruction:
		ctx.applyCall(t)

	case ssa.Value:
		switch t := t.(type) {
		case *ssa.Alloc, *ssa.MakeChan, *ssa.MakeMap, *ssa.MakeSlice:
			// The type seed says everything: a pointer to, or header
			// over, the allocated layout.

		case *ssa.MakeClosure:
			fvs := t.Fn.(*ssa.Function).FreeVars
			for i, b := range t.Bindings {
				ctx.link(b, fvs[i])
			}

		case *ssa.MakeInterface:
			ctx.boxFlow(t, t.X)

		case *ssa.TypeAssert:
			if !t.CommaOk {
				ctx.typeAssertFlow(t, t)
			}

		case *ssa.Extract:
			switch d := t.Tuple.(type) {
			case *ssa.TypeAssert:
				if t.Index == 0 {
					ctx.typeAssertFlow(t, d)
				}
			case ssa.CallInstruction:
				for _, callee := range calleesAt(ctx.cg, d) {
					if t.Index < callee.Signature.Results().Len() {
						ctx.linkSlot(t, callee, t.Index)
					}
				}
			}
			// Other tuple sources (map lookups, channel receives, range
			// iterators) carry unmodeled payloads; the seed stands.

		case *ssa.UnOp:
			switch t.Op {
			case token.MUL:
				ctx.mergeInto(t, ctx.valueTree(t.X).lookup(ctx.sizeOf(t.Type())))
				ctx.mergeInto(t.X, ctx.valueTree(t).indirect())
			case token.ARROW:
				// Channel payloads are not modeled.
			default:
				// NOT, SUB and XOR preserve the operand's interpretation.
				ctx.link(t, t.X)
			}

		case *ssa.Convert:
			ctx.applyConvert(t)

		case *ssa.ChangeType:
			ctx.link(t, t.X)

		case *ssa.ChangeInterface:
			ctx.link(t, t.X)

		case *ssa.Slice:
			if _, isPtr := t.X.Type().Underlying().(*types.Pointer); isPtr {
				ctx.mergeInto(t, ctx.valueTree(t.X).derefEmbed(0))
				ctx.mergeInto(t.X, ctx.valueTree(t).derefEmbed(0))
			} else {
				ctx.link(t, t.X)
			}

		case *ssa.SliceToArrayPointer:
			ctx.mergeInto(t, ctx.valueTree(t.X).derefEmbed(0))
			ctx.mergeInto(t.X, ctx.valueTree(t).derefEmbed(0))

		case *ssa.IndexAddr:
			w := ctx.sizeOf(t.Type().Underlying().(*types.Pointer).Elem())
			ctx.mergeInto(t, ctx.valueTree(t.X).derefWindow(0, w))
			ctx.mergeInto(t.X, ctx.valueTree(t).derefEmbed(0))

		case *ssa.FieldAddr:
			st := t.X.Type().Underlying().(*types.Pointer).Elem().Underlying().(*types.Struct)
			off := ctx.fieldOffset(st, t.Field)
			w := ctx.sizeOf(st.Field(t.Field).Type())
			ctx.mergeInto(t, ctx.valueTree(t.X).derefWindow(off, w))
			ctx.mergeInto(t.X, ctx.valueTree(t).derefEmbed(off))

		case *ssa.Field:
			st := t.X.Type().Underlying().(*types.Struct)
			off := ctx.fieldOffset(st, t.Field)
			w := ctx.sizeOf(st.Field(t.Field).Type())
			ctx.mergeInto(t, ctx.valueTree(t.X).window(off, w))
			ctx.mergeInto(t.X, ctx.valueTree(t).embed(off))

		case *ssa.Index:
			switch xt := t.X.Type().Underlying().(type) {
			case *types.Array:
				w := ctx.sizeOf(xt.Elem())
				ctx.mergeInto(t, ctx.valueTree(t.X).window(0, w))
				ctx.mergeInto(t.X, ctx.valueTree(t).embed(0))
			case *types.Basic:
				// Byte of a string.
			default:
				log.Panicf("unhandled index on %v", t.X.Type())
			}

		case *ssa.Phi:
			for _, e := range t.Edges {
				ctx.link(t, e)
			}

		case *ssa.BinOp:
			ctx.applyBinOp(t)

		case *ssa.Lookup, *ssa.Range, *ssa.Next, *ssa.Select:
			// Map and channel payloads are not modeled.

		case *ssa.MultiConvert:
			// Conversion under type parameters; no byte flow.

		default:
			log.Panicf("unhandled value instruction: %T %v", t, t)
		}

	case *ssa.Store:
		ctx.mergeInto(t.Addr, ctx.valueTree(t.Val).indirect())
		ctx.mergeInto(t.Val, ctx.valueTree(t.Addr).lookup(ctx.sizeOf(t.Val.Type())))

	case *ssa.Return:
		fn := t.Parent()
		for i, res := range t.Results {
			ctx.mergeNode(slotNode(fn, i), ctx.valueTree(res))
			ctx.mergeInto(res, ctx.tree(slotNode(fn, i)))
		}

	case *ssa.Send, *ssa.MapUpdate:
		// Payloads of channels and maps are not modeled.

	case *ssa.Panic, *ssa.RunDefers, *ssa.If, *ssa.Jump, *ssa.DebugRef:

	default:
		log.Panicf("unhandled instruction: %T %v", t, t)
	}
}

func (ctx *aContext) applyCall(call ssa.CallInstruction) {
	common := call.Common()
	if _, isBuiltin := common.Value.(*ssa.Builtin); isBuiltin {
		ctx.applyBuiltin(call)
		return
	}
	if ctx.modelFun(call) {
		return
	}

	for _, callee := range calleesAt(ctx.cg, call) {
		params := callee.Params
		if common.IsInvoke() && len(params) > 0 {
			ctx.boxFlow(common.Value, params[0])
			params = params[1:]
		}
		for i, arg := range common.Args {
			if i < len(params) {
				ctx.link(arg, params[i])
			}
		}
		if v := call.Value(); v != nil && callee.Signature.Results().Len() == 1 {
			ctx.linkSlot(v, callee, 0)
		}
	}
}

// modelFun intercepts the math bit cast intrinsics. Their bodies
// reinterpret bytes through unsafe.Pointer on purpose; callers only see
// the static signature, so no flow crosses these calls and both sides keep
// their type-derived trees.
func (ctx *aContext) modelFun(call ssa.CallInstruction) bool {
	sc := call.Common().StaticCallee()
	if sc == nil {
		return false
	}
	switch sc.String() {
	case "math.Float32bits", "math.Float32frombits",
		"math.Float64bits", "math.Float64frombits":
		return true
	default:
		return false
	}
}

func (ctx *aContext) applyBuiltin(call ssa.CallInstruction) {
	common := call.Common()
	v := call.Value()

	switch common.Value.Name() {
	case "append":
		if v == nil || len(common.Args) == 0 {
			return
		}
		s := common.Args[0]
		ctx.link(v, s)
		for _, arg := range common.Args[1:] {
			if spreadArg(s.Type(), arg.Type()) {
				ctx.link(v, arg)
			} else {
				ctx.mergeInto(v, ctx.valueTree(arg).indirect())
				ctx.mergeInto(arg, ctx.valueTree(v).lookup(ctx.sizeOf(arg.Type())))
			}
		}

	case "copy":
		ctx.link(common.Args[0], common.Args[1])

	case "ssa:wrapnilchk":
		if v != nil {
			ctx.link(v, common.Args[0])
		}

	case "real":
		if v != nil {
			w := ctx.sizeOf(v.Type())
			ctx.mergeInto(v, ctx.valueTree(common.Args[0]).window(0, w))
			ctx.mergeInto(common.Args[0], ctx.valueTree(v).embed(0))
		}

	case "imag":
		if v != nil {
			w := ctx.sizeOf(v.Type())
			ctx.mergeInto(v, ctx.valueTree(common.Args[0]).window(w, w))
			ctx.mergeInto(common.Args[0], ctx.valueTree(v).embed(w))
		}

	case "complex":
		if v != nil {
			re, im := common.Args[0], common.Args[1]
			w := ctx.sizeOf(re.Type())
			ctx.mergeInto(v, ctx.valueTree(re).embed(0))
			ctx.mergeInto(v, ctx.valueTree(im).embed(w))
			ctx.mergeInto(re, ctx.valueTree(v).window(0, w))
			ctx.mergeInto(im, ctx.valueTree(v).window(w, w))
		}

	case "min", "max":
		if v != nil {
			for _, arg := range common.Args {
				ctx.link(v, arg)
			}
		}

	case "Slice":
		// unsafe.Slice: the result's data pointer is the argument.
		// Restricting both sides to one element keeps the header's
		// length claims off the one word pointer.
		if v != nil {
			w := ctx.sizeOf(common.Args[0].Type().Underlying().(*types.Pointer).Elem())
			ctx.mergeInto(v, ctx.valueTree(common.Args[0]).lookup(w).indirect())
			ctx.mergeInto(common.Args[0], ctx.valueTree(v).lookup(w).indirect())
		}

	case "SliceData":
		if v != nil {
			w := ctx.sizeOf(v.Type().Underlying().(*types.Pointer).Elem())
			ctx.mergeInto(v, ctx.valueTree(common.Args[0]).lookup(w).indirect())
			ctx.mergeInto(common.Args[0], ctx.valueTree(v).lookup(w).indirect())
		}

	case "Add", "String", "StringData":
		// unsafe.Add displaces by an unknown offset, so pointee claims
		// do not survive; the address word itself is already claimed by
		// the seed. String and StringData move byte payloads, which
		// carry no claim either way.
	}
}

// Conversions that reinterpret a value's bytes link both sides. Numeric
// conversions compute a fresh value, so no flow.
func (ctx *aContext) applyConvert(t *ssa.Convert) {
	src, dst := t.X.Type().Underlying(), t.Type().Underlying()
	switch {
	case addressWord(src) && addressWord(dst):
		ctx.link(t, t.X)
	case headerCompatible(src, dst):
		ctx.link(t, t.X)
	}
}

func (ctx *aContext) applyBinOp(t *ssa.BinOp) {
	b, ok := t.X.Type().Underlying().(*types.Basic)
	if !ok {
		return
	}
	switch {
	case b.Info()&types.IsFloat != 0:
		switch t.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO:
			ctx.link(t, t.X)
			ctx.link(t, t.Y)
		}

	case b.Info()&types.IsInteger != 0:
		switch t.Op {
		case token.ADD, token.SUB, token.AND, token.OR, token.AND_NOT:
			// Address arithmetic on a smuggled pointer yields a pointer,
			// but at an unknown offset, so the pointee claims are dropped.
			if ctx.valueTree(t.X).Get(Path{Deref}) != Bottom ||
				ctx.valueTree(t.Y).Get(Path{Deref}) != Bottom {
				nt := ctx.newTree()
				nt.Insert(Path{Deref}, Pointer)
				ctx.mergeInto(t, nt)
			}
		}
	}
}

// boxFlow relates an interface value with the concrete value held in its
// data word. Pointer shaped values sit in the word directly; anything else
// lives behind it.
func (ctx *aContext) boxFlow(iface, x ssa.Value) {
	w := ctx.ty.ptrSize
	if PointerShaped(x.Type()) {
		ctx.mergeInto(iface, ctx.valueTree(x).embed(w))
		ctx.mergeInto(x, ctx.valueTree(iface).window(w, w))
	} else {
		ctx.mergeInto(iface, ctx.valueTree(x).indirect().embed(w))
		ctx.mergeInto(x, ctx.valueTree(iface).window(w, w).lookup(ctx.sizeOf(x.Type())))
	}
}

// typeAssertFlow links an interface with the value extracted from it; res
// is the assert's own value, or the first component of the comma-ok tuple.
func (ctx *aContext) typeAssertFlow(res ssa.Value, ta *ssa.TypeAssert) {
	if _, isItf := ta.AssertedType.Underlying().(*types.Interface); isItf {
		ctx.link(res, ta.X)
		return
	}
	ctx.boxFlow(ta.X, res)
}

func (ctx *aContext) linkSlot(v ssa.Value, fn *ssa.Function, i int) {
	ctx.mergeNode(slotNode(fn, i), ctx.valueTree(v))
	ctx.mergeInto(v, ctx.tree(slotNode(fn, i)))
}

func (ctx *aContext) sizeOf(t types.Type) int64 {
	return ctx.sizes.Sizeof(t)
}

func (ctx *aContext) newTree() *TypeTree {
	return NewTree(ctx.opts.MaxDerefDepth)
}

func (ctx *aContext) fieldOffset(st *types.Struct, i int) int64 {
	fields := make([]*types.Var, st.NumFields())
	for j := range fields {
		fields[j] = st.Field(j)
	}
	return ctx.sizes.Offsetsof(fields)[i]
}

func addressWord(t types.Type) bool {
	if _, ok := t.(*types.Pointer); ok {
		return true
	}
	b, ok := t.(*types.Basic)
	return ok && (b.Kind() == types.UnsafePointer || b.Kind() == types.Uintptr)
}

func headerCompatible(a, b types.Type) bool {
	return isString(a) && isByteOrRuneSlice(b) || isString(b) && isByteOrRuneSlice(a)
}

func isString(t types.Type) bool {
	b, ok := t.(*types.Basic)
	return ok && b.Info()&types.IsString != 0
}

func isByteOrRuneSlice(t types.Type) bool {
	s, ok := t.(*types.Slice)
	if !ok {
		return false
	}
	b, ok := s.Elem().Underlying().(*types.Basic)
	return ok && (b.Kind() == types.Uint8 || b.Kind() == types.Int32)
}

func spreadArg(slice, arg types.Type) bool {
	if b, ok := arg.Underlying().(*types.Basic); ok {
		return b.Info()&types.IsString != 0
	}
	return types.Identical(arg.Underlying(), slice.Underlying())
}
