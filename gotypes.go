package typetree

import (
	"go/types"
	"log"

	"golang.org/x/tools/go/types/typeutil"
)

// DescribeType derives the tree a Go type guarantees for its values: every
// byte whose interpretation the static type fixes gets an entry, while
// bytes the type leaves open, uint8, uintptr and the pointees of
// unsafe.Pointer, contribute nothing. A nil sizes selects the gc layout
// for amd64.
func DescribeType(t types.Type, sizes types.Sizes, opts Options) (*TypeTree, error) {
	if sizes == nil {
		sizes = types.SizesFor("gc", "amd64")
	}
	ty := newTyper(sizes, opts)
	return Build(ty.descriptor(t), opts)
}

// typer converts go/types layouts into descriptors and trees, memoizing on
// type identity so that recursive types become cyclic descriptor graphs
// instead of infinite ones.
type typer struct {
	sizes   types.Sizes
	opts    Options
	ptrSize int64
	memo    typeutil.Map // types.Type -> Descriptor
	trees   typeutil.Map // types.Type -> *TypeTree, frozen
}

func newTyper(sizes types.Sizes, opts Options) *typer {
	ty := &typer{
		sizes:   sizes,
		opts:    opts,
		ptrSize: sizes.Sizeof(types.Typ[types.UnsafePointer]),
	}
	h := typeutil.MakeHasher()
	ty.memo.SetHasher(h)
	ty.trees.SetHasher(h)
	return ty
}

// tree returns the frozen seed tree for t. Collapsing at the dereference
// bound is always tolerated here; under StrictRecursion the analysis vets
// every seed type upfront instead, and explicit [Build] and [DescribeType]
// calls enforce strictness themselves.
func (ty *typer) tree(t types.Type) *TypeTree {
	if tr, ok := ty.trees.At(t).(*TypeTree); ok {
		return tr
	}
	opts := ty.opts
	opts.StrictRecursion = false
	tr, err := Build(ty.descriptor(t), opts)
	if err != nil {
		log.Panicf("seeding %v: %v", t, err)
	}
	tr.freeze()
	ty.trees.Set(t, tr)
	return tr
}

var nothing = &Scalar{Type: Bottom}

// descriptor returns the symbolic layout of t. The result may alias
// earlier results and must be treated as immutable.
func (ty *typer) descriptor(t types.Type) Descriptor {
	if d, ok := ty.memo.At(t).(Descriptor); ok {
		return d
	}
	switch u := t.Underlying().(type) {
	case *types.Basic:
		d := ty.basic(u)
		ty.memo.Set(t, d)
		return d

	case *types.Pointer:
		d := &PointerTo{}
		ty.memo.Set(t, d)
		d.Elem = ty.descriptor(u.Elem())
		return d

	case *types.Slice:
		// Data pointer, length, capacity.
		d := &Struct{}
		ty.memo.Set(t, d)
		d.Fields = []StructField{
			{Offset: 0, Elem: &PointerTo{Elem: ty.descriptor(u.Elem())}},
			{Offset: ty.ptrSize, Elem: &Scalar{Type: Integer}},
			{Offset: 2 * ty.ptrSize, Elem: &Scalar{Type: Integer}},
		}
		return d

	case *types.Array:
		if u.Len() == 0 {
			d := &Struct{}
			ty.memo.Set(t, d)
			return d
		}
		d := &Array{Stride: ty.sizes.Sizeof(u.Elem()), Count: u.Len()}
		ty.memo.Set(t, d)
		d.Elem = ty.descriptor(u.Elem())
		return d

	case *types.Struct:
		d := &Struct{}
		ty.memo.Set(t, d)
		fields := make([]*types.Var, u.NumFields())
		for i := range fields {
			fields[i] = u.Field(i)
		}
		var offs []int64
		if len(fields) > 0 {
			offs = ty.sizes.Offsetsof(fields)
		}
		for i, f := range fields {
			d.Fields = append(d.Fields, StructField{
				Offset: offs[i],
				Elem:   ty.descriptor(f.Type()),
			})
		}
		return d

	case *types.Interface:
		// Type word and data word.
		d := &Struct{Fields: []StructField{
			{Offset: 0, Elem: &PointerTo{}},
			{Offset: ty.ptrSize, Elem: &PointerTo{}},
		}}
		ty.memo.Set(t, d)
		return d

	case *types.Map, *types.Chan, *types.Signature:
		d := &PointerTo{}
		ty.memo.Set(t, d)
		return d

	default:
		log.Panicf("describing %v: unexpected underlying type %T", t, u)
		return nil
	}
}

func (ty *typer) basic(b *types.Basic) Descriptor {
	if f, ok := floatKindOf(b); ok {
		return &Scalar{Type: FloatType(f)}
	}
	switch b.Kind() {
	case types.Uint8, types.Uintptr:
		// Byte buffers and integer-smuggled addresses carry no claim.
		return nothing
	case types.Bool, types.Int, types.Int8, types.Int16, types.Int32, types.Int64,
		types.Uint, types.Uint16, types.Uint32, types.Uint64:
		return &Scalar{Type: Integer}
	case types.Complex64:
		return &Struct{Fields: []StructField{
			{Offset: 0, Elem: &Scalar{Type: FloatType(FloatSingle)}},
			{Offset: 4, Elem: &Scalar{Type: FloatType(FloatSingle)}},
		}}
	case types.Complex128:
		return &Struct{Fields: []StructField{
			{Offset: 0, Elem: &Scalar{Type: FloatType(FloatDouble)}},
			{Offset: 8, Elem: &Scalar{Type: FloatType(FloatDouble)}},
		}}
	case types.String:
		return &Struct{Fields: []StructField{
			{Offset: 0, Elem: &PointerTo{}},
			{Offset: ty.ptrSize, Elem: &Scalar{Type: Integer}},
		}}
	case types.UnsafePointer:
		return &PointerTo{}
	default:
		log.Panicf("describing basic type %v", b)
		return nil
	}
}
