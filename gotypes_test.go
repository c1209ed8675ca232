package typetree

import (
	"go/token"
	"go/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describe(t *testing.T, typ types.Type) *TypeTree {
	t.Helper()
	tr, err := DescribeType(typ, nil, Options{})
	require.NoError(t, err)
	return tr
}

func TestDescribeBasic(t *testing.T) {
	tests := []struct {
		kind types.BasicKind
		want []Entry
	}{
		{types.Bool, []Entry{{Path{0}, Integer}}},
		{types.Int, []Entry{{Path{0}, Integer}}},
		{types.Int16, []Entry{{Path{0}, Integer}}},
		{types.Uint64, []Entry{{Path{0}, Integer}}},
		{types.Float32, []Entry{{Path{0}, FloatType(FloatSingle)}}},
		{types.Float64, []Entry{{Path{0}, FloatType(FloatDouble)}}},
		{types.Uint8, []Entry{}},
		{types.Uintptr, []Entry{}},
		{types.UnsafePointer, []Entry{{Path{Deref}, Pointer}}},
		{types.Complex64, []Entry{
			{Path{0}, FloatType(FloatSingle)},
			{Path{4}, FloatType(FloatSingle)},
		}},
		{types.Complex128, []Entry{
			{Path{0}, FloatType(FloatDouble)},
			{Path{8}, FloatType(FloatDouble)},
		}},
		{types.String, []Entry{
			{Path{Deref}, Pointer},
			{Path{8}, Integer},
		}},
	}
	for _, tc := range tests {
		typ := types.Typ[tc.kind]
		t.Run(typ.String(), func(t *testing.T) {
			wantEntries(t, describe(t, typ), tc.want)
		})
	}
}

func TestDescribeComposite(t *testing.T) {
	f64 := types.Typ[types.Float64]

	t.Run("PointerToFloat", func(t *testing.T) {
		wantEntries(t, describe(t, types.NewPointer(f64)), []Entry{
			{Path{Deref}, Pointer},
			{Path{Deref, 0}, FloatType(FloatDouble)},
		})
	})

	t.Run("SliceOfFloats", func(t *testing.T) {
		wantEntries(t, describe(t, types.NewSlice(f64)), []Entry{
			{Path{Deref}, Pointer},
			{Path{Deref, 0}, FloatType(FloatDouble)},
			{Path{8}, Integer},
			{Path{16}, Integer},
		}, "data pointer, then length and capacity")
	})

	t.Run("ByteSlice", func(t *testing.T) {
		wantEntries(t, describe(t, types.NewSlice(types.Typ[types.Uint8])), []Entry{
			{Path{Deref}, Pointer},
			{Path{8}, Integer},
			{Path{16}, Integer},
		}, "a byte buffer leaves its pointee bytes unclaimed")
	})

	t.Run("Array", func(t *testing.T) {
		wantEntries(t, describe(t, types.NewArray(f64, 16)),
			[]Entry{{Path{0}, FloatType(FloatDouble)}},
			"index zero stands in for every element")
		wantEntries(t, describe(t, types.NewArray(f64, 0)), []Entry{})
	})

	t.Run("Struct", func(t *testing.T) {
		st := types.NewStruct([]*types.Var{
			types.NewField(token.NoPos, nil, "x", f64, false),
			types.NewField(token.NoPos, nil, "p", types.NewPointer(f64), false),
			types.NewField(token.NoPos, nil, "n", types.Typ[types.Int32], false),
		}, nil)
		wantEntries(t, describe(t, st), []Entry{
			{Path{0}, FloatType(FloatDouble)},
			{Path{8, Deref}, Pointer},
			{Path{8, Deref, 0}, FloatType(FloatDouble)},
			{Path{16}, Integer},
		})
	})

	t.Run("Interface", func(t *testing.T) {
		iface := types.NewInterfaceType(nil, nil)
		iface.Complete()
		wantEntries(t, describe(t, iface), []Entry{
			{Path{Deref}, Pointer},
			{Path{8, Deref}, Pointer},
		}, "type word and data word, both opaque")
	})

	t.Run("ReferenceTypes", func(t *testing.T) {
		m := types.NewMap(types.Typ[types.Int], f64)
		c := types.NewChan(types.SendRecv, f64)
		sig := types.NewSignatureType(nil, nil, nil, nil, nil, false)
		for _, typ := range []types.Type{m, c, sig} {
			wantEntries(t, describe(t, typ), []Entry{{Path{Deref}, Pointer}},
				typ.String()+" payload stays unmodeled")
		}
	})
}

func TestDescribeRecursive(t *testing.T) {
	// type node struct { next *node; val float64 }
	obj := types.NewTypeName(token.NoPos, nil, "node", nil)
	named := types.NewNamed(obj, nil, nil)
	named.SetUnderlying(types.NewStruct([]*types.Var{
		types.NewField(token.NoPos, nil, "next", types.NewPointer(named), false),
		types.NewField(token.NoPos, nil, "val", types.Typ[types.Float64], false),
	}, nil))
	list := types.NewPointer(named)

	tr, err := DescribeType(list, nil, Options{MaxDerefDepth: 2})
	require.NoError(t, err)
	wantEntries(t, tr, []Entry{
		{Path{Deref}, Pointer},
		{Path{Deref, 0, Deref}, Anything},
		{Path{Deref, 8}, FloatType(FloatDouble)},
	})

	_, err = DescribeType(list, nil, Options{MaxDerefDepth: 2, StrictRecursion: true})
	require.ErrorIs(t, err, ErrRecursionLimit)

	deep, err := DescribeType(list, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, FloatType(FloatDouble),
		deep.Get(Path{Deref, 0, Deref, 0, Deref, 8}))
}

func TestTyperMemoization(t *testing.T) {
	ty := newTyper(types.SizesFor("gc", "amd64"), Options{})
	ptr := types.NewPointer(types.Typ[types.Float64])

	assert.Same(t, ty.descriptor(ptr), ty.descriptor(ptr))
	first := ty.tree(ptr)
	assert.Same(t, first, ty.tree(ptr))
	assert.Panics(t, func() { first.Insert(Path{0}, Integer) },
		"seed trees are frozen")
}
