package typetree

import (
	"go/types"
)

// PointerShaped reports whether values of type t occupy a single address
// word: pointers, maps, channels, function values and unsafe.Pointer.
// Slices, strings and interfaces are wider than one word and are not
// pointer shaped.
func PointerShaped(t types.Type) bool {
	switch u := t.Underlying().(type) {
	case *types.Pointer, *types.Chan, *types.Map, *types.Signature:
		return true
	case *types.Basic:
		return u.Kind() == types.UnsafePointer
	}
	return false
}

// materialType reports whether values of type t have a byte layout at
// all. go/ssa gives a few instruction results, range iterators among
// them, synthetic opaque types that exist only inside the SSA form;
// tuples are transient groupings with no storage of their own. Neither
// can be described by a descriptor.
func materialType(t types.Type) bool {
	switch t.Underlying().(type) {
	case *types.Basic, *types.Pointer, *types.Slice, *types.Array,
		*types.Struct, *types.Interface, *types.Map, *types.Chan,
		*types.Signature:
		return true
	}
	return false
}

// floatKindOf maps a Go floating point type onto the precision lattice.
func floatKindOf(b *types.Basic) (FloatKind, bool) {
	switch b.Kind() {
	case types.Float32:
		return FloatSingle, true
	case types.Float64:
		return FloatDouble, true
	}
	return 0, false
}
