package typetree

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRecursionLimit is returned by [Build] in strict mode when a descriptor
// reaches the dereference depth bound.
var ErrRecursionLimit = errors.New("dereference depth bound exceeded")

// A Descriptor is a symbolic memory layout from which a [TypeTree] can be
// built. The closed set of implementations is [Scalar], [Struct], [Array]
// and [PointerTo]. Descriptor graphs may be cyclic, but every cycle must
// pass through a [PointerTo]; a value-level cycle does not describe a
// finite layout.
type Descriptor interface {
	fmt.Stringer
	desc()
}

// Scalar is a leaf holding one lattice element, an Integer, Float or
// Anything claim about the bytes at its position.
type Scalar struct {
	Type ConcreteType
}

// StructField places a layout at a byte offset within a [Struct].
type StructField struct {
	Offset int64
	Elem   Descriptor
}

// Struct lays out fields at explicit byte offsets. Offsets must be
// non-negative and need not be sorted; padding is simply absent.
type Struct struct {
	Fields []StructField
}

// Array repeats Elem Count times, Stride bytes apart. The element at index
// zero stands in for all of them, so index does not appear in paths and the
// built tree is independent of Count.
type Array struct {
	Elem   Descriptor
	Stride int64
	Count  int64
}

// PointerTo is a pointer whose pointee has the given layout. A nil Elem is
// an opaque pointer: the address bytes are claimed, the pointee is not.
type PointerTo struct {
	Elem Descriptor
}

func (*Scalar) desc()    {}
func (*Struct) desc()    {}
func (*Array) desc()     {}
func (*PointerTo) desc() {}

func (s *Scalar) String() string    { return dstring(s, 0) }
func (s *Struct) String() string    { return dstring(s, 0) }
func (a *Array) String() string     { return dstring(a, 0) }
func (p *PointerTo) String() string { return dstring(p, 0) }

// dstring renders a descriptor, cutting cyclic graphs off after a few
// pointer levels.
func dstring(d Descriptor, level int) string {
	if level > 4 {
		return "..."
	}
	switch d := d.(type) {
	case *Scalar:
		return d.Type.String()
	case *PointerTo:
		if d.Elem == nil {
			return "*opaque"
		}
		return "*" + dstring(d.Elem, level+1)
	case *Array:
		return fmt.Sprintf("[%d x %s]", d.Count, dstring(d.Elem, level+1))
	case *Struct:
		var sb strings.Builder
		sb.WriteString("struct{")
		for i, f := range d.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%d: %s", f.Offset, dstring(f.Elem, level+1))
		}
		sb.WriteByte('}')
		return sb.String()
	}
	return fmt.Sprintf("Descriptor(%T)", d)
}

// Build converts a descriptor into its tree. Pointee layouts deeper than
// the dereference bound collapse to Anything at the cutoff; in strict mode
// the first cutoff aborts with [ErrRecursionLimit] instead, otherwise the
// cutoffs are counted and logged.
func Build(d Descriptor, opts Options) (*TypeTree, error) {
	t := NewTree(opts.MaxDerefDepth)
	cutoffs := 0

	var walk func(d Descriptor, pos Path) error
	walk = func(d Descriptor, pos Path) error {
		switch d := d.(type) {
		case *Scalar:
			if len(pos) == 0 {
				pos = Path{0}
			} else if pos.endsInDeref() {
				pos = pos.Offset(0)
			}
			t.Insert(pos, d.Type)
		case *Struct:
			for _, f := range d.Fields {
				if err := walk(f.Elem, pos.Offset(f.Offset)); err != nil {
					return err
				}
			}
		case *Array:
			return walk(d.Elem, pos.Offset(0))
		case *PointerTo:
			if pos.endsInDeref() {
				pos = pos.Offset(0)
			}
			dp := pos.Dereference()
			if dp.Derefs() > t.depth {
				if opts.StrictRecursion {
					return fmt.Errorf("building %s: %w", d, ErrRecursionLimit)
				}
				cutoffs++
				t.Insert(dp, Pointer) // truncates to Anything at the bound
				return nil
			}
			t.Insert(dp, Pointer)
			if d.Elem != nil {
				return walk(d.Elem, dp)
			}
		default:
			return fmt.Errorf("unknown descriptor %T", d)
		}
		return nil
	}

	if err := walk(d, nil); err != nil {
		return nil, err
	}
	if cutoffs > 0 {
		opts.logger().Warn("descriptor hit dereference depth bound",
			"descriptor", d.String(), "cutoffs", cutoffs, "depth", t.depth)
	}
	return t, nil
}
