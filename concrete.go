package typetree

import (
	"fmt"
	"strings"
)

// Kind enumerates the byte interpretations the lattice distinguishes.
type Kind uint8

const (
	// KindBottom is the absence of a claim: nothing known yet.
	KindBottom Kind = iota
	// KindInteger covers integer-typed bytes of any width or signedness.
	KindInteger
	// KindFloat covers floating point bytes of a specific precision.
	KindFloat
	// KindPointer covers bytes holding an address.
	KindPointer
	// KindAnything is the top element: conflicting evidence was observed.
	KindAnything
)

// FloatKind is the precision of a [KindFloat] claim.
type FloatKind uint8

const (
	FloatHalf FloatKind = iota
	FloatBFloat
	FloatSingle
	FloatDouble
	FloatFP128
)

var floatNames = [...]string{
	FloatHalf:   "half",
	FloatBFloat: "bfloat",
	FloatSingle: "float",
	FloatDouble: "double",
	FloatFP128:  "fp128",
}

func (f FloatKind) String() string {
	if int(f) < len(floatNames) {
		return floatNames[f]
	}
	return fmt.Sprintf("FloatKind(%d)", uint8(f))
}

// ConcreteType is one element of the interpretation lattice attached to a
// path. The Float field is meaningful only when Kind is [KindFloat].
type ConcreteType struct {
	Kind  Kind
	Float FloatKind
}

var (
	Bottom   = ConcreteType{Kind: KindBottom}
	Integer  = ConcreteType{Kind: KindInteger}
	Pointer  = ConcreteType{Kind: KindPointer}
	Anything = ConcreteType{Kind: KindAnything}
)

// FloatType returns the lattice element for floating point bytes of
// precision f.
func FloatType(f FloatKind) ConcreteType {
	return ConcreteType{Kind: KindFloat, Float: f}
}

// IsBottom reports whether c carries no claim.
func (c ConcreteType) IsBottom() bool { return c.Kind == KindBottom }

// Merge joins two lattice elements: Bottom is the identity, equal elements
// are idempotent, and any disagreement, including two float precisions,
// escalates to Anything. Merge is commutative and associative.
func (c ConcreteType) Merge(o ConcreteType) ConcreteType {
	switch {
	case c == o:
		return c
	case c.Kind == KindBottom:
		return o
	case o.Kind == KindBottom:
		return c
	default:
		return Anything
	}
}

func (c ConcreteType) String() string {
	switch c.Kind {
	case KindBottom:
		return "Bottom"
	case KindInteger:
		return "Integer"
	case KindFloat:
		return "Float@" + c.Float.String()
	case KindPointer:
		return "Pointer"
	case KindAnything:
		return "Anything"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(c.Kind))
	}
}

// parseConcrete is the inverse of String for the codec. The bool result is
// false for unrecognized spellings.
func parseConcrete(s string) (ConcreteType, bool) {
	switch s {
	case "Integer":
		return Integer, true
	case "Pointer":
		return Pointer, true
	case "Anything":
		return Anything, true
	}
	if rest, ok := strings.CutPrefix(s, "Float@"); ok {
		for f, name := range floatNames {
			if rest == name {
				return FloatType(FloatKind(f)), true
			}
		}
	}
	return Bottom, false
}
