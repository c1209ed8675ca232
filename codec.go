package typetree

import (
	"fmt"
	"strconv"
	"strings"
)

// String renders the tree in its canonical textual form, entries in path
// order: {[-1]:Pointer, [-1,0]:Float@double}. The empty tree is {}.
func (t *TypeTree) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range t.entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.path.String())
		sb.WriteByte(':')
		sb.WriteString(e.ct.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// ParseError reports where and why [Decode] rejected its input.
type ParseError struct {
	Off int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing type tree at offset %d: %s", e.Off, e.Msg)
}

// Decode parses the canonical textual form produced by [TypeTree.String].
//
// Decoding is strict: malformed brackets, unknown type or precision names,
// non-canonical paths (empty, adjacent offsets, double dereferences, a
// spelled-out [0,-1,…] prefix, offsets other than -1 below zero) and
// duplicate or mutually conflicting entries are all rejected with a
// [*ParseError]. The returned tree's dereference bound is the larger of
// [DefaultMaxDerefDepth] and the deepest path in the input, so decoding
// never truncates.
func Decode(s string) (*TypeTree, error) {
	d := &decoder{s: s}
	d.ws()
	if !d.eat('{') {
		return nil, d.fail("expected '{'")
	}
	var paths []Path
	var tags []ConcreteType
	maxDerefs := 0
	d.ws()
	if !d.eat('}') {
		for {
			p, err := d.path()
			if err != nil {
				return nil, err
			}
			d.ws()
			if !d.eat(':') {
				return nil, d.fail("expected ':' after path")
			}
			d.ws()
			ct, err := d.tag()
			if err != nil {
				return nil, err
			}
			if err := shapeErr(p, ct, d); err != nil {
				return nil, err
			}
			paths = append(paths, p)
			tags = append(tags, ct)
			if n := p.Derefs(); n > maxDerefs {
				maxDerefs = n
			}
			d.ws()
			if d.eat(',') {
				d.ws()
				continue
			}
			if d.eat('}') {
				break
			}
			return nil, d.fail("expected ',' or '}'")
		}
	}
	d.ws()
	if d.i != len(d.s) {
		return nil, d.fail("trailing input after '}'")
	}

	depth := DefaultMaxDerefDepth
	if maxDerefs > depth {
		depth = maxDerefs
	}
	t := NewTree(depth)
	for i, p := range paths {
		t.Insert(p, tags[i])
	}
	if t.Len() != len(paths) {
		return nil, &ParseError{Off: 0, Msg: "duplicate or conflicting entries"}
	}
	for i, p := range paths {
		if t.Get(p) != tags[i] {
			return nil, &ParseError{Off: 0, Msg: "duplicate or conflicting entries"}
		}
	}
	return t, nil
}

type decoder struct {
	s string
	i int
}

func (d *decoder) fail(format string, args ...any) error {
	return &ParseError{Off: d.i, Msg: fmt.Sprintf(format, args...)}
}

func (d *decoder) ws() {
	for d.i < len(d.s) && (d.s[d.i] == ' ' || d.s[d.i] == '\t') {
		d.i++
	}
}

func (d *decoder) eat(c byte) bool {
	if d.i < len(d.s) && d.s[d.i] == c {
		d.i++
		return true
	}
	return false
}

func (d *decoder) path() (Path, error) {
	if !d.eat('[') {
		return nil, d.fail("expected '['")
	}
	var p Path
	d.ws()
	if d.eat(']') {
		return nil, d.fail("empty path")
	}
	for {
		start := d.i
		h, err := d.hop()
		if err != nil {
			return nil, err
		}
		if k := len(p); k > 0 {
			switch {
			case h == Deref && p[k-1] == Deref:
				return nil, &ParseError{Off: start, Msg: "dereference of a dereference"}
			case h >= 0 && p[k-1] >= 0:
				return nil, &ParseError{Off: start, Msg: "adjacent byte offsets"}
			}
		}
		p = append(p, h)
		d.ws()
		if d.eat(',') {
			d.ws()
			continue
		}
		if d.eat(']') {
			break
		}
		return nil, d.fail("expected ',' or ']' in path")
	}
	if len(p) >= 2 && p[0] == 0 && p[1] == Deref {
		return nil, d.fail("non-canonical pointer spelling, use [-1,...]")
	}
	return p, nil
}

func (d *decoder) hop() (int64, error) {
	start := d.i
	d.eat('-')
	for d.i < len(d.s) && d.s[d.i] >= '0' && d.s[d.i] <= '9' {
		d.i++
	}
	if d.i == start {
		return 0, d.fail("expected a hop")
	}
	h, err := strconv.ParseInt(d.s[start:d.i], 10, 64)
	if err != nil {
		return 0, &ParseError{Off: start, Msg: "invalid hop: " + err.Error()}
	}
	if h < Deref {
		return 0, &ParseError{Off: start, Msg: fmt.Sprintf("negative offset %d", h)}
	}
	return h, nil
}

func (d *decoder) tag() (ConcreteType, error) {
	start := d.i
	for d.i < len(d.s) {
		c := d.s[d.i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '@' {
			d.i++
			continue
		}
		break
	}
	if d.i == start {
		return Bottom, d.fail("expected a type")
	}
	ct, ok := parseConcrete(d.s[start:d.i])
	if !ok {
		return Bottom, &ParseError{Off: start, Msg: "unknown type " + strconv.Quote(d.s[start:d.i])}
	}
	return ct, nil
}

// shapeErr mirrors the checks Insert panics on, as parse errors.
func shapeErr(p Path, ct ConcreteType, d *decoder) error {
	switch ct.Kind {
	case KindPointer:
		if !p.endsInDeref() {
			return d.fail("Pointer on a path not ending in a dereference")
		}
	case KindInteger, KindFloat:
		if p.endsInDeref() {
			return d.fail("%v on a dereference", ct)
		}
	}
	return nil
}
