package typetree

import (
	"fmt"
	"strconv"
	"strings"
)

// Deref is the hop marking a pointer dereference in a [Path].
const Deref int64 = -1

// Path addresses bytes reachable from a value: a sequence of hops where
// [Deref] follows a pointer and a non-negative hop advances that many bytes
// from the most recent dereference (or from the start of the value itself).
//
// Paths are canonical: byte offsets within one dereference level are absolute,
// so two offset hops never appear next to each other (they fuse additively),
// and two dereference hops never appear next to each other (a pointer stored
// directly in a pointee sits at offset 0, spelled [-1,0,-1]).
//
// Paths are immutable; the extension methods return fresh paths.
type Path []int64

// MalformedPathError is the panic value for violations of the path contract.
// Such a violation indicates a bug in the caller, not recoverable input.
type MalformedPathError struct {
	Path Path
	Msg  string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("malformed path %v: %s", e.Path, e.Msg)
}

func malformed(p Path, format string, args ...any) {
	panic(&MalformedPathError{Path: p, Msg: fmt.Sprintf(format, args...)})
}

// PathOf builds a path from raw hops, validating canonical form.
func PathOf(hops ...int64) Path {
	p := Path(hops)
	p.check()
	return p
}

func (p Path) check() {
	for i, h := range p {
		switch {
		case h < Deref:
			malformed(p, "negative offset %d", h)
		case h == Deref && i > 0 && p[i-1] == Deref:
			malformed(p, "dereference of a dereference")
		case h >= 0 && i > 0 && p[i-1] >= 0:
			malformed(p, "adjacent byte offsets %d and %d", p[i-1], h)
		}
	}
}

// Dereference appends a [Deref] hop: the path for what the bytes at p point
// to. Panics when p already ends in a dereference.
func (p Path) Dereference() Path {
	if p.endsInDeref() {
		malformed(p, "dereference of a dereference")
	}
	q := make(Path, len(p)+1)
	copy(q, p)
	q[len(p)] = Deref
	return q
}

// Offset appends a byte offset hop, fusing with a trailing offset since
// offsets are absolute within one dereference level.
func (p Path) Offset(n int64) Path {
	if n < 0 {
		malformed(p, "negative offset %d", n)
	}
	if k := len(p); k > 0 && p[k-1] >= 0 {
		q := make(Path, k)
		copy(q, p)
		q[k-1] += n
		return q
	}
	q := make(Path, len(p)+1)
	copy(q, p)
	q[len(p)] = n
	return q
}

// Derefs reports the number of dereference hops in p.
func (p Path) Derefs() int {
	n := 0
	for _, h := range p {
		if h == Deref {
			n++
		}
	}
	return n
}

func (p Path) endsInDeref() bool {
	return len(p) > 0 && p[len(p)-1] == Deref
}

// IsPrefixOf reports whether p is a (non-strict) prefix of q.
func (p Path) IsPrefixOf(q Path) bool {
	if len(p) > len(q) {
		return false
	}
	for i, h := range p {
		if q[i] != h {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically by hop, shorter prefixes first.
// Dereference hops sort before any byte offset at the same position, which
// places a pointer tag directly before the entries describing its pointee.
func (p Path) Compare(q Path) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		switch {
		case p[i] < q[i]:
			return -1
		case p[i] > q[i]:
			return 1
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	}
	return 0
}

// normalized returns p with the byte position of a leading dereference made
// explicit: a path starting with a dereference describes the pointer stored
// at offset 0 of the value, so [-1, …] normalizes to [0, -1, …]. Ancestry
// checks use this form; storage and rendering keep the bare form.
func (p Path) normalized() Path {
	if len(p) > 0 && p[0] == Deref {
		q := make(Path, len(p)+1)
		q[0] = 0
		copy(q[1:], p)
		return q
	}
	return p
}

// isAncestorOf reports whether p addresses a byte region that encloses the
// one addressed by q, i.e. whether p is a proper prefix of q once leading
// dereferences are normalized.
func (p Path) isAncestorOf(q Path) bool {
	pn, qn := p.normalized(), q.normalized()
	return len(pn) < len(qn) && pn.IsPrefixOf(qn)
}

// truncate cuts p after its nth dereference hop. Panics if p has fewer than
// n dereferences.
func (p Path) truncate(n int) Path {
	seen := 0
	for i, h := range p {
		if h == Deref {
			if seen++; seen == n {
				return p[:i+1:i+1]
			}
		}
	}
	malformed(p, "truncation beyond %d dereferences", n)
	return nil
}

func (p Path) clone() Path {
	q := make(Path, len(p))
	copy(q, p)
	return q
}

func (p Path) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, h := range p {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(h, 10))
	}
	sb.WriteByte(']')
	return sb.String()
}
