package typetree

import (
	"log"
	"slices"
)

// DefaultMaxDerefDepth bounds how many dereference hops a stored path may
// contain. Deeper structure collapses to Anything at the cutoff, which keeps
// trees finite on recursive types.
const DefaultMaxDerefDepth = 6

// Entry is one (path, interpretation) pair of a [TypeTree].
type Entry struct {
	Path Path
	Type ConcreteType
}

type entry struct {
	path Path
	ct   ConcreteType
}

// A TypeTree records everything known about the bytes reachable from one
// value: a finite map from canonical paths to lattice elements. The zero
// value is not usable; construct with [NewTree].
//
// Trees maintain three invariants. Each address has exactly one spelling
// (the pointer at the start of the value is [-1,…], never [0,-1,…]).
// Pointer tags sit on paths ending in a dereference, Integer and Float tags
// on paths ending in a byte offset. Entries tagged Integer, Float or
// Anything never have entries strictly below them; evidence of structure
// below a scalar escalates the scalar to Anything and absorbs the subtree.
type TypeTree struct {
	entries   []entry // sorted by Path.Compare
	depth     int
	truncated int
	frozen    bool
}

// NewTree returns an empty tree whose paths hold at most maxDepth
// dereferences. A non-positive maxDepth selects [DefaultMaxDerefDepth].
func NewTree(maxDepth int) *TypeTree {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDerefDepth
	}
	return &TypeTree{depth: maxDepth}
}

// noClaim is the shared immutable empty tree handed out for values the
// analysis knows nothing about.
var noClaim = func() *TypeTree {
	t := NewTree(0)
	t.freeze()
	return t
}()

// Len reports the number of entries.
func (t *TypeTree) Len() int { return len(t.entries) }

// Depth reports the dereference bound the tree was built with.
func (t *TypeTree) Depth() int { return t.depth }

// Entries returns the entries in canonical order. The paths alias the
// tree's storage and must not be mutated.
func (t *TypeTree) Entries() []Entry {
	es := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		es[i] = Entry{Path: e.path, Type: e.ct}
	}
	return es
}

// Get returns the interpretation recorded at exactly p, or Bottom when the
// tree holds no entry there.
func (t *TypeTree) Get(p Path) ConcreteType {
	p.check()
	if i, ok := t.find(canonical(p)); ok {
		return t.entries[i].ct
	}
	return Bottom
}

// Insert joins (p, ct) into the tree and reports whether the tree changed.
//
// Bottom is a no-op. A path with more dereferences than the tree's bound is
// cut at the bound and recorded as Anything. An insertion at an occupied
// path joins the two elements. An insertion below an Integer or Float entry
// escalates that entry to Anything and drops the insertion, as does the
// mirror case of a scalar inserted above existing structure; below an
// Anything entry the insertion is already subsumed.
//
// Panics with [*MalformedPathError] when p is empty or malformed, or when
// ct's kind does not match the path's final hop.
func (t *TypeTree) Insert(p Path, ct ConcreteType) bool {
	t.mutable()
	if ct.IsBottom() {
		return false
	}
	p = canonical(p)
	checkShape(p, ct)
	if p.Derefs() > t.depth {
		p = p.truncate(t.depth)
		ct = Anything
		t.truncated++
	}

	for i := range t.entries {
		e := &t.entries[i]
		if !e.path.isAncestorOf(p) {
			continue
		}
		switch e.ct.Kind {
		case KindAnything:
			return false
		case KindInteger, KindFloat:
			e.ct = Anything
			t.absorb(e.path)
			return true
		}
	}

	i, ok := t.find(p)
	if ok {
		joined := t.entries[i].ct.Merge(ct)
		if joined == t.entries[i].ct {
			return false
		}
		t.entries[i].ct = joined
		if joined.Kind == KindAnything {
			t.absorb(p)
		}
		return true
	}

	if ct.Kind != KindPointer && t.hasDescendants(p) {
		ct = Anything
		t.absorb(p)
		i, _ = t.find(p)
	}
	t.entries = slices.Insert(t.entries, i, entry{path: p.clone(), ct: ct})
	return true
}

// Merge joins every entry of o into t and reports whether t changed.
// Merging a tree into itself or an already subsuming tree changes nothing.
func (t *TypeTree) Merge(o *TypeTree) bool {
	if o == nil || t == o {
		return false
	}
	t.mutable()
	changed := false
	for _, e := range o.entries {
		if t.Insert(e.path, e.ct) {
			changed = true
		}
	}
	return changed
}

// Clone returns a mutable copy sharing no entry storage with t.
func (t *TypeTree) Clone() *TypeTree {
	c := &TypeTree{
		entries:   slices.Clone(t.entries),
		depth:     t.depth,
		truncated: t.truncated,
	}
	return c
}

// Equal reports whether two trees record identical entries. The dereference
// bound does not participate.
func (t *TypeTree) Equal(o *TypeTree) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || len(t.entries) != len(o.entries) {
		return false
	}
	for i, e := range t.entries {
		if e.ct != o.entries[i].ct || e.path.Compare(o.entries[i].path) != 0 {
			return false
		}
	}
	return true
}

// OffsetSubtree returns the tree describing the value stored at byte offset
// base of the pointee: the entry at exactly [-1,base] reappears at [0], and
// entries below a pointer at that offset reappear with the [-1,base] prefix
// stripped. Entries at other offsets, and the pointer tag itself, drop out.
func (t *TypeTree) OffsetSubtree(base int64) *TypeTree {
	if base < 0 {
		malformed(Path{base}, "negative subtree base")
	}
	r := NewTree(t.depth)
	for _, e := range t.entries {
		p := e.path
		if len(p) < 2 || p[0] != Deref || p[1] != base {
			continue
		}
		if len(p) == 2 {
			r.Insert(Path{0}, e.ct)
			continue
		}
		r.Insert(p[2:], e.ct)
	}
	return r
}

// indirect returns the tree for a pointer whose pointee t describes: a
// Pointer tag at [-1] with every entry of t reattached below the
// dereference.
func (t *TypeTree) indirect() *TypeTree {
	r := NewTree(t.depth)
	r.Insert(Path{Deref}, Pointer)
	for _, e := range t.entries {
		np := e.path.normalized()
		r.Insert(append(Path{Deref}, np...), e.ct)
	}
	return r
}

// lookup returns the tree for a value of the given byte width read through
// the pointer t describes: entries within the first width bytes of the
// pointee, with the leading dereference stripped.
func (t *TypeTree) lookup(width int64) *TypeTree {
	r := NewTree(t.depth)
	for _, e := range t.entries {
		p := e.path
		if len(p) < 2 || p[0] != Deref {
			continue
		}
		if o := p[1]; o < width {
			r.Insert(p[1:], e.ct)
		}
	}
	return r
}

// window selects the bytes [off, off+width) of the value t describes,
// rebased to offset zero.
func (t *TypeTree) window(off, width int64) *TypeTree {
	r := NewTree(t.depth)
	for _, e := range t.entries {
		np := e.path.normalized()
		o := np[0]
		if o < off || o >= off+width {
			continue
		}
		q := append(Path{o - off}, np[1:]...)
		r.Insert(q, e.ct)
	}
	return r
}

// embed places the value t describes at byte offset off of an enclosing
// value.
func (t *TypeTree) embed(off int64) *TypeTree {
	r := NewTree(t.depth)
	for _, e := range t.entries {
		np := e.path.normalized()
		q := append(Path{np[0] + off}, np[1:]...)
		r.Insert(q, e.ct)
	}
	return r
}

// derefWindow selects the bytes [off, off+width) one level below the
// pointer t describes, keeping the pointer tag. This is the tree of an
// interior pointer &(*p).field.
func (t *TypeTree) derefWindow(off, width int64) *TypeTree {
	r := NewTree(t.depth)
	for _, e := range t.entries {
		p := e.path
		if len(p) == 0 || p[0] != Deref {
			continue
		}
		if len(p) == 1 {
			r.Insert(p, e.ct)
			continue
		}
		if o := p[1]; o >= off && o < off+width {
			q := append(Path{Deref, o - off}, p[2:]...)
			r.Insert(q, e.ct)
		}
	}
	return r
}

// derefEmbed is the inverse of derefWindow: the pointee entries of t
// shifted up by off, describing the enclosing allocation an interior
// pointer points into.
func (t *TypeTree) derefEmbed(off int64) *TypeTree {
	r := NewTree(t.depth)
	for _, e := range t.entries {
		p := e.path
		if len(p) == 0 || p[0] != Deref {
			continue
		}
		if len(p) == 1 {
			r.Insert(p, e.ct)
			continue
		}
		q := append(Path{Deref, p[1] + off}, p[2:]...)
		r.Insert(q, e.ct)
	}
	return r
}

func (t *TypeTree) find(p Path) (int, bool) {
	return slices.BinarySearchFunc(t.entries, p, func(e entry, q Path) int {
		return e.path.Compare(q)
	})
}

func (t *TypeTree) hasDescendants(p Path) bool {
	for _, e := range t.entries {
		if p.isAncestorOf(e.path) {
			return true
		}
	}
	return false
}

// absorb removes every entry strictly below p.
func (t *TypeTree) absorb(p Path) {
	t.entries = slices.DeleteFunc(t.entries, func(e entry) bool {
		return p.isAncestorOf(e.path)
	})
}

func (t *TypeTree) freeze() { t.frozen = true }

func (t *TypeTree) mutable() {
	if t.frozen {
		log.Panicf("typetree: mutation of a frozen tree")
	}
}

// canonical rewrites the explicit spelling [0,-1,…] of the pointer at the
// start of a value to the stored shorthand [-1,…].
func canonical(p Path) Path {
	if len(p) >= 2 && p[0] == 0 && p[1] == Deref {
		return p[1:]
	}
	return p
}

func checkShape(p Path, ct ConcreteType) {
	if len(p) == 0 {
		malformed(p, "empty path")
	}
	p.check()
	switch ct.Kind {
	case KindPointer:
		if !p.endsInDeref() {
			malformed(p, "Pointer tag on a path not ending in a dereference")
		}
	case KindInteger, KindFloat:
		if p.endsInDeref() {
			malformed(p, "%v tag on a dereference", ct)
		}
	}
}
