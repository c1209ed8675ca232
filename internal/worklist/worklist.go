package worklist

import (
	"errors"

	"github.com/hashicorp/go-set/v3"
)

// Worklist is a FIFO of unique elements: pushing an element that is already
// queued is a no-op, so an element occupies at most one slot at a time.
type Worklist[E comparable] struct {
	elements []E
	queued   *set.Set[E]
}

func New[E comparable]() *Worklist[E] {
	return &Worklist[E]{queued: set.New[E](16)}
}

// Push appends e unless it is already queued, reporting whether it was
// added.
func (w *Worklist[E]) Push(e E) bool {
	if !w.queued.Insert(e) {
		return false
	}
	w.elements = append(w.elements, e)
	return true
}

func (w *Worklist[E]) Empty() bool {
	return len(w.elements) == 0
}

func (w *Worklist[E]) Len() int {
	return len(w.elements)
}

var ErrEmpty = errors.New("worklist is empty")

func (w *Worklist[E]) Pop() E {
	if w.Empty() {
		panic(ErrEmpty)
	}

	e := w.elements[0]
	w.elements = w.elements[1:]
	w.queued.Remove(e)
	return e
}
