package slices

// Map applies f to every element of l, returning the results in order.
func Map[L ~[]X, X, Y any](l L, f func(X) Y) []Y {
	out := make([]Y, len(l))
	for i, x := range l {
		out[i] = f(x)
	}
	return out
}
