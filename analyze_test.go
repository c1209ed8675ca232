package typetree_test

import (
	"log"
	"testing"

	"github.com/derivekit/typetree"
	"github.com/derivekit/typetree/cache"
	"github.com/derivekit/typetree/pkgutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

func init() {
	// Set up logging
	log.SetFlags(log.Ltime | log.Lshortfile)
}

func loadProgram(t *testing.T, source string) (*ssa.Program, *ssa.Package) {
	t.Helper()
	prog, spkgs, err := pkgutil.LoadProgramFromSource(source)
	require.NoError(t, err)
	require.NotEmpty(t, spkgs)
	return prog, spkgs[0]
}

func analyzeMain(t *testing.T, source string) (*typetree.Result, *ssa.Package) {
	t.Helper()
	prog, pkg := loadProgram(t, source)
	res, err := typetree.Analyze(typetree.Config{Program: prog})
	require.NoError(t, err)
	return res, pkg
}

func paramString(t *testing.T, res *typetree.Result, pkg *ssa.Package, fun string, i int) string {
	t.Helper()
	fn := pkg.Func(fun)
	require.NotNil(t, fn, "no function %s", fun)
	return res.TypeOf(fn.Params[i]).String()
}

func TestAnalyze(t *testing.T) {
	t.Run("UnsafeLoad", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			import "unsafe"

			func load(p unsafe.Pointer) float64 {
				return *(*float64)(p)
			}

			func main() {
				x := 3.5
				println(load(unsafe.Pointer(&x)))
			}`)

		assert.Equal(t, "{[-1]:Pointer, [-1,0]:Float@double}",
			paramString(t, res, pkg, "load", 0),
			"the cast through unsafe.Pointer earns the pointee claim")
		assert.Equal(t, "{[0]:Float@double}",
			res.ResultOf(pkg.Func("load"), 0).String())
	})

	t.Run("ConflictingReads", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			import "unsafe"

			func peek(p unsafe.Pointer) (float64, float32) {
				a := *(*float64)(p)
				b := *(*float32)(p)
				return a, b
			}

			func main() {
				x := 1.0
				a, b := peek(unsafe.Pointer(&x))
				println(a, b)
			}`)

		assert.Equal(t, "{[-1]:Pointer, [-1,0]:Anything}",
			paramString(t, res, pkg, "peek", 0),
			"two precisions through one pointer disagree")
	})

	t.Run("CallerFlow", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			import "unsafe"

			func fill(p unsafe.Pointer) {
				*(*float64)(p) = 1.0
			}

			func main() {
				buf := make([]byte, 8)
				fill(unsafe.Pointer(&buf[0]))
				println(buf[0])
			}`)

		assert.Equal(t, "{[-1]:Pointer, [-1,0]:Float@double}",
			paramString(t, res, pkg, "fill", 0),
			"the store through the cast claims the caller's bytes")
	})

	t.Run("StructWalk", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			type node struct {
				next *node
				val  float64
			}

			func second(n *node) float64 {
				return n.next.val
			}

			func main() {
				a := &node{val: 1}
				println(second(&node{next: a, val: 2}))
			}`)

		fn := pkg.Func("second")
		n := res.TypeOf(fn.Params[0])
		assert.Equal(t, typetree.Pointer, n.Get(typetree.PathOf(typetree.Deref)))
		assert.Equal(t, typetree.FloatType(typetree.FloatDouble),
			n.Get(typetree.PathOf(typetree.Deref, 8)))
		assert.Equal(t, typetree.Pointer,
			n.Get(typetree.PathOf(typetree.Deref, 0, typetree.Deref)))
		assert.Equal(t, typetree.FloatType(typetree.FloatDouble),
			n.Get(typetree.PathOf(typetree.Deref, 0, typetree.Deref, 8)))
		assert.Equal(t, "{[0]:Float@double}", res.ResultOf(fn, 0).String())
	})

	t.Run("ListLoopCollapses", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			type node struct {
				next *node
				val  float64
			}

			func sum(n *node) float64 {
				s := 0.0
				for ; n != nil; n = n.next {
					s += n.val
				}
				return s
			}

			func main() {
				println(sum(&node{val: 1}))
			}`)

		fn := pkg.Func("sum")
		assert.Equal(t, "{[-1]:Anything}", res.TypeOf(fn.Params[0]).String(),
			"walking an unbounded list pushes the depth cutoff to the root pointer")
		assert.Equal(t, "{[0]:Float@double}", res.ResultOf(fn, 0).String(),
			"the accumulated payload stays a double")
	})

	t.Run("BitCastIntrinsics", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			import "math"

			func flip(x float64) float64 {
				return math.Float64frombits(math.Float64bits(x) ^ (1 << 63))
			}

			func main() {
				println(flip(2.0))
			}`)

		fn := pkg.Func("flip")
		assert.Equal(t, "{[0]:Float@double}", res.TypeOf(fn.Params[0]).String(),
			"the unsafe body of math.Float64bits must not leak into callers")
		assert.Equal(t, "{[0]:Float@double}", res.ResultOf(fn, 0).String())
	})

	t.Run("UintptrArithmetic", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			import "unsafe"

			func addr(p *float64) uintptr {
				return uintptr(unsafe.Pointer(p)) + 8
			}

			func main() {
				x := 1.0
				println(addr(&x))
			}`)

		ret := res.ResultOf(pkg.Func("addr"), 0)
		assert.Equal(t, "{[-1]:Pointer}", ret.String(),
			"arithmetic keeps the address claim but forgets the pointee")
	})

	t.Run("UnsafeSlice", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			import "unsafe"

			func floats(p unsafe.Pointer, n int) []float64 {
				return unsafe.Slice((*float64)(p), n)
			}

			func main() {
				x := 2.0
				println(floats(unsafe.Pointer(&x), 1)[0])
			}`)

		fn := pkg.Func("floats")
		assert.Equal(t, "{[-1]:Pointer, [-1,0]:Float@double}",
			res.TypeOf(fn.Params[0]).String(),
			"the element type reaches back through unsafe.Slice")
		ret := res.ResultOf(fn, 0)
		assert.Equal(t, typetree.FloatType(typetree.FloatDouble),
			ret.Get(typetree.PathOf(typetree.Deref, 0)))
	})

	t.Run("InterfaceBox", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			func id(v any) any { return v }

			func main() {
				println(id(3.14))
			}`)

		fn := pkg.Func("id")
		v := res.TypeOf(fn.Params[0])
		assert.Equal(t, typetree.Pointer, v.Get(typetree.PathOf(typetree.Deref)))
		assert.Equal(t, typetree.FloatType(typetree.FloatDouble),
			v.Get(typetree.PathOf(8, typetree.Deref, 0)),
			"the boxed double sits behind the data word")
	})

	t.Run("Invoke", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			type scaler interface {
				scale(float64) float64
			}

			type linear struct{ k float64 }

			func (l linear) scale(x float64) float64 { return l.k * x }

			func apply(s scaler, x float64) float64 {
				return s.scale(x)
			}

			func main() {
				println(apply(linear{k: 2}, 3))
			}`)

		s := res.TypeOf(pkg.Func("apply").Params[0])
		assert.Equal(t, typetree.FloatType(typetree.FloatDouble),
			s.Get(typetree.PathOf(8, typetree.Deref, 0)),
			"the receiver layout flows into the interface data word")

		var scale *ssa.Function
		for _, fn := range res.Functions() {
			if fn.String() == "(main.linear).scale" {
				scale = fn
			}
		}
		require.NotNil(t, scale)
		assert.Equal(t, "{[0]:Float@double}", res.TypeOf(scale.Params[0]).String())
	})

	t.Run("Closure", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			func counter() func() float64 {
				x := 0.5
				return func() float64 {
					x += 0.5
					return x
				}
			}

			func main() {
				println(counter()())
			}`)

		anons := pkg.Func("counter").AnonFuncs
		require.Len(t, anons, 1)
		require.Len(t, anons[0].FreeVars, 1)
		assert.Equal(t, "{[-1]:Pointer, [-1,0]:Float@double}",
			res.TypeOf(anons[0].FreeVars[0]).String())
	})

	t.Run("GlobalFlow", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			import "unsafe"

			var g unsafe.Pointer

			func set(p *float64) { g = unsafe.Pointer(p) }

			func get() *float64 { return (*float64)(g) }

			func main() {
				x := 1.0
				set(&x)
				println(get())
			}`)

		ret := res.ResultOf(pkg.Func("get"), 0)
		assert.Equal(t, typetree.FloatType(typetree.FloatDouble),
			ret.Get(typetree.PathOf(typetree.Deref, 0)),
			"the claim crosses functions through the global")

		g := pkg.Var("g")
		require.NotNil(t, g)
		assert.Equal(t, typetree.FloatType(typetree.FloatDouble),
			res.TypeOf(g).Get(typetree.PathOf(typetree.Deref, 0, typetree.Deref, 0)))
	})

	t.Run("MapRange", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			func total(m map[int]float64) float64 {
				s := 0.0
				for _, v := range m {
					s += v
				}
				return s
			}

			func main() {
				println(total(map[int]float64{1: 2}))
			}`)

		assert.Equal(t, "{[-1]:Pointer}", paramString(t, res, pkg, "total", 0),
			"map payloads stay unmodeled")
		assert.Equal(t, "{[0]:Float@double}",
			res.ResultOf(pkg.Func("total"), 0).String())

		var rng ssa.Value
		for _, b := range pkg.Func("total").Blocks {
			for _, insn := range b.Instrs {
				if r, ok := insn.(*ssa.Range); ok {
					rng = r
				}
			}
		}
		require.NotNil(t, rng)
		assert.Equal(t, "{}", res.TypeOf(rng).String(),
			"iterators have no bytes to describe")
	})

	t.Run("StringRange", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			func runes(s string) int {
				n := 0
				for range s {
					n++
				}
				return n
			}

			func main() {
				println(runes("héllo"))
			}`)

		assert.Equal(t, "{[-1]:Pointer, [8]:Integer}",
			paramString(t, res, pkg, "runes", 0))
		assert.Equal(t, "{[0]:Integer}",
			res.ResultOf(pkg.Func("runes"), 0).String())
	})

	t.Run("MutualRecursion", func(t *testing.T) {
		res, pkg := analyzeMain(t, `
			package main

			import "unsafe"

			func even(p unsafe.Pointer, n int) float64 {
				if n == 0 {
					return *(*float64)(p)
				}
				return odd(p, n-1)
			}

			func odd(p unsafe.Pointer, n int) float64 {
				if n == 0 {
					return -*(*float64)(p)
				}
				return even(p, n-1)
			}

			func main() {
				x := 1.5
				println(even(unsafe.Pointer(&x), 4))
			}`)

		for _, name := range []string{"even", "odd"} {
			assert.Equal(t, "{[-1]:Pointer, [-1,0]:Float@double}",
				paramString(t, res, pkg, name, 0),
				"%s learns the pointee through the cycle", name)
			assert.Equal(t, "{[0]:Float@double}",
				res.ResultOf(pkg.Func(name), 0).String(), name)
		}
	})
}

func TestAnalyzeRoots(t *testing.T) {
	const source = `
		package main

		func helper(p *float32) float32 { return *p }

		func main() {}`

	t.Run("MainOnly", func(t *testing.T) {
		prog, pkg := loadProgram(t, source)
		res, err := typetree.Analyze(typetree.Config{Program: prog})
		require.NoError(t, err)

		helper := pkg.Func("helper")
		assert.False(t, res.Reachable[helper])
		_, ok := res.Summary(helper)
		assert.False(t, ok, "unreachable functions have no summary")
	})

	t.Run("AllFunctions", func(t *testing.T) {
		prog, pkg := loadProgram(t, source)
		res, err := typetree.Analyze(typetree.Config{
			Program:             prog,
			AnalyzeAllFunctions: true,
		})
		require.NoError(t, err)

		helper := pkg.Func("helper")
		require.True(t, res.Reachable[helper])
		sum, ok := res.Summary(helper)
		require.True(t, ok)
		require.Len(t, sum.Params, 1)
		assert.Equal(t, "{[-1]:Pointer, [-1,0]:Float@float}", sum.Params[0].String())
	})
}

func TestAnalyzeConfig(t *testing.T) {
	_, err := typetree.Analyze(typetree.Config{})
	assert.Error(t, err, "a program is required")
}

func TestAnalyzeStrictRecursion(t *testing.T) {
	t.Run("RecursiveType", func(t *testing.T) {
		prog, _ := loadProgram(t, `
			package main

			type node struct {
				next *node
				val  float64
			}

			func main() {
				n := &node{val: 1}
				println(n.val)
			}`)

		_, err := typetree.Analyze(typetree.Config{
			Program: prog,
			Options: typetree.Options{StrictRecursion: true},
		})
		require.ErrorIs(t, err, typetree.ErrRecursionLimit)
		assert.ErrorContains(t, err, "seeding")

		_, err = typetree.Analyze(typetree.Config{Program: prog})
		assert.NoError(t, err, "without strictness the type degrades instead")
	})

	t.Run("RangeLoops", func(t *testing.T) {
		prog, _ := loadProgram(t, `
			package main

			func keys(m map[string]float64) int {
				n := 0
				for k := range m {
					n += len(k)
				}
				return n
			}

			func main() {
				println(keys(map[string]float64{"a": 1}))
			}`)

		_, err := typetree.Analyze(typetree.Config{
			Program: prog,
			Options: typetree.Options{StrictRecursion: true},
		})
		assert.NoError(t, err, "iterator values have no layout to vet")
	})

	t.Run("FlatTypes", func(t *testing.T) {
		prog, _ := loadProgram(t, `
			package main

			func scale(p *float64) float64 { return *p * 2 }

			func main() {
				x := 1.0
				println(scale(&x))
			}`)

		_, err := typetree.Analyze(typetree.Config{
			Program: prog,
			Options: typetree.Options{StrictRecursion: true},
		})
		assert.NoError(t, err)
	})
}

func TestAnalyzeCachedSummaries(t *testing.T) {
	const source = `
		package main

		import "unsafe"

		func load(p unsafe.Pointer) float64 {
			return *(*float64)(p)
		}

		func main() {
			x := 3.5
			println(load(unsafe.Pointer(&x)))
		}`

	store, err := cache.OpenInMemory(nil)
	require.NoError(t, err)
	defer store.Close()

	prog1, pkg1 := loadProgram(t, source)
	res1, err := typetree.Analyze(typetree.Config{Program: prog1, Summaries: store})
	require.NoError(t, err)
	require.Zero(t, store.Stats().Hits, "nothing cached on the first run")

	prog2, pkg2 := loadProgram(t, source)
	res2, err := typetree.Analyze(typetree.Config{Program: prog2, Summaries: store})
	require.NoError(t, err)
	assert.Positive(t, store.Stats().Hits, "identical SSA should hit the cache")

	assert.Equal(t,
		res1.TypeOf(pkg1.Func("load").Params[0]).String(),
		res2.TypeOf(pkg2.Func("load").Params[0]).String())
}
