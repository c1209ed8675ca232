package typetree_test

import (
	"fmt"
	"testing"

	"github.com/derivekit/typetree"
	"github.com/derivekit/typetree/pkgutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

var blackHole any

// Benchmark performance of tree inference (and callgraph construction) on
// the standard library (w. tests)
func BenchmarkStdlibAnalysis(b *testing.B) {
	pkgs, err := pkgutil.LoadPackagesWithConfig(
		&packages.Config{
			Mode:  pkgutil.LoadMode,
			Tests: true,
			Dir:   "",
		}, "std")
	require.NoError(b, err)

	prog, spkgs := pkgutil.BuildSSA(pkgs)

	for _, all := range [...]bool{false, true} {
		b.Run(fmt.Sprintf("Analyze(AllFunctions=%v)", all),
			func(b *testing.B) {
				res, err := typetree.Analyze(typetree.Config{
					Program:             prog,
					EntryPackages:       spkgs,
					AnalyzeAllFunctions: all,
				})
				require.NoError(b, err)
				blackHole = res
			})
	}
}

func BenchmarkDecode(b *testing.B) {
	const enc = "{[-1]:Pointer, [-1,0]:Float@double, [-1,8,-1]:Pointer, " +
		"[-1,8,-1,0]:Anything, [-1,16]:Integer}"
	for i := 0; i < b.N; i++ {
		t, err := typetree.Decode(enc)
		if err != nil {
			b.Fatal(err)
		}
		blackHole = t
	}
}
