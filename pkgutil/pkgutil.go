package pkgutil

import (
	"errors"
	"os"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// LoadMode spells out the deprecated packages.LoadAllSyntax: everything
// needed to build SSA for the loaded packages and their dependencies.
const LoadMode = packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypes |
	packages.NeedTypesSizes | packages.NeedImports | packages.NeedName |
	packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedDeps

func LoadPackagesWithConfig(config *packages.Config, queries ...string) ([]*packages.Package, error) {
	pkgs, err := packages.Load(config, queries...)
	if err != nil {
		return nil, err
	}
	if packages.PrintErrors(pkgs) > 0 {
		return pkgs, errors.New("errors encountered while loading packages")
	}
	return pkgs, nil
}

// BuildSSA converts loaded packages into a built SSA program.
func BuildSSA(pkgs []*packages.Package) (*ssa.Program, []*ssa.Package) {
	prog, spkgs := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics)
	prog.Build()
	return prog, spkgs
}

// LoadProgramFromSource builds SSA for a single-file main package given as
// a source string. The file is served through the overlay mechanism, so
// nothing has to exist on disk.
func LoadProgramFromSource(source string) (*ssa.Program, []*ssa.Package, error) {
	const filename = "/fake/analyzed/main.go"
	pkgs, err := LoadPackagesWithConfig(&packages.Config{
		Mode:    LoadMode,
		Env:     append(os.Environ(), "GO111MODULE=off", "GOPATH=/fake"),
		Overlay: map[string][]byte{filename: []byte(source)},
	}, filename)
	if err != nil {
		return nil, nil, err
	}
	prog, spkgs := BuildSSA(pkgs)
	return prog, spkgs, nil
}
