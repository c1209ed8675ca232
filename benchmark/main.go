package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/derivekit/typetree"
	"github.com/derivekit/typetree/pkgutil"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

var benchmarks = []repo{
	{"grpc/grpc-go", "23ac72b6454a2bcac32e19ccf501ca3a070f517c"},
	{"gin-gonic/gin", "dc9cff732e27ce4ac21b25772a83c462a28b8b80"},
	{"fatedier/frp", "f1454e91f56508603e4c2e3c7bf37ccb534458c2"},
	// kubernetes takes a long time to analyze...
	// {"kubernetes/kubernetes", "2a5fd3076aee14c1be51c703a7e5b447d638387d"},
	// {"gohugoio/hugo", "2ae4786ca1e4b912fabc8a6be503772374fed5d6"},
	// {"grafana/grafana", "85a207fcebb5acffe6474b97fef91f611f1989ee"},
	{"junegunn/fzf", "58835e40f35fd1007de9bf607e06d555f085354c"},
	// {"syncthing/syncthing", "95b3c26da724aff5b9aae88daf0783d866e95fda"},
	{"caddyserver/caddy", "1b73e3862d312ac2057265bf2a5fd95760dbe9da"},
}

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")

var dir = "."

type repo struct{ name, commit string }

func (r repo) install() string {
	repodir := filepath.Join(dir, "_benchfiles", strings.ReplaceAll(r.name, "/", "#"))
	if _, err := os.Stat(repodir); err != nil {
		if !os.IsNotExist(err) {
			log.Fatal(err)
		}

		log.Printf("Installing %s @ %s", r.name, r.commit)

		os.MkdirAll(repodir, 0750)

		cmd := exec.Command("sh", "-c",
			fmt.Sprintf(`git init && \
	git config advice.detachedHead false && \
	git remote add origin https://github.com/%s.git && \
	git fetch --depth 1 origin %s && \
	git checkout FETCH_HEAD`, r.name, r.commit))
		cmd.Dir = repodir
		if err := cmd.Run(); err != nil {
			log.Fatal(err)
		}
	}

	return repodir
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Fatal("Failed to close", f)
			}
		}()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	dirs := make([]string, len(benchmarks))
	for i, repo := range benchmarks {
		dirs[i] = repo.install()
	}

	dataFile, err := os.Create(filepath.Join(dir, "data.jsonl"))
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := dataFile.Close(); err != nil {
			log.Fatalf("Failed to close: %v %v", dataFile, err)
		}
	}()

	dataEncoder := json.NewEncoder(dataFile)

	for i, dir := range dirs {
		var modules []string
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if filepath.Base(path) == "go.mod" {
				modules = append(modules, path)
			}
			return nil
		})
		if err != nil {
			log.Fatal(err)
		}

		println()
		log.Printf("Found %d modules for %s", len(modules), benchmarks[i].name)

		for _, mod := range modules {
			gopath, err := filepath.Abs(filepath.Dir(dir))
			if err != nil {
				log.Fatal(err)
			}

			println()
			moddir := filepath.Dir(mod)
			pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
				Mode:  pkgutil.LoadMode | packages.NeedModule,
				Tests: true,
				Dir:   moddir,
				Env:   append(os.Environ(), "GO111MODULE=on", "GOPATH="+gopath),
			}, "./...")
			if err != nil {
				log.Print(moddir, err)
				continue
			}

			if len(pkgs) == 0 {
				log.Printf("Skipping module at %v as it has no packages", mod)
				continue
			}

			modulePath := pkgs[0].Module.Path
			log.Printf("Loaded %d packages for %s", len(pkgs), modulePath)

			var mainPkgs []*packages.Package
			for _, pkg := range pkgs {
				if pkg.Name == "main" {
					mainPkgs = append(mainPkgs, pkg)
				}
			}

			data := map[string]any{
				"module":       modulePath,
				"packages":     len(pkgs),
				"mainPackages": len(mainPkgs),
			}

			prog, _ := ssautil.AllPackages(mainPkgs, ssa.InstantiateGenerics)
			prog.Build()

			log.Print("SSA construction complete")
			ssaMains := ssautil.MainPackages(prog.AllPackages())
			if len(ssaMains) == 0 {
				log.Print("Skipping due to no main packages")
				continue
			}

			start := time.Now()
			res, err := typetree.Analyze(typetree.Config{
				Program:       prog,
				EntryPackages: ssaMains,
			})
			if err != nil {
				log.Fatal("Analysis crashed: ", err)
			}
			analysisDuration := time.Since(start)
			log.Printf(`Rooted analysis completed in %v
Reachable functions: %d
Values with trees: %d`, analysisDuration, len(res.Reachable), res.ValueCount())

			dynamicEdges, fanout := callGraphStats(res.CallGraph, res.Reachable)
			log.Printf("Dynamic call edges merged over: %d", dynamicEdges)

			entries, anything, kindCount := summaryStats(res)
			log.Printf("Boundary entries: %d (%d Anything)", entries, anything)

			data["rooted"] = map[string]any{
				"analysisDuration": analysisDuration.Milliseconds(),
				"reachable":        len(res.Reachable),
				"values":           res.ValueCount(),
				"entries":          entries,
				"anything":         anything,
				"kindCount":        kindCount,
				"dynamicEdges":     dynamicEdges,
				"fanout":           fanout,
			}

			start = time.Now()
			resAll, err := typetree.Analyze(typetree.Config{
				Program:             prog,
				AnalyzeAllFunctions: true,
			})
			if err != nil {
				log.Fatal("Analysis crashed: ", err)
			}
			analysisDuration = time.Since(start)
			log.Printf("Exhaustive analysis completed in %v", analysisDuration)
			log.Printf("Reachable functions: %d (%.2f%%)",
				len(resAll.Reachable),
				float64(len(resAll.Reachable)*100)/float64(len(res.Reachable)))

			entries2, anything2, kindCount2 := summaryStats(resAll)
			log.Printf("Boundary entries: %d (%d Anything)", entries2, anything2)

			data["exhaustive"] = map[string]any{
				"analysisDuration": analysisDuration.Milliseconds(),
				"reachable":        len(resAll.Reachable),
				"values":           resAll.ValueCount(),
				"entries":          entries2,
				"anything":         anything2,
				"kindCount":        kindCount2,
			}

			dataEncoder.Encode(data)
		}
	}
}

// summaryStats walks the boundary trees of every reachable function and
// tallies their entries per concrete type. The Anything count is the
// precision figure of interest: entries that collapsed under conflicts
// or the dereference bound.
func summaryStats(res *typetree.Result) (entries, anything int, kindCount map[string]int) {
	kindCount = make(map[string]int)

	for _, fun := range res.Functions() {
		sum, ok := res.Summary(fun)
		if !ok {
			continue
		}

		for _, trees := range [2][]*typetree.TypeTree{sum.Params, sum.Results} {
			for _, tree := range trees {
				for _, e := range tree.Entries() {
					entries++
					kindCount[e.Type.String()]++
					if e.Type == typetree.Anything {
						anything++
					}
				}
			}
		}
	}
	return
}

// callGraphStats counts the call edges at dynamic sites, the places where
// propagation merges flow over several candidate callees, with a histogram
// of candidates per site.
func callGraphStats(cg *callgraph.Graph, funs map[*ssa.Function]bool) (dynamicEdges int, fanout map[int]int) {
	fanout = make(map[int]int)

	for fun := range funs {
		node := cg.Nodes[fun]
		if node == nil {
			continue
		}

		targets := make(map[ssa.CallInstruction]int)
		for _, edge := range node.Out {
			if edge.Site == nil || edge.Site.Common().StaticCallee() != nil {
				continue
			}

			dynamicEdges++
			targets[edge.Site]++
		}

		for _, n := range targets {
			fanout[n]++
		}
	}
	return
}
