package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"regexp"
	"runtime/pprof"
	"time"

	"github.com/derivekit/typetree"
	"github.com/derivekit/typetree/cache"
	"github.com/derivekit/typetree/pkgutil"
	"github.com/mattn/go-isatty"
	"golang.org/x/tools/go/packages"
)

var (
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to `file`")
	dir         = flag.String("dir", "", "alternative directory to run the go build tool in")
	configPath  = flag.String("config", "", "read options from a YAML `file`")
	tests       = flag.Bool("tests", false, "include test packages")
	allFuncs    = flag.Bool("all", false, "make every function a root, not just main and init")
	depth       = flag.Int("depth", typetree.DefaultMaxDerefDepth, "maximum dereferences per reported path")
	strict      = flag.Bool("strict", false, "fail instead of degrading when a type needs truncation at the depth bound")
	cachePath   = flag.String("cache", "", "summary cache directory (empty disables caching)")
	funcFilter  = flag.String("func", "", "only dump functions matching this `regexp`")
	verbose     = flag.Bool("v", false, "debug logging")
	noColor     = flag.Bool("no-color", false, "disable ANSI colors in the dump")
	interactive = flag.Bool("interactive", false, "drop into a prompt after the analysis")
)

func main() {
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath)
		if err != nil {
			log.Fatalf("Loading config failed: %v", err)
		}
	}
	applyFlags(&cfg)

	logger := slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: cfg.slogLevel()}))
	slog.SetDefault(logger)

	if len(cfg.Entry) == 0 {
		log.Fatal("Specify a package query on the command line")
	}

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

	pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
		Mode:  pkgutil.LoadMode,
		Tests: cfg.Tests,
		Dir:   cfg.Dir,
	}, cfg.Entry...)
	if err != nil {
		log.Fatalf("Loading packages failed: %v", err)
	}
	log.Printf("Loaded %d packages", len(pkgs))

	prog, spkgs := pkgutil.BuildSSA(pkgs)
	log.Println("Built SSA program")

	var store *cache.Store
	var summaries typetree.SummaryCache
	if cfg.Cache.Enabled {
		store, err = cache.Open(cfg.cacheDir(), logger)
		if err != nil {
			log.Printf("Opening summary cache failed: %v; continuing without", err)
			store = nil
		} else {
			defer store.Close()
			summaries = store
		}
	}

	start := time.Now()
	res, err := typetree.Analyze(typetree.Config{
		Program:             prog,
		EntryPackages:       spkgs,
		AnalyzeAllFunctions: cfg.AllFunctions,
		Summaries:           summaries,
		Options: typetree.Options{
			MaxDerefDepth:   cfg.Depth,
			StrictRecursion: cfg.Strict,
			Logger:          logger,
		},
	})
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	log.Printf("%d reachable functions", len(res.Reachable))

	if store != nil {
		stats := store.Stats()
		if _, err := store.RecordRun(cache.Run{
			Start:     start,
			Dir:       cfg.Dir,
			Functions: len(res.Reachable),
			Values:    res.ValueCount(),
			Hits:      stats.Hits,
			Misses:    stats.Misses,
			Elapsed:   time.Since(start),
		}); err != nil {
			log.Printf("Recording run failed: %v", err)
		}
	}

	var filter *regexp.Regexp
	if cfg.Dump.Functions != "" {
		filter, err = regexp.Compile(cfg.Dump.Functions)
		if err != nil {
			log.Fatalf("Bad function filter: %v", err)
		}
	}
	color := cfg.colorEnabled() && isatty.IsTerminal(os.Stdout.Fd())
	dumpSummaries(os.Stdout, res, filter, color)

	if *interactive {
		if err := runREPL(res, store); err != nil {
			log.Fatalf("Prompt failed: %v", err)
		}
	}
}
