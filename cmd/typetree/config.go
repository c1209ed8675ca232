package main

import (
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/derivekit/typetree"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Dir          string   `yaml:"dir"`
	Entry        []string `yaml:"entry"`
	Tests        bool     `yaml:"tests"`
	AllFunctions bool     `yaml:"all_functions"`
	Depth        int      `yaml:"depth"`
	Strict       bool     `yaml:"strict"`
	LogLevel     string   `yaml:"log_level"`
	Cache        struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"cache"`
	Dump struct {
		Functions string `yaml:"functions"`
		Color     *bool  `yaml:"color"`
	} `yaml:"dump"`
}

func defaultConfig() fileConfig {
	return fileConfig{Depth: typetree.DefaultMaxDerefDepth, LogLevel: "info"}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Depth <= 0 {
		cfg.Depth = typetree.DefaultMaxDerefDepth
	}
	return cfg, nil
}

// applyFlags lets explicitly set command line flags win over the config file.
func applyFlags(cfg *fileConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.Dir = *dir
		case "tests":
			cfg.Tests = *tests
		case "all":
			cfg.AllFunctions = *allFuncs
		case "depth":
			cfg.Depth = *depth
		case "strict":
			cfg.Strict = *strict
		case "cache":
			cfg.Cache.Enabled = *cachePath != ""
			cfg.Cache.Path = *cachePath
		case "func":
			cfg.Dump.Functions = *funcFilter
		case "v":
			if *verbose {
				cfg.LogLevel = "debug"
			}
		case "no-color":
			enabled := !*noColor
			cfg.Dump.Color = &enabled
		}
	})
	if args := flag.Args(); len(args) > 0 {
		cfg.Entry = args
	}
}

func (cfg *fileConfig) slogLevel() slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "", "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", cfg.LogLevel)
		return slog.LevelInfo
	}
}

func (cfg *fileConfig) colorEnabled() bool {
	if cfg.Dump.Color != nil {
		return *cfg.Dump.Color
	}
	return true
}

func (cfg *fileConfig) cacheDir() string {
	if cfg.Cache.Path != "" {
		return cfg.Cache.Path
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return ".typetree-cache"
	}
	return filepath.Join(base, "typetree")
}
