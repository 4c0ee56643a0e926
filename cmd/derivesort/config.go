package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"derivesort/internal/derive"
	"derivesort/internal/driver"
)

const configFileName = "derivesort.toml"

type toolConfig struct {
	Derive deriveConfig `toml:"derive"`
	Walk   walkConfig   `toml:"walk"`
}

type deriveConfig struct {
	Priority []string `toml:"priority"`
}

type walkConfig struct {
	Extension string   `toml:"extension"`
	Skip      []string `toml:"skip"`
	Exclude   []string `toml:"exclude"`
}

// settings is a validated configuration ready for the driver.
// Path is empty when no config file was found.
type settings struct {
	Path  string
	Table *derive.PriorityTable
	Walk  driver.WalkOptions
}

func defaultSettings() settings {
	return settings{Table: derive.DefaultPriorityTable()}
}

func findConfigFile(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// loadSettings reads explicitPath when set, otherwise the nearest
// derivesort.toml above startDir. A missing implicit file yields defaults.
func loadSettings(explicitPath, startDir string) (settings, error) {
	path := explicitPath
	if path == "" {
		found, ok, err := findConfigFile(startDir)
		if err != nil {
			return settings{}, err
		}
		if !ok {
			return defaultSettings(), nil
		}
		path = found
	}
	return loadConfigFile(path)
}

func loadConfigFile(path string) (settings, error) {
	var cfg toolConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return settings{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return settings{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	out := settings{Path: path, Table: derive.DefaultPriorityTable()}
	if meta.IsDefined("derive", "priority") {
		table, err := derive.NewPriorityTable(cfg.Derive.Priority)
		if err != nil {
			return settings{}, fmt.Errorf("%s: [derive].priority: %w", path, err)
		}
		out.Table = table
	}

	if meta.IsDefined("walk", "extension") {
		ext := strings.TrimSpace(cfg.Walk.Extension)
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, `/\`) {
			return settings{}, fmt.Errorf("%s: [walk].extension must look like \".rs\", got %q", path, cfg.Walk.Extension)
		}
		out.Walk.Extension = ext
	}
	if meta.IsDefined("walk", "skip") {
		// an explicit empty list turns skipping off
		out.Walk.Skip = append(make([]string, 0, len(cfg.Walk.Skip)), cfg.Walk.Skip...)
	}
	out.Walk.Exclude = append(out.Walk.Exclude, cfg.Walk.Exclude...)
	if err := out.Walk.Validate(); err != nil {
		return settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

func defaultConfig() toolConfig {
	return toolConfig{
		Derive: deriveConfig{Priority: slices.Clone(derive.DefaultOrder)},
		Walk: walkConfig{
			Extension: driver.DefaultExtension,
			Skip:      []string{driver.DefaultSkipDir},
			Exclude:   []string{},
		},
	}
}
