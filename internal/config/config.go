// Package config resolves the tool's settings from defaults, a global
// config file, and a per-repository override, in that order. Core
// packages never read the environment themselves; everything they need
// arrives through Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const repoFileName = ".ai-session-export.toml"

// Config is the fully resolved configuration.
type Config struct {
	ClaudeRoot string `toml:"claude_root"`
	CodexRoot  string `toml:"codex_root"`
	ExportRoot string `toml:"export_root"`
	DBPath     string `toml:"db_path"`

	Actor string `toml:"actor"`

	Evaluator      string `toml:"evaluator"` // codex | claude
	EvaluatorModel string `toml:"evaluator_model"`
	Concurrency    int    `toml:"concurrency"`

	ChangelogEnabled bool   `toml:"changelog_enabled"`
	Timezone         string `toml:"timezone"` // IANA name; empty means local

	location *time.Location
}

// Location returns the calendar used for date-keyed log folders.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// Load resolves configuration: built-in defaults, then the global file
// at ~/.config/ase/config.toml, then repoDir's .ai-session-export.toml
// when repoDir is non-empty. Later layers override earlier ones
// field-by-field.
func Load(repoDir string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ClaudeRoot:       filepath.Join(home, ".claude", "projects"),
		CodexRoot:        filepath.Join(home, ".codex", "sessions"),
		ExportRoot:       filepath.Join(home, ".config", "ase", "exports"),
		DBPath:           filepath.Join(home, ".config", "ase", "ase.db"),
		Evaluator:        "codex",
		Concurrency:      5,
		ChangelogEnabled: true,
	}

	globalPath := filepath.Join(home, ".config", "ase", "config.toml")
	if _, err := os.Stat(globalPath); err == nil {
		if _, err := toml.DecodeFile(globalPath, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", globalPath, err)
		}
	}

	if repoDir != "" {
		repoPath := filepath.Join(repoDir, repoFileName)
		if _, err := os.Stat(repoPath); err == nil {
			if _, err := toml.DecodeFile(repoPath, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", repoPath, err)
			}
		}
	}

	// expand ~ in paths
	cfg.ClaudeRoot = expandHome(cfg.ClaudeRoot, home)
	cfg.CodexRoot = expandHome(cfg.CodexRoot, home)
	cfg.ExportRoot = expandHome(cfg.ExportRoot, home)
	cfg.DBPath = expandHome(cfg.DBPath, home)

	if cfg.Actor == "" {
		cfg.Actor = defaultActor()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Evaluator != "codex" && cfg.Evaluator != "claude" {
		return nil, fmt.Errorf("config: unknown evaluator %q", cfg.Evaluator)
	}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("config: bad timezone %q: %w", cfg.Timezone, err)
		}
		cfg.location = loc
	}

	return cfg, nil
}

// defaultActor falls back to the OS username when no actor is
// configured. This is the one environment read in the package; it
// happens at load time, never in core code.
func defaultActor() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "unknown"
}

func expandHome(path, home string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
