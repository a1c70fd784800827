// Package config loads submitpack settings from defaults, an optional
// submit.yaml file, and SUBMIT_-prefixed environment variables, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is the config file consulted when --config is not given.
// Its absence is not an error; defaults and environment apply.
const DefaultFile = "submit.yaml"

type Config struct {
	Work      WorkConfig      `koanf:"work"`
	Bundle    BundleConfig    `koanf:"bundle"`
	Roster    RosterConfig    `koanf:"roster"`
	Container ContainerConfig `koanf:"container"`
	Source    SourceConfig    `koanf:"source"`
	Prune     PruneConfig     `koanf:"prune"`
	Infer     InferConfig     `koanf:"infer"`
	Log       LogConfig       `koanf:"log"`
	History   HistoryConfig   `koanf:"history"`
}

// WorkConfig locates the externally-trained state. Dir is the only knob the
// original workflow exposes (SUBMIT_WORK_DIR); Checkpoint is the file that
// must exist inside it before a run is allowed to proceed.
type WorkConfig struct {
	Dir        string `koanf:"dir"`
	Checkpoint string `koanf:"checkpoint"`
}

type BundleConfig struct {
	Dir     string `koanf:"dir"`
	Archive string `koanf:"archive"`
}

type RosterConfig struct {
	Source string `koanf:"source"`
}

type ContainerConfig struct {
	File string `koanf:"file"`
}

type SourceConfig struct {
	Dir string `koanf:"dir"`
}

// PruneConfig names what gets filtered out of the copied source tree:
// directories by exact name anywhere in the tree, files by extension.
type PruneConfig struct {
	Dirs []string `koanf:"dirs"`
	Exts []string `koanf:"exts"`
}

// InferConfig describes the external prediction program. Command is the
// argv prefix; the pipeline appends the mode selector and the three
// path arguments.
type InferConfig struct {
	Command  []string `koanf:"command"`
	TestData string   `koanf:"testdata"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text, json
}

type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Load builds the effective configuration. path may be empty, in which case
// DefaultFile is used if present. A missing explicit path is an error; a
// missing default file is not.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	setDefaults(k)

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// SUBMIT_WORK_DIR -> work.dir, SUBMIT_LOG_LEVEL -> log.level, ...
	if err := k.Load(env.Provider("SUBMIT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SUBMIT_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("work.dir", "work")
	k.Set("work.checkpoint", "model.checkpoint")
	k.Set("bundle.dir", "submit")
	k.Set("bundle.archive", "submit.zip")
	k.Set("roster.source", "team.txt")
	k.Set("container.file", "Dockerfile")
	k.Set("source.dir", "src")
	k.Set("prune.dirs", []string{"__pycache__"})
	k.Set("prune.exts", []string{".pyc"})
	k.Set("infer.command", []string{"python3", "src/myprogram.py"})
	k.Set("infer.testdata", "example/input.txt")
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("history.enabled", true)
	k.Set("history.path", filepath.Join(".submitpack", "history.db"))
}

func (c *Config) normalize() {
	c.Work.Dir = cleanPath(c.Work.Dir)
	c.Bundle.Dir = cleanPath(c.Bundle.Dir)
	c.Bundle.Archive = cleanPath(c.Bundle.Archive)
	c.Roster.Source = cleanPath(c.Roster.Source)
	c.Container.File = cleanPath(c.Container.File)
	c.Source.Dir = cleanPath(c.Source.Dir)
	c.Infer.TestData = cleanPath(c.Infer.TestData)
	c.History.Path = cleanPath(c.History.Path)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	for i, ext := range c.Prune.Exts {
		ext = strings.TrimSpace(ext)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Prune.Exts[i] = ext
	}
}

func (c *Config) validate() error {
	if c.Work.Dir == "" {
		return fmt.Errorf("work.dir is required")
	}
	if c.Work.Checkpoint == "" {
		return fmt.Errorf("work.checkpoint is required")
	}
	if c.Bundle.Dir == "" {
		return fmt.Errorf("bundle.dir is required")
	}
	if c.Bundle.Dir == "." || c.Bundle.Dir == string(filepath.Separator) {
		return fmt.Errorf("bundle.dir must name a dedicated directory (got %q)", c.Bundle.Dir)
	}
	if c.Bundle.Archive == "" {
		return fmt.Errorf("bundle.archive is required")
	}
	if len(c.Infer.Command) == 0 || strings.TrimSpace(c.Infer.Command[0]) == "" {
		return fmt.Errorf("infer.command is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug|info|warn|error (got %q)", c.Log.Level)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history.enabled")
	}
	return nil
}

// CheckpointPath is the file whose absence makes a run ineligible.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.Work.Dir, c.Work.Checkpoint)
}

// PredictionsPath is where the inference program writes its output,
// inside the bundle so the archive picks it up.
func (c *Config) PredictionsPath() string {
	return filepath.Join(c.Bundle.Dir, "pred.txt")
}

// RosterDest is the roster location inside the bundle. The destination name
// is fixed regardless of where the source roster lives.
func (c *Config) RosterDest() string {
	return filepath.Join(c.Bundle.Dir, "team.txt")
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
