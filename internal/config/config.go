// Package config loads the tablecache command's layered JSONC configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/tablecache/internal/logging"
	"github.com/calvinalkan/tablecache/pkg/tablecache"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrTableRootEmpty     = errors.New("table_root cannot be empty")
	ErrScopeInvalid       = errors.New("invalid scope")
	ErrLockTimeoutInvalid = errors.New("invalid lock_timeout")
	ErrLogLevelInvalid    = errors.New("invalid log_level")
)

// FileName is the project config file name.
const FileName = ".tablecache.json"

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	TableRoot     string `json:"table_root"`
	Scope         string `json:"scope,omitempty"`
	LockTimeout   string `json:"lock_timeout,omitempty"`
	CreateMissing *bool  `json:"create_missing,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`

	// Resolved (computed, not serialized)
	EffectiveCwd      string           `json:"-"`
	TableRootAbs      string           `json:"-"`
	ParsedScope       tablecache.Scope `json:"-"`
	ParsedLockTimeout time.Duration    `json:"-"`
	ParsedLogLevel    slog.Level       `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // empty if not loaded
	Project string // project or explicit (-c) file; empty if not loaded
}

// Default returns the default configuration.
func Default() Config {
	createMissing := false

	return Config{
		TableRoot:     ".",
		Scope:         tablecache.ProcessWide.String(),
		LockTimeout:   "2s",
		CreateMissing: &createMissing,
		LogLevel:      "warn",
	}
}

// LoadInput holds the inputs for [Load]. Empty overrides are ignored.
type LoadInput struct {
	WorkDirOverride     string            // -C/--cwd; if empty, os.Getwd() is used
	ConfigPath          string            // -c/--config
	TableRootOverride   string            // --table-root
	ScopeOverride       string            // --scope
	LockTimeoutOverride string            // --lock-timeout
	LogLevelOverride    string            // --log-level
	Env                 map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/tablecache/config.json or ~/.config/tablecache/config.json)
// 3. Project config file (.tablecache.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3; must exist)
// 5. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	} else if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Config{}, fmt.Errorf("resolving working directory: %w", err)
		}

		workDir = abs
	}

	cfg := Default()

	globalCfg, globalPath, err := loadGlobal(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, Config{
		TableRoot:   input.TableRootOverride,
		Scope:       input.ScopeOverride,
		LockTimeout: input.LockTimeoutOverride,
		LogLevel:    input.LogLevelOverride,
	})

	err = resolve(&cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.TableRoot) {
		cfg.TableRootAbs = filepath.Clean(cfg.TableRoot)
	} else {
		cfg.TableRootAbs = filepath.Join(workDir, cfg.TableRoot)
	}

	return cfg, nil
}

// TablePath resolves a table name or path against the table root.
func (c Config) TablePath(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}

	return filepath.Join(c.TableRootAbs, name)
}

// globalPath uses $XDG_CONFIG_HOME/tablecache/config.json if set, otherwise
// ~/.config/tablecache/config.json. Empty if neither can be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "tablecache", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "tablecache", "config.json")
	}

	return ""
}

func loadGlobal(env map[string]string) (Config, string, error) {
	path := globalPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	path := filepath.Join(workDir, FileName)
	mustExist := false

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		_, statErr := os.Stat(path)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile returns loaded=false for a missing optional file.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// An explicit "table_root": "" is an error rather than "unset".
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, ok := raw["table_root"].(string); ok && val == "" {
		return Config{}, ErrTableRootEmpty
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.TableRoot != "" {
		base.TableRoot = overlay.TableRoot
	}

	if overlay.Scope != "" {
		base.Scope = overlay.Scope
	}

	if overlay.LockTimeout != "" {
		base.LockTimeout = overlay.LockTimeout
	}

	if overlay.CreateMissing != nil {
		base.CreateMissing = overlay.CreateMissing
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

// resolve validates cfg and fills in the parsed fields.
func resolve(cfg *Config) error {
	if cfg.TableRoot == "" {
		return ErrTableRootEmpty
	}

	scope, err := tablecache.ParseScope(cfg.Scope)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrScopeInvalid, cfg.Scope)
	}

	timeout, err := time.ParseDuration(cfg.LockTimeout)
	if err != nil || timeout <= 0 {
		return fmt.Errorf("%w: %q (want a positive duration like 500ms)", ErrLockTimeoutInvalid, cfg.LockTimeout)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevelInvalid, cfg.LogLevel)
	}

	cfg.ParsedScope = scope
	cfg.ParsedLockTimeout = timeout
	cfg.ParsedLogLevel = level

	return nil
}
